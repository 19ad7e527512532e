package main

import (
	"fmt"
	"io"

	"github.com/OmChillure/clinic-chat/internal/chat"
	"github.com/OmChillure/clinic-chat/internal/models"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// printer returns an observer writing the assistant reply to out as it streams.
func printer(out io.Writer) chat.Observer {
	return func(e chat.Event) {
		msg := e.Message
		if msg.Role != models.RoleAssistant {
			return
		}

		switch e.Type {
		case chat.EventAppended:
			fmt.Fprintf(out, "%s %s\n", assistantStyle.Render("assistant"), timestampStyle.Render(msg.Timestamp))
		case chat.EventUpdated:
			switch {
			case e.Delta != "":
				fmt.Fprint(out, e.Delta)
			case msg.StreamingState == models.StreamingStateFailed:
				fmt.Fprintln(out, errorStyle.Render(msg.Text))
			case msg.StreamingState == models.StreamingStateEnded:
				fmt.Fprintln(out)
			}
		case chat.EventRemoved:
			fmt.Fprintln(out)
			fmt.Fprintln(out, mutedStyle.Render("[reply cancelled]"))
		}
	}
}
