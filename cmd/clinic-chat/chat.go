package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/OmChillure/clinic-chat/internal/chat"
	"github.com/spf13/cobra"
)

var errReplyFailed = errors.New("the reply could not be generated")

func newAskCmd(a *app) *cobra.Command {
	var images []string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the reply",
		Long: `Ask a single question and print the reply as it streams.

Images given with --image are sent with the question for analysis. Without a
question, a default image analysis instruction is used.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" && len(images) == 0 {
				return errors.New("a question or an image is required")
			}

			uploads := make([]chat.Upload, len(images))
			for i, path := range images {
				uploads[i] = chat.FileUpload(path)
			}

			out := cmd.OutOrStdout()
			client, err := a.newClient(printer(out))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			outcome, err := runTurn(ctx, client, text, uploads)
			if err != nil {
				return err
			}
			if outcome == chat.OutcomeFailed {
				return errReplyFailed
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "Image to attach, can be repeated")

	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. The whole conversation is sent as
context with every question.

Commands:
  /attach <file>   Attach a file to the next question
  /exit            Leave the conversation

Press Ctrl-C to stop a reply, and again to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			client, err := a.newClient(printer(out))
			if err != nil {
				return err
			}
			return converse(cmd.Context(), client, cmd.InOrStdin(), out)
		},
	}
}

// converse reads questions line by line until EOF or /exit. Ctrl-C only cancels the reply in flight,
// outside of a reply it keeps its default behavior.
func converse(ctx context.Context, client *chat.Client, in io.Reader, out io.Writer) error {
	var pending []chat.Upload

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, userStyle.Render("you")+" ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/exit":
			return nil
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(out, errorStyle.Render(err.Error()))
				continue
			}
			pending = append(pending, chat.FileUpload(path))
			fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("[%d file(s) attached]", len(pending))))
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		_, err := runTurn(turnCtx, client, line, pending)
		stop()
		if err != nil {
			return err
		}
		pending = nil

		if ctx.Err() != nil {
			return nil
		}
	}
}

// runTurn submits a turn and waits for its outcome. Ending ctx cancels the turn.
func runTurn(ctx context.Context, client *chat.Client, text string, uploads []chat.Upload) (chat.Outcome, error) {
	turn, err := client.Submit(ctx, text, uploads)
	if err != nil {
		return 0, err
	}
	return turn.Wait(), nil
}
