package main

import (
	"fmt"
	"log/slog"

	"github.com/OmChillure/clinic-chat/internal/chat"
	"github.com/OmChillure/clinic-chat/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app holds the state shared by the commands once the configuration is loaded.
type app struct {
	cfgPath string
	verbose bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "clinic-chat",
		Short: "Chat with a medical assistant from the terminal",
		Long: `Chat with a medical assistant from the terminal.

Replies are streamed from the language model configured in the config file
as they are generated. Press Ctrl-C to stop a reply.

Quick Start:
  clinic-chat chat                          # Interactive conversation
  clinic-chat ask "dose of amoxicillin"      # One-shot question
  clinic-chat ask --image xray.png "findings?"
  clinic-chat transcribe dictation.webm      # Speech to text`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newChatCmd(a), newAskCmd(a), newTranscribeCmd(a))

	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	path := a.cfgPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Level()
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	return nil
}

// newClient builds a chat client printing replies through observer.
func (a *app) newClient(observer chat.Observer) (*chat.Client, error) {
	llm, err := a.cfg.LLM.LLM(a.logger)
	if err != nil {
		return nil, fmt.Errorf("error creating llm: %w", err)
	}
	opts, err := a.cfg.ClientOptions(a.logger)
	if err != nil {
		return nil, fmt.Errorf("error creating chat options: %w", err)
	}
	opts.Observer = observer
	return chat.NewClient(llm, opts), nil
}
