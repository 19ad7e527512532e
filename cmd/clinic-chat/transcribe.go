package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newTranscribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Print the transcript of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcriber, err := a.cfg.Transcriber(a.logger)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open recording: %w", err)
			}
			defer f.Close()

			text, err := transcriber.Transcribe(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("failed to transcribe %s: %w", args[0], err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
