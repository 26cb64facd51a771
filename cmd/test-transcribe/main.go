// Command test-transcribe sends one audio file to the Gemini transcription
// path and prints the transcript as it streams.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/transcribe"
)

var (
	model    string
	mimeType string
	prompt   string
	timeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "test-transcribe <audio-file>",
	Short:        "Transcribe one audio file with Gemini",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY not set")
		}

		audio, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		logger, _ := zap.NewDevelopment()
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		tr, err := transcribe.New(ctx, apiKey, model, logger)
		if err != nil {
			return err
		}

		start := time.Now()
		err = tr.Stream(ctx, transcribe.Request{Audio: audio, MIMEType: mimeType, SystemPrompt: prompt}, func(text string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		})
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logger.Info("done", zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&model, "model", "models/gemini-2.5-flash-preview-05-20", "Gemini model")
	rootCmd.Flags().StringVar(&mimeType, "mime-type", "audio/wav", "MIME type of the audio file")
	rootCmd.Flags().StringVar(&prompt, "prompt", "", "override the transcription prompt")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
