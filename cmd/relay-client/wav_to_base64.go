package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/room4-2/realtime-relay/audio"
)

var wavToBase64Cmd = &cobra.Command{
	Use:   "wav-to-base64 <file.wav|->",
	Short: "Print the base64 PCM16 payload of a WAV file",
	Long: `Extract the "data" chunk of a WAV file and print it base64 encoded.

Input that is not a WAV container is encoded unchanged. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), encodePCM(data))
		return err
	},
}

func init() {
	rootCmd.AddCommand(wavToBase64Cmd)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func encodePCM(data []byte) string {
	return base64.StdEncoding.EncodeToString(audio.PCM(data))
}
