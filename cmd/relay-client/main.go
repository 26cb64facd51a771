// Command relay-client exercises a running relay from the terminal.
//
// Usage:
//
//	# Send a recorded utterance and save the spoken reply as raw PCM16
//	relay-client send-audio --file hello.wav --out reply.pcm
//
//	# Print the base64 PCM16 payload of a WAV file
//	relay-client wav-to-base64 hello.wav
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "relay-client",
	Short: "Test client for the realtime voice relay",
	Long: `relay-client talks to the relay's /ws endpoint the way a browser would.

It can send a WAV recording as one user turn and collect the streamed reply,
or convert a WAV file into the base64 PCM16 payload the relay accepts.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every event")
}

func main() {
	Execute()
}
