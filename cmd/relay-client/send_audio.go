package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/realtime-relay/messages"
)

var sendFlags struct {
	url          string
	file         string
	out          string
	simple       bool
	instructions string
	timeout      time.Duration
}

var sendAudioCmd = &cobra.Command{
	Use:   "send-audio",
	Short: "Send a WAV recording as one turn and collect the reply",
	Long: `Connect to the relay, wait for session.created, send the recording and
stream events until response.done.

By default the recording is sent as conversation.item.create followed by
response.create. With --simple it is sent as {"audio": ..., "systemPrompt": ...}
and the relay builds the provider events itself.

Examples:
  relay-client send-audio --file hello.wav
  relay-client send-audio --file hello.wav --simple --instructions "Reply in French" --out reply.pcm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(sendFlags.file)
		if err != nil {
			return err
		}

		logger := zap.NewNop()
		if verbose {
			logger, _ = zap.NewDevelopment()
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendFlags.timeout)
		defer cancel()

		result, err := sendAudio(ctx, sendFlags.url, data, sendFlags.simple, sendFlags.instructions, logger)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "events: %d, audio bytes: %d, response: %s\n", result.Events, len(result.Audio), result.ResponseID)
		if result.Transcript != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "transcript: %s\n", result.Transcript)
		}
		if sendFlags.out != "" {
			if err := os.WriteFile(sendFlags.out, result.Audio, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", sendFlags.out, err)
			}
		}
		return nil
	},
}

func init() {
	sendAudioCmd.Flags().StringVar(&sendFlags.url, "url", "ws://localhost:8080/ws", "relay websocket URL")
	sendAudioCmd.Flags().StringVarP(&sendFlags.file, "file", "f", "", "WAV or raw PCM16 file (- for stdin)")
	sendAudioCmd.Flags().StringVarP(&sendFlags.out, "out", "o", "", "write received PCM16 audio to this file")
	sendAudioCmd.Flags().BoolVar(&sendFlags.simple, "simple", false, "send the simplified {audio, systemPrompt} message")
	sendAudioCmd.Flags().StringVar(&sendFlags.instructions, "instructions", "", "system prompt for this turn")
	sendAudioCmd.Flags().DurationVar(&sendFlags.timeout, "timeout", 30*time.Second, "give up after this long")
	_ = sendAudioCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(sendAudioCmd)
}

// sendResult summarizes one turn as seen by the client.
type sendResult struct {
	Events     int
	Audio      []byte
	Transcript string
	ResponseID string
}

// turnMessages builds the client frames for one recorded turn.
func turnMessages(data []byte, simple bool, instructions string) ([][]byte, error) {
	encoded := encodePCM(data)
	if simple {
		msg, err := messages.Encode(messages.SimplifiedAudio{Audio: encoded, SystemPrompt: instructions})
		if err != nil {
			return nil, err
		}
		return [][]byte{msg}, nil
	}
	return messages.AudioTurn{AudioBase64: encoded, Instructions: instructions}.Encode()
}

func sendAudio(ctx context.Context, url string, data []byte, simple bool, instructions string, logger *zap.Logger) (*sendResult, error) {
	frames, err := turnMessages(data, simple, instructions)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close()

	ready := make(chan struct{})
	result := &sendResult{}
	g, gctx := errgroup.WithContext(ctx)

	// Unblock the reader when the context ends.
	go func() {
		<-gctx.Done()
		conn.Close()
	}()

	g.Go(func() error {
		readyClosed := false
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("read: %w", err)
			}
			result.Events++

			if mt == websocket.BinaryMessage {
				result.Audio = append(result.Audio, payload...)
				logger.Debug("audio chunk", zap.Int("bytes", len(payload)))
				continue
			}

			var event struct {
				Type     string `json:"type"`
				Delta    string `json:"delta"`
				Response struct {
					ID string `json:"id"`
				} `json:"response"`
			}
			if err := sonic.ConfigStd.Unmarshal(payload, &event); err != nil {
				logger.Warn("unparseable event", zap.ByteString("payload", payload))
				continue
			}
			logger.Debug("event", zap.String("type", event.Type))

			switch event.Type {
			case messages.EventSessionCreated:
				if !readyClosed {
					close(ready)
					readyClosed = true
				}
			case messages.EventResponseTextDelta, "response.audio_transcript.delta":
				result.Transcript += event.Delta
			case messages.EventResponseDone:
				result.ResponseID = event.Response.ID
				return errDone
			case messages.TypeError, messages.TypeUpstreamError:
				return fmt.Errorf("relay error: %s", payload)
			}
		}
	})

	g.Go(func() error {
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		logger.Debug("turn sent", zap.Int("frames", len(frames)))
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errDone) {
		return result, err
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return result, nil
}

var errDone = errors.New("turn complete")
