package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testWAV(pcm []byte) []byte {
	out := []byte("RIFF\x00\x00\x00\x00WAVEdata")
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	return append(out, pcm...)
}

func TestEncodePCM(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	assert.Equal(t, base64.StdEncoding.EncodeToString(pcm), encodePCM(testWAV(pcm)))
	assert.Equal(t, base64.StdEncoding.EncodeToString(pcm), encodePCM(pcm))
}

func TestWavToBase64Command(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(path, testWAV([]byte{9, 8, 7, 6}), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"wav-to-base64", path})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{9, 8, 7, 6})+"\n", out.String())
}

func TestTurnMessages(t *testing.T) {
	frames, err := turnMessages([]byte{1, 2}, false, "Be brief.")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Contains(t, string(frames[0]), `"conversation.item.create"`)
	assert.Contains(t, string(frames[1]), `"instructions":"Be brief."`)

	frames, err = turnMessages([]byte{1, 2}, true, "Be brief.")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"audio":"AQI=","systemPrompt":"Be brief."}`, string(frames[0]))
}

func TestSendAudio(t *testing.T) {
	reply := []byte{0x10, 0x20, 0x30, 0x40}
	received := make(chan []string, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))

		var got []string
		for len(got) < 2 {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var event struct {
				Type string `json:"type"`
			}
			_ = sonic.ConfigStd.Unmarshal(data, &event)
			got = append(got, event.Type)
		}
		received <- got

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","delta":"hi"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, reply)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done","response":{"id":"resp_9"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	result, err := sendAudio(ctx, url, testWAV([]byte{1, 0}), false, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"conversation.item.create", "response.create"}, <-received)
	assert.Equal(t, reply, result.Audio)
	assert.Equal(t, "hi", result.Transcript)
	assert.Equal(t, "resp_9", result.ResponseID)
	assert.Equal(t, 4, result.Events)
}

func TestSendAudio_RelayError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"upstream connection failed","code":"UPSTREAM_ERROR"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := sendAudio(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), []byte{1, 0}, true, "", zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
}
