package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialer_SendsAuthAndModel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	headers := make(chan http.Header, 1)
	models := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		models <- r.URL.Query().Get("model")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := NewDialer(wsURL, "gpt-4o-realtime-preview", "sk-test", time.Second)

	link, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()

	h := <-headers
	assert.Equal(t, "Bearer sk-test", h.Get("Authorization"))
	assert.Equal(t, "realtime=v1", h.Get("OpenAI-Beta"))
	assert.Equal(t, "gpt-4o-realtime-preview", <-models)

	require.NoError(t, link.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	mt, data, err := link.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, `{"type":"ping"}`, string(data))

	require.NoError(t, link.Close())
	assert.NoError(t, link.Close())
	assert.ErrorIs(t, link.WriteMessage(websocket.TextMessage, []byte("x")), ErrClosed)
}

func TestDialer_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := NewDialer(wsURL, "m", "sk", time.Second).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
