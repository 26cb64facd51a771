package session

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundQueue_FIFO(t *testing.T) {
	q := NewOutboundQueue(0)

	require.NoError(t, q.Append(websocket.TextMessage, []byte("a")))
	require.NoError(t, q.Append(websocket.BinaryMessage, []byte("bb")))
	require.NoError(t, q.Append(websocket.TextMessage, []byte("ccc")))
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 6, q.Size())

	drained := q.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, "a", string(drained[0].Data))
	assert.Equal(t, websocket.BinaryMessage, drained[1].MessageType)
	assert.Equal(t, "ccc", string(drained[2].Data))

	assert.True(t, q.IsEmpty())
	assert.Zero(t, q.Size())
	assert.Nil(t, q.Drain())
}

func TestOutboundQueue_MaxSize(t *testing.T) {
	q := NewOutboundQueue(4)

	require.NoError(t, q.Append(websocket.TextMessage, []byte("abc")))
	assert.ErrorIs(t, q.Append(websocket.TextMessage, []byte("de")), ErrQueueFull)
	require.NoError(t, q.Append(websocket.TextMessage, []byte("d")))
	assert.Equal(t, 4, q.Size())

	q.Clear()
	assert.True(t, q.IsEmpty())
	require.NoError(t, q.Append(websocket.TextMessage, []byte("abcd")))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "link_pending", StateLinkPending.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
