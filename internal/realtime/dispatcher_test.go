package realtime

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_OneFramePerHandle(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, zerolog.Nop())
	a, b := &recorder{}, &recorder{}
	reg.Register(ChannelChat, 1, a)
	reg.Register(ChannelChat, 1, b)

	n := d.Broadcast(ChannelChat, 1, map[string]any{"chat_id": 4})

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Contains(t, string(a.frames[0]), `data: {"chat_id":4}`)
}

func TestDispatcher_NoListenersIsNoop(t *testing.T) {
	d := NewDispatcher(NewRegistry(), zerolog.Nop())
	assert.Equal(t, 0, d.Broadcast(ChannelNotifications, 77, struct{}{}))
}

func TestDispatcher_FailingHandleIsEvicted(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, zerolog.Nop())
	broken := &recorder{err: errors.New("connection reset")}
	healthy := &recorder{}
	reg.Register(ChannelChat, 1, broken)
	reg.Register(ChannelChat, 1, healthy)

	n := d.Broadcast(ChannelChat, 1, "hi")

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, healthy.count())
	assert.True(t, broken.isClosed())
	handles := reg.HandlesFor(ChannelChat, 1)
	require.Len(t, handles, 1)
	assert.Same(t, healthy, handles[0])
}

func TestDispatcher_BroadcastManySharesEncoding(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, zerolog.Nop())
	a, b := &recorder{}, &recorder{}
	reg.Register(ChannelChat, 1, a)
	reg.Register(ChannelChat, 2, b)

	n := d.BroadcastMany(ChannelChat, []int64{1, 2, 3}, map[string]string{"k": "v"})

	assert.Equal(t, 2, n)
	assert.Equal(t, string(a.frames[0]), string(b.frames[0]))
	assert.True(t, strings.HasPrefix(string(a.frames[0]), "id: "))
}

func TestDispatcher_UnencodablePayload(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, zerolog.Nop())
	h := &recorder{}
	reg.Register(ChannelIoT, 1, h)

	assert.Equal(t, 0, d.Broadcast(ChannelIoT, 1, make(chan int)))
	assert.Equal(t, 0, h.count())
}
