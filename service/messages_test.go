package service

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/murmur/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, text string) core.Message {
	return core.Message{ID: id, ConversationID: "c1", SenderAddress: addrA, Body: core.TextBody(text)}
}

func ids(ms []core.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestMessageStoreAttach(t *testing.T) {
	client := newFakeClient(addrSelf)
	client.history["c1"] = []core.Message{msg("m1", "hello"), msg("m2", "there")}
	// Delivered live while history loads; merged after it.
	client.messageChan("c1") <- msg("m3", "live")
	h, _ := testHandle(t, client, 1)

	s := NewMessageStore(core.Window{}, quietLogger())
	require.NoError(t, s.Attach(context.Background(), h, "c1"))
	require.NoError(t, s.Attach(context.Background(), h, "c1"))

	require.Eventually(t, func() bool { return len(s.Messages("c1")) == 3 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages("c1")))

	client.messageChan("c1") <- msg("m2", "there")
	client.messageChan("c1") <- msg("m4", "again")
	require.Eventually(t, func() bool { return len(s.Messages("c1")) == 4 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(s.Messages("c1")))
}

func TestMessageStoreSendDeduplicatesEcho(t *testing.T) {
	client := newFakeClient(addrSelf)
	h, _ := testHandle(t, client, 1)

	s := NewMessageStore(core.Window{}, quietLogger())
	require.NoError(t, s.Attach(context.Background(), h, "c1"))

	sent, err := s.Send(context.Background(), h, "c1", core.TextBody("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{sent.ID}, ids(s.Messages("c1")))

	assert.Never(t, func() bool { return len(s.Messages("c1")) != 1 }, 100*time.Millisecond, 10*time.Millisecond)

	_, err = s.Send(context.Background(), h, "c1", core.Body{})
	assert.ErrorIs(t, err, core.ErrNetwork)
}

func TestMessageStoreDispatch(t *testing.T) {
	s := NewMessageStore(core.Window{}, quietLogger())

	s.Dispatch("c1", []core.Message{msg("m1", "a"), msg("", "no id"), msg("m2", "b")})
	s.Dispatch("c1", []core.Message{msg("m2", "b"), msg("m1", "a"), msg("m3", "c")})

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages("c1")))
	assert.Empty(t, s.Messages("c2"))
}

func TestMessageStoreLoadHistory(t *testing.T) {
	client := newFakeClient(addrSelf)
	client.history["c1"] = []core.Message{msg("m1", "old")}
	h, _ := testHandle(t, client, 1)

	s := NewMessageStore(core.Window{Limit: 10}, quietLogger())
	page, err := s.LoadHistory(context.Background(), h, "c1", core.Window{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(page))
	assert.Equal(t, []string{"m1"}, ids(s.Messages("c1")))
}

func TestMessageStoreReset(t *testing.T) {
	client := newFakeClient(addrSelf)
	client.history["c1"] = []core.Message{msg("m1", "hello")}
	h, cancel := testHandle(t, client, 1)

	s := NewMessageStore(core.Window{}, quietLogger())
	require.NoError(t, s.Attach(context.Background(), h, "c1"))
	require.Len(t, s.Messages("c1"), 1)

	cancel()
	s.Reset()
	assert.Empty(t, s.Messages("c1"))

	// Results for the ended session are dropped.
	s.dispatch(h, "c1", []core.Message{msg("m9", "late")})
	assert.Empty(t, s.Messages("c1"))
	err := s.Attach(context.Background(), h, "c1")
	assert.ErrorIs(t, err, core.ErrStaleSession)

	next, _ := testHandle(t, client, 2)
	require.NoError(t, s.Attach(context.Background(), next, "c1"))
	assert.Equal(t, []string{"m1"}, ids(s.Messages("c1")))
}
