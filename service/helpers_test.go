package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/internal/eth"
	"github.com/layer-3/murmur/ports"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	addrSelf = "0x1111111111111111111111111111111111111111"
	addrA    = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	addrB    = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
	addrC    = "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
	addrD    = "0xDDdDddDdDdddDDddDDddDDDDdDdDDdDDdDDDDDDd"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func convo(peer string) core.Conversation {
	return core.Conversation{ID: "dm:" + peer, PeerAddress: peer}
}

func peers(cs []core.Conversation) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.PeerAddress
	}
	return out
}

// fakeClient is a scripted network client.
type fakeClient struct {
	address string

	mu       sync.Mutex
	list     []core.Conversation
	listErr  error
	onList   func()
	convs    chan core.Conversation
	history  map[string][]core.Message
	messages map[string]chan core.Message
	sent     int
	closed   bool
}

func newFakeClient(address string) *fakeClient {
	return &fakeClient{
		address:  address,
		convs:    make(chan core.Conversation, 16),
		history:  make(map[string][]core.Message),
		messages: make(map[string]chan core.Message),
	}
}

var _ ports.NetworkClient = (*fakeClient)(nil)

func (f *fakeClient) Address() string { return f.address }

func (f *fakeClient) ListConversations(ctx context.Context) ([]core.Conversation, error) {
	if f.onList != nil {
		f.onList()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list, f.listErr
}

func (f *fakeClient) StreamConversations(ctx context.Context) (<-chan core.Conversation, error) {
	return forward(ctx, f.convs), nil
}

func (f *fakeClient) NewConversation(ctx context.Context, peer string) (core.Conversation, error) {
	return convo(peer), nil
}

func (f *fakeClient) ListMessages(ctx context.Context, id string, window core.Window) ([]core.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[id], nil
}

func (f *fakeClient) messageChan(id string) chan core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.messages[id]
	if !ok {
		ch = make(chan core.Message, 16)
		f.messages[id] = ch
	}
	return ch
}

func (f *fakeClient) StreamMessages(ctx context.Context, id string) (<-chan core.Message, error) {
	return forward(ctx, f.messageChan(id)), nil
}

func (f *fakeClient) Send(ctx context.Context, id string, body core.Body) (core.Message, error) {
	f.mu.Lock()
	f.sent++
	m := core.Message{
		ID:             fmt.Sprintf("sent-%d", f.sent),
		ConversationID: id,
		SenderAddress:  f.address,
		Body:           body,
		SentAt:         time.Now(),
	}
	f.mu.Unlock()
	f.messageChan(id) <- m
	return m, nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// forward copies in to the returned channel until in closes or ctx ends.
func forward[T any](ctx context.Context, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func testHandle(t *testing.T, client ports.NetworkClient, epoch uint64) (Handle, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return Handle{Address: client.Address(), Client: client, Epoch: epoch, Ctx: ctx}, cancel
}

// countingSigner counts signature requests and can refuse them.
type countingSigner struct {
	*eth.LocalSigner

	mu     sync.Mutex
	calls  int
	refuse bool
}

func newCountingSigner(t *testing.T) *countingSigner {
	t.Helper()
	s, err := eth.GenerateLocalSigner()
	require.NoError(t, err)
	return &countingSigner{LocalSigner: s}
}

func (s *countingSigner) SignMessage(ctx context.Context, payload []byte) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		return nil, errors.New("user rejected the request")
	}
	return s.LocalSigner.SignMessage(ctx, payload)
}

func (s *countingSigner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *countingSigner) address(t *testing.T) string {
	t.Helper()
	a, err := s.Address(context.Background())
	require.NoError(t, err)
	return a
}

// recordingPublisher keeps every published session event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []core.SessionEvent
}

func (p *recordingPublisher) PublishSessionEvent(ctx context.Context, e core.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []core.SessionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.SessionEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
