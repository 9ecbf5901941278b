// Package network is a reference messaging network: an in-process relay
// that keeps conversation and message history and fans out live updates
// over a watermill pub/sub.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/internal/eth"
	"github.com/layer-3/murmur/ports"
)

const streamBuffer = 64

// PubSub is the watermill transport the relay fans out through.
type PubSub interface {
	message.Publisher
	message.Subscriber
}

type topic struct {
	id        string
	members   []string // lower-case addresses, sorted
	createdAt time.Time
	messages  []core.Message
}

// Relay holds every conversation of the network.
type Relay struct {
	pubsub PubSub
	now    func() time.Time

	mu     sync.RWMutex
	topics map[string]*topic
	byAddr map[string][]string // address -> topic ids in creation order
}

// NewRelay creates a relay fanning out through pubsub.
func NewRelay(pubsub PubSub) *Relay {
	return &Relay{
		pubsub: pubsub,
		now:    time.Now,
		topics: make(map[string]*topic),
		byAddr: make(map[string][]string),
	}
}

// NewInMemoryRelay creates a relay over a watermill go-channel pub/sub.
// Publishing blocks until every subscriber acknowledged, which keeps live
// updates in publish order.
func NewInMemoryRelay(logger watermill.LoggerAdapter) *Relay {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return NewRelay(gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            streamBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, logger))
}

// Close shuts the fan-out down. Open streams end.
func (r *Relay) Close() error {
	return r.pubsub.Close()
}

var _ ports.ClientFactory = (*Relay)(nil)

// NewClient verifies that keys bind an identity key to its wallet and
// returns a client acting as that wallet.
func (r *Relay) NewClient(ctx context.Context, keys core.KeyBundle) (ports.NetworkClient, error) {
	if !common.IsHexAddress(keys.WalletAddress) {
		return nil, core.ErrInvalidAddress
	}
	wallet := common.HexToAddress(keys.WalletAddress)

	identity, err := crypto.ToECDSA(keys.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidKeyMaterial, err)
	}
	if !bytes.Equal(crypto.CompressPubkey(&identity.PublicKey), keys.IdentityPublic) {
		return nil, fmt.Errorf("%w: identity key mismatch", core.ErrInvalidKeyMaterial)
	}
	ok, err := eth.VerifySignatureAgainstAddress(core.IdentityPayload(keys.IdentityPublic), keys.WalletSignature, wallet)
	if err != nil || !ok {
		return nil, core.ErrInvalidSignature
	}
	return &Client{relay: r, address: wallet.Hex()}, nil
}

func topicID(a, b string) (string, []string) {
	members := []string{strings.ToLower(a), strings.ToLower(b)}
	sort.Strings(members)
	return "dm:" + members[0] + ":" + members[1], members
}

func conversationsTopic(address string) string {
	return "conversations." + strings.ToLower(address)
}

func messagesTopic(id string) string {
	return "messages." + id
}

// view renders t as seen by address.
func (t *topic) view(address string) core.Conversation {
	self := strings.ToLower(address)
	peer := t.members[0]
	if peer == self {
		peer = t.members[1]
	}
	return core.Conversation{
		ID:          t.id,
		PeerAddress: common.HexToAddress(peer).Hex(),
		CreatedAt:   t.createdAt,
	}
}

func (t *topic) isMember(address string) bool {
	a := strings.ToLower(address)
	return t.members[0] == a || t.members[1] == a
}

func (r *Relay) conversations(address string) []core.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byAddr[strings.ToLower(address)]
	out := make([]core.Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.topics[id].view(address))
	}
	return out
}

func (r *Relay) newConversation(from, peer string) (core.Conversation, error) {
	if !common.IsHexAddress(peer) {
		return core.Conversation{}, core.ErrInvalidAddress
	}
	id, members := topicID(from, peer)

	r.mu.Lock()
	t, exists := r.topics[id]
	if !exists {
		t = &topic{id: id, members: members, createdAt: r.now().UTC()}
		r.topics[id] = t
		r.byAddr[members[0]] = append(r.byAddr[members[0]], id)
		if members[1] != members[0] {
			r.byAddr[members[1]] = append(r.byAddr[members[1]], id)
		}
	}
	r.mu.Unlock()

	if !exists {
		notify := members
		if members[0] == members[1] {
			notify = members[:1]
		}
		for _, m := range notify {
			if err := r.publish(conversationsTopic(m), id+"/"+m, t.view(m)); err != nil {
				return core.Conversation{}, err
			}
		}
	}
	return t.view(from), nil
}

func (r *Relay) messages(address, id string, window core.Window) ([]core.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.topics[id]
	if !ok || !t.isMember(address) {
		return nil, core.ErrConversationNotFound
	}
	var out []core.Message
	for _, m := range t.messages {
		if window.Contains(m.SentAt) {
			out = append(out, m)
		}
	}
	if window.Limit > 0 && len(out) > window.Limit {
		out = out[len(out)-window.Limit:]
	}
	return out, nil
}

func (r *Relay) send(from, id string, body core.Body) (core.Message, error) {
	r.mu.Lock()
	t, ok := r.topics[id]
	if !ok || !t.isMember(from) {
		r.mu.Unlock()
		return core.Message{}, core.ErrConversationNotFound
	}
	msg := core.Message{
		ID:             uuid.New().String(),
		ConversationID: id,
		SenderAddress:  common.HexToAddress(from).Hex(),
		Body:           body,
		SentAt:         r.now().UTC(),
	}
	t.messages = append(t.messages, msg)
	r.mu.Unlock()

	if err := r.publish(messagesTopic(id), msg.ID, msg); err != nil {
		return core.Message{}, err
	}
	return msg, nil
}

func (r *Relay) publish(topic, id string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.pubsub.Publish(topic, message.NewMessage(id, payload)); err != nil {
		return fmt.Errorf("%w: publish: %v", core.ErrNetwork, err)
	}
	return nil
}

// subscribe decodes every message on topic into T. The returned channel is
// closed when ctx ends or the pub/sub closes the subscription.
func subscribe[T any](ctx context.Context, pubsub message.Subscriber, topic string) (<-chan T, error) {
	in, err := pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", core.ErrNetwork, err)
	}
	out := make(chan T, streamBuffer)
	go func() {
		defer close(out)
		for msg := range in {
			var v T
			err := json.Unmarshal(msg.Payload, &v)
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
