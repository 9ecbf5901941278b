package ports

import (
	"context"

	"github.com/layer-3/murmur/core"
)

// NetworkClient is a connected messaging network client for one identity.
//
// Stream methods return channels that are closed when ctx is cancelled or
// when the subscription ends. A close while ctx is still live means the
// stream terminated unexpectedly.
type NetworkClient interface {
	Address() string

	ListConversations(ctx context.Context) ([]core.Conversation, error)
	StreamConversations(ctx context.Context) (<-chan core.Conversation, error)
	NewConversation(ctx context.Context, peer string) (core.Conversation, error)

	ListMessages(ctx context.Context, conversationID string, window core.Window) ([]core.Message, error)
	StreamMessages(ctx context.Context, conversationID string) (<-chan core.Message, error)
	Send(ctx context.Context, conversationID string, body core.Body) (core.Message, error)

	Close() error
}

// ClientFactory instantiates a network client from persisted key material.
type ClientFactory interface {
	NewClient(ctx context.Context, keys core.KeyBundle) (NetworkClient, error)
}
