package network

import (
	"context"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
)

// Client is one wallet's connection to a Relay.
type Client struct {
	relay   *Relay
	address string
}

var _ ports.NetworkClient = (*Client)(nil)

func (c *Client) Address() string { return c.address }

func (c *Client) ListConversations(ctx context.Context) ([]core.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.relay.conversations(c.address), nil
}

func (c *Client) StreamConversations(ctx context.Context) (<-chan core.Conversation, error) {
	return subscribe[core.Conversation](ctx, c.relay.pubsub, conversationsTopic(c.address))
}

func (c *Client) NewConversation(ctx context.Context, peer string) (core.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return core.Conversation{}, err
	}
	return c.relay.newConversation(c.address, peer)
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, window core.Window) ([]core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.relay.messages(c.address, conversationID, window)
}

func (c *Client) StreamMessages(ctx context.Context, conversationID string) (<-chan core.Message, error) {
	if _, err := c.relay.messages(c.address, conversationID, core.Window{Limit: 1}); err != nil {
		return nil, err
	}
	return subscribe[core.Message](ctx, c.relay.pubsub, messagesTopic(conversationID))
}

func (c *Client) Send(ctx context.Context, conversationID string, body core.Body) (core.Message, error) {
	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}
	return c.relay.send(c.address, conversationID, body)
}

// Close is a no-op; the relay outlives its clients.
func (c *Client) Close() error { return nil }
