package murmur

import (
	"context"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/layer-3/murmur/service"
)

// Client is the public interface of a messaging client.
type Client interface {
	// Connect starts a session for the wallet behind signer. Keys are
	// loaded or derived in the background.
	Connect(ctx context.Context, signer ports.Signer) error

	// WaitReady blocks until the session is initialised.
	WaitReady(ctx context.Context) error

	// Disconnect ends the session and drops all session state.
	Disconnect(ctx context.Context) error

	Status() service.SessionStatus

	// Conversations returns the deduplicated conversations of the session.
	Conversations() []Conversation
	Loading() bool
	SyncState() (core.SyncState, error)
	StartConversation(ctx context.Context, peer string) (Conversation, error)

	Messages(conversationID string) ([]Message, error)
	LoadHistory(ctx context.Context, conversationID string, window core.Window) ([]Message, error)
	SendText(ctx context.Context, conversationID, text string) (Message, error)

	// SendGated encrypts and publishes content under a condition and sends
	// its locator to the conversation.
	SendGated(ctx context.Context, conversationID string, req PublishRequest) (Message, error)
	// RetryGated resumes a gated send whose upload or delivery failed,
	// without encrypting again.
	RetryGated(ctx context.Context, conversationID string, pending *service.PendingUpload) (Message, error)
	PreviewGated(ctx context.Context, locator string) (core.GatedPreview, error)
	UnlockGated(ctx context.Context, locator string) ([]byte, error)
	UnlockState(locator string) core.UnlockState
}

// Type aliases so callers need not import core for everyday use.
type (
	Conversation    = core.Conversation
	Message         = core.Message
	Body            = core.Body
	AccessCondition = core.AccessCondition
	PublishRequest  = service.PublishRequest
)
