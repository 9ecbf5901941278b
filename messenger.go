// Package murmur is a wallet-authenticated messaging client with
// condition-gated encrypted content.
//
// A Messenger turns a wallet signer into a messaging identity, keeps a
// deduplicated view of the wallet's conversations and their messages, and
// sends plain text or gated content.
package murmur

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/layer-3/murmur/service"
	"github.com/sirupsen/logrus"
)

// Options are the dependencies of a Messenger. KeyStore and Network are
// required. Gated content needs Authorizer, Encryption and Content.
type Options struct {
	KeyStore ports.KeyStore
	Network  ports.ClientFactory

	Authorizer ports.Authorizer
	Encryption ports.EncryptionService
	Content    ports.ContentStore

	Events        ports.EventPublisher
	HistoryWindow core.Window
	Logger        logrus.FieldLogger
}

// Messenger composes the session, conversation, message and gating
// components.
type Messenger struct {
	sessions *service.SessionManager
	sync     *service.Synchronizer
	messages *service.MessageStore
	gating   *service.GatingWorkflow
	log      logrus.FieldLogger
}

var _ Client = (*Messenger)(nil)

// New wires a Messenger.
func New(opts Options) (*Messenger, error) {
	if opts.KeyStore == nil {
		return nil, errors.New("murmur: key store is required")
	}
	if opts.Network == nil {
		return nil, errors.New("murmur: network client factory is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &Messenger{
		sessions: service.NewSessionManager(opts.KeyStore, opts.Network, opts.Events, log),
		sync:     service.NewSynchronizer(log),
		messages: service.NewMessageStore(opts.HistoryWindow, log),
		log:      log,
	}
	if opts.Authorizer != nil && opts.Encryption != nil && opts.Content != nil {
		m.gating = service.NewGatingWorkflow(opts.Authorizer, opts.Encryption, opts.Content, log)
		m.sessions.Register(m.gating)
	}
	m.sessions.Register(m.sync, m.messages)

	m.sessions.OnReady(func(h service.Handle) {
		if err := m.sync.Start(h.Ctx, h); err != nil {
			m.log.WithError(err).WithField("address", h.Address).Error("conversation sync failed")
		}
	})
	m.sync.OnAdmit(func(h service.Handle, c core.Conversation) {
		go func() {
			if err := m.messages.Attach(h.Ctx, h, c.ID); err != nil && h.Live() {
				m.log.WithError(err).WithField("conversation", c.ID).Warn("failed to attach conversation")
			}
		}()
	})
	m.sync.OnDegraded(m.sessions.Degraded)
	return m, nil
}

// Connect starts a session for the wallet behind signer. Keys are loaded
// or derived in the background; use WaitReady to wait for them.
func (m *Messenger) Connect(ctx context.Context, signer ports.Signer) error {
	return m.sessions.Connect(ctx, signer)
}

// WaitReady blocks until the session is initialised or ctx ends.
func (m *Messenger) WaitReady(ctx context.Context) error {
	_, err := m.sessions.Ready(ctx)
	return err
}

// Disconnect ends the session and drops its conversations, messages and
// unlocked content.
func (m *Messenger) Disconnect(ctx context.Context) error {
	return m.sessions.Disconnect(ctx)
}

// Status reports the current session.
func (m *Messenger) Status() service.SessionStatus {
	return m.sessions.Status()
}

// SyncState returns the conversation synchronizer state and its last
// failure.
func (m *Messenger) SyncState() (core.SyncState, error) {
	return m.sync.State(), m.sync.Err()
}

func (m *Messenger) handle() (service.Handle, error) {
	h, ok := m.sessions.Current()
	if !ok {
		return service.Handle{}, fmt.Errorf("%w: %w", core.ErrIdentity, core.ErrNotConnected)
	}
	return h, nil
}

// Conversations returns the deduplicated conversations of the session in
// admission order.
func (m *Messenger) Conversations() []Conversation {
	return m.sync.Conversations()
}

// Loading reports whether the initial conversation listing is in flight.
func (m *Messenger) Loading() bool {
	return m.sync.Loading()
}

// StartConversation opens a conversation with peer, or returns the
// existing one.
func (m *Messenger) StartConversation(ctx context.Context, peer string) (Conversation, error) {
	h, err := m.handle()
	if err != nil {
		return Conversation{}, err
	}
	return m.sync.StartConversation(ctx, h, peer)
}

func (m *Messenger) conversation(id string) error {
	if _, ok := m.sync.Conversation(id); !ok {
		return fmt.Errorf("%w: %w", core.ErrNetwork, core.ErrConversationNotFound)
	}
	return nil
}

// Messages returns the messages delivered so far in a conversation.
func (m *Messenger) Messages(conversationID string) ([]Message, error) {
	if err := m.conversation(conversationID); err != nil {
		return nil, err
	}
	return m.messages.Messages(conversationID), nil
}

// LoadHistory fetches a page of older messages and merges it.
func (m *Messenger) LoadHistory(ctx context.Context, conversationID string, window core.Window) ([]Message, error) {
	h, err := m.handle()
	if err != nil {
		return nil, err
	}
	if err := m.conversation(conversationID); err != nil {
		return nil, err
	}
	return m.messages.LoadHistory(ctx, h, conversationID, window)
}

// SendText sends a plaintext message.
func (m *Messenger) SendText(ctx context.Context, conversationID, text string) (Message, error) {
	return m.send(ctx, conversationID, core.TextBody(text))
}

func (m *Messenger) send(ctx context.Context, conversationID string, body core.Body) (Message, error) {
	h, err := m.handle()
	if err != nil {
		return Message{}, err
	}
	if err := m.conversation(conversationID); err != nil {
		return Message{}, err
	}
	return m.messages.Send(ctx, h, conversationID, body)
}

func (m *Messenger) gatingWorkflow() (*service.GatingWorkflow, error) {
	if m.gating == nil {
		return nil, fmt.Errorf("%w: %w", core.ErrGating, core.ErrGatingDisabled)
	}
	return m.gating, nil
}

// SendGated encrypts and publishes req under its condition and sends the
// record locator to the conversation. A publish whose session ended before
// it completed is discarded. If the upload or the delivery fails the error
// is a *service.PublishError whose pending upload can be passed to
// RetryGated.
func (m *Messenger) SendGated(ctx context.Context, conversationID string, req PublishRequest) (Message, error) {
	g, err := m.gatingWorkflow()
	if err != nil {
		return Message{}, err
	}
	h, err := m.handle()
	if err != nil {
		return Message{}, err
	}
	if err := m.conversation(conversationID); err != nil {
		return Message{}, err
	}
	locator, err := g.Publish(ctx, h, req)
	if err != nil {
		return Message{}, err
	}
	pending := &service.PendingUpload{Address: h.Address, Locator: locator}
	return m.deliverGated(ctx, h, conversationID, pending)
}

// RetryGated resumes a gated send that failed at upload or delivery.
func (m *Messenger) RetryGated(ctx context.Context, conversationID string, pending *service.PendingUpload) (Message, error) {
	g, err := m.gatingWorkflow()
	if err != nil {
		return Message{}, err
	}
	h, err := m.handle()
	if err != nil {
		return Message{}, err
	}
	if err := m.conversation(conversationID); err != nil {
		return Message{}, err
	}
	if _, err := g.RetryUpload(ctx, h, pending); err != nil {
		return Message{}, err
	}
	return m.deliverGated(ctx, h, conversationID, pending)
}

// deliverGated sends the locator of an uploaded record with the session it
// was published in.
func (m *Messenger) deliverGated(ctx context.Context, h service.Handle, conversationID string, pending *service.PendingUpload) (Message, error) {
	if !h.Live() {
		return Message{}, fmt.Errorf("%w: %w", core.ErrGating, core.ErrStaleSession)
	}
	msg, err := m.messages.Send(ctx, h, conversationID, core.GatedBody(pending.Locator))
	if err != nil {
		m.log.WithError(err).WithField("locator", pending.Locator).Warn("failed to deliver gated content")
		return Message{}, &service.PublishError{Pending: pending, Err: err}
	}
	return msg, nil
}

// PreviewGated returns the metadata of gated content without unlocking it.
func (m *Messenger) PreviewGated(ctx context.Context, locator string) (core.GatedPreview, error) {
	g, err := m.gatingWorkflow()
	if err != nil {
		return core.GatedPreview{}, err
	}
	return g.Preview(ctx, locator)
}

// UnlockGated decrypts gated content if the session wallet meets its
// condition.
func (m *Messenger) UnlockGated(ctx context.Context, locator string) ([]byte, error) {
	g, err := m.gatingWorkflow()
	if err != nil {
		return nil, err
	}
	h, err := m.handle()
	if err != nil {
		return nil, err
	}
	return g.Unlock(ctx, h, locator)
}

// UnlockState returns the unlock state of locator. It is always locked
// when gating is not configured.
func (m *Messenger) UnlockState(locator string) core.UnlockState {
	if m.gating == nil {
		return core.UnlockState{Status: core.UnlockLocked}
	}
	return m.gating.State(locator)
}
