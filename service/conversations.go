package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/layer-3/murmur/core"
	"github.com/sirupsen/logrus"
)

// Synchronizer maintains the conversation list of a session: one listing
// followed by a live stream, both merged into a peer-unique set.
type Synchronizer struct {
	log logrus.FieldLogger

	mu       sync.RWMutex
	state    core.SyncState
	set      core.ConversationSet
	loading  bool
	err      error
	epoch    uint64
	cancel   context.CancelFunc
	onAdmit  []func(Handle, core.Conversation)
	degraded func(Handle, error)
}

// NewSynchronizer creates an idle synchronizer.
func NewSynchronizer(log logrus.FieldLogger) *Synchronizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Synchronizer{
		log:   log.WithField("component", "conversations"),
		state: core.SyncIdle,
	}
}

// OnAdmit registers fn to be called once for every admitted conversation.
func (s *Synchronizer) OnAdmit(fn func(Handle, core.Conversation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdmit = append(s.onAdmit, fn)
}

// OnDegraded registers fn to be called when the live stream ends while the
// session is still open.
func (s *Synchronizer) OnDegraded(fn func(Handle, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = fn
}

// Start lists the conversations of h and then follows the live stream
// until the session ends. It returns once the listing is merged. Starting
// an already started session is a no-op.
func (s *Synchronizer) Start(ctx context.Context, h Handle) error {
	s.mu.Lock()
	if s.state != core.SyncIdle && s.epoch == h.Epoch {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	parent := h.Ctx
	if parent == nil {
		parent = context.Background()
	}
	sctx, cancel := context.WithCancel(parent)
	s.epoch = h.Epoch
	s.state = core.SyncListing
	s.set = core.ConversationSet{}
	s.loading = true
	s.err = nil
	s.cancel = cancel
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"address": h.Address, "epoch": h.Epoch})

	// The stream is opened before listing so nothing created during the
	// listing call is missed. It is drained only after the listing merge.
	stream, err := h.Client.StreamConversations(sctx)
	if err != nil {
		cancel()
		return s.fail(h, log, err)
	}
	list, err := h.Client.ListConversations(ctx)
	if err != nil {
		cancel()
		return s.fail(h, log, err)
	}
	s.merge(h, list)

	s.mu.Lock()
	if s.epoch != h.Epoch || s.state != core.SyncListing {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %w", core.ErrNetwork, core.ErrStaleSession)
	}
	s.state = core.SyncStreaming
	s.loading = false
	s.mu.Unlock()

	log.WithField("count", len(list)).Info("conversations listed")
	go s.follow(sctx, h, stream, log)
	return nil
}

func (s *Synchronizer) fail(h Handle, log logrus.FieldLogger, err error) error {
	err = core.Classify(core.ErrNetwork, err)
	s.mu.Lock()
	if s.epoch == h.Epoch {
		s.state = core.SyncIdle
		s.loading = false
		s.err = err
		s.cancel = nil
	}
	s.mu.Unlock()
	log.WithError(err).Error("failed to list conversations")
	return err
}

func (s *Synchronizer) follow(ctx context.Context, h Handle, stream <-chan core.Conversation, log logrus.FieldLogger) {
	for c := range stream {
		s.merge(h, []core.Conversation{c})
	}
	if ctx.Err() != nil {
		return
	}

	err := fmt.Errorf("%w: %w", core.ErrNetwork, core.ErrStreamTerminated)
	s.mu.Lock()
	if s.epoch != h.Epoch {
		s.mu.Unlock()
		return
	}
	s.err = err
	degraded := s.degraded
	s.mu.Unlock()

	log.WithError(err).Warn("conversation stream ended")
	if degraded != nil {
		degraded(h, err)
	}
}

// merge admits batch into the set of h's session and notifies hooks.
// Batches from a session that is no longer current are dropped.
func (s *Synchronizer) merge(h Handle, batch []core.Conversation) []core.Conversation {
	s.mu.Lock()
	if s.epoch != h.Epoch || s.state == core.SyncIdle {
		s.mu.Unlock()
		return nil
	}
	next, admitted := core.MergeConversations(s.set, batch, h.Address)
	s.set = next
	hooks := s.onAdmit
	s.mu.Unlock()

	for _, c := range admitted {
		s.log.WithFields(logrus.Fields{"conversation": c.ID, "peer": c.PeerAddress}).Debug("conversation admitted")
		for _, fn := range hooks {
			fn(h, c)
		}
	}
	return admitted
}

// StartConversation opens a conversation with peer and merges it. If a
// conversation with peer already exists it is returned.
func (s *Synchronizer) StartConversation(ctx context.Context, h Handle, peer string) (core.Conversation, error) {
	peer, err := core.NormalizeAddress(peer)
	if err != nil {
		return core.Conversation{}, fmt.Errorf("%w: %w", core.ErrIdentity, err)
	}
	if core.SameAddress(peer, h.Address) {
		return core.Conversation{}, fmt.Errorf("%w: %w: cannot message yourself", core.ErrIdentity, core.ErrInvalidAddress)
	}
	c, err := h.Client.NewConversation(ctx, peer)
	if err != nil {
		return core.Conversation{}, core.Classify(core.ErrNetwork, err)
	}
	s.merge(h, []core.Conversation{c})
	return c, nil
}

// Conversations returns the admitted conversations in admission order.
func (s *Synchronizer) Conversations() []core.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.List()
}

// Conversation returns the admitted conversation with the given id.
func (s *Synchronizer) Conversation(id string) (core.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.ByID(id)
}

// Loading reports whether the initial listing is in flight.
func (s *Synchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// State returns the synchronizer state.
func (s *Synchronizer) State() core.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the last listing failure or stream degradation.
func (s *Synchronizer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Reset stops the stream and forgets every conversation.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = nil
	s.state = core.SyncIdle
	s.set = core.ConversationSet{}
	s.loading = false
	s.err = nil
	s.epoch = 0
}
