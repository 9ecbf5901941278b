package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/layer-3/murmur/core"
	"github.com/sirupsen/logrus"
)

// DefaultHistoryWindow is the history fetched when a conversation is
// attached.
var DefaultHistoryWindow = core.Window{Limit: 100}

// MessageStore keeps the message log of every attached conversation.
type MessageStore struct {
	window core.Window
	log    logrus.FieldLogger

	mu    sync.RWMutex
	epoch uint64
	logs  map[string]core.MessageLog
	subs  map[string]context.CancelFunc
}

// NewMessageStore creates a store fetching window on attach. A zero
// window fetches DefaultHistoryWindow.
func NewMessageStore(window core.Window, log logrus.FieldLogger) *MessageStore {
	if window == (core.Window{}) {
		window = DefaultHistoryWindow
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MessageStore{
		window: window,
		log:    log.WithField("component", "messages"),
		logs:   make(map[string]core.MessageLog),
		subs:   make(map[string]context.CancelFunc),
	}
}

// Attach subscribes to the live messages of a conversation and loads its
// recent history. Live messages received while history loads are merged
// after it. Attaching twice in one session is a no-op.
func (s *MessageStore) Attach(ctx context.Context, h Handle, conversationID string) error {
	s.mu.Lock()
	if !s.adoptLocked(h) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", core.ErrNetwork, core.ErrStaleSession)
	}
	if _, ok := s.subs[conversationID]; ok {
		s.mu.Unlock()
		return nil
	}
	parent := h.Ctx
	if parent == nil {
		parent = context.Background()
	}
	sctx, cancel := context.WithCancel(parent)
	s.subs[conversationID] = cancel
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"conversation": conversationID, "epoch": h.Epoch})

	stream, err := h.Client.StreamMessages(sctx, conversationID)
	if err != nil {
		cancel()
		s.mu.Lock()
		if s.epoch == h.Epoch {
			delete(s.subs, conversationID)
		}
		s.mu.Unlock()
		return core.Classify(core.ErrNetwork, err)
	}

	history, err := h.Client.ListMessages(ctx, conversationID, s.window)
	if err != nil {
		log.WithError(err).Warn("failed to load history")
		err = core.Classify(core.ErrNetwork, err)
	} else {
		s.dispatch(h, conversationID, history)
	}

	go s.follow(sctx, h, conversationID, stream, log)
	return err
}

func (s *MessageStore) follow(ctx context.Context, h Handle, conversationID string, stream <-chan core.Message, log logrus.FieldLogger) {
	for m := range stream {
		s.dispatch(h, conversationID, []core.Message{m})
	}
	if ctx.Err() == nil {
		log.Warn("message stream ended")
	}
}

// LoadHistory fetches a page of history and merges it.
func (s *MessageStore) LoadHistory(ctx context.Context, h Handle, conversationID string, window core.Window) ([]core.Message, error) {
	page, err := h.Client.ListMessages(ctx, conversationID, window)
	if err != nil {
		return nil, core.Classify(core.ErrNetwork, err)
	}
	s.dispatch(h, conversationID, page)
	return page, nil
}

// Dispatch merges messages into the log of a conversation. Messages
// already present are ignored.
func (s *MessageStore) Dispatch(conversationID string, messages []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(conversationID, messages)
}

func (s *MessageStore) dispatch(h Handle, conversationID string, messages []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.adoptLocked(h) {
		return
	}
	s.mergeLocked(conversationID, messages)
}

// adoptLocked switches the store to the session of h. It reports false for
// a handle of a session that already ended.
func (s *MessageStore) adoptLocked(h Handle) bool {
	if s.epoch == h.Epoch {
		return true
	}
	if h.Epoch < s.epoch || !h.Live() {
		return false
	}
	s.resetLocked()
	s.epoch = h.Epoch
	return true
}

func (s *MessageStore) mergeLocked(conversationID string, messages []core.Message) {
	next, added := core.MergeMessages(s.logs[conversationID], messages)
	if len(added) > 0 {
		s.logs[conversationID] = next
	}
}

// Messages returns the messages of a conversation in delivery order.
func (s *MessageStore) Messages(conversationID string) []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs[conversationID].List()
}

// Send sends body to a conversation and merges the sent message. The echo
// from the live stream is deduplicated.
func (s *MessageStore) Send(ctx context.Context, h Handle, conversationID string, body core.Body) (core.Message, error) {
	if body.ContentType == "" {
		return core.Message{}, fmt.Errorf("%w: message body has no content type", core.ErrNetwork)
	}
	m, err := h.Client.Send(ctx, conversationID, body)
	if err != nil {
		return core.Message{}, core.Classify(core.ErrNetwork, err)
	}
	s.dispatch(h, conversationID, []core.Message{m})
	return m, nil
}

// Reset cancels every live subscription and forgets every message.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.epoch = 0
}

func (s *MessageStore) resetLocked() {
	for _, cancel := range s.subs {
		cancel()
	}
	s.subs = make(map[string]context.CancelFunc)
	s.logs = make(map[string]core.MessageLog)
}
