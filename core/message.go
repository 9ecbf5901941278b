package core

import "time"

// Content types carried by a message body.
const (
	ContentTypeText     = "text/plain"
	ContentTypeGatedRef = "murmur/gated-ref"
)

// Body is either inline text or a locator of a GatedContentRecord.
type Body struct {
	ContentType string `json:"content_type"`
	Text        string `json:"text,omitempty"`
	Locator     string `json:"locator,omitempty"`
}

// TextBody returns a plaintext body.
func TextBody(text string) Body {
	return Body{ContentType: ContentTypeText, Text: text}
}

// GatedBody returns a body referencing gated content by its record locator.
func GatedBody(locator string) Body {
	return Body{ContentType: ContentTypeGatedRef, Locator: locator}
}

// IsGated reports whether the body references gated content.
func (b Body) IsGated() bool { return b.ContentType == ContentTypeGatedRef }

// Message is a single message in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderAddress  string    `json:"sender_address"`
	Body           Body      `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// Window bounds a history fetch. Zero fields are unbounded.
type Window struct {
	Limit  int
	Before time.Time
	After  time.Time
}

// Contains reports whether t falls inside the window's time bounds.
func (w Window) Contains(t time.Time) bool {
	if !w.Before.IsZero() && !t.Before(w.Before) {
		return false
	}
	if !w.After.IsZero() && !t.After(w.After) {
		return false
	}
	return true
}

// MessageLog is the append-only, ID-deduplicated message sequence of one
// conversation. Like ConversationSet it is never modified in place.
type MessageLog struct {
	items []Message
	ids   map[string]struct{}
}

// Len returns the number of messages.
func (l MessageLog) Len() int { return len(l.items) }

// List returns a copy of the messages in delivery order.
func (l MessageLog) List() []Message {
	out := make([]Message, len(l.items))
	copy(out, l.items)
	return out
}

// MergeMessages appends every message of batch whose ID is not yet present.
// Messages without an ID are dropped. Existing entries keep their position.
func MergeMessages(state MessageLog, batch []Message) (MessageLog, []Message) {
	var added []Message
	next := state
	cloned := false
	for _, m := range batch {
		if m.ID == "" {
			continue
		}
		if _, dup := next.ids[m.ID]; dup {
			continue
		}
		if !cloned {
			items := make([]Message, len(state.items), len(state.items)+len(batch))
			copy(items, state.items)
			ids := make(map[string]struct{}, len(state.ids)+len(batch))
			for k := range state.ids {
				ids[k] = struct{}{}
			}
			next = MessageLog{items: items, ids: ids}
			cloned = true
		}
		next.items = append(next.items, m)
		next.ids[m.ID] = struct{}{}
		added = append(added, m)
	}
	return next, added
}
