package model

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one conversational turn half. User messages are immutable after
// creation; assistant messages grow monotonically while a stream is running
// and freeze once the stream ends or is aborted.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	IsError   bool        `json:"is_error"`

	// AnimateOnRender is a transient rendering hint, never persisted.
	AnimateOnRender bool `json:"-"`
}

// NewMessageID returns a sortable message id so insertion order survives
// round-trips through stores that order by primary key.
func NewMessageID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func NewUserMessage(text string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Text:      strings.TrimSpace(text),
		Timestamp: time.Now(),
	}
}

// NewPendingAssistantMessage creates the empty assistant placeholder that the
// stream controller fills in chunk by chunk.
func NewPendingAssistantMessage() Message {
	return Message{
		ID:              NewMessageID(),
		Role:            RoleAssistant,
		Timestamp:       time.Now(),
		AnimateOnRender: true,
	}
}

// Extend replaces the text with a longer cumulative snapshot. Shrinking
// writes are ignored so a late or duplicated chunk can never lose output,
// and nothing lands on a message already marked failed.
func (m *Message) Extend(cumulative string) {
	if m.IsError {
		return
	}
	if len(cumulative) < len(m.Text) {
		return
	}
	m.Text = cumulative
}

// Fail marks the message as a terminal failure and freezes its content.
func (m *Message) Fail(apology string) {
	m.Text = apology
	m.IsError = true
}
