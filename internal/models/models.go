package models

import (
	"time"
)

// MessageID is the canonical message identifier: "<unixMilli>-<6 hex chars>".
// IDs sort by creation time and are only ever compared as exact strings.
type MessageID string

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVoice MessageKind = "voice"
)

// DeliveryStatus advances sent -> delivered -> read and never regresses.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank orders delivery states so transitions can be checked for monotonicity.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

type DisappearMode string

const (
	// DisappearFixed counts the budget from message creation.
	DisappearFixed DisappearMode = "fixed"
	// DisappearAfterRead is inert until the message is first read,
	// then counts the budget from the read timestamp.
	DisappearAfterRead DisappearMode = "after-read"
)

type DisappearSpec struct {
	Mode    DisappearMode `json:"mode"`
	Seconds int           `json:"seconds"`
}

func (s *DisappearSpec) Valid() bool {
	if s == nil {
		return false
	}
	if s.Mode != DisappearFixed && s.Mode != DisappearAfterRead {
		return false
	}
	return s.Seconds > 0
}

func (s *DisappearSpec) Budget() time.Duration {
	return time.Duration(s.Seconds) * time.Second
}

// DisappearDefaults is the room-wide default applied by clients to new
// messages. The server stores the latest value and relays updates.
type DisappearDefaults struct {
	Enabled bool           `json:"enabled"`
	Spec    *DisappearSpec `json:"spec,omitempty"`
}

// ReplyRef is a weak reference to a quoted message. The snippet is
// denormalized on purpose; deleting the target leaves a stale quote.
type ReplyRef struct {
	ID      MessageID `json:"id"`
	Author  string    `json:"author"`
	Snippet string    `json:"snippet"`
}

type Message struct {
	ID     MessageID `json:"id"`
	Author string    `json:"author"`
	// ConnID records which connection sent the message. Advisory only;
	// authorship checks always go by Author.
	ConnID string      `json:"conn_id,omitempty"`
	Kind   MessageKind `json:"kind"`

	Text      string  `json:"text,omitempty"`
	ImageData string  `json:"image_data,omitempty"`
	ImageName string  `json:"image_name,omitempty"`
	VoiceData string  `json:"voice_data,omitempty"`
	Duration  float64 `json:"duration_seconds,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	Status    DeliveryStatus `json:"status"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`

	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Disappearing bool           `json:"disappearing"`
	Disappear    *DisappearSpec `json:"disappear,omitempty"`

	ReplyTo *ReplyRef `json:"reply_to,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
