package models

import (
	"time"
)

// Command is the client -> server envelope. Fields beyond Type are
// populated per command type; unused fields stay zero.
type Command struct {
	Type string `json:"type"`

	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"` // image/voice payload, base64 data URL
	Name     string      `json:"name,omitempty"` // image filename
	Duration float64     `json:"duration_seconds,omitempty"`
	ID       MessageID   `json:"id,omitempty"`
	IDs      []MessageID `json:"ids,omitempty"`

	Disappear *DisappearSpec `json:"disappear,omitempty"`
	ReplyTo   *ReplyRef      `json:"reply_to,omitempty"`

	Enabled *bool `json:"enabled,omitempty"`
}

// Command types consumed by the server.
const (
	CmdJoin           = "join"
	CmdSendText       = "send-text"
	CmdSendImage      = "send-image"
	CmdSendVoice      = "send-voice"
	CmdTypingStart    = "typing-start"
	CmdTypingStop     = "typing-stop"
	CmdMarkRead       = "mark-read"
	CmdEdit           = "edit"
	CmdDelete         = "delete"
	CmdClearAll       = "clear-all"
	CmdUpdateDefaults = "update-disappear-defaults"
)

// Event is the server -> client envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types produced by the server.
const (
	EvSessionBacklog  = "session-backlog"
	EvAppended        = "message-appended"
	EvStatusChanged   = "message-status-changed"
	EvMessagesRead    = "messages-read"
	EvEdited          = "message-edited"
	EvDeleted         = "message-deleted"
	EvDisappeared     = "message-disappeared"
	EvChatCleared     = "chat-cleared"
	EvTyping          = "typing-indicator"
	EvTypingCleared   = "typing-cleared"
	EvRosterUpdate    = "roster-update"
	EvForcedLogout    = "forced-logout"
	EvDefaultsChanged = "disappear-defaults"
	EvError           = "error"
)

type BacklogData struct {
	Partner  string            `json:"partner"`
	Messages []*Message        `json:"messages"`
	Defaults DisappearDefaults `json:"defaults"`
}

type StatusData struct {
	ID     MessageID      `json:"id"`
	Status DeliveryStatus `json:"status"`
}

type ReadData struct {
	IDs []MessageID `json:"ids"`
}

type EditData struct {
	ID       MessageID `json:"id"`
	NewText  string    `json:"new_text"`
	EditedAt time.Time `json:"edited_at"`
}

type MessageRefData struct {
	ID MessageID `json:"id"`
}

type TypingData struct {
	Identity string `json:"identity"`
}

type RosterEntry struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
}

type RosterData struct {
	Users []RosterEntry `json:"users"`
}

type ForcedLogoutData struct {
	Reason string `json:"reason"`
}

type ErrorData struct {
	Message string `json:"message"`
}
