package chat

import "errors"

var (
	// ErrUnauthorized means the identity is not on the allowlist.
	ErrUnauthorized = errors.New("identity not allowed")
	// ErrRoomFull means two other identities already hold sessions.
	ErrRoomFull = errors.New("room is full")
	// ErrNotFound means no message exists with the given id.
	ErrNotFound = errors.New("message not found")
	// ErrForbidden means the requester is not the message author.
	ErrForbidden = errors.New("not the message author")
	// ErrAlreadyDeleted means the message is tombstoned.
	ErrAlreadyDeleted = errors.New("message already deleted")
)
