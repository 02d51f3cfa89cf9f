// Package pipeline holds the message contracts and error taxonomy shared by
// every stage of the ingestion pipeline.
package pipeline

import "errors"

var (
	// ErrMalformedInput marks unparseable mail or an unusable classifier response.
	ErrMalformedInput = errors.New("malformed input")
	// ErrMissingAddress marks mail without a usable target or source address.
	ErrMissingAddress = errors.New("missing address header")
	ErrUserNotFound   = errors.New("user not found")
	// ErrDuplicate is a successful short-circuit, not a failure.
	ErrDuplicate = errors.New("duplicate message")
)

// ChangeOp is the operation carried by a change-feed event.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// InboundNotification announces a raw message landed in the inbound area
// of the object store.
type InboundNotification struct {
	ObjectKey string `json:"object_key"`
}

// ClassificationMessage is queued by intake once the raw message has been
// moved to its per-user location.
type ClassificationMessage struct {
	ObjectKey string `json:"object_key"`
	UserID    string `json:"user_id"`
}
