// Package gateway defines the chat transport boundary. The engine consumes
// inbound chat events through the Feed and performs moderation actions —
// sending, deleting, banning, kicking — through the Gateway interface. The
// production implementation speaks to the transport service over NATS; tests
// substitute in-memory fakes.
package gateway

import (
	"context"
	"errors"
)

// Errors a Gateway implementation may report. All of them are recoverable
// from the engine's point of view: enforcement sequences log them and
// continue.
var (
	// ErrNotFound means the referenced message no longer exists (already
	// deleted, or never seen by the transport).
	ErrNotFound = errors.New("gateway: message not found")

	// ErrForbidden means the transport lacks the permission for the call
	// (e.g. the engine is not an admin of the chat, or the target already
	// left).
	ErrForbidden = errors.New("gateway: operation forbidden")
)

// Gateway is the engine's view of the chat transport. Implementations must
// be safe for concurrent use. Calls are idempotent from the engine's
// perspective: deleting a deleted message or banning a banned user reports
// an error that callers log and move past.
type Gateway interface {
	// SendMessage posts text to the chat and returns the new message ID.
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)

	// SendPhoto posts a pre-rendered image asset with a caption and returns
	// the new message ID.
	SendPhoto(ctx context.Context, chatID int64, imageAsset string, caption string) (int64, error)

	// DeleteMessage removes a message from the chat.
	DeleteMessage(ctx context.Context, chatID int64, messageID int64) error

	// BanMember blacklists a user in the chat.
	BanMember(ctx context.Context, chatID int64, userID int64) error

	// KickMember removes a user from the chat.
	KickMember(ctx context.Context, chatID int64, userID int64) error
}
