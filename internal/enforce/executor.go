// Package enforce performs the moderation actions triggered by engine
// decisions: deleting messages, banning and kicking members, and cleaning up
// the engine's own notifications.
//
// The sequences are deliberately best-effort, not transactional. The chat
// transport is authoritative for membership, so a failed step (message
// already gone, user already left) is logged and the sequence continues;
// nothing is rolled back or retried.
package enforce

import (
	"context"
	"log"
	"time"

	"github.com/groupguard/mod-engine/internal/audit"
	"github.com/groupguard/mod-engine/internal/gateway"
	"github.com/groupguard/mod-engine/internal/metrics"
)

// Recorder persists audit entries. audit.Store satisfies it; a nil Recorder
// disables auditing.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// BanRecorder tracks which users the engine has banned. banlist.Store
// satisfies it; a nil BanRecorder disables tracking.
type BanRecorder interface {
	Record(ctx context.Context, chatID, userID int64, reason string, ttl time.Duration) error
}

// Config holds enforcement timing parameters.
type Config struct {
	// GraceDelay is how long the engine's notification message stays in
	// the chat before being deleted.
	GraceDelay time.Duration
}

// DefaultConfig returns the production grace delay of 60 seconds.
func DefaultConfig() Config {
	return Config{GraceDelay: 60 * time.Second}
}

// Executor carries out enforcement sequences against the chat gateway.
type Executor struct {
	gw      gateway.Gateway
	bans    BanRecorder
	auditor Recorder
	config  Config
}

// NewExecutor creates an Executor. bans and auditor may be nil.
func NewExecutor(gw gateway.Gateway, bans BanRecorder, auditor Recorder, config Config) *Executor {
	return &Executor{gw: gw, bans: bans, auditor: auditor, config: config}
}

// step records the outcome of one gateway call. Failures are logged and
// swallowed; the caller proceeds to the next step.
func step(action string, chatID, userID int64, err error) {
	if err != nil {
		metrics.EnforcementsTotal.WithLabelValues(action, "error").Inc()
		log.Printf("[enforce] %s chat=%d user=%d: %v (continuing)", action, chatID, userID, err)
		return
	}
	metrics.EnforcementsTotal.WithLabelValues(action, "ok").Inc()
}

// Ban runs the post-challenge enforcement sequence: post the notice, delete
// the triggering message and the challenge prompt, ban and kick the member,
// then delete the notice after the grace delay. Every step is best-effort.
func (e *Executor) Ban(ctx context.Context, chatID, userID, triggerMessageID, promptMessageID int64, noticeText, reason, term string) {
	noticeID, err := e.gw.SendMessage(ctx, chatID, noticeText)
	step("send", chatID, userID, err)

	if triggerMessageID != 0 {
		step("delete", chatID, userID, e.gw.DeleteMessage(ctx, chatID, triggerMessageID))
	}
	if promptMessageID != 0 {
		step("delete", chatID, userID, e.gw.DeleteMessage(ctx, chatID, promptMessageID))
	}

	step("ban", chatID, userID, e.gw.BanMember(ctx, chatID, userID))
	step("kick", chatID, userID, e.gw.KickMember(ctx, chatID, userID))

	e.record(ctx, chatID, userID, "ban", reason, term)

	if noticeID != 0 {
		e.CleanupLater(chatID, noticeID)
	}

	log.Printf("[enforce] banned chat=%d user=%d reason=%s", chatID, userID, reason)
}

// Instant runs the instant-mode sequence: delete the offending message, ban,
// kick. No notice, no timer, no grace-delay cleanup.
func (e *Executor) Instant(ctx context.Context, chatID, userID, messageID int64, reason, term string) {
	step("delete", chatID, userID, e.gw.DeleteMessage(ctx, chatID, messageID))
	step("ban", chatID, userID, e.gw.BanMember(ctx, chatID, userID))
	step("kick", chatID, userID, e.gw.KickMember(ctx, chatID, userID))

	e.record(ctx, chatID, userID, "instant_ban", reason, term)

	log.Printf("[enforce] instant ban chat=%d user=%d term=%q", chatID, userID, term)
}

// CleanupLater deletes a message after the grace delay. The deletion runs on
// its own timer and never blocks message processing.
func (e *Executor) CleanupLater(chatID int64, messageIDs ...int64) {
	time.AfterFunc(e.config.GraceDelay, func() {
		ctx := context.Background()
		for _, id := range messageIDs {
			if id == 0 {
				continue
			}
			if err := e.gw.DeleteMessage(ctx, chatID, id); err != nil {
				log.Printf("[enforce] grace cleanup chat=%d msg=%d: %v", chatID, id, err)
			}
		}
	})
}

func (e *Executor) record(ctx context.Context, chatID, userID int64, action, reason, term string) {
	if e.bans != nil {
		if err := e.bans.Record(ctx, chatID, userID, reason, 0); err != nil {
			log.Printf("[enforce] ban record chat=%d user=%d: %v", chatID, userID, err)
		}
	}
	if e.auditor != nil {
		err := e.auditor.Record(ctx, audit.Entry{
			ChatID: chatID,
			UserID: userID,
			Action: action,
			Reason: reason,
			Term:   term,
		})
		if err != nil {
			log.Printf("[enforce] audit chat=%d user=%d: %v", chatID, userID, err)
		}
	}
}
