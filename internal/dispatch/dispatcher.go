// Package dispatch routes inbound chat events through the moderation engine:
// it consults the active policy, screens message content, issues captcha
// challenges, routes challenge answers, and triggers enforcement.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/groupguard/mod-engine/internal/audit"
	"github.com/groupguard/mod-engine/internal/catalog"
	"github.com/groupguard/mod-engine/internal/challenge"
	"github.com/groupguard/mod-engine/internal/detector"
	"github.com/groupguard/mod-engine/internal/enforce"
	"github.com/groupguard/mod-engine/internal/gateway"
	"github.com/groupguard/mod-engine/internal/metrics"
	"github.com/groupguard/mod-engine/internal/policy"
)

// PolicyProvider supplies the current policy snapshot without blocking.
// policy.Refresher satisfies it.
type PolicyProvider interface {
	Current() *policy.Snapshot
}

// BanChecker reports whether the engine already banned a user. banlist.Store
// satisfies it; nil disables the check.
type BanChecker interface {
	IsBanned(ctx context.Context, chatID, userID int64) (bool, string, error)
}

// Config holds the dispatcher's timing parameters.
type Config struct {
	// AnswerWindow is how long a challenged user has to answer.
	AnswerWindow time.Duration
	// CleanupDelay is how long challenge-related messages stay in the chat
	// after resolution before being deleted.
	CleanupDelay time.Duration
}

// DefaultConfig returns the production windows: 60 seconds for both.
func DefaultConfig() Config {
	return Config{
		AnswerWindow: 60 * time.Second,
		CleanupDelay: 60 * time.Second,
	}
}

// Deps bundles the dispatcher's collaborators.
type Deps struct {
	Policy    PolicyProvider
	Store     *challenge.Store
	Scheduler *challenge.Scheduler
	Assets    *catalog.Catalog
	Gateway   gateway.Gateway
	Enforcer  *enforce.Executor
	Bans      BanChecker      // optional
	Auditor   enforce.Recorder // optional
}

// Dispatcher is the engine's entry point for inbound events. It implements
// gateway.FeedHandler. Events for one user are serialized by the feed's read
// loop; the challenge store's per-key locking covers the timer side.
type Dispatcher struct {
	config Config
	deps   Deps
}

// New creates a Dispatcher.
func New(config Config, deps Deps) *Dispatcher {
	return &Dispatcher{config: config, deps: deps}
}

// HandleMessage processes one inbound text message.
//
// A user with an outstanding challenge has their message routed to the
// challenge state machine and is exempt from content re-evaluation. For
// everyone else the message is screened against the current policy snapshot
// and, on violation, enforced according to the active ban mode.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg gateway.InboundMessage) {
	key := challenge.Key{ChatID: msg.ChatID, UserID: msg.UserID}

	res := d.deps.Store.Submit(key, msg.Text, time.Now(), d.config.AnswerWindow)
	if res.Outcome != challenge.OutcomeNoChallenge {
		metrics.MessagesTotal.WithLabelValues("challenge_answer").Inc()
		d.handleAnswer(ctx, msg, key, res)
		return
	}

	snap := d.deps.Policy.Current()
	if snap.Mode == policy.ModeOff {
		metrics.MessagesTotal.WithLabelValues("off_mode").Inc()
		return
	}

	if d.deps.Bans != nil {
		banned, reason, err := d.deps.Bans.IsBanned(ctx, msg.ChatID, msg.UserID)
		if err != nil {
			log.Printf("[dispatch] ban lookup chat=%d user=%d: %v (continuing)", msg.ChatID, msg.UserID, err)
		}
		if banned {
			metrics.MessagesTotal.WithLabelValues("banned").Inc()
			log.Printf("[dispatch] dropping message from banned user chat=%d user=%d reason=%s",
				msg.ChatID, msg.UserID, reason)
			return
		}
	}

	verdict := detector.Evaluate(msg.Text, snap)
	if !verdict.Violated {
		metrics.MessagesTotal.WithLabelValues("clean").Inc()
		return
	}

	metrics.MessagesTotal.WithLabelValues("violation").Inc()
	metrics.ViolationsTotal.WithLabelValues(verdict.Reason).Inc()
	log.Printf("[dispatch] violation chat=%d user=%d reason=%s term=%q mode=%s",
		msg.ChatID, msg.UserID, verdict.Reason, verdict.Term, snap.Mode)

	switch snap.Mode {
	case policy.ModeInstant:
		d.deps.Enforcer.Instant(ctx, msg.ChatID, msg.UserID, msg.MessageID, verdict.Reason, verdict.Term)
	case policy.ModeCaptcha:
		d.issueChallenge(ctx, msg, key, verdict)
	}
}

// HandleSystemEvent unconditionally deletes service notifications
// (join/leave/title/photo changes).
func (d *Dispatcher) HandleSystemEvent(ctx context.Context, ev gateway.SystemEvent) {
	metrics.MessagesTotal.WithLabelValues("system_deleted").Inc()
	if err := d.deps.Gateway.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
		log.Printf("[dispatch] delete system message chat=%d msg=%d: %v", ev.ChatID, ev.MessageID, err)
	}
}

// issueChallenge creates a challenge for the violating sender: picks a
// random asset, posts the prompt photo, and arms the expiry timer. An
// existing challenge for the key is canceled and replaced.
func (d *Dispatcher) issueChallenge(ctx context.Context, msg gateway.InboundMessage, key challenge.Key, verdict detector.Verdict) {
	asset := d.deps.Assets.Random()
	ch := challenge.New(key, asset, verdict.Term, msg.MessageID, time.Now())

	if replaced := d.deps.Store.Begin(ch); replaced != nil {
		d.deps.Scheduler.Cancel(replaced.ID)
		d.deps.Scheduler.Cancel(cleanupTimerID(replaced.ID))
		log.Printf("[dispatch] replaced challenge chat=%d user=%d old_state=%s",
			key.ChatID, key.UserID, replaced.State)
	}

	caption := fmt.Sprintf(
		"Your message contains a forbidden word: %q.\n\n"+
			"Send the verification word to the chat within %d seconds or you will be removed.\n\n"+
			"Type the text from the image, in Cyrillic or Latin, matching the case.",
		verdict.Term, int(d.config.AnswerWindow.Seconds()))

	promptID, err := d.deps.Gateway.SendPhoto(ctx, msg.ChatID, ch.Image, caption)
	if err != nil {
		// The challenge still stands: the timer will expire it even if the
		// prompt never reached the chat.
		log.Printf("[dispatch] send prompt chat=%d user=%d: %v", msg.ChatID, msg.UserID, err)
	} else {
		d.deps.Store.SetPromptMessageID(key, ch.ID, promptID)
	}

	d.deps.Scheduler.Schedule(ch.ID, d.config.AnswerWindow, func() {
		d.expire(key, ch.ID)
	})

	d.record(ctx, audit.Entry{
		ChatID: key.ChatID,
		UserID: key.UserID,
		Action: "challenge_issued",
		Reason: verdict.Reason,
		Term:   verdict.Term,
	})

	log.Printf("[dispatch] challenge issued chat=%d user=%d asset=%s window=%s",
		key.ChatID, key.UserID, ch.AssetID, d.config.AnswerWindow)
}

// handleAnswer reacts to a submission outcome decided by the challenge
// store.
func (d *Dispatcher) handleAnswer(ctx context.Context, msg gateway.InboundMessage, key challenge.Key, res challenge.SubmitResult) {
	ch := res.Challenge
	elapsed := int(res.Elapsed.Seconds())

	switch res.Outcome {
	case challenge.OutcomePassed:
		d.deps.Scheduler.Cancel(ch.ID)

		reply, err := d.deps.Gateway.SendMessage(ctx, msg.ChatID,
			fmt.Sprintf("Thank you! You passed the check. Your response time: %d second(s).", elapsed))
		if err != nil {
			log.Printf("[dispatch] send pass reply chat=%d user=%d: %v", msg.ChatID, msg.UserID, err)
		}

		d.record(ctx, audit.Entry{
			ChatID: key.ChatID,
			UserID: key.UserID,
			Action: "challenge_passed",
			Term:   ch.Term,
		})

		// The record stays until cleanup so follow-up messages finalize it
		// instead of being re-evaluated.
		d.cleanupLater(key, ch.ID, msg.ChatID, reply, msg.MessageID, ch.PromptMessageID, ch.TriggerMessageID)

		log.Printf("[dispatch] challenge passed chat=%d user=%d elapsed=%ds", key.ChatID, key.UserID, elapsed)

	case challenge.OutcomeRetry:
		reply, err := d.deps.Gateway.SendMessage(ctx, msg.ChatID,
			fmt.Sprintf("Wrong text. Please type the text from the image. Seconds elapsed: %d.", elapsed))
		if err != nil {
			log.Printf("[dispatch] send retry reply chat=%d user=%d: %v", msg.ChatID, msg.UserID, err)
		}
		if reply != 0 {
			d.deps.Enforcer.CleanupLater(msg.ChatID, reply)
		}

	case challenge.OutcomeLate:
		// The expiry timer owns the terminal transition; even a correct
		// answer past the deadline must not flip the state.
		log.Printf("[dispatch] late answer ignored chat=%d user=%d elapsed=%ds", key.ChatID, key.UserID, elapsed)

	case challenge.OutcomeFinalized:
		log.Printf("[dispatch] finalized %s challenge chat=%d user=%d", ch.State, key.ChatID, key.UserID)
	}
}

// expire is the timer-side transition. A fire that lost the race to an
// answer (or to a replacement) is a no-op.
func (d *Dispatcher) expire(key challenge.Key, challengeID string) {
	ch, ok := d.deps.Store.Expire(key, challengeID)
	if !ok {
		return
	}

	ctx := context.Background()

	d.deps.Enforcer.Ban(ctx, key.ChatID, key.UserID, ch.TriggerMessageID, ch.PromptMessageID,
		"Time to confirm has run out. You did not pass the captcha check and will be banned.",
		"captcha_timeout", ch.Term)

	d.record(ctx, audit.Entry{
		ChatID: key.ChatID,
		UserID: key.UserID,
		Action: "challenge_expired",
		Reason: "captcha_timeout",
		Term:   ch.Term,
	})

	d.deps.Store.Remove(key, challengeID)

	log.Printf("[dispatch] challenge expired chat=%d user=%d", key.ChatID, key.UserID)
}

// cleanupLater deletes challenge-related messages after the cleanup delay
// and then discards the challenge record.
func (d *Dispatcher) cleanupLater(key challenge.Key, challengeID string, chatID int64, messageIDs ...int64) {
	d.deps.Scheduler.Schedule(cleanupTimerID(challengeID), d.config.CleanupDelay, func() {
		ctx := context.Background()
		for _, id := range messageIDs {
			if id == 0 {
				continue
			}
			if err := d.deps.Gateway.DeleteMessage(ctx, chatID, id); err != nil {
				log.Printf("[dispatch] cleanup chat=%d msg=%d: %v", chatID, id, err)
			}
		}
		d.deps.Store.Remove(key, challengeID)
	})
}

func cleanupTimerID(challengeID string) string {
	return "cleanup:" + challengeID
}

func (d *Dispatcher) record(ctx context.Context, entry audit.Entry) {
	if d.deps.Auditor == nil {
		return
	}
	if err := d.deps.Auditor.Record(ctx, entry); err != nil {
		log.Printf("[dispatch] audit chat=%d user=%d action=%s: %v", entry.ChatID, entry.UserID, entry.Action, err)
	}
}
