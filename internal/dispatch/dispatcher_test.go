package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groupguard/mod-engine/internal/audit"
	"github.com/groupguard/mod-engine/internal/catalog"
	"github.com/groupguard/mod-engine/internal/challenge"
	"github.com/groupguard/mod-engine/internal/enforce"
	"github.com/groupguard/mod-engine/internal/gateway"
	"github.com/groupguard/mod-engine/internal/policy"
)

// fixedPolicy serves one static snapshot.
type fixedPolicy struct{ snap *policy.Snapshot }

func (p *fixedPolicy) Current() *policy.Snapshot { return p.snap }

// fakeGateway records every call for assertion.
type fakeGateway struct {
	mu sync.Mutex

	sent     []string
	photos   []string
	deleted  []int64
	banned   []int64
	kicked   []int64
	nextID   int64
	photoErr error
}

func (g *fakeGateway) SendMessage(_ context.Context, _ int64, text string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, text)
	g.nextID++
	return g.nextID, nil
}

func (g *fakeGateway) SendPhoto(_ context.Context, _ int64, imageAsset, _ string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.photoErr != nil {
		return 0, g.photoErr
	}
	g.photos = append(g.photos, imageAsset)
	g.nextID++
	return g.nextID, nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, _ int64, messageID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, messageID)
	return nil
}

func (g *fakeGateway) BanMember(_ context.Context, _ int64, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.banned = append(g.banned, userID)
	return nil
}

func (g *fakeGateway) KickMember(_ context.Context, _ int64, userID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kicked = append(g.kicked, userID)
	return nil
}

func (g *fakeGateway) counts() (sent, photos, deleted, banned, kicked int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent), len(g.photos), len(g.deleted), len(g.banned), len(g.kicked)
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *fakeAuditor) Record(_ context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, entry.Action)
	return nil
}

func (a *fakeAuditor) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

type fakeBans struct {
	banned bool
}

func (b *fakeBans) IsBanned(context.Context, int64, int64) (bool, string, error) {
	return b.banned, "forbidden_word", nil
}

// fixture bundles a dispatcher wired to in-memory fakes. The catalog has a
// single asset so tests know the accepted answer.
type fixture struct {
	dispatcher *Dispatcher
	gw         *fakeGateway
	store      *challenge.Store
	scheduler  *challenge.Scheduler
	auditor    *fakeAuditor
}

func newFixture(t *testing.T, mode policy.BanMode, config Config) *fixture {
	t.Helper()

	assets, err := catalog.New([]catalog.Asset{
		{ID: "only.jpg", Image: "captcha_images/only.jpg", Answers: []string{"SECRET"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	gw := &fakeGateway{}
	store := challenge.NewStore()
	scheduler := challenge.NewScheduler()
	t.Cleanup(scheduler.Stop)
	auditor := &fakeAuditor{}

	d := New(config, Deps{
		Policy:    &fixedPolicy{snap: policy.NewSnapshot(mode, []string{"spam"})},
		Store:     store,
		Scheduler: scheduler,
		Assets:    assets,
		Gateway:   gw,
		Enforcer:  enforce.NewExecutor(gw, nil, auditor, enforce.Config{GraceDelay: time.Hour}),
		Bans:      nil,
		Auditor:   auditor,
	})

	return &fixture{dispatcher: d, gw: gw, store: store, scheduler: scheduler, auditor: auditor}
}

func msg(chatID, userID, messageID int64, text string) gateway.InboundMessage {
	return gateway.InboundMessage{ChatID: chatID, UserID: userID, MessageID: messageID, Text: text}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleMessage_OffModeNoSideEffects(t *testing.T) {
	f := newFixture(t, policy.ModeOff, DefaultConfig())

	f.dispatcher.HandleMessage(context.Background(), msg(1, 2, 3, "buy spam now"))

	sent, photos, deleted, banned, kicked := f.gw.counts()
	if sent+photos+deleted+banned+kicked != 0 {
		t.Errorf("off mode produced side effects: sent=%d photos=%d deleted=%d banned=%d kicked=%d",
			sent, photos, deleted, banned, kicked)
	}
	if f.store.ActiveCount() != 0 {
		t.Error("off mode created a challenge")
	}
}

func TestHandleMessage_CleanMessageIgnored(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, DefaultConfig())

	f.dispatcher.HandleMessage(context.Background(), msg(1, 2, 3, "lovely weather today"))

	sent, photos, deleted, banned, kicked := f.gw.counts()
	if sent+photos+deleted+banned+kicked != 0 {
		t.Error("clean message produced side effects")
	}
}

func TestHandleMessage_InstantMode(t *testing.T) {
	f := newFixture(t, policy.ModeInstant, DefaultConfig())

	f.dispatcher.HandleMessage(context.Background(), msg(1, 2, 3, "this is spam"))

	sent, photos, deleted, banned, kicked := f.gw.counts()
	if deleted != 1 || banned != 1 || kicked != 1 {
		t.Errorf("instant mode: deleted=%d banned=%d kicked=%d, want 1/1/1", deleted, banned, kicked)
	}
	if sent != 0 || photos != 0 {
		t.Errorf("instant mode sent messages: sent=%d photos=%d", sent, photos)
	}
	if f.store.ActiveCount() != 0 {
		t.Error("instant mode created a challenge")
	}
	if got := f.auditor.recorded(); len(got) != 1 || got[0] != "instant_ban" {
		t.Errorf("audit = %v, want [instant_ban]", got)
	}
}

func TestHandleMessage_CaptchaModeIssuesChallenge(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, DefaultConfig())

	f.dispatcher.HandleMessage(context.Background(), msg(1, 2, 3, "this is spam"))

	_, photos, _, banned, kicked := f.gw.counts()
	if photos != 1 {
		t.Fatalf("photos = %d, want one challenge prompt", photos)
	}
	if banned != 0 || kicked != 0 {
		t.Error("captcha mode banned before the window elapsed")
	}

	key := challenge.Key{ChatID: 1, UserID: 2}
	ch, ok := f.store.Get(key)
	if !ok || ch.State != challenge.StateChallenged {
		t.Fatalf("no active challenge: ok=%v state=%v", ok, ch.State)
	}
	if len(ch.Answers) == 0 {
		t.Error("challenge has no accepted answers")
	}
	if ch.PromptMessageID == 0 {
		t.Error("prompt message ID not recorded")
	}
	if f.scheduler.Pending() != 1 {
		t.Errorf("Pending = %d, want one expiry timer", f.scheduler.Pending())
	}
	if got := f.auditor.recorded(); len(got) != 1 || got[0] != "challenge_issued" {
		t.Errorf("audit = %v, want [challenge_issued]", got)
	}
}

func TestHandleMessage_CorrectAnswerPasses(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, Config{AnswerWindow: time.Minute, CleanupDelay: time.Hour})
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, msg(1, 2, 3, "this is spam"))
	f.dispatcher.HandleMessage(ctx, msg(1, 2, 4, "SECRET"))

	key := challenge.Key{ChatID: 1, UserID: 2}
	ch, ok := f.store.Get(key)
	if !ok || ch.State != challenge.StatePassed {
		t.Fatalf("challenge state = %v (ok=%v), want passed", ch.State, ok)
	}

	sent, _, _, banned, kicked := f.gw.counts()
	if banned != 0 || kicked != 0 {
		t.Error("passed challenge still led to a ban")
	}
	if sent != 1 {
		t.Errorf("sent = %d, want one pass reply", sent)
	}
	f.gw.mu.Lock()
	reply := f.gw.sent[0]
	f.gw.mu.Unlock()
	if !strings.Contains(reply, "passed") {
		t.Errorf("pass reply = %q", reply)
	}

	got := f.auditor.recorded()
	if len(got) != 2 || got[1] != "challenge_passed" {
		t.Errorf("audit = %v, want challenge_issued then challenge_passed", got)
	}
}

func TestHandleMessage_WrongAnswerRetriesThenExpiryBans(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, Config{AnswerWindow: 60 * time.Millisecond, CleanupDelay: time.Hour})
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, msg(1, 2, 3, "this is spam"))
	f.dispatcher.HandleMessage(ctx, msg(1, 2, 4, "nope"))

	key := challenge.Key{ChatID: 1, UserID: 2}
	if !f.store.Active(key) {
		t.Fatal("wrong answer closed the challenge")
	}
	sent, _, _, banned, _ := f.gw.counts()
	if sent != 1 {
		t.Errorf("sent = %d, want one retry reply", sent)
	}
	if banned != 0 {
		t.Error("banned before the window elapsed")
	}

	// The window elapses with no accepted answer; exactly one ban+kick.
	waitFor(t, "expiry ban", func() bool {
		_, _, _, banned, kicked := f.gw.counts()
		return banned == 1 && kicked == 1
	})

	// Give any stray duplicate fire a chance to show up.
	time.Sleep(50 * time.Millisecond)
	_, _, _, banned, kicked := f.gw.counts()
	if banned != 1 || kicked != 1 {
		t.Errorf("banned=%d kicked=%d, want exactly one each", banned, kicked)
	}

	got := f.auditor.recorded()
	want := []string{"challenge_issued", "ban", "challenge_expired"}
	if len(got) != len(want) {
		t.Fatalf("audit = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, ok := f.store.Get(key); ok {
		t.Error("challenge record not removed after expiry")
	}
}

func TestHandleMessage_AnswerAfterPassFinalizes(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, Config{AnswerWindow: time.Minute, CleanupDelay: time.Hour})
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, msg(1, 2, 3, "this is spam"))
	f.dispatcher.HandleMessage(ctx, msg(1, 2, 4, "SECRET"))

	// The next message, even a violating one, consumes the lingering record
	// instead of being screened.
	f.dispatcher.HandleMessage(ctx, msg(1, 2, 5, "more spam"))

	_, photos, _, banned, _ := f.gw.counts()
	if photos != 1 {
		t.Errorf("photos = %d, follow-up message re-issued a challenge", photos)
	}
	if banned != 0 {
		t.Error("follow-up message after pass triggered a ban")
	}

	// Record consumed; the message after that is screened normally again.
	f.dispatcher.HandleMessage(ctx, msg(1, 2, 6, "yet more spam"))
	_, photos, _, _, _ = f.gw.counts()
	if photos != 2 {
		t.Errorf("photos = %d, want a fresh challenge after finalize", photos)
	}
}

func TestHandleMessage_UsersChallengedIndependently(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, Config{AnswerWindow: time.Minute, CleanupDelay: time.Hour})
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, msg(1, 2, 3, "this is spam"))
	f.dispatcher.HandleMessage(ctx, msg(1, 7, 4, "spam again"))

	if n := f.store.ActiveCount(); n != 2 {
		t.Errorf("ActiveCount = %d, want 2", n)
	}
	if n := f.scheduler.Pending(); n != 2 {
		t.Errorf("Pending = %d, want 2", n)
	}

	// One user passing leaves the other's challenge untouched.
	f.dispatcher.HandleMessage(ctx, msg(1, 2, 5, "SECRET"))
	if !f.store.Active(challenge.Key{ChatID: 1, UserID: 7}) {
		t.Error("second user's challenge resolved by the first user's answer")
	}
}

func TestHandleMessage_BannedUserDropped(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, DefaultConfig())
	f.dispatcher.deps.Bans = &fakeBans{banned: true}

	f.dispatcher.HandleMessage(context.Background(), msg(1, 2, 3, "this is spam"))

	sent, photos, deleted, banned, kicked := f.gw.counts()
	if sent+photos+deleted+banned+kicked != 0 {
		t.Error("message from banned user produced side effects")
	}
}

func TestHandleSystemEvent_Deleted(t *testing.T) {
	f := newFixture(t, policy.ModeOff, DefaultConfig())

	f.dispatcher.HandleSystemEvent(context.Background(), gateway.SystemEvent{
		ChatID: 1, MessageID: 99, Kind: gateway.SystemJoin,
	})

	f.gw.mu.Lock()
	defer f.gw.mu.Unlock()
	if len(f.gw.deleted) != 1 || f.gw.deleted[0] != 99 {
		t.Errorf("deleted = %v, want [99]", f.gw.deleted)
	}
}

func TestHandleMessage_PromptSendFailureStillArmsTimer(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, Config{AnswerWindow: 40 * time.Millisecond, CleanupDelay: time.Hour})
	f.gw.photoErr = gateway.ErrForbidden

	f.dispatcher.HandleMessage(context.Background(), msg(1, 2, 3, "this is spam"))

	if f.scheduler.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1 even after prompt failure", f.scheduler.Pending())
	}

	waitFor(t, "expiry ban after failed prompt", func() bool {
		_, _, _, banned, kicked := f.gw.counts()
		return banned == 1 && kicked == 1
	})
}

func TestHandleMessage_CleanupAfterPass(t *testing.T) {
	f := newFixture(t, policy.ModeCaptcha, Config{AnswerWindow: time.Minute, CleanupDelay: 30 * time.Millisecond})
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, msg(1, 2, 3, "this is spam"))
	f.dispatcher.HandleMessage(ctx, msg(1, 2, 4, "SECRET"))

	// Pass reply, answer, prompt and trigger all get deleted; the record is
	// discarded afterwards.
	waitFor(t, "post-pass cleanup", func() bool {
		_, _, deleted, _, _ := f.gw.counts()
		return deleted == 4
	})

	key := challenge.Key{ChatID: 1, UserID: 2}
	waitFor(t, "record removal", func() bool {
		_, ok := f.store.Get(key)
		return !ok
	})
}
