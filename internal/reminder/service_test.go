package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pepitobot/internal/registry"
	"pepitobot/internal/store"
	kit "pepitobot/internal/transport"
	logx "pepitobot/pkg/logx"
)

type fakeGateway struct {
	mu    sync.Mutex
	texts []string
	sends []kit.ChatTarget

	channels   map[string][]kit.Channel
	noSend     map[int64]bool // chats CanSend answers false for
	failSend   map[int64]error
	gone       map[string]bool // servers Member errors for
	owners     map[string]kit.User
	memberHits int
}

func (g *fakeGateway) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (g *fakeGateway) Stop(ctx context.Context) error                         { return nil }

func (g *fakeGateway) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failSend[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	g.texts = append(g.texts, text)
	g.sends = append(g.sends, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(g.sends)}, nil
}

func (g *fakeGateway) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("not implemented")
}

func (g *fakeGateway) Channels(ctx context.Context, serverID string) ([]kit.Channel, error) {
	chans, ok := g.channels[serverID]
	if !ok {
		return nil, errors.New("no channels")
	}
	return chans, nil
}

func (g *fakeGateway) CanSend(ctx context.Context, to kit.ChatTarget) bool {
	return !g.noSend[to.ChatID]
}

func (g *fakeGateway) Owner(ctx context.Context, serverID string) (kit.User, error) {
	u, ok := g.owners[serverID]
	if !ok {
		return kit.User{}, errors.New("no owner")
	}
	return u, nil
}

func (g *fakeGateway) Member(ctx context.Context, serverID string) (kit.Server, error) {
	g.mu.Lock()
	g.memberHits++
	g.mu.Unlock()
	if g.gone[serverID] {
		return kit.Server{}, errors.New("bot was kicked")
	}
	return kit.Server{ID: serverID}, nil
}

func (g *fakeGateway) IsAdmin(ctx context.Context, serverID string, userID int64) (bool, error) {
	return false, nil
}

func (g *fakeGateway) sentTo() []kit.ChatTarget {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]kit.ChatTarget(nil), g.sends...)
}

func newTestService(t *testing.T, gw *fakeGateway, st store.Store, now time.Time) *Service {
	t.Helper()
	reg := registry.New(st, logx.Nop())
	svc := New(Config{Enabled: true}, gw, reg, st, logx.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestSweepRemindsUnconfiguredOnly(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.UpsertDestination(ctx, store.Destination{ServerID: "1", ServerName: "ready", ChannelID: "10"})
	_ = st.UpsertDestination(ctx, store.Destination{ServerID: "2", ServerName: "lost"})

	gw := &fakeGateway{
		channels: map[string][]kit.Channel{"2": {{Target: kit.ChatTarget{ChatID: 2}, Name: "lost"}}},
		owners:   map[string]kit.User{"2": {ID: 5, Username: "meow"}},
	}
	svc := newTestService(t, gw, st, time.Now())

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	sends := gw.sentTo()
	if len(sends) != 1 || sends[0].ChatID != 2 {
		t.Fatalf("expected one reminder to chat 2, got %+v", sends)
	}
	if !strings.Contains(gw.texts[0], "@meow") {
		t.Fatalf("reminder should mention the owner: %q", gw.texts[0])
	}
}

func TestStartRunsInitialSweep(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.UpsertDestination(ctx, store.Destination{ServerID: "2", ServerName: "fresh"})

	gw := &fakeGateway{
		channels: map[string][]kit.Channel{"2": {{Target: kit.ChatTarget{ChatID: 2}}}},
	}
	svc := newTestService(t, gw, st, time.Now())

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Stop waits out the initial sweep; the cron entry is a day away.
	svc.Stop()

	if n := len(gw.sentTo()); n != 1 {
		t.Fatalf("expected the initial sweep to remind once, got %d sends", n)
	}
	if _, ok, _ := st.LastReminder(ctx, "2"); !ok {
		t.Fatalf("initial sweep must record the reminder in the ledger")
	}
}

func TestSweepHonors24hGate(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.UpsertDestination(ctx, store.Destination{ServerID: "2", ServerName: "g"})

	now := time.Now()
	gw := &fakeGateway{
		channels: map[string][]kit.Channel{"2": {{Target: kit.ChatTarget{ChatID: 2}}}},
	}
	svc := newTestService(t, gw, st, now)

	// reminded one hour ago: still inside the window
	_ = st.PutReminder(ctx, "2", now.Add(-time.Hour))
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n := len(gw.sentTo()); n != 0 {
		t.Fatalf("expected no reminder inside the window, got %d", n)
	}

	// 25 hours ago: due again
	_ = st.PutReminder(ctx, "2", now.Add(-25*time.Hour))
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n := len(gw.sentTo()); n != 1 {
		t.Fatalf("expected one reminder past the window, got %d", n)
	}

	last, ok, _ := st.LastReminder(ctx, "2")
	if !ok || !last.Equal(now.UTC()) {
		t.Fatalf("ledger not updated to sweep time: ok=%v last=%v", ok, last)
	}
}

func TestSweepSkipsUnreachableServer(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.UpsertDestination(ctx, store.Destination{ServerID: "2", ServerName: "g"})

	gw := &fakeGateway{gone: map[string]bool{"2": true}}
	svc := newTestService(t, gw, st, time.Now())

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n := len(gw.sentTo()); n != 0 {
		t.Fatalf("unreachable server must be skipped, got %d sends", n)
	}
	if _, ok, _ := st.LastReminder(ctx, "2"); ok {
		t.Fatalf("skip must not touch the ledger")
	}
	if _, exists, _ := st.Destination(ctx, "2"); !exists {
		t.Fatalf("skip must not purge the destination")
	}
}

func TestSweepFailedSendLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.UpsertDestination(ctx, store.Destination{ServerID: "2", ServerName: "g"})

	gw := &fakeGateway{
		channels: map[string][]kit.Channel{"2": {{Target: kit.ChatTarget{ChatID: 2}}}},
		failSend: map[int64]error{2: errors.New("flood wait")},
	}
	svc := newTestService(t, gw, st, time.Now())

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, ok, _ := st.LastReminder(ctx, "2"); ok {
		t.Fatalf("failed send must leave the ledger untouched")
	}
}

func TestSweepPicksFirstSendableChannel(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.UpsertDestination(ctx, store.Destination{ServerID: "2", ServerName: "g"})

	gw := &fakeGateway{
		channels: map[string][]kit.Channel{"2": {
			{Target: kit.ChatTarget{ChatID: 20}, Name: "locked"},
			{Target: kit.ChatTarget{ChatID: 21}, Name: "open"},
			{Target: kit.ChatTarget{ChatID: 22}, Name: "also open"},
		}},
		noSend: map[int64]bool{20: true},
	}
	svc := newTestService(t, gw, st, time.Now())

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	sends := gw.sentTo()
	if len(sends) != 1 || sends[0].ChatID != 21 {
		t.Fatalf("expected the first sendable channel (21), got %+v", sends)
	}
}
