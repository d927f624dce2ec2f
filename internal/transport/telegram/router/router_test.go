package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"pepitobot/internal/registry"
	"pepitobot/internal/store"
	kit "pepitobot/internal/transport"
	logx "pepitobot/pkg/logx"
)

type fakeGateway struct {
	mu     sync.Mutex
	texts  []string
	admins map[int64]bool
}

func (g *fakeGateway) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (g *fakeGateway) Stop(ctx context.Context) error                         { return nil }

func (g *fakeGateway) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.texts = append(g.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(g.texts)}, nil
}

func (g *fakeGateway) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("not implemented")
}

func (g *fakeGateway) Channels(ctx context.Context, serverID string) ([]kit.Channel, error) {
	return nil, errors.New("not implemented")
}
func (g *fakeGateway) CanSend(ctx context.Context, to kit.ChatTarget) bool { return true }
func (g *fakeGateway) Owner(ctx context.Context, serverID string) (kit.User, error) {
	return kit.User{}, errors.New("not implemented")
}
func (g *fakeGateway) Member(ctx context.Context, serverID string) (kit.Server, error) {
	return kit.Server{ID: serverID}, nil
}
func (g *fakeGateway) IsAdmin(ctx context.Context, serverID string, userID int64) (bool, error) {
	return g.admins[userID], nil
}

func (g *fakeGateway) lastText() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.texts) == 0 {
		return ""
	}
	return g.texts[len(g.texts)-1]
}

type fakeAnnouncer struct {
	got    string
	failed []string
}

func (a *fakeAnnouncer) Announce(ctx context.Context, text string) ([]string, error) {
	a.got = text
	return a.failed, nil
}

func newTestRouter(t *testing.T, gw *fakeGateway, ann Announcer, owners []int64) (*Router, store.Store) {
	t.Helper()
	st := store.NewMemory()
	reg := registry.New(st, logx.Nop())
	if ann == nil {
		ann = &fakeAnnouncer{}
	}
	return New(gw, reg, ann, owners, logx.Nop()), st
}

func groupMessage(chatID int64, threadID int, fromID int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID: 1, ChatID: chatID, ThreadID: threadID, FromID: fromID,
			Text: text, IsGroup: true, ChatTitle: "cat group",
		},
	}
}

func TestSetChannelByAdmin(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{admins: map[int64]bool{7: true}}
	rtr, st := newTestRouter(t, gw, nil, nil)

	rtr.route(context.Background(), groupMessage(-100, 55, 7, "/setchannel"))

	d, ok, err := st.Destination(context.Background(), "-100")
	if err != nil || !ok {
		t.Fatalf("Destination: ok=%v err=%v", ok, err)
	}
	if d.ChannelID != "-100:55" {
		t.Fatalf("channel id = %q, want %q", d.ChannelID, "-100:55")
	}
	if !strings.Contains(gw.lastText(), "Done") {
		t.Fatalf("expected confirmation, got %q", gw.lastText())
	}
}

func TestSetChannelDeniedForNonAdmin(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{admins: map[int64]bool{}}
	rtr, st := newTestRouter(t, gw, nil, nil)

	rtr.route(context.Background(), groupMessage(-100, 0, 9, "/setchannel"))

	d, _, _ := st.Destination(context.Background(), "-100")
	if d.Configured() {
		t.Fatalf("non-admin configured a channel: %+v", d)
	}
	if !strings.Contains(gw.lastText(), "admins") {
		t.Fatalf("expected denial message, got %q", gw.lastText())
	}
}

func TestSetChannelCommandWithBotSuffix(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{admins: map[int64]bool{7: true}}
	rtr, st := newTestRouter(t, gw, nil, nil)

	rtr.route(context.Background(), groupMessage(-100, 0, 7, "/setchannel@pepito_bot"))

	d, ok, _ := st.Destination(context.Background(), "-100")
	if !ok || d.ChannelID != "-100" {
		t.Fatalf("suffixed command not routed: %+v", d)
	}
}

func TestGroupTrafficObservesServer(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	rtr, st := newTestRouter(t, gw, nil, nil)

	rtr.route(context.Background(), groupMessage(-100, 0, 3, "just chatting"))

	d, ok, _ := st.Destination(context.Background(), "-100")
	if !ok || d.ServerName != "cat group" {
		t.Fatalf("group traffic should register the server: %+v", d)
	}
	if d.Configured() {
		t.Fatalf("observation must not pick a channel")
	}
}

func TestJoinedAndLeft(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	rtr, st := newTestRouter(t, gw, nil, nil)
	ctx := context.Background()

	rtr.route(ctx, kit.Update{Kind: kit.UpdateJoined, Server: &kit.Server{ID: "-200", Name: "new group"}})
	if _, ok, _ := st.Destination(ctx, "-200"); !ok {
		t.Fatalf("join should register the server")
	}
	if !strings.Contains(gw.lastText(), "/setchannel") {
		t.Fatalf("welcome should point at /setchannel: %q", gw.lastText())
	}

	rtr.route(ctx, kit.Update{Kind: kit.UpdateLeft, Server: &kit.Server{ID: "-200"}})
	if _, ok, _ := st.Destination(ctx, "-200"); ok {
		t.Fatalf("leave should remove the server")
	}
}

func TestAnnounceOwnerOnly(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	ann := &fakeAnnouncer{}
	rtr, _ := newTestRouter(t, gw, ann, []int64{7})

	rtr.route(context.Background(), groupMessage(-100, 0, 9, "/announce hi everyone"))
	if ann.got != "" {
		t.Fatalf("non-owner announce went through: %q", ann.got)
	}
	if gw.lastText() != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", gw.lastText())
	}

	rtr.route(context.Background(), groupMessage(-100, 0, 7, "/announce hi everyone"))
	if ann.got != "hi everyone" {
		t.Fatalf("announce text = %q", ann.got)
	}
}

func TestAnnounceReportsFailures(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	ann := &fakeAnnouncer{failed: []string{"dead group"}}
	rtr, _ := newTestRouter(t, gw, ann, []int64{7})

	rtr.route(context.Background(), groupMessage(-100, 0, 7, "/announce psa"))
	if !strings.Contains(gw.lastText(), "dead group") {
		t.Fatalf("failed servers should be reported: %q", gw.lastText())
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	rtr, _ := newTestRouter(t, gw, nil, nil)

	rtr.route(context.Background(), groupMessage(-100, 0, 7, "/frobnicate"))
	if gw.lastText() != "" {
		t.Fatalf("unknown commands should be silent, got %q", gw.lastText())
	}
}
