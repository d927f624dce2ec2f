package relay

import (
	"context"
	"testing"
	"time"

	"pepitobot/internal/store"
	"pepitobot/internal/stream"
	logx "pepitobot/pkg/logx"
)

func TestDispatcherRoutesDomainEventsOnly(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	eng := newTestEngine(t, gw, []store.Destination{
		{ServerID: "1", ServerName: "a", ChannelID: "10"},
	})
	d := NewDispatcher(eng, logx.Nop())

	in := make(chan stream.Event, 4)
	in <- stream.Event{Event: "somethingelse", Type: "in", Time: 1, Img: "x"}
	in <- validEvent()
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx, in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(gw.sentPhotos()); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	eng := newTestEngine(t, gw, nil)
	d := NewDispatcher(eng, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx, make(chan stream.Event)); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
