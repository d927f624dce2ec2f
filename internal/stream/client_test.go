package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "pepitobot/pkg/logx"
)

func runClient(t *testing.T, ctx context.Context, cfg Config) <-chan Event {
	t.Helper()
	c, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := make(chan Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, out)
	}()
	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("client did not stop after cancel")
		}
	})
	return out
}

func recvEvent(t *testing.T, out <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestClientDecodesAndFilters(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept header = %q", got)
		}
		fl := w.(http.Flusher)
		lines := []string{
			`data: {"event":"heartbeat","time":1700000001}`,
			`data: {"event":"pepito","type":"in","time":1700000000,"img":"https://i/1.jpg"}`,
			`not json at all`,
			``,
			`data: {"event":"pepito","type":"out","time":1700000100,"img":"https://i/2.jpg"}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
			fl.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := runClient(t, ctx, Config{URL: srv.URL, Backoff: 10 * time.Millisecond})

	ev := recvEvent(t, out)
	if ev.Type != "in" || ev.Time != 1700000000 || ev.Img != "https://i/1.jpg" {
		t.Fatalf("unexpected first event: %+v", ev)
	}
	ev = recvEvent(t, out)
	if ev.Type != "out" || ev.Time != 1700000100 {
		t.Fatalf("unexpected second event: %+v", ev)
	}
	select {
	case extra := <-out:
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientReconnectsAfterServerClose(t *testing.T) {
	t.Parallel()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		fl := w.(http.Flusher)
		fmt.Fprintf(w, "data: {\"event\":\"pepito\",\"type\":\"in\",\"time\":%d,\"img\":\"https://i/x.jpg\"}\n", 1700000000+int64(n))
		fl.Flush()
		// return closes the stream, forcing a reconnect
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := runClient(t, ctx, Config{URL: srv.URL, Backoff: 10 * time.Millisecond})

	first := recvEvent(t, out)
	second := recvEvent(t, out)
	if first.Time == second.Time {
		t.Fatalf("expected events from two connections, got %+v twice", first)
	}
	if atomic.LoadInt32(&conns) < 2 {
		t.Fatalf("expected at least 2 connections, got %d", conns)
	}
}

func TestClientRetriesAfterHTTPError(t *testing.T) {
	t.Parallel()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&conns, 1) == 1 {
			http.Error(w, "upstream sad", http.StatusBadGateway)
			return
		}
		fl := w.(http.Flusher)
		fmt.Fprintln(w, `data: {"event":"pepito","type":"in","time":1700000000,"img":"https://i/1.jpg"}`)
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := runClient(t, ctx, Config{URL: srv.URL, Backoff: 10 * time.Millisecond})

	ev := recvEvent(t, out)
	if ev.Type != "in" {
		t.Fatalf("unexpected event after retry: %+v", ev)
	}
}

func TestClientIdleTimeoutForcesReconnect(t *testing.T) {
	t.Parallel()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		fl := w.(http.Flusher)
		if n == 1 {
			// say nothing; the idle watchdog should drop us
			fl.Flush()
			<-r.Context().Done()
			return
		}
		fmt.Fprintln(w, `data: {"event":"pepito","type":"in","time":1700000000,"img":"https://i/1.jpg"}`)
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := runClient(t, ctx, Config{
		URL:         srv.URL,
		Backoff:     10 * time.Millisecond,
		IdleTimeout: 50 * time.Millisecond,
	})

	ev := recvEvent(t, out)
	if ev.Type != "in" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if atomic.LoadInt32(&conns) < 2 {
		t.Fatalf("expected a reconnect after idle drop, got %d connections", conns)
	}
}

func TestClientStopsOnCancel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_ = runClient(t, ctx, Config{URL: srv.URL, Backoff: 10 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)
	cancel()
	// the Cleanup registered by runClient asserts shutdown
}

func TestNewRejectsEmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
