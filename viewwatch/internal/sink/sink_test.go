package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sample() event.Event {
	return event.Event{ID: "e1", PageID: "home", Target: "hero", Direction: event.Entered, Ratio: 1}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), sample()); err != nil {
		t.Fatal(err)
	}

	var env struct {
		Type string      `json:"type"`
		Data event.Event `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if env.Type != "visibility" || env.Data.Target != "hero" {
		t.Errorf("got %+v", env)
	}
}

func TestRouter_FanOutFirstError(t *testing.T) {
	errA := errors.New("a failed")
	var got int
	r := NewRouter(quietLogger(),
		NewCallback(func(context.Context, event.Event) error { return errA }),
		NewCallback(func(context.Context, event.Event) error { got++; return nil }),
		NewCallback(nil),
	)

	err := r.Send(context.Background(), sample())
	if !errors.Is(err, errA) {
		t.Errorf("got %v, want %v", err, errA)
	}
	if got != 1 {
		t.Errorf("second sink: got %d calls, want 1", got)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestWebhook_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type: got %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quietLogger()))
	if err := wh.Send(context.Background(), sample()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL,
		WithWebhookRetries(1),
		WithWebhookBackoff(time.Millisecond),
		WithWebhookLogger(quietLogger()))
	if err := wh.Send(context.Background(), sample()); err == nil {
		t.Error("expected error")
	}
}

func TestJournalSink(t *testing.T) {
	j := store.NewJournal(store.OpenMemory(t))
	s := NewJournal(j)
	if err := s.Send(context.Background(), sample()); err != nil {
		t.Fatal(err)
	}
	n, err := j.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}
}
