package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
)

type stubNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (s *stubNotifier) Channel() Channel { return s.channel }

func (s *stubNotifier) Notify(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	a := &stubNotifier{channel: "a"}
	b := &stubNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, b, nil)

	err := d.Notify(context.Background(), Event{Code: "X", Severity: xerrors.SeverityWarning})
	if err == nil {
		t.Fatalf("expected joined error from failing channel")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both channels notified, got %d/%d", len(a.events), len(b.events))
	}
	if a.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be filled")
	}
}

func TestFanoutMinSeverity(t *testing.T) {
	n := &stubNotifier{channel: "a"}
	d := NewFanout(n).WithMinSeverity(ParseSeverity("Warning"))

	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityInfo})
	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityCritical})
	if len(n.events) != 1 || n.events[0].Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected events: %+v", n.events)
	}
	if ParseSeverity("bogus") != "" {
		t.Fatalf("unknown severity should disable filtering")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	event := Event{Code: "TASK_PROCESSING_FAILED", Message: "boom", Severity: xerrors.SeverityWarning, TaskID: "t1", Attempts: 1, MaxRetries: 3}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TaskID != "t1" || got.Channel != ChannelWebhook || got.Code != "TASK_PROCESSING_FAILED" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	if err := (&LogNotifier{}).Notify(context.Background(), Event{Message: "m", Metadata: map[string]string{"stage": "retry"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
