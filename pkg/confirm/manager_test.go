package confirm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRequestRespondRoundtrip(t *testing.T) {
	m := newTestManager()
	m.Request(PendingRequest{ID: "cfm_1", Tool: "exec"})

	go func() {
		if err := m.Respond("cfm_1", true, true); err != nil {
			t.Errorf("Respond() error = %v", err)
		}
	}()

	resp, err := m.WaitForResponse(context.Background(), "cfm_1", time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse() error = %v", err)
	}
	if !resp.Approved || !resp.Always {
		t.Errorf("response = %+v, want approved and always", resp)
	}
}

func TestRespondBeforeWait(t *testing.T) {
	m := newTestManager()
	m.Request(PendingRequest{ID: "cfm_1", Tool: "exec"})

	// The buffered channel holds the decision until the waiter arrives.
	if err := m.Respond("cfm_1", false, false); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	resp, err := m.WaitForResponse(context.Background(), "cfm_1", time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse() error = %v", err)
	}
	if resp.Approved {
		t.Error("response approved, want denied")
	}
}

func TestRespondUnknownRequest(t *testing.T) {
	m := newTestManager()
	if err := m.Respond("missing", true, false); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Respond() error = %v, want ErrRequestNotFound", err)
	}
	if _, err := m.WaitForResponse(context.Background(), "missing", time.Second); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("WaitForResponse() error = %v, want ErrRequestNotFound", err)
	}
}

func TestDoubleRespond(t *testing.T) {
	m := newTestManager()
	m.Request(PendingRequest{ID: "cfm_1", Tool: "exec"})

	if err := m.Respond("cfm_1", true, false); err != nil {
		t.Fatalf("first Respond() error = %v", err)
	}
	if err := m.Respond("cfm_1", false, false); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("second Respond() error = %v, want ErrAlreadyAnswered", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	m := newTestManager()
	m.Request(PendingRequest{ID: "cfm_1", Tool: "exec"})

	if _, err := m.WaitForResponse(context.Background(), "cfm_1", 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("WaitForResponse() error = %v, want ErrTimeout", err)
	}

	// The registration is gone after the wait returns.
	if err := m.Respond("cfm_1", true, false); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Respond() after timeout error = %v, want ErrRequestNotFound", err)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	m := newTestManager()
	m.Request(PendingRequest{ID: "cfm_1", Tool: "exec"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.WaitForResponse(ctx, "cfm_1", time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForResponse() error = %v, want context.Canceled", err)
	}
}

func TestPending(t *testing.T) {
	m := newTestManager()
	if got := m.Pending(); len(got) != 0 {
		t.Fatalf("Pending() = %v, want empty", got)
	}

	earlier := time.Now().Add(-time.Minute)
	m.Request(PendingRequest{ID: "cfm_2", Tool: "apply_patch"})
	m.Request(PendingRequest{ID: "cfm_1", Tool: "exec", CreatedAt: earlier})

	got := m.Pending()
	if len(got) != 2 {
		t.Fatalf("Pending() = %v, want 2 requests", got)
	}
	if got[0].ID != "cfm_1" {
		t.Errorf("Pending()[0].ID = %q, want oldest first", got[0].ID)
	}

	go m.Respond("cfm_1", true, false)
	if _, err := m.WaitForResponse(context.Background(), "cfm_1", time.Second); err != nil {
		t.Fatalf("WaitForResponse() error = %v", err)
	}
	if got := m.Pending(); len(got) != 1 || got[0].ID != "cfm_2" {
		t.Errorf("Pending() after answer = %v, want only cfm_2", got)
	}
}
