package driverapi

import (
	"context"
	"testing"
	"time"

	"github.com/nicobailon/pi-interactive-shell/internal/activitylog"
	"github.com/nicobailon/pi-interactive-shell/internal/config"
	"github.com/nicobailon/pi-interactive-shell/internal/controller"
	"github.com/nicobailon/pi-interactive-shell/internal/registry"
	"github.com/nicobailon/pi-interactive-shell/internal/sessionid"
)

func newTestFacade() *Facade {
	reg := registry.New(sessionid.NewPool(func() int64 { return 1 }), nil)
	return New(reg, config.Default(), activitylog.Nop())
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	f := newTestFacade()
	_, err := f.Start(context.Background(), StartRequest{})
	if err == nil {
		t.Fatal("expected an error for an empty command")
	}
}

func TestStartHandsFreeReturnsImmediately(t *testing.T) {
	f := newTestFacade()
	resp, err := f.Start(context.Background(), StartRequest{Command: "cat", HandsFree: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.Status != "running" || resp.SessionID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := f.Kill(resp.SessionID); err != nil {
		t.Fatalf("kill: %v", err)
	}
}

func TestStartInteractiveBlocksUntilExit(t *testing.T) {
	f := newTestFacade()
	done := make(chan StartResponse, 1)
	go func() {
		resp, err := f.Start(context.Background(), StartRequest{Command: "sh -c 'exit 0'"})
		if err != nil {
			t.Errorf("start: %v", err)
			return
		}
		done <- resp
	}()

	select {
	case resp := <-done:
		if resp.Status != "exited" || resp.Result == nil {
			t.Fatalf("expected an exited result, got %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for interactive start to return")
	}
}

func TestQuerySessionNotFound(t *testing.T) {
	f := newTestFacade()
	_, err := f.Query(context.Background(), QueryRequest{SessionID: "missing"})
	if err == nil {
		t.Fatal("expected an error for an unknown session id")
	}
}

func TestQueryReadsOutput(t *testing.T) {
	f := newTestFacade()
	resp, err := f.Start(context.Background(), StartRequest{Command: "cat", HandsFree: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.Kill(resp.SessionID)

	if _, err := f.SendInput(resp.SessionID, InputSpec{Text: "hello\n"}); err != nil {
		t.Fatalf("send input: %v", err)
	}

	q, err := f.Query(context.Background(), QueryRequest{SessionID: resp.SessionID, OutputLines: 20, Drain: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if q.Status != "running" {
		t.Fatalf("expected running status, got %q", q.Status)
	}
}

func TestBackgroundDetachTransfersIntoRegistryWithoutReleasingID(t *testing.T) {
	f := newTestFacade()
	done := make(chan StartResponse, 1)
	go func() {
		resp, err := f.Start(context.Background(), StartRequest{Command: "sh -c 'sleep 5'", Name: "build"})
		if err != nil {
			t.Errorf("start: %v", err)
			return
		}
		done <- resp
	}()

	// Poll for the session to register active, then simulate a
	// double-escape-then-select-background gesture on it directly.
	var id string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ids := f.reg.ListActive(); len(ids) == 1 {
			id = ids[0]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("timed out waiting for session to register active")
	}
	c, ok := f.reg.GetActive(id)
	if !ok {
		t.Fatalf("expected controller %q to be active", id)
	}
	c.HandleUserInput(false, true)
	c.HandleUserInput(false, true)
	c.SelectDetach(controller.DetachBackground)

	select {
	case resp := <-done:
		if !resp.Result.Backgrounded {
			t.Fatalf("expected a backgrounded result, got %+v", resp.Result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for start to return after background detach")
	}

	bgs := f.reg.ListBackground()
	if len(bgs) != 1 || bgs[0].ID != id || bgs[0].Name != "build" {
		t.Fatalf("expected session %q filed under background with its Name, got %+v", id, bgs)
	}
	if _, ok := f.reg.GetActive(id); ok {
		t.Fatal("expected the id to have left the active map")
	}
	bgs[0].Session.Kill()
}

func TestOverlayAlreadyOpenRefusesSecondInteractiveStart(t *testing.T) {
	f := newTestFacade()

	if !f.reg.TryOpenOverlay() {
		t.Fatal("expected the first overlay open to succeed")
	}
	defer f.reg.CloseOverlay()

	_, err := f.Start(context.Background(), StartRequest{Command: "cat", RequiresOverlay: true})
	if err != ErrOverlayAlreadyOpen {
		t.Fatalf("expected ErrOverlayAlreadyOpen, got %v", err)
	}
}
