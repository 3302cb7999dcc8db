// Package driverapi implements the Driver API façade of spec.md §4.4/§6: a
// stateless set of request/response calls (start, query, send_input,
// update_settings, kill) resolved by a single registry lookup each, wrapping
// the teacher's own message.Request/message.Response envelope shape
// (generalized here from a Unix-socket transport to plain in-process Go
// calls, so a caller wanting to expose this behind a tool schema or a socket
// can reuse these types verbatim).
package driverapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nicobailon/pi-interactive-shell/internal/activitylog"
	"github.com/nicobailon/pi-interactive-shell/internal/config"
	"github.com/nicobailon/pi-interactive-shell/internal/controller"
	"github.com/nicobailon/pi-interactive-shell/internal/ptysession"
	"github.com/nicobailon/pi-interactive-shell/internal/registry"
)

// Error kinds from spec.md §7, exposed as errors.Is-compatible sentinels.
var (
	ErrSessionNotFound  = errors.New("session_not_found")
	ErrWriteFailed      = errors.New("write_failed")
	ErrSpawnFailed      = ptysession.ErrSpawnFailed
	ErrInvalidArguments = errors.New("invalid_arguments")
	ErrOverlayAlreadyOpen = errors.New("overlay_already_open")
)

// Facade is the stateless entry point the driver (or a tool-schema adapter
// sitting in front of it) calls into. It holds no per-request state of its
// own; every call resolves against reg.
type Facade struct {
	reg *registry.Registry
	cfg config.Config
	log *activitylog.Logger
}

// New returns a Facade backed by reg, using cfg as the default per-session
// configuration and log for activity events. log may be nil.
func New(reg *registry.Registry, cfg config.Config, log *activitylog.Logger) *Facade {
	if log == nil {
		log = activitylog.Nop()
	}
	return &Facade{reg: reg, cfg: cfg, log: log}
}

// Start implements spec.md §4.4's start call. On success it always
// registers an active controller before returning; on SpawnFailed or
// InvalidArguments, nothing is registered.
func (f *Facade) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	if req.Command == "" {
		return StartResponse{}, fmt.Errorf("driverapi: %w: start requires a command", ErrInvalidArguments)
	}
	corrID := newCorrelationID()

	mode := controller.ModeInteractive
	if req.HandsFree {
		mode = controller.ModeHandsFree
	}

	if mode == controller.ModeInteractive && req.RequiresOverlay {
		if !f.reg.TryOpenOverlay() {
			return StartResponse{}, ErrOverlayAlreadyOpen
		}
	}

	id := f.reg.GenerateID()
	scrollback := f.cfg.ScrollbackLines
	session := ptysession.New(scrollback)

	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	if err := session.Spawn(ctx, req.Command, req.Cwd, cols, rows, f.cfg.AnsiReemit); err != nil {
		if mode == controller.ModeInteractive && req.RequiresOverlay {
			f.reg.CloseOverlay()
		}
		f.reg.UnregisterActive(id, true)
		return StartResponse{}, fmt.Errorf("driverapi[%s]: %w", corrID, err)
	}
	f.log.SessionSpawned(req.Command, session.Pid())
	if req.OSCForeground != "" || req.OSCBackground != "" {
		session.SetOSCColors(req.OSCForeground, req.OSCBackground)
	}

	completeCh := make(chan controller.Result, 1)
	c := controller.New(controller.Options{
		ID:      id,
		Session: session,
		Cfg:     f.cfg,
		Mode:    mode,

		Command: req.Command,
		Cwd:     req.Cwd,

		TimeoutMs:       req.TimeoutMs,
		HandoffPreview:  req.HandoffPreview,
		HandoffSnapshot: req.HandoffSnapshot,

		Log: f.log,

		OnUpdate: func(u controller.Update) {
			if req.OnUpdate != nil {
				req.OnUpdate(u)
			}
			if u.Kind == controller.UpdateExited && u.Result != nil {
				select {
				case completeCh <- *u.Result:
				default:
				}
			}
		},
		OnUnregisterActive: func(sid string, release bool) { f.reg.UnregisterActive(sid, release) },
	})
	f.reg.RegisterActive(id, c)

	if mode != controller.ModeInteractive {
		return StartResponse{SessionID: id, Status: "running"}, nil
	}

	// Interactive supervision: block until the session finishes, per
	// spec.md §4.4 ("the call blocks until the session finishes").
	var result controller.Result
	select {
	case result = <-completeCh:
	case <-ctx.Done():
		c.Kill()
		result = <-completeCh
	}
	if req.RequiresOverlay {
		f.reg.CloseOverlay()
	}
	// A detach-to-background/minimize selection unregisters from the active
	// map (above, release=false) but leaves installing the background/
	// minimized registry entry to the caller, since only the caller knows
	// the display Name/Reason to file it under.
	switch {
	case result.Backgrounded && result.Session != nil:
		f.reg.TransferActiveToBackground(id, req.Command, result.Session, req.Name, req.Reason)
	case result.Minimized && result.Session != nil:
		f.reg.Minimize(id, req.Command, result.Session, req.Name, req.Reason)
	}
	return StartResponse{SessionID: id, Status: "exited", Result: &result}, nil
}

// Query implements spec.md §4.4's combined query call: settings, then
// input, then (unless kill takes precedence) status and output, honoring
// the rate limit by suspending up to WaitSeconds and racing completion, per
// spec.md §5/§9.
func (f *Facade) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	c, ok := f.reg.GetActive(req.SessionID)
	if !ok {
		return QueryResponse{}, fmt.Errorf("driverapi: %w", ErrSessionNotFound)
	}

	opts := controller.QueryOptions{
		OutputLines:    req.OutputLines,
		OutputMaxChars: req.OutputMaxChars,
		OutputOffset:   req.OutputOffset,
		Incremental:    req.Incremental,
		Drain:          req.Drain,

		InputText:  req.InputText,
		InputKeys:  req.InputKeys,
		InputHex:   req.InputHex,
		InputPaste: req.InputPaste,

		SettingsUpdateIntervalMs: req.SettingsUpdateIntervalMs,
		SettingsQuietThresholdMs: req.SettingsQuietThresholdMs,

		Kill: req.Kill,
	}

	res := c.QueryWithWait(ctx, opts)
	if res.Err != nil {
		if errors.Is(res.Err, controller.ErrIncrementalAndDrainExclusive) {
			return QueryResponse{}, fmt.Errorf("driverapi: %w: %v", ErrInvalidArguments, res.Err)
		}
		return QueryResponse{}, res.Err
	}

	return QueryResponse{
		SessionID:   res.SessionID,
		Status:      res.Status,
		Output:      res.Output,
		HasMore:     res.HasMore,
		RateLimited: res.RateLimited,
		WaitSeconds: res.WaitSeconds,
		Result:      res.Result,
	}, nil
}

// SendInput is a convenience wrapper around Query that only writes input and
// skips the rate limit, matching spec.md §4.4's "send_input" façade entry.
func (f *Facade) SendInput(id string, in InputSpec) (QueryResponse, error) {
	c, ok := f.reg.GetActive(id)
	if !ok {
		return QueryResponse{}, fmt.Errorf("driverapi: %w", ErrSessionNotFound)
	}
	res := c.Query(controller.QueryOptions{
		InputText: in.Text, InputKeys: in.Keys, InputHex: in.Hex, InputPaste: in.Paste,
		SkipRateLimit: true,
	})
	return QueryResponse{SessionID: res.SessionID, Status: res.Status}, nil
}

// UpdateSettings is a convenience wrapper around Query that only applies
// settings, matching spec.md §4.4's "update_settings" façade entry.
func (f *Facade) UpdateSettings(id string, updateIntervalMs, quietThresholdMs *int) error {
	c, ok := f.reg.GetActive(id)
	if !ok {
		return fmt.Errorf("driverapi: %w", ErrSessionNotFound)
	}
	c.Query(controller.QueryOptions{
		SettingsUpdateIntervalMs: updateIntervalMs,
		SettingsQuietThresholdMs: quietThresholdMs,
		SkipRateLimit:            true,
	})
	return nil
}

// Kill terminates the session through the controller's own Kill, matching
// spec.md §4.4's "kill" façade entry.
func (f *Facade) Kill(id string) error {
	c, ok := f.reg.GetActive(id)
	if !ok {
		return fmt.Errorf("driverapi: %w", ErrSessionNotFound)
	}
	c.Kill()
	return nil
}

// newCorrelationID returns a fresh request correlation id. Start puts it in
// the error it returns when spawning fails; activity-log entries do not
// carry it.
func newCorrelationID() string {
	return uuid.NewString()
}
