package driverapi

import "github.com/nicobailon/pi-interactive-shell/internal/controller"

// StartRequest carries the arguments for a start call, per spec.md §4.4.
type StartRequest struct {
	Command string
	Cwd     string
	Cols    int
	Rows    int

	// Name and Reason label a background/minimized registry entry if this
	// session is later detached; otherwise unused.
	Name   string
	Reason string

	// OSCForeground/OSCBackground seed the child's OSC 10/11 auto-reply with
	// the real surrounding terminal's colors, detected by the caller (e.g.
	// cmd/pish via github.com/muesli/termenv) before Start is called.
	OSCForeground string
	OSCBackground string

	// HandsFree selects ModeHandsFree over the default ModeInteractive.
	HandsFree bool

	// RequiresOverlay marks an interactive start that will attach a
	// terminal overlay, subject to the single-overlay mutual exclusion in
	// spec.md §4.3. Hands-free starts and interactive starts driven purely
	// through the façade (no overlay) leave this false.
	RequiresOverlay bool

	TimeoutMs       int
	HandoffPreview  bool
	HandoffSnapshot bool

	// OnUpdate, if set, receives every hands-free/exit notification the
	// controller emits, in addition to Start's own return value.
	OnUpdate func(controller.Update)
}

// StartResponse is the result of a start call. Result is non-nil only once
// the session has finished (always true for Status=="exited"; never true
// for Status=="running").
type StartResponse struct {
	SessionID string
	Status    string
	Result    *controller.Result
}

// InputSpec mirrors the input fields of spec.md §4.4/§6's combined query
// message, reused by SendInput.
type InputSpec struct {
	Text  string
	Keys  []string
	Hex   []string
	Paste string
}

// QueryRequest mirrors spec.md §4.4/§6's combined query message: settings
// applied first, then input, then (unless Kill) a status/output read.
type QueryRequest struct {
	SessionID string

	OutputLines    int
	OutputMaxChars int
	OutputOffset   int
	Incremental    bool
	Drain          bool

	InputText  string
	InputKeys  []string
	InputHex   []string
	InputPaste string

	SettingsUpdateIntervalMs *int
	SettingsQuietThresholdMs *int

	Kill bool
}

// QueryResponse mirrors spec.md §6's query response.
type QueryResponse struct {
	SessionID string
	Status    string
	Output    []string
	HasMore   bool

	RateLimited bool
	WaitSeconds int

	Result *controller.Result
}
