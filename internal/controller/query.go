package controller

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/nicobailon/pi-interactive-shell/internal/keyenc"
)

// ErrIncrementalAndDrainExclusive is returned when a query requests both
// incremental and drain reads, which spec.md §9 forbids combining.
var ErrIncrementalAndDrainExclusive = errors.New("controller: incremental and drain options are mutually exclusive")

const (
	defaultOutputLines    = 20
	maxOutputLines        = 200
	defaultOutputMaxChars = 5 * 1024
	maxOutputMaxChars     = 50 * 1024
)

// QueryOptions mirrors the driver API's single combined query message:
// settings are applied, then input is written, then (unless kill takes
// precedence) status/output is read.
type QueryOptions struct {
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

	// SkipRateLimit bypasses the minimum query interval. Used internally by
	// QueryWithWait's post-wait retry and whenever the controller has
	// already reached Exited.
	SkipRateLimit bool
}

func (o QueryOptions) hasInput() bool {
	return o.InputText != "" || len(o.InputKeys) > 0 || len(o.InputHex) > 0 || o.InputPaste != ""
}

func (o QueryOptions) hasSettings() bool {
	return o.SettingsUpdateIntervalMs != nil || o.SettingsQuietThresholdMs != nil
}

func (o QueryOptions) hasRead() bool {
	return o.OutputLines != 0 || o.OutputMaxChars != 0 || o.OutputOffset != 0 || o.Incremental || o.Drain
}

// QueryResult is the driver-facing response to one query call.
type QueryResult struct {
	SessionID string
	Status    string
	Output    []string
	HasMore   bool

	RateLimited bool
	WaitSeconds int

	Result *Result
	Err    error
}

// Query applies settings, then input, then (unless kill takes precedence)
// returns status and output, honoring the rate limit. It never suspends;
// the caller (or QueryWithWait) is responsible for the retry-after-wait
// behavior spec.md §4.2/§5 describe as the façade's responsibility.
func (c *Controller) Query(opts QueryOptions) QueryResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.Incremental && opts.Drain {
		return QueryResult{SessionID: c.id, Err: ErrIncrementalAndDrainExclusive}
	}

	if opts.SettingsUpdateIntervalMs != nil {
		c.cfg.HandsFreeUpdateIntervalMs = *opts.SettingsUpdateIntervalMs
	}
	if opts.SettingsQuietThresholdMs != nil {
		c.cfg.QuietThresholdMs = *opts.SettingsQuietThresholdMs
	}

	if opts.hasInput() {
		c.writeInputLocked(opts)
	}

	if opts.Kill {
		if !c.finished {
			c.finishLocked(HandoffKill, true, false, false)
		}
		return QueryResult{SessionID: c.id, Status: string(c.state), Result: c.result}
	}

	settingsOnly := opts.hasSettings() && !opts.hasInput() && !opts.hasRead()
	if settingsOnly {
		return QueryResult{SessionID: c.id, Status: string(c.state)}
	}

	if c.finished {
		return QueryResult{SessionID: c.id, Status: string(c.state), Result: c.result}
	}

	if !opts.SkipRateLimit && !c.lastQueryTime.IsZero() {
		minInterval := time.Duration(c.cfg.MinQueryIntervalSeconds) * time.Second
		elapsed := time.Since(c.lastQueryTime)
		if elapsed < minInterval {
			wait := minInterval - elapsed
			waitSeconds := int(math.Ceil(wait.Seconds()))
			if c.log != nil {
				c.log.RateLimited(waitSeconds)
			}
			return QueryResult{SessionID: c.id, RateLimited: true, WaitSeconds: waitSeconds}
		}
	}
	c.lastQueryTime = time.Now()

	lines, hasMore := c.readOutputLocked(opts)
	return QueryResult{SessionID: c.id, Status: string(c.state), Output: lines, HasMore: hasMore}
}

// QueryWithWait implements the canonical "rate-limit wait that races
// completion" cancellation pattern of spec.md §5/§9: on a rate-limited
// result it sleeps up to WaitSeconds, but a session completion observed
// during the wait resolves immediately with the final Result instead.
func (c *Controller) QueryWithWait(ctx context.Context, opts QueryOptions) QueryResult {
	res := c.Query(opts)
	if !res.RateLimited {
		return res
	}

	doneCh := make(chan Result, 1)
	c.OnComplete(func(r Result) {
		select {
		case doneCh <- r:
		default:
		}
	})

	timer := time.NewTimer(time.Duration(res.WaitSeconds) * time.Second)
	defer timer.Stop()

	select {
	case r := <-doneCh:
		return QueryResult{SessionID: c.id, Status: string(StateExited), Result: &r}
	case <-timer.C:
		// Settings and input were already applied by the first Query call;
		// the retry only reads status and output.
		opts.SettingsUpdateIntervalMs, opts.SettingsQuietThresholdMs = nil, nil
		opts.InputText, opts.InputKeys, opts.InputHex, opts.InputPaste = "", nil, nil, ""
		opts.SkipRateLimit = true
		return c.Query(opts)
	case <-ctx.Done():
		return QueryResult{SessionID: c.id, Err: ctx.Err()}
	}
}

func (c *Controller) writeInputLocked(opts QueryOptions) {
	encoded, err := keyenc.Encode(keyenc.Input{
		Text:  opts.InputText,
		Keys:  opts.InputKeys,
		Hex:   opts.InputHex,
		Paste: opts.InputPaste,
	})
	if err != nil || len(encoded) == 0 {
		return
	}
	c.session.Write(encoded)
}

func (c *Controller) readOutputLocked(opts QueryOptions) ([]string, bool) {
	lines := opts.OutputLines
	if lines <= 0 {
		lines = defaultOutputLines
	}
	if lines > maxOutputLines {
		lines = maxOutputLines
	}
	maxChars := opts.OutputMaxChars
	if maxChars <= 0 {
		maxChars = defaultOutputMaxChars
	}
	if maxChars > maxOutputMaxChars {
		maxChars = maxOutputMaxChars
	}

	switch {
	case opts.Drain:
		data := c.session.ReadSince(c.drainCursor, true)
		return splitLines(data), false
	case opts.Incremental:
		got, total := c.session.GetLines(c.incrementalOff, lines, maxChars, false)
		c.incrementalOff += len(got)
		return got, c.incrementalOff < total
	case opts.OutputOffset > 0:
		got, total := c.session.GetLines(opts.OutputOffset, lines, maxChars, false)
		return got, opts.OutputOffset+len(got) < total
	default:
		return c.session.GetTailLines(lines, false, maxChars), false
	}
}
