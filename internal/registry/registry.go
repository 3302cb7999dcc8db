// Package registry implements SessionRegistry: the process-wide directory of
// active controllers, background sessions, and minimized sessions. It owns
// the unique SessionId pool, routes driver requests by id, drives the
// per-session background/minimized exit-cleanup watchers, and implements
// global shutdown. Generalizes the teacher's session.go/daemon.go/attach.go
// trio: the same "reattach a running PTY by id" shape, lifted from a single
// daemon's Unix-socket client registry into an in-process map of N
// independently detachable sessions.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/nicobailon/pi-interactive-shell/internal/activitylog"
	"github.com/nicobailon/pi-interactive-shell/internal/controller"
	"github.com/nicobailon/pi-interactive-shell/internal/ptysession"
	"github.com/nicobailon/pi-interactive-shell/internal/sessionid"
)

// cleanupDelay is the grace period between an observed background/minimized
// exit and disposal of its PtySession, per spec.md §4.3.
const cleanupDelay = 30 * time.Second

// watchPollInterval is the exit-watcher polling cadence, per spec.md §4.3
// ("≈1 s cadence").
const watchPollInterval = time.Second

// BackgroundSession is a detached, still-running PtySession reachable by the
// user through the attach command.
type BackgroundSession struct {
	ID        string
	Name      string
	Command   string
	Reason    string
	Session   *ptysession.Session
	StartedAt time.Time
}

// MinimizedSession is a detached, still-running PtySession hidden until the
// user restores it.
type MinimizedSession struct {
	ID          string
	Name        string
	Command     string
	Reason      string
	Session     *ptysession.Session
	StartedAt   time.Time
	MinimizedAt time.Time
}

// Registry is the process-wide directory described in spec.md §4.3.
type Registry struct {
	mu sync.Mutex

	pool *sessionid.Pool
	log  *activitylog.Logger

	active     map[string]*controller.Controller
	background map[string]*BackgroundSession
	minimized  map[string]*MinimizedSession

	watchTimers   map[string]*time.Timer
	cleanupTimers map[string]*time.Timer

	overlayOpen bool
}

// New returns an empty Registry backed by pool. log may be nil.
func New(pool *sessionid.Pool, log *activitylog.Logger) *Registry {
	if log == nil {
		log = activitylog.Nop()
	}
	return &Registry{
		pool:          pool,
		log:           log,
		active:        make(map[string]*controller.Controller),
		background:    make(map[string]*BackgroundSession),
		minimized:     make(map[string]*MinimizedSession),
		watchTimers:   make(map[string]*time.Timer),
		cleanupTimers: make(map[string]*time.Timer),
	}
}

// GenerateID draws a fresh SessionId from the pool, reserving it.
func (r *Registry) GenerateID() string {
	return r.pool.Generate()
}

// --- active map -------------------------------------------------------

// RegisterActive adds c to the active map under id. Callers construct c with
// OnUnregisterActive wired to r.UnregisterActive so the controller's own
// terminal transitions keep the registry in sync.
func (r *Registry) RegisterActive(id string, c *controller.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = c
}

// UnregisterActive removes id from the active map. The SessionId returns to
// the pool only when release is true: a mere takeover, or a background/
// minimize transfer, keeps it reserved per spec.md's SessionId invariant.
func (r *Registry) UnregisterActive(id string, release bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	if release {
		r.pool.Release(id)
	}
}

// GetActive looks up a live controller by id.
func (r *Registry) GetActive(id string) (*controller.Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[id]
	return c, ok
}

// ListActive returns the ids of every currently active controller, for CLI
// status/listing surfaces.
func (r *Registry) ListActive() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	return out
}

// WriteToActive writes p to the session behind id, if it is active.
func (r *Registry) WriteToActive(id string, p []byte) (n int, err error, ok bool) {
	c, ok := r.GetActive(id)
	if !ok {
		return 0, nil, false
	}
	n, err = c.Write(p)
	return n, err, true
}

// SetActiveUpdateInterval applies a new hands-free update interval to the
// controller behind id, bypassing the query rate limit (an internal settings
// change, not a driver status query).
func (r *Registry) SetActiveUpdateInterval(id string, ms int) bool {
	c, ok := r.GetActive(id)
	if !ok {
		return false
	}
	c.Query(controller.QueryOptions{SettingsUpdateIntervalMs: &ms, SkipRateLimit: true})
	return true
}

// SetActiveQuietThreshold applies a new quiet threshold to the controller
// behind id.
func (r *Registry) SetActiveQuietThreshold(id string, ms int) bool {
	c, ok := r.GetActive(id)
	if !ok {
		return false
	}
	c.Query(controller.QueryOptions{SettingsQuietThresholdMs: &ms, SkipRateLimit: true})
	return true
}

// --- background map -----------------------------------------------------

// AddBackground reserves a fresh id and registers session under it.
func (r *Registry) AddBackground(command string, session *ptysession.Session, name, reason string) string {
	id := r.pool.Generate()
	r.putBackgroundLocked(id, command, session, name, reason)
	return id
}

// AddBackgroundWithID registers session under a caller-supplied id, failing
// if that id is already reserved anywhere in the pool.
func (r *Registry) AddBackgroundWithID(id, command string, session *ptysession.Session, name, reason string) error {
	if !r.pool.Reserve(id) {
		return fmt.Errorf("registry: session id %q already in use", id)
	}
	r.putBackgroundLocked(id, command, session, name, reason)
	return nil
}

// TransferActiveToBackground moves an already-reserved active id (a
// controller mid-detach) into the background map without touching the pool.
func (r *Registry) TransferActiveToBackground(id, command string, session *ptysession.Session, name, reason string) {
	r.putBackgroundLocked(id, command, session, name, reason)
}

func (r *Registry) putBackgroundLocked(id, command string, session *ptysession.Session, name, reason string) {
	r.mu.Lock()
	r.background[id] = &BackgroundSession{
		ID: id, Name: name, Command: command, Reason: reason,
		Session: session, StartedAt: time.Now(),
	}
	r.mu.Unlock()
	r.startExitWatcher(id, session)
}

// RemoveBackground removes and returns a background session by id.
func (r *Registry) RemoveBackground(id string) (*BackgroundSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bg, ok := r.background[id]
	if !ok {
		return nil, false
	}
	delete(r.background, id)
	r.stopTimersLocked(id)
	return bg, true
}

// ListBackground returns every currently backgrounded session.
func (r *Registry) ListBackground() []*BackgroundSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*BackgroundSession, 0, len(r.background))
	for _, bg := range r.background {
		out = append(out, bg)
	}
	return out
}

// GetBackground looks up a background session by id, canceling any pending
// cleanup timer: the caller is about to reattach or otherwise keep it alive.
func (r *Registry) GetBackground(id string) (*BackgroundSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bg, ok := r.background[id]
	if !ok {
		return nil, false
	}
	if t, ok := r.cleanupTimers[id]; ok {
		t.Stop()
		delete(r.cleanupTimers, id)
	}
	return bg, true
}

// --- minimized map -------------------------------------------------------

// Minimize registers session directly into the minimized map under id
// (already reserved), used when a controller detaches straight to minimized.
func (r *Registry) Minimize(id, command string, session *ptysession.Session, name, reason string) {
	r.mu.Lock()
	r.minimized[id] = &MinimizedSession{
		ID: id, Name: name, Command: command, Reason: reason,
		Session: session, StartedAt: time.Now(), MinimizedAt: time.Now(),
	}
	r.mu.Unlock()
	r.startExitWatcher(id, session)
}

// Restore pops a background session out for reattachment, canceling its
// watchers and returning the still-live PtySession to the caller.
func (r *Registry) Restore(id string) (*ptysession.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bg, ok := r.background[id]
	if !ok {
		return nil, false
	}
	delete(r.background, id)
	r.stopTimersLocked(id)
	return bg.Session, true
}

// RemoveMinimized removes and returns a minimized session by id.
func (r *Registry) RemoveMinimized(id string) (*MinimizedSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.minimized[id]
	if !ok {
		return nil, false
	}
	delete(r.minimized, id)
	r.stopTimersLocked(id)
	return m, true
}

// ListMinimized returns every currently minimized session.
func (r *Registry) ListMinimized() []*MinimizedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MinimizedSession, 0, len(r.minimized))
	for _, m := range r.minimized {
		out = append(out, m)
	}
	return out
}

// TransferBackgroundToMinimized moves id from the background map to the
// minimized map, preserving the PtySession without disposing it.
func (r *Registry) TransferBackgroundToMinimized(id string) bool {
	r.mu.Lock()
	bg, ok := r.background[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.background, id)
	r.stopTimersLocked(id)
	r.minimized[id] = &MinimizedSession{
		ID: bg.ID, Name: bg.Name, Command: bg.Command, Reason: bg.Reason,
		Session: bg.Session, StartedAt: bg.StartedAt, MinimizedAt: time.Now(),
	}
	r.mu.Unlock()
	r.startExitWatcher(id, bg.Session)
	return true
}

// --- exit watcher --------------------------------------------------------

// startExitWatcher polls session.ExitInfo at watchPollInterval. On first
// observed exit it clears itself and arms a cleanupDelay timer that disposes
// the session and releases its id, unless a reattach or transfer cancels it
// first (per spec.md §9 Design Notes (d)).
func (r *Registry) startExitWatcher(id string, session *ptysession.Session) {
	var tick func()
	tick = func() {
		if _, exited := session.ExitInfo(); exited {
			r.mu.Lock()
			delete(r.watchTimers, id)
			r.cleanupTimers[id] = time.AfterFunc(cleanupDelay, func() { r.cleanupByID(id) })
			r.mu.Unlock()
			return
		}
		r.mu.Lock()
		if _, stillTracked := r.watchTimers[id]; stillTracked {
			r.watchTimers[id] = time.AfterFunc(watchPollInterval, tick)
		}
		r.mu.Unlock()
	}
	r.mu.Lock()
	r.watchTimers[id] = time.AfterFunc(watchPollInterval, tick)
	r.mu.Unlock()
}

func (r *Registry) cleanupByID(id string) {
	r.mu.Lock()
	bg, hasBg := r.background[id]
	m, hasMin := r.minimized[id]
	delete(r.background, id)
	delete(r.minimized, id)
	delete(r.cleanupTimers, id)
	r.mu.Unlock()

	switch {
	case hasBg:
		bg.Session.Kill()
	case hasMin:
		m.Session.Kill()
	default:
		return
	}
	r.pool.Release(id)
}

// stopTimersLocked cancels any watch/cleanup timer for id. r.mu must be held.
func (r *Registry) stopTimersLocked(id string) {
	if t, ok := r.watchTimers[id]; ok {
		t.Stop()
		delete(r.watchTimers, id)
	}
	if t, ok := r.cleanupTimers[id]; ok {
		t.Stop()
		delete(r.cleanupTimers, id)
	}
}

// --- overlay mutual exclusion --------------------------------------------

// TryOpenOverlay reserves the single overlay slot, returning false if one is
// already rendering (spec.md §4.4/§5: at most one overlay at a time).
func (r *Registry) TryOpenOverlay() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlayOpen {
		return false
	}
	r.overlayOpen = true
	return true
}

// CloseOverlay releases the overlay slot.
func (r *Registry) CloseOverlay() {
	r.mu.Lock()
	r.overlayOpen = false
	r.mu.Unlock()
}

// --- global shutdown ------------------------------------------------------

// KillAll terminates every active controller and disposes every background
// and minimized session, for host-process shutdown. Snapshots each map
// before iterating so unregister callbacks firing mid-loop cannot corrupt
// iteration, per spec.md §4.3.
func (r *Registry) KillAll() {
	r.mu.Lock()
	actives := make([]*controller.Controller, 0, len(r.active))
	for _, c := range r.active {
		actives = append(actives, c)
	}
	backgrounds := make([]*BackgroundSession, 0, len(r.background))
	for _, bg := range r.background {
		backgrounds = append(backgrounds, bg)
	}
	minimizeds := make([]*MinimizedSession, 0, len(r.minimized))
	for _, m := range r.minimized {
		minimizeds = append(minimizeds, m)
	}
	for id := range r.watchTimers {
		r.stopTimersLocked(id)
	}
	r.mu.Unlock()

	for _, c := range actives {
		c.Kill()
	}
	for _, bg := range backgrounds {
		bg.Session.Kill()
		r.pool.Release(bg.ID)
	}
	for _, m := range minimizeds {
		m.Session.Kill()
		r.pool.Release(m.ID)
	}

	r.mu.Lock()
	r.background = make(map[string]*BackgroundSession)
	r.minimized = make(map[string]*MinimizedSession)
	r.mu.Unlock()
}
