// Package sessionid generates and pools human-readable session identifiers.
// The word lists and adjective-noun shape are adapted from the sibling h2
// daemon's name generator; the collision/suffix/fallback rules are new,
// required by spec.md's SessionId data model.
package sessionid

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
)

var adjectives = []string{
	"amber", "azure", "bold", "brave", "bright",
	"calm", "clear", "cool", "coral", "crisp",
	"dawn", "deep", "deft", "dry", "dusk",
	"fair", "fast", "firm", "fond", "free",
	"glad", "gold", "good", "gray", "green",
	"hale", "high", "keen", "kind", "lark",
	"lean", "lime", "live", "long", "loud",
	"mild", "mint", "neat", "next", "nice",
	"odd", "opal", "open", "pale", "peak",
	"pine", "pure", "quick", "rare", "red",
	"rich", "ripe", "rose", "ruby", "sage",
	"salt", "slim", "soft", "sure", "tall",
	"teal", "tidy", "trim", "true", "warm",
	"west", "wide", "wild", "wise", "zinc",
}

var nouns = []string{
	"arch", "barn", "bay", "bell", "birch",
	"bloom", "boat", "bolt", "bone", "book",
	"brook", "cape", "cave", "clay", "cliff",
	"cloud", "coin", "cove", "crow", "dale",
	"deer", "dove", "drum", "dune", "elm",
	"fern", "finch", "fish", "flint", "fog",
	"ford", "fox", "frost", "gate", "gem",
	"glen", "glow", "grove", "gull", "hare",
	"hawk", "heath", "heron", "hill", "hive",
	"isle", "jade", "jay", "keel", "knoll",
	"lake", "lark", "leaf", "loch", "lynx",
	"maple", "marsh", "mill", "mist", "moon",
	"moss", "moth", "oak", "owl", "path",
	"peak", "pine", "plum", "pond", "quail",
	"rain", "reed", "reef", "ridge", "river",
	"rock", "root", "sand", "seal", "shore",
	"snow", "spark", "star", "stone", "storm",
	"swift", "thorn", "tide", "trail", "vale",
	"vine", "wren", "wolf", "wood", "yarn",
}

const maxSlugAttempts = 20

// Pool tracks every SessionId currently in use so Generate never returns a
// collision. It is the registry-owned set referenced by spec.md §5: only
// the registry mutates it, via Generate, Reserve and Release.
type Pool struct {
	mu   sync.Mutex
	used map[string]bool
	now  func() int64
}

// NewPool returns an empty pool. now, if non-nil, supplies the timestamp
// source for the base36 fallback id; tests can override it for determinism.
func NewPool(now func() int64) *Pool {
	if now == nil {
		now = func() int64 { return 0 }
	}
	return &Pool{used: make(map[string]bool), now: now}
}

// Generate draws a fresh "word-word" id, adding a numeric suffix "-N"
// (N=2..9) on collision, and falling back to "shell-<base36-timestamp>"
// after maxSlugAttempts failed draws. The returned id is reserved in the
// pool before being returned.
func (p *Pool) Generate() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		base := adjectives[rand.IntN(len(adjectives))] + "-" + nouns[rand.IntN(len(nouns))]
		if !p.used[base] {
			p.used[base] = true
			return base
		}
		for n := 2; n <= 9; n++ {
			candidate := fmt.Sprintf("%s-%d", base, n)
			if !p.used[candidate] {
				p.used[candidate] = true
				return candidate
			}
		}
	}

	for {
		candidate := "shell-" + strconv.FormatInt(p.now(), 36)
		if !p.used[candidate] {
			p.used[candidate] = true
			return candidate
		}
		// The timestamp source is expected to advance; if it doesn't (e.g.
		// a fixed test clock), perturb with a random suffix to guarantee
		// termination without blocking forever.
		candidate = candidate + "-" + strconv.Itoa(rand.IntN(1_000_000))
		if !p.used[candidate] {
			p.used[candidate] = true
			return candidate
		}
	}
}

// Release returns id to the pool. Per spec.md, this happens only when a
// session fully terminates, never on mere takeover or backgrounding.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, id)
}

// Contains reports whether id is currently reserved.
func (p *Pool) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used[id]
}

// Reserve marks id as in-use without generating it, returning false if it
// was already taken. Used when a caller supplies an explicit background id.
func (p *Pool) Reserve(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used[id] {
		return false
	}
	p.used[id] = true
	return true
}

// isWordWord reports whether id has a non-empty part before and after its
// first dash. It does not exclude a numeric suffix ("word-word-2") or the
// fallback prefix ("shell-..."). Exposed for tests and diagnostics.
func isWordWord(id string) bool {
	parts := strings.SplitN(id, "-", 2)
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
