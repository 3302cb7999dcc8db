package registry

import "fmt"

// AttachResult is the outcome of resolving an attach command per spec.md
// §6: either a plain-text message to show the user (empty list, or a miss),
// or a resolved target to reattach to.
type AttachResult struct {
	Message string
	Target  *BackgroundSession
	// Choices is set only when id was empty and the background list is
	// non-empty: the caller (an interactive selector, out of scope here per
	// spec.md §1's TUI rendering collaborator) presents these and calls
	// Attach again with the chosen id.
	Choices []*BackgroundSession
}

// Attach resolves the "attach" command named in spec.md §6: no id selects
// from the background list (or reports "No background sessions" if it's
// empty); a given id reattaches directly (or reports "Session not found:
// <id>" on a miss). A successful direct attach cancels the session's
// pending cleanup timer via GetBackground, matching spec.md §9 Design
// Notes (d): a reattach inside the cleanup window observes the
// already-exited PtySession without a race against disposal.
func (r *Registry) Attach(id string) AttachResult {
	if id == "" {
		choices := r.ListBackground()
		if len(choices) == 0 {
			return AttachResult{Message: "No background sessions"}
		}
		return AttachResult{Choices: choices}
	}
	bg, ok := r.GetBackground(id)
	if !ok {
		return AttachResult{Message: fmt.Sprintf("Session not found: %s", id)}
	}
	return AttachResult{Target: bg}
}
