package feed

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/OxyHQ/mention-sync/internal/clock"
)

// Action names an engagement mutation as it appears on the wire and in
// echo-guard marks.
type Action string

const (
	ActionLike     Action = "like"
	ActionUnlike   Action = "unlike"
	ActionRepost   Action = "repost"
	ActionUnrepost Action = "unrepost"
	ActionSave     Action = "save"
	ActionUnsave   Action = "unsave"
	ActionReply    Action = "reply"
)

type markKey struct {
	id     string
	action Action
}

// pruneThreshold bounds how many marks accumulate before MarkLocal
// sweeps out expired ones.
const pruneThreshold = 128

// EchoGuard suppresses push events that merely reflect an action this
// client just performed. Without it the server's re-broadcast of a
// local like would double-apply, or replay a stale count over a
// fresher optimistic state.
type EchoGuard struct {
	window time.Duration
	clk    clock.Clock
	marks  *xsync.MapOf[markKey, time.Time]
	userID atomic.Value
}

// NewEchoGuard creates a guard with the given suppression window.
func NewEchoGuard(window time.Duration, clk clock.Clock) *EchoGuard {
	g := &EchoGuard{
		window: window,
		clk:    clk,
		marks:  xsync.NewMapOf[markKey, time.Time](),
	}
	g.userID.Store("")
	return g
}

// SetUser records the session user whose own actions are echoes.
func (g *EchoGuard) SetUser(userID string) {
	g.userID.Store(userID)
}

// MarkLocal records that the current user performed action on id now.
func (g *EchoGuard) MarkLocal(id string, action Action) {
	if g.marks.Size() >= pruneThreshold {
		g.Prune()
	}
	g.marks.Store(markKey{id: id, action: action}, g.clk.Now())
}

// WasRecent reports whether a local mark for (id, action) is younger
// than the window. A mark aged exactly the window no longer counts.
func (g *EchoGuard) WasRecent(id string, action Action) bool {
	key := markKey{id: id, action: action}
	at, ok := g.marks.Load(key)
	if !ok {
		return false
	}
	if g.clk.Now().Sub(at) >= g.window {
		g.marks.Delete(key)
		return false
	}
	return true
}

// ShouldIgnore reports whether a push event for (id, action) by
// actorID is an echo: either the actor is the session user, or a
// recent local mark exists.
func (g *EchoGuard) ShouldIgnore(id string, action Action, actorID string) bool {
	if self, _ := g.userID.Load().(string); self != "" && actorID == self {
		return true
	}
	return g.WasRecent(id, action)
}

// Prune drops all expired marks.
func (g *EchoGuard) Prune() {
	now := g.clk.Now()
	g.marks.Range(func(key markKey, at time.Time) bool {
		if now.Sub(at) >= g.window {
			g.marks.Delete(key)
		}
		return true
	})
}

// Marks returns the number of live marks, for diagnostics.
func (g *EchoGuard) Marks() int {
	return g.marks.Size()
}
