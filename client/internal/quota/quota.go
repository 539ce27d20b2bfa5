// Package quota tracks the client's local view of the per-session style
// permits. Each style starts with one permit; spending is monotonic and a
// permit never comes back for the lifetime of the session.
package quota

import (
	"sync"

	"github.com/postforge-ai/postforge/pkg/api"
)

// StyleQuota is the local permit ledger for one session.
type StyleQuota struct {
	mu    sync.RWMutex
	flags map[api.StyleID]int // 1 = unused, 0 = spent
}

// NewFull returns a quota with every catalog style unused.
func NewFull() *StyleQuota {
	flags := make(map[api.StyleID]int, len(api.Styles))
	for _, s := range api.Styles {
		flags[s] = 1
	}
	return &StyleQuota{flags: flags}
}

// FromSnapshot builds a quota from the hub's available_styles map. Styles the
// hub omits are treated as spent.
func FromSnapshot(snapshot map[api.StyleID]int) *StyleQuota {
	flags := make(map[api.StyleID]int, len(api.Styles))
	for _, s := range api.Styles {
		if snapshot[s] == 1 {
			flags[s] = 1
		} else {
			flags[s] = 0
		}
	}
	return &StyleQuota{flags: flags}
}

// Available reports whether the style still has its permit.
func (q *StyleQuota) Available(style api.StyleID) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.flags[style] == 1
}

// MarkUsed spends the style's permit. Spending an already-spent or unknown
// style is a no-op; the flag never returns to unused.
func (q *StyleQuota) MarkUsed(style api.StyleID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.flags[style]; ok {
		q.flags[style] = 0
	}
}

// Merge folds a fresh hub snapshot into the local ledger. The merge only ever
// spends permits: a style is unused afterwards only if both sides agree, so a
// stale snapshot can never resurrect a locally spent permit.
func (q *StyleQuota) Merge(snapshot map[api.StyleID]int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for s, v := range q.flags {
		if v == 1 && snapshot[s] != 1 {
			q.flags[s] = 0
		}
	}
}

// Remaining returns the number of unused permits.
func (q *StyleQuota) Remaining() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, v := range q.flags {
		n += v
	}
	return n
}

// Exhausted reports whether every permit is spent.
func (q *StyleQuota) Exhausted() bool {
	return q.Remaining() == 0
}

// Flags returns a copy of the ledger in wire form.
func (q *StyleQuota) Flags() map[api.StyleID]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[api.StyleID]int, len(q.flags))
	for s, v := range q.flags {
		out[s] = v
	}
	return out
}
