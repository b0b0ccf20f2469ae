package checkengine

import "time"

// expiredEntry is one Table entry the sweeper decided to act on.
type expiredEntry struct {
	fd          int
	entry       *Entry
	idleTimeout bool // true iff evicted from KeepAlive rather than failed
}

// sweepExpired walks the table once and returns every entry whose
// deadline has passed, without mutating anything — the caller (Engine)
// owns reactor/fd teardown and verdict delivery, sweepExpired only
// decides who qualifies.
//
// A KeepAlive entry past its deadline is an idle-timeout eviction; any
// other state past its deadline is a failure. Comparison is <=, so a
// deadline is never observed before it elapses.
func sweepExpired(t *Table, now time.Time) []expiredEntry {
	var due []expiredEntry
	t.Each(func(fd int, e *Entry) {
		if e.ExpiresAt.After(now) {
			return
		}
		due = append(due, expiredEntry{fd: fd, entry: e, idleTimeout: e.State == StateKeepAlive})
	})
	return due
}
