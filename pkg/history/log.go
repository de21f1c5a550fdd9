package history

import "sync"

// DefaultMaxEntries bounds the log when no limit is configured.
const DefaultMaxEntries = 50

// Log is a bounded linear history with a cursor.
//
// cursor indexes the last applied entry; -1 means nothing to undo. Entries
// after the cursor form the redo branch. Thread-safe.
type Log struct {
	mu      sync.Mutex
	entries []Action
	cursor  int
	max     int
}

// NewLog creates an empty log holding at most max entries. max <= 0 uses
// DefaultMaxEntries.
func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Log{cursor: -1, max: max}
}

// Push records an applied action. The redo branch is discarded and, when the
// log is full, the oldest entry is dropped.
func (l *Log) Push(a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries[:l.cursor+1], a.Clone())
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]Action(nil), l.entries[over:]...)
	}
	l.cursor = len(l.entries) - 1
	return nil
}

// Undo applies the inverse of the entry at the cursor and moves the cursor
// back. Returns false when there is nothing to undo.
func (l *Log) Undo(t Target) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor < 0 {
		return false
	}
	if err := Undo(t, l.entries[l.cursor]); err != nil {
		return false
	}
	l.cursor--
	return true
}

// Redo re-applies the entry after the cursor and advances it. Returns false
// when the redo branch is empty.
func (l *Log) Redo(t Target) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor+1 >= len(l.entries) {
		return false
	}
	if err := Redo(t, l.entries[l.cursor+1]); err != nil {
		return false
	}
	l.cursor++
	return true
}

// CanUndo reports whether Undo would do anything.
func (l *Log) CanUndo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor >= 0
}

// CanRedo reports whether Redo would do anything.
func (l *Log) CanRedo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor+1 < len(l.entries)
}

// Past returns copies of the applied entries, oldest first.
func (l *Log) Past() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneActions(l.entries[:l.cursor+1])
}

// Future returns copies of the redo branch, next first.
func (l *Log) Future() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneActions(l.entries[l.cursor+1:])
}

// Cursor returns the index of the last applied entry.
func (l *Log) Cursor() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Len returns the number of entries, including the redo branch.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops every entry. Used after a bulk graph load.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.cursor = -1
}

func cloneActions(src []Action) []Action {
	out := make([]Action, len(src))
	for i, a := range src {
		out[i] = a.Clone()
	}
	return out
}
