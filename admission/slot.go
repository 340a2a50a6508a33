package admission

import "sync"

// Slot is a granted admission slot. Release must run on every terminal
// path of the query's lifetime (completion, cancellation, failure); a
// leaked slot permanently reduces capacity until process restart. Handlers
// defer Release right after a grant so that guarantee holds on all exit
// paths, and Release is idempotent so an early explicit release is safe.
type Slot struct {
	once    sync.Once
	release func()
}

func newSlot(release func()) *Slot {
	return &Slot{release: release}
}

func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}
