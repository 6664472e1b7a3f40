package relaxtick

// Tick is a word-sized counter whose operations, Inc included, are
// individually atomic; callers rely on no ordering between goroutines beyond
// that. A Load followed by a Store is not atomic as a pair, so a tick updated
// that way by two racing goroutines can end up holding the older value.
// Callers that depend on the relation between several ticks must repair
// inconsistencies themselves while holding an exclusive lock; the LRU victim
// scan does exactly that.

import "go.uber.org/atomic"

type Tick struct {
	v atomic.Uint64
}

func (t *Tick) Load() uint64 {
	return t.v.Load()
}

func (t *Tick) Store(v uint64) {
	t.v.Store(v)
}

// Inc advances the tick by one and returns the new value.
func (t *Tick) Inc() uint64 {
	return t.v.Add(1)
}
