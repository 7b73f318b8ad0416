// Package timer drives time-based work from the world tick: interval
// timers for periodic jobs and a scheduler for one-shot and repeating
// events. Time is milliseconds of world clock; nothing here reads the wall
// clock.
package timer

// IntervalTimer accumulates tick deltas and reports when its interval has
// elapsed.
//
//	autosave.Update(diff)
//	if autosave.Passed() {
//		autosave.Reset()
//		saveAll()
//	}
type IntervalTimer struct {
	interval uint64
	current  uint64
}

func NewIntervalTimer(interval uint64) *IntervalTimer {
	return &IntervalTimer{interval: interval}
}

func (t *IntervalTimer) Update(diff uint64) {
	t.current += diff
}

// Passed reports whether the interval elapsed. A zero interval never
// passes.
func (t *IntervalTimer) Passed() bool {
	return t.interval > 0 && t.current >= t.interval
}

// Reset keeps the overshoot so a late tick does not drift the schedule.
func (t *IntervalTimer) Reset() {
	if t.current >= t.interval && t.interval > 0 {
		t.current %= t.interval
	}
}

func (t *IntervalTimer) Interval() uint64 {
	return t.interval
}

func (t *IntervalTimer) SetInterval(interval uint64) {
	t.interval = interval
}

func (t *IntervalTimer) Current() uint64 {
	return t.current
}
