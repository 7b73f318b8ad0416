package timer

import (
	"github.com/zeusync/worldcore/internal/core/observability/log"
	"github.com/zeusync/worldcore/pkg/sequence"
)

// Event runs once when its time comes.
type Event interface {
	Execute(now uint64)
}

// Aborter is implemented by events that need to clean up when they are
// cancelled before running.
type Aborter interface {
	Abort(now uint64)
}

type EventFunc func(now uint64)

func (f EventFunc) Execute(now uint64) { f(now) }

type scheduled struct {
	event    Event
	interval uint64
	aborted  bool
}

// Handle cancels a scheduled event.
type Handle struct {
	s    *Scheduler
	item *sequence.Item[*scheduled]
}

// Abort cancels the event. An event that already ran is not affected, a
// repeating one stops.
func (h Handle) Abort() {
	if h.item == nil {
		return
	}
	h.item.Value.aborted = true
}

// Scheduled reports whether the event is still queued.
func (h Handle) Scheduled() bool {
	return h.item != nil && !h.item.Value.aborted && h.s.queued(h.item)
}

// Scheduler runs events at world-clock times. It is driven by Update from
// the simulation goroutine and is not safe for concurrent use.
type Scheduler struct {
	now   uint64
	queue *sequence.DueQueue[*scheduled]
	log   log.Log
}

func NewScheduler(logger log.Log) *Scheduler {
	return &Scheduler{
		queue: sequence.NewDueQueue[*scheduled](),
		log:   logger.With(log.String("component", "scheduler")),
	}
}

func (s *Scheduler) Now() uint64 {
	return s.now
}

func (s *Scheduler) Len() int {
	return s.queue.Len()
}

// AddEvent runs ev delay milliseconds from now. Events due at the same
// time run in the order they were added.
func (s *Scheduler) AddEvent(ev Event, delay uint64) Handle {
	item := s.queue.Push(&scheduled{event: ev}, s.now+delay)
	return Handle{s: s, item: item}
}

// AddPeriodic runs ev every interval milliseconds until aborted.
func (s *Scheduler) AddPeriodic(ev Event, interval uint64) Handle {
	if interval == 0 {
		interval = 1
	}
	item := s.queue.Push(&scheduled{event: ev, interval: interval}, s.now+interval)
	return Handle{s: s, item: item}
}

func (s *Scheduler) queued(item *sequence.Item[*scheduled]) bool {
	return s.queue.Contains(item)
}

// Update advances the clock by diff and runs every due event. Events added
// while running are eligible in the same call if already due; a periodic
// event behind by several intervals runs once per missed interval.
func (s *Scheduler) Update(diff uint64) int {
	s.now += diff
	ran := 0
	for {
		head, ok := s.queue.Peek()
		if !ok || head.Due > s.now {
			return ran
		}
		ev := head.Value
		if ev.aborted {
			s.queue.Remove(head)
			if a, ok := ev.event.(Aborter); ok {
				a.Abort(s.now)
			}
			continue
		}
		if ev.interval > 0 {
			s.queue.Reschedule(head, head.Due+ev.interval)
		} else {
			s.queue.Remove(head)
		}
		s.run(ev)
		ran++
	}
}

func (s *Scheduler) run(ev *scheduled) {
	defer func() {
		if r := recover(); r != nil {
			ev.aborted = true
			s.log.Error("scheduled event panicked", log.Any("panic", r), log.Uint64("now", s.now))
		}
	}()
	ev.event.Execute(s.now)
}

// KillAll drops every queued event. Events implementing Aborter are told.
func (s *Scheduler) KillAll() {
	for !s.queue.IsEmpty() {
		ev, _ := s.queue.Pop()
		if a, ok := ev.event.(Aborter); ok {
			a.Abort(s.now)
		}
	}
}
