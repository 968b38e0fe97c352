package host

import (
	"sync"
	"time"
)

// Clock supplies the current time to the timer wheel.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock that only moves when advanced. It drives every
// deferred message deterministically in tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// timerWheel holds deferred items in tick-sized buckets. Items added with a
// timeout become available from purge once advance has passed their bucket.
// It is not safe for concurrent use; the host guards it with its lock.
type timerWheel[T any] struct {
	current  int
	wheelLen int
	lastTick time.Time
	started  bool

	tickDuration  time.Duration
	wheelDuration time.Duration

	wheel   []timeoutList[T]
	expired timeoutList[T]
	count   int

	// Item cache to avoid garbage
	itemCache *timeoutItem[T]
}

type timeoutList[T any] struct {
	head *timeoutItem[T]
	tail *timeoutItem[T]
}

type timeoutItem[T any] struct {
	item T
	next *timeoutItem[T]
}

func (l *timeoutList[T]) push(ti *timeoutItem[T]) {
	if l.tail == nil {
		l.head = ti
	} else {
		l.tail.next = ti
	}
	l.tail = ti
}

// appendList moves every item of o to the tail of l, keeping order.
func (l *timeoutList[T]) appendList(o *timeoutList[T]) {
	if o.head == nil {
		return
	}
	if l.tail == nil {
		l.head = o.head
	} else {
		l.tail.next = o.head
	}
	l.tail = o.tail
	o.head, o.tail = nil, nil
}

func newTimerWheel[T any](min, max time.Duration) *timerWheel[T] {
	// Enough buckets to hold a max timeout added at the last tick position.
	wLen := int((max / min) + 2)
	return &timerWheel[T]{
		wheelLen:      wLen,
		wheel:         make([]timeoutList[T], wLen),
		tickDuration:  min,
		wheelDuration: max,
	}
}

// add schedules v to expire after timeout and returns the bucket holding
// it. Callers advance the wheel first so the proper bucket is used.
func (tw *timerWheel[T]) add(v T, timeout time.Duration) int {
	ti := tw.itemCache
	if ti != nil {
		tw.itemCache = ti.next
		ti.next = nil
	} else {
		ti = &timeoutItem[T]{}
	}
	ti.item = v
	b := tw.findWheel(timeout)
	tw.wheel[b].push(ti)
	tw.count++
	return b
}

// remove drops the first item matching fn from bucket or from the expired
// list and reports whether one was found.
func (tw *timerWheel[T]) remove(bucket int, fn func(T) bool) bool {
	if bucket >= 0 && bucket < tw.wheelLen && tw.wheel[bucket].remove(fn, tw) {
		return true
	}
	return tw.expired.remove(fn, tw)
}

func (l *timeoutList[T]) remove(fn func(T) bool, tw *timerWheel[T]) bool {
	var prev *timeoutItem[T]
	for ti := l.head; ti != nil; prev, ti = ti, ti.next {
		if !fn(ti.item) {
			continue
		}
		if prev == nil {
			l.head = ti.next
		} else {
			prev.next = ti.next
		}
		if l.tail == ti {
			l.tail = prev
		}
		var zero T
		ti.item = zero
		ti.next = tw.itemCache
		tw.itemCache = ti
		tw.count--
		return true
	}
	return false
}

// purge removes and returns the oldest expired item.
func (tw *timerWheel[T]) purge() (T, bool) {
	ti := tw.expired.head
	if ti == nil {
		var na T
		return na, false
	}
	tw.expired.head = ti.next
	if tw.expired.head == nil {
		tw.expired.tail = nil
	}

	v := ti.item
	var zero T
	ti.item = zero
	ti.next = tw.itemCache
	tw.itemCache = ti
	tw.count--
	return v, true
}

// len returns the number of items not yet purged.
func (tw *timerWheel[T]) len() int {
	return tw.count
}

func (tw *timerWheel[T]) findWheel(timeout time.Duration) int {
	if timeout < tw.tickDuration {
		timeout = tw.tickDuration
	} else if timeout > tw.wheelDuration {
		timeout = tw.wheelDuration
	}

	// Round up, plus one tick since the current tick may almost be over.
	tick := int(((timeout - 1) / tw.tickDuration) + 1)
	tick += tw.current + 1
	if tick >= tw.wheelLen {
		tick -= tw.wheelLen
	}
	return tick
}

// advance moves the wheel forward to now, collecting every bucket passed
// over into the expired list.
func (tw *timerWheel[T]) advance(now time.Time) {
	if !tw.started {
		tw.lastTick = now
		tw.started = true
		return
	}

	ticks := int(now.Sub(tw.lastTick) / tw.tickDuration)
	if ticks <= 0 {
		return
	}
	tw.lastTick = tw.lastTick.Add(time.Duration(ticks) * tw.tickDuration)
	if ticks > tw.wheelLen {
		ticks = tw.wheelLen
	}

	for i := 0; i < ticks; i++ {
		tw.current++
		if tw.current >= tw.wheelLen {
			tw.current = 0
		}
		tw.expired.appendList(&tw.wheel[tw.current])
	}
}

// drain removes every item, expired or pending, and passes it to fn.
func (tw *timerWheel[T]) drain(fn func(T)) {
	for i := range tw.wheel {
		tw.expired.appendList(&tw.wheel[i])
	}
	for {
		v, ok := tw.purge()
		if !ok {
			return
		}
		fn(v)
	}
}
