package directory

import (
	"sync"

	"github.com/gammazero/deque"
)

// Feed is an unbounded FIFO in front of a channel. Producers never block, so a
// store can publish while holding its own locks; the consumer reads C().
type Feed[T any] struct {
	mu        sync.Mutex
	queue     deque.Deque[T]
	finishing bool

	notify    chan struct{}
	out       chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed starts the feed's delivery goroutine.
func NewFeed[T any]() *Feed[T] {
	f := &Feed[T]{
		notify: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	f.queue.SetBaseCap(8)

	go f.pump()

	return f
}

// C returns the delivery channel. It is closed when the feed ends.
func (f *Feed[T]) C() <-chan T {
	return f.out
}

// Push appends v. It returns false once the feed is closed or finishing.
func (f *Feed[T]) Push(v T) bool {
	f.mu.Lock()
	if f.finishing || f.isClosed() {
		f.mu.Unlock()
		return false
	}
	f.queue.PushBack(v)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
	return true
}

// Finish delivers what is already queued and then closes C.
func (f *Feed[T]) Finish() {
	f.mu.Lock()
	f.finishing = true
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Close drops anything still queued and closes C. It is idempotent.
func (f *Feed[T]) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
}

// Done is closed once Close has been called.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Feed[T]) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Feed[T]) pump() {
	defer close(f.out)

	for {
		f.mu.Lock()
		for f.queue.Len() == 0 {
			if f.finishing {
				f.mu.Unlock()
				return
			}
			f.mu.Unlock()

			select {
			case <-f.notify:
			case <-f.done:
				return
			}

			f.mu.Lock()
		}
		v := f.queue.PopFront()
		f.mu.Unlock()

		select {
		case f.out <- v:
		case <-f.done:
			return
		}
	}
}
