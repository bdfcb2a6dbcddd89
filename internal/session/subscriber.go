package session

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"teamcards/internal/domain"
)

// maxQueuedViews bounds the views held for one slow observer. Beyond it the
// oldest queued views are dropped; the latest view is always kept.
const maxQueuedViews = 64

// subscriber delivers views to one observer in publication order.
// push never blocks the publisher; the queue is drained on a dedicated goroutine.
type subscriber struct {
	fn     func(domain.View)
	logger *slog.Logger

	mu      sync.Mutex
	queue   []domain.View
	lagging bool
	stopped bool
	drain   bool

	wake chan struct{}
	done chan struct{}
}

func newSubscriber(fn func(domain.View), logger *slog.Logger) *subscriber {
	s := &subscriber{
		fn:     fn,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) push(v domain.View) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= maxQueuedViews {
		if !s.lagging {
			s.lagging = true
			s.logger.Warn("view observer lagging; dropping oldest queued views",
				"queued", len(s.queue), "version", v.Version)
		}
		s.queue = append(s.queue[:0], s.queue[1:]...)
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.signal()
}

// stop ends delivery. With drain set, views already queued are still delivered.
func (s *subscriber) stop(drain bool) {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.drain = drain
	}
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.lagging = false
		stopped, drain := s.stopped, s.drain
		s.mu.Unlock()

		if stopped && !drain {
			return
		}
		for _, v := range batch {
			s.deliver(v)
		}
		if stopped {
			return
		}
		if len(batch) == 0 {
			<-s.wake
		}
	}
}

func (s *subscriber) deliver(v domain.View) {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Error("view observer panicked",
				"error", err,
				"version", v.Version,
				"stack", string(debug.Stack()),
			)
		}
	}()
	s.fn(v)
}
