package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/server/framesource"
)

// ErrSinkQueueFull is returned by AsyncSink when its consumer is not keeping up
var ErrSinkQueueFull = errors.New("Sink queue is full")

// ErrSinkClosed is returned by AsyncSink after Close
var ErrSinkClosed = errors.New("Sink is closed")

type asyncItem struct {
	frame *framesource.Frame
	ev    *ViolationEvent
}

// AsyncSink moves a slow sink off the frame loop.
// Events are queued, and delivered in order on a dedicated goroutine.
// If the queue is nearly full, events are dropped instead of stalling the frame loop.
type AsyncSink struct {
	Log    logs.Log
	name   string
	sink   EventSink
	queue  chan asyncItem
	closed chan bool // Closed when the delivery goroutine exits

	lock     sync.Mutex // Guards isClosed, and sends on queue
	isClosed bool
}

func NewAsyncSink(logger logs.Log, name string, sink EventSink, queueSize int) *AsyncSink {
	queueSize = max(queueSize, 10)
	a := &AsyncSink{
		Log:    logger,
		name:   name,
		sink:   sink,
		queue:  make(chan asyncItem, queueSize),
		closed: make(chan bool),
	}
	go a.deliver()
	return a
}

func (a *AsyncSink) OnViolation(frame *framesource.Frame, ev *ViolationEvent) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.isClosed {
		return ErrSinkClosed
	}
	if len(a.queue) >= cap(a.queue)*9/10 {
		return ErrSinkQueueFull
	}
	a.queue <- asyncItem{frame: frame, ev: ev}
	return nil
}

// Close waits for queued events to be delivered.
// Events that arrive after Close are rejected with ErrSinkClosed.
func (a *AsyncSink) Close() {
	a.lock.Lock()
	if !a.isClosed {
		a.isClosed = true
		close(a.queue)
	}
	a.lock.Unlock()
	<-a.closed
}

func (a *AsyncSink) deliver() {
	lastErrAt := time.Time{}
	for item := range a.queue {
		if err := a.sink.OnViolation(item.frame, item.ev); err != nil {
			sinkFailures.WithLabelValues(a.name).Inc()
			if time.Since(lastErrAt) > errorLogInterval {
				a.Log.Errorf("Async sink %v failed: %v", a.name, err)
				lastErrAt = time.Now()
			}
		}
	}
	close(a.closed)
}
