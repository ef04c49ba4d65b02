package index

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("index: closed")

// flusher serializes index writes on one goroutine. Requests made while a
// flush is pending coalesce into it; each flush writes the state current at
// the time it runs, so an older state can never overwrite a newer one.
type flusher struct {
	fn  func() error
	log *logrus.Entry

	kick    chan struct{}
	syncs   chan chan error
	quit    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newFlusher(fn func() error, log *logrus.Entry) *flusher {
	f := &flusher{
		fn:      fn,
		log:     log,
		kick:    make(chan struct{}, 1),
		syncs:   make(chan chan error),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *flusher) loop() {
	defer close(f.stopped)

	for {
		select {
		case <-f.kick:
			f.run()
		case reply := <-f.syncs:
			reply <- f.run()
		case <-f.quit:
			f.closeErr = f.fn()
			return
		}
	}
}

func (f *flusher) run() error {
	err := f.fn()
	if err != nil {
		f.log.WithError(err).Error("index flush failed")
	}
	return err
}

// request schedules an asynchronous flush.
func (f *flusher) request() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *flusher) closing() bool {
	select {
	case <-f.quit:
		return true
	default:
		return false
	}
}

func (f *flusher) sync() error {
	reply := make(chan error, 1)
	select {
	case f.syncs <- reply:
		return <-reply
	case <-f.stopped:
		return ErrClosed
	}
}

func (f *flusher) close() error {
	f.closeOnce.Do(func() {
		close(f.quit)
		<-f.stopped
	})
	return f.closeErr
}
