package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const flushInterval = 250 * time.Millisecond

// sink is one buffered output. A sink that fails is skipped from then on
// so the remaining outputs keep receiving lines.
type sink struct {
	buf *bufio.Writer
	err error
}

// asyncWriter fans log lines out to its sinks from a single goroutine and
// flushes them on a short interval.
type asyncWriter struct {
	queue    chan []byte
	flushReq chan chan error
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	sinks []*sink

	failed atomic.Bool
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	aw := &asyncWriter{
		queue:    make(chan []byte, 256),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
	}
	for _, w := range writers {
		if w != nil {
			aw.sinks = append(aw.sinks, &sink{buf: bufio.NewWriterSize(w, bufSize)})
		}
	}
	go aw.loop()
	return aw
}

func (w *asyncWriter) loop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-w.queue:
			if !ok {
				_ = w.flushAll()
				close(w.done)
				return
			}
			w.writeAll(data)
		case <-ticker.C:
			_ = w.flushAll()
		case ack := <-w.flushReq:
			for len(w.queue) > 0 {
				w.writeAll(<-w.queue)
			}
			ack <- w.flushAll()
		}
	}
}

// Write copies p and queues it. It blocks when the queue is full rather
// than dropping lines, and fails only once every sink has failed.
func (w *asyncWriter) Write(p []byte) error {
	if w.failed.Load() {
		return errAllSinksFailed
	}
	if len(p) == 0 {
		return nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	w.queue <- data
	return nil
}

var errAllSinksFailed = errors.New("logger: all outputs failed")

// Flush waits until everything queued so far has reached the sinks.
func (w *asyncWriter) Flush() error {
	select {
	case <-w.done:
		return w.sinkErrors()
	default:
	}
	ack := make(chan error, 1)
	w.flushReq <- ack
	return <-ack
}

// Close drains the queue and returns the sink errors seen, if any.
func (w *asyncWriter) Close() error {
	w.once.Do(func() { close(w.queue) })
	<-w.done
	return w.sinkErrors()
}

func (w *asyncWriter) writeAll(p []byte) {
	if len(p) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	live := 0
	for _, s := range w.sinks {
		if s.err != nil {
			continue
		}
		if _, err := s.buf.Write(p); err != nil {
			s.err = err
			continue
		}
		live++
	}
	if live == 0 && len(w.sinks) > 0 {
		w.failed.Store(true)
	}
}

func (w *asyncWriter) flushAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, s := range w.sinks {
		if s.err != nil {
			errs = append(errs, s.err)
			continue
		}
		if err := s.buf.Flush(); err != nil {
			s.err = err
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) sinkErrors() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, s := range w.sinks {
		if s.err != nil {
			errs = append(errs, s.err)
		}
	}
	return errors.Join(errs...)
}
