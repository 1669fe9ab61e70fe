package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
)

// frame is one outbound message queued for the writer.
type frame struct {
	messageType int
	data        []byte
}

// connWriter is the serialized output actor for one connection. The
// underlying transport does not tolerate concurrent writers, so every
// outbound frame (heartbeat pings included) goes through this single
// goroutine, which makes the single-writer invariant structural rather than
// conventional.
type connWriter struct {
	conn         Conn
	out          chan frame
	quit         chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	failed       atomic.Bool
	writeTimeout time.Duration
	logger       *logging.Logger
}

func newConnWriter(conn Conn, buffer int, writeTimeout time.Duration, logger *logging.Logger) *connWriter {
	w := &connWriter{
		conn:         conn,
		out:          make(chan frame, buffer),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
	go w.run()
	return w
}

func (w *connWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case f := <-w.out:
			w.write(f)
		}
	}
}

func (w *connWriter) write(f frame) {
	// After the first transport failure the writer keeps draining so
	// enqueuers (surviving executions on a dead connection) never block.
	if w.failed.Load() {
		return
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		w.fail(err)
		return
	}
	if err := w.conn.WriteMessage(f.messageType, f.data); err != nil {
		w.fail(err)
	}
}

func (w *connWriter) fail(err error) {
	if w.failed.CompareAndSwap(false, true) {
		w.logger.Debug("connection write failed, discarding further frames", "error", err)
	}
}

// enqueue queues a frame for writing. It blocks when the queue is full
// (frames for a live client are never dropped) but never outlives the writer.
func (w *connWriter) enqueue(messageType int, data []byte) {
	select {
	case w.out <- frame{messageType: messageType, data: data}:
	case <-w.quit:
	}
}

// enqueueText queues a text frame.
func (w *connWriter) enqueueText(data []byte) {
	w.enqueue(websocket.TextMessage, data)
}

// enqueuePing queues a heartbeat probe.
func (w *connWriter) enqueuePing() {
	w.enqueue(websocket.PingMessage, nil)
}

// stop terminates the writer and waits for it to exit. Pending frames that
// were not yet written are discarded.
func (w *connWriter) stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
}
