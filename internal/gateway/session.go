// Package gateway owns the persistent duplex connections clients use to
// drive workflow executions. Each connection gets one Session: a read loop
// decoding commands, a heartbeat, a serialized writer, and at most one live
// cancellation handle for the in-flight execution.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/relay"
)

// Conn is the transport surface a session needs. *websocket.Conn satisfies
// it; tests substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Runner is the orchestrator entry point the session drives.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest, sink relay.Sink) (string, error)
}

// runHandle identifies one in-flight execution so a finished run only clears
// its own slot, never a successor's.
type runHandle struct {
	cancel context.CancelFunc
}

// Session is the per-connection state: owning user, writer actor, and the
// single in-flight execution's cancel handle.
type Session struct {
	id     string
	userID string
	conn   Conn
	writer *connWriter
	runner Runner
	agents core.AgentService
	cfg    Config
	logger *logging.Logger

	// mu guards current, the only cross-goroutine handle on this session.
	mu      sync.Mutex
	current *runHandle

	// execWG tracks spawned execution goroutines so the writer is kept
	// alive (in discard mode after disconnect) until they finish.
	execWG sync.WaitGroup
}

// Config holds the per-connection timing and buffering knobs.
type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	OutboundBuffer int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   10 * time.Second,
		OutboundBuffer: 256,
	}
}

// NewSession creates a session for an authenticated user's connection.
func NewSession(conn Conn, userID string, runner Runner, agents core.AgentService, cfg Config, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Session{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		runner: runner,
		agents: agents,
		cfg:    cfg,
	}
	s.logger = logger.WithSession(s.id).WithUser(userID)
	s.writer = newConnWriter(conn, cfg.OutboundBuffer, cfg.WriteTimeout, s.logger)
	return s
}

// Run serves the connection until the client disconnects, the liveness
// deadline lapses, or ctx is cancelled. In-flight executions deliberately
// survive the connection: teardown releases the cancel-handle slot without
// invoking it, so only an explicit cancel_execution (or a replacing
// execute_workflow) stops a run.
func (s *Session) Run(ctx context.Context) {
	s.logger.Info("client connected")
	s.writer.enqueueText(marshalConnected())

	// Liveness: any inbound data or a pong acknowledgment pushes the
	// deadline out; silence beyond ReadTimeout ends the read loop.
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	go s.heartbeat(heartbeatCtx)

	s.readLoop(ctx)

	stopHeartbeat()
	_ = s.conn.Close()

	// Release the handle slot without cancelling: the run keeps going and
	// its frames are discarded by the writer once the transport is gone.
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	// Keep the writer draining until surviving executions finish, then stop.
	go func() {
		s.execWG.Wait()
		s.writer.stop()
	}()
	s.logger.Info("client disconnected")
}

func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writer.enqueuePing()
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// Transport-level failure or liveness timeout: the connection is
			// done. This is the only error class that ends the loop.
			s.logger.Debug("read loop ended", "error", err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed input is non-fatal: report and keep listening.
			s.writer.enqueueText(marshalError("malformed message: " + err.Error()))
			continue
		}

		switch msg.Type {
		case msgExecuteWorkflow:
			s.handleExecute(msg)
		case msgCancelExecution:
			s.handleCancel()
		default:
			s.writer.enqueueText(marshalError("unknown message type: " + msg.Type))
		}
	}
}

// handleExecute starts a new execution, replacing (and cancelling) any run
// already in flight on this session. The execution runs in its own goroutine
// so the read loop stays responsive to a subsequent cancel_execution.
func (s *Session) handleExecute(msg clientMessage) {
	if msg.AgentID == "" {
		s.writer.enqueueText(marshalError("agent_id is required"))
		return
	}

	agent, err := s.agents.GetAgent(context.Background(), msg.AgentID, s.userID)
	if err != nil {
		s.writer.enqueueText(marshalError(err.Error()))
		return
	}

	// The run context is independent of the connection context: execution
	// lifetime is decoupled from connection lifetime.
	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{cancel: cancel}

	s.mu.Lock()
	if s.current != nil {
		// Starting a new execution atomically replaces and cancels the
		// previous one.
		s.current.cancel()
	}
	s.current = handle
	s.mu.Unlock()

	req := orchestrator.RunRequest{
		Agent:              agent,
		UserID:             s.userID,
		Trigger:            core.TriggerManual,
		Input:              msg.Input,
		EnableBlockChecker: msg.EnableBlockChecker,
		CheckerModelID:     msg.CheckerModelID,
	}

	s.execWG.Add(1)
	go func() {
		defer s.execWG.Done()
		defer s.clearHandle(handle)
		if _, err := s.runner.Run(runCtx, req, s); err != nil {
			// The orchestrator already sent the single error frame for a
			// rejected run; nothing more goes to the client.
			s.logger.Debug("run rejected", "agent_id", msg.AgentID, "error", err)
		}
	}()
}

// handleCancel invokes the stored cancel handle. A duplicate cancel finds no
// handle and is a no-op.
func (s *Session) handleCancel() {
	s.mu.Lock()
	handle := s.current
	s.current = nil
	s.mu.Unlock()
	if handle != nil {
		s.logger.Info("execution cancelled by client")
		handle.cancel()
	}
}

// clearHandle drops the stored handle once its run finished, unless a newer
// run already replaced it.
func (s *Session) clearHandle(own *runHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == own {
		s.current = nil
	}
}

// HasLiveCancelHandle reports whether a cancel handle is currently stored.
func (s *Session) HasLiveCancelHandle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Sink implementation: everything funnels through the serialized writer.

func (s *Session) SendStarted(executionID string) {
	s.writer.enqueueText(marshalStarted(executionID))
}

func (s *Session) SendUpdate(executionID string, u core.ExecutionUpdate) {
	s.writer.enqueueText(marshalUpdate(executionID, u))
}

func (s *Session) SendComplete(executionID string, c relay.Completion) {
	s.writer.enqueueText(marshalComplete(executionID, c))
}

func (s *Session) SendError(message string) {
	s.writer.enqueueText(marshalError(message))
}
