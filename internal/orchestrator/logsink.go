package orchestrator

import (
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/relay"
)

// LogSink is the sink for runs without a live client, such as scheduled
// triggers. Progress lands in the log; the execution record holds the result.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) SendStarted(executionID string) {
	s.logger.Info("execution started", "execution_id", executionID)
}

func (s *LogSink) SendUpdate(executionID string, u core.ExecutionUpdate) {
	s.logger.Debug("execution update",
		"execution_id", executionID, "block_id", u.BlockID, "status", u.Status)
}

func (s *LogSink) SendComplete(executionID string, c relay.Completion) {
	if c.Error != "" {
		s.logger.Warn("execution finished",
			"execution_id", executionID, "status", c.Status, "duration_ms", c.DurationMS, "error", c.Error)
		return
	}
	s.logger.Info("execution finished",
		"execution_id", executionID, "status", c.Status, "duration_ms", c.DurationMS)
}

func (s *LogSink) SendError(message string) {
	s.logger.Warn("execution rejected", "error", message)
}
