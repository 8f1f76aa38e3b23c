package subutils

import (
	"encoding/json"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roslink/roslink/pkg/roslink"
)

// LoggingHandler wraps a message handler and logs every delivery. With a
// nil wrapped handler it acts as a standalone sink, which is handy when
// probing an unfamiliar topic.
type LoggingHandler struct {
	wrapped  roslink.MessageHandler
	logger   *zap.Logger
	logLevel zapcore.Level
	topic    string
}

// NewLoggingHandler creates a LoggingHandler for the named topic. The
// topic string appears in every log line; it is informational only.
func NewLoggingHandler(wrapped roslink.MessageHandler, logger *zap.Logger, logLevel zapcore.Level, topic string) *LoggingHandler {
	return &LoggingHandler{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		topic:    topic,
	}
}

// Handle is the roslink.MessageHandler to pass to Topic.Subscribe.
func (l *LoggingHandler) Handle(msg json.RawMessage) {
	l.logger.Log(l.logLevel, "message received",
		zap.String("topic", l.topic),
		zap.Int("bytes", len(msg)),
		zap.ByteString("message", msg),
	)

	if l.wrapped != nil {
		l.wrapped(msg)
	}
}
