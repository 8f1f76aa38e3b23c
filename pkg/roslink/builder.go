package roslink

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roslink/roslink/pkg/roslink/o11y"
	"github.com/roslink/roslink/pkg/roslink/pngcodec"
)

// RosBuilder provides a fluent interface for building Ros clients.
type RosBuilder struct {
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	writeChannelSize int
	decompress       DecompressFunc
	observability    *o11y.Config
}

// NewRos creates a new Ros client builder.
func NewRos() *RosBuilder {
	return &RosBuilder{
		logger:           zap.NewNop(),
		dialTimeout:      30 * time.Second,
		writeChannelSize: 100,
		decompress:       pngcodec.Decompress,
	}
}

// WithURL sets the rosbridge WebSocket URL to connect to.
func (b *RosBuilder) WithURL(url string) *RosBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client.
func (b *RosBuilder) WithLogger(logger *zap.Logger) *RosBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the WebSocket
// connection.
func (b *RosBuilder) WithDialTimeout(timeout time.Duration) *RosBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithWriteChannelSize sets the buffer size of the internal write channel.
// Default is 100.
func (b *RosBuilder) WithWriteChannelSize(size int) *RosBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// WithDecompressor replaces the compression collaborator used for "png"
// frames. The default is the pngcodec implementation.
func (b *RosBuilder) WithDecompressor(fn DecompressFunc) *RosBuilder {
	if fn != nil {
		b.decompress = fn
	}
	return b
}

// WithObservability sets optional metrics and tracing providers.
func (b *RosBuilder) WithObservability(cfg *o11y.Config) *RosBuilder {
	b.observability = cfg
	return b
}

// Build creates a Ros client with the configured options.
func (b *RosBuilder) Build() (*Ros, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	r := &Ros{
		url:              b.url,
		logger:           b.logger,
		dialTimeout:      b.dialTimeout,
		writeChannelSize: b.writeChannelSize,
		decompress:       b.decompress,
		ids:              &idGenerator{},
	}

	var metrics o11y.MetricsProvider
	if b.observability != nil {
		metrics = b.observability.MetricsProvider
		r.metricsProvider = b.observability.MetricsProvider
		r.tracingProvider = b.observability.TracingProvider
	}
	r.router = newRouter(b.logger, metrics)

	if metrics != nil {
		r.sendCounter = metrics.Counter("roslink_envelopes_sent_total")
		r.frameCounter = metrics.Counter("roslink_frames_received_total")
		r.errorCounter = metrics.Counter("roslink_frame_errors_total")
	}

	return r, nil
}

// IsValid checks that all required configuration is present.
func (b *RosBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.dialTimeout <= 0 {
		b.dialTimeout = 30 * time.Second
	}
	if b.writeChannelSize <= 0 {
		b.writeChannelSize = 100
	}

	return nil
}
