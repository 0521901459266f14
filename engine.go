package pdfcosign

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/digitorus/pdfcosign/internal/keylock"
	"github.com/digitorus/pdfcosign/internal/metrics"
	"github.com/digitorus/pdfcosign/keys"
	"github.com/digitorus/pdfcosign/session"
	"github.com/digitorus/pdfcosign/stamp"
	"github.com/digitorus/pdfcosign/store"
	"github.com/digitorus/pdfcosign/upload"
)

const tracerName = "github.com/digitorus/pdfcosign"

// DefaultTimeout bounds a submission when no timeout is configured.
const DefaultTimeout = time.Minute

// Engine runs signature submissions.
type Engine struct {
	allocator session.Allocator
	keys      keys.Provider
	store     store.Store
	uploader  upload.Uploader
	renderer  *stamp.Renderer
	seal      SealSettings
	locks     *keylock.Table
	timeout   time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	now     func() time.Time
	newCode func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists every produced artifact and its metadata.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithUploader uploads every produced artifact.
func WithUploader(u upload.Uploader) Option {
	return func(e *Engine) { e.uploader = u }
}

// WithStampOptions configures the caption layout.
func WithStampOptions(opts stamp.Options) Option {
	return func(e *Engine) { e.renderer = stamp.NewRenderer(opts) }
}

// WithSealSettings configures the signature dictionary and timestamping.
func WithSealSettings(s SealSettings) Option {
	return func(e *Engine) { e.seal = s }
}

// WithTimeout bounds each submission.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records submission metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// New returns an engine allocating positions from allocator and sealing
// with the key material from keyProvider.
func New(allocator session.Allocator, keyProvider keys.Provider, opts ...Option) (*Engine, error) {
	if allocator == nil {
		return nil, errors.New("pdfcosign: allocator is required")
	}
	if keyProvider == nil {
		return nil, errors.New("pdfcosign: key provider is required")
	}

	e := &Engine{
		allocator: allocator,
		keys:      keyProvider,
		renderer:  stamp.NewRenderer(stamp.DefaultOptions()),
		locks:     keylock.New(),
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		newCode:   newVerificationCode,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = e.logger.Named("engine")
	return e, nil
}

// Session returns the allocator's snapshot of the session for identity.
func (e *Engine) Session(ctx context.Context, identity session.Identity) (session.Session, error) {
	return e.allocator.Session(ctx, identity)
}
