package conductor

import (
	"log/slog"
	"time"

	"github.com/bazelment/agentdeck/protocol"
)

type config struct {
	logger             *slog.Logger
	now                func() time.Time
	interruptionWindow time.Duration
	sweepInterval      time.Duration
	defaultModel       string
	defaultPermission  string
	defaultMaxTurns    int
}

func defaultConfig() config {
	return config{
		logger:             slog.New(slog.DiscardHandler),
		now:                time.Now,
		interruptionWindow: DefaultInterruptionWindow,
		sweepInterval:      DefaultSweepInterval,
	}
}

// Option configures a Conductor at construction time.
type Option func(*config)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects the time source. Tests supply a fake clock instead
// of waiting out real windows.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInterruptionWindow overrides the post-cancel suppression window.
func WithInterruptionWindow(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.interruptionWindow = d
		}
	}
}

// WithSweepInterval overrides the interruption-record sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithDefaultModel sets the model used by sessions that specify none.
func WithDefaultModel(model string) Option {
	return func(c *config) { c.defaultModel = model }
}

// WithDefaultPermissionMode sets the permission mode used by sessions
// that specify none.
func WithDefaultPermissionMode(mode string) Option {
	return func(c *config) { c.defaultPermission = mode }
}

// WithDefaultMaxTurns caps turns per query unless a send overrides it.
func WithDefaultMaxTurns(n int) Option {
	return func(c *config) { c.defaultMaxTurns = n }
}

type sendConfig struct {
	callbacks      Callbacks
	attachments    []protocol.FileRef
	model          string
	permissionMode string
	maxTurns       int
}

// SendOption configures one send.
type SendOption func(*sendConfig)

// WithCallbacks attaches the observer set for this query.
func WithCallbacks(cb Callbacks) SendOption {
	return func(c *sendConfig) { c.callbacks = cb }
}

// WithAttachments inlines resolved file references into the prompt.
func WithAttachments(refs []protocol.FileRef) SendOption {
	return func(c *sendConfig) { c.attachments = refs }
}

// WithModelOverride uses a different model for this query only.
func WithModelOverride(model string) SendOption {
	return func(c *sendConfig) { c.model = model }
}

// WithPermissionOverride uses a different permission mode for this
// query only.
func WithPermissionOverride(mode string) SendOption {
	return func(c *sendConfig) { c.permissionMode = mode }
}

// WithMaxTurns caps backend turns for this query only.
func WithMaxTurns(n int) SendOption {
	return func(c *sendConfig) { c.maxTurns = n }
}
