package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Deployment environments recognised by WithEnvironment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// defaultRedacted are attribute keys never written in clear: gateway
// credentials, webhook signatures and customer contact data.
var defaultRedacted = []string{
	"api_key",
	"secret",
	"webhook_secret",
	"signature",
	"stripe_signature",
	"paddle_signature",
	"authorization",
	"email",
}

// Format represents logger output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Option configures logger creation.
type Option func(*config)

func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

func WithTextFormatter() Option {
	return func(c *config) { c.format = FormatText }
}

func WithJSONFormatter() Option {
	return func(c *config) { c.format = FormatJSON }
}

// WithOutput sets the output destination. Nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every log record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) { c.attrs = append(c.attrs, attrs...) }
}

// WithContextExtractors registers functions that inject attributes from context.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(c *config) {
		for _, ex := range extractors {
			if ex != nil {
				c.extractors = append(c.extractors, ex)
			}
		}
	}
}

// WithRedactedKeys adds attribute keys whose values are replaced with
// Redacted, at any group depth. Matching is case-insensitive.
func WithRedactedKeys(keys ...string) Option {
	return func(c *config) {
		for _, k := range keys {
			if k != "" {
				c.redacted[strings.ToLower(k)] = struct{}{}
			}
		}
	}
}

// WithEnvironment picks a preset from an APP_ENV style value: JSON at info
// level for production and staging, text at debug level otherwise. Every
// record is tagged with service and env.
func WithEnvironment(env, service string) Option {
	switch env {
	case EnvProduction, "prod":
		return preset(service, EnvProduction, slog.LevelInfo, FormatJSON)
	case EnvStaging, "stage":
		return preset(service, EnvStaging, slog.LevelInfo, FormatJSON)
	default:
		return preset(service, EnvDevelopment, slog.LevelDebug, FormatText)
	}
}

func preset(service, env string, level slog.Level, format Format) Option {
	return func(c *config) {
		c.level = level
		c.format = format
		if service != "" {
			c.attrs = append(c.attrs, slog.String("service", service))
		}
		c.attrs = append(c.attrs, slog.String("env", env))
	}
}

func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

type config struct {
	level      slog.Level
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
	redacted   map[string]struct{}
}

// New creates a slog.Logger, JSON at info level on stdout unless configured
// otherwise. Context extractors run on every record and sensitive keys are
// redacted.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:    slog.LevelInfo,
		format:   FormatJSON,
		output:   os.Stdout,
		redacted: make(map[string]struct{}, len(defaultRedacted)),
	}
	WithRedactedKeys(defaultRedacted...)(cfg)
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: cfg.level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if _, ok := cfg.redacted[strings.ToLower(a.Key)]; ok {
				return slog.String(a.Key, Redacted)
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}
	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}
	return slog.New(NewLogHandlerDecorator(handler, cfg.extractors...))
}
