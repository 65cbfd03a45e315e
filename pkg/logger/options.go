package logger

import (
	"fmt"
	"io"
	"log/slog"
)

// Format selects the handler New builds.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// ParseFormat maps a config value to a Format. The empty string is text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatPretty:
		return f, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

// Option configures a logger created with New.
type Option func(*config)

// WithDebug lowers the level to Debug. False leaves the level untouched.
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		}
	}
}

// WithLevel sets the minimum level logged.
func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithFormat picks the handler. Unknown formats fall back to text.
func WithFormat(f Format) Option {
	return func(c *config) {
		c.format = f
	}
}

// WithWriter sets the output. Several writers are combined with
// io.MultiWriter; none means os.Stdout.
func WithWriter(w ...io.Writer) Option {
	return func(c *config) {
		c.writers = w
	}
}

// WithSource includes file:line in every record.
func WithSource(source bool) Option {
	return func(c *config) {
		c.source = source
	}
}
