// Package httpclient builds the retrying HTTP clients used by the polling
// transport and the upload command.
package httpclient

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Component string
	RetryMax  int
	Timeout   time.Duration
}

// New returns a retryablehttp client that logs through zerolog.
func New(opts Options) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient = &http.Client{Timeout: opts.Timeout}
	c.Logger = NewLeveledLogger(log.With().Str("component", opts.Component).Logger())
	return c
}

// LeveledLogger adapts a zerolog logger to retryablehttp.LeveledLogger.
type LeveledLogger struct {
	logger zerolog.Logger
}

var _ retryablehttp.LeveledLogger = &LeveledLogger{}

func NewLeveledLogger(logger zerolog.Logger) *LeveledLogger {
	return &LeveledLogger{logger: logger}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

// Debug is demoted to trace: retryablehttp logs every request at debug.
func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
