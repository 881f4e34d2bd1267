package exceptions

import (
	"time"

	"github.com/getsentry/sentry-go"
)

const flushTimeout = 5 * time.Second

// Reporter ships job failures to an external error tracker.
type Reporter interface {
	ReportException(err error)
}

// NoopReporter swallows every exception. Used when no DSN is configured.
type NoopReporter struct{}

func (r *NoopReporter) ReportException(_ error) {}

// SentryReporter forwards exceptions to Sentry.
type SentryReporter struct{}

func NewSentryReporter(dsn, environment string) (*SentryReporter, error) {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, err
	}
	return &SentryReporter{}, nil
}

func (r *SentryReporter) ReportException(err error) {
	sentry.CaptureException(err)
	sentry.Flush(flushTimeout)
}
