package app

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/sensorflow/internal/conf"
	"github.com/tphakala/sensorflow/internal/errors"
)

// sentryFlushTimeout bounds the final flush on shutdown.
const sentryFlushTimeout = 2 * time.Second

// InitSentry enables error telemetry when configured. The returned function
// flushes pending events and must be called before exit.
func InitSentry(s conf.SentrySettings, release string) (func(), error) {
	if !s.Enabled {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.DSN,
		SampleRate:       s.SampleRate,
		Environment:      s.Environment,
		Release:          "sensorflow@" + release,
		AttachStacktrace: false,
		ServerName:       "",
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component(ComponentApp).
			Category(errors.CategoryConfiguration).
			Build()
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}

// scrubEvent drops host identifying data before an event leaves the process.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
