package viewwatch

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
	"github.com/hazyhaar/viewwatch/viewwatch/internal/sink"
)

// Sink is the output interface for visibility events.
type Sink = sink.Sink

// NewStdoutSink creates a JSON-lines sink. A nil writer means os.Stdout.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn func(ctx context.Context, e event.Event) error) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks listed in cfg. With none listed, events
// go to stdout.
func SinksFromConfig(cfg *Config, logger *slog.Logger) []Sink {
	var sinks []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewStdoutSink(nil))
	}
	return sinks
}
