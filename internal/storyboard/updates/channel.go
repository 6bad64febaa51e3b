// Package updates turns backend progress into a stream of lifecycle events,
// either by polling the results endpoint or by listening on the status socket.
package updates

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xleos/studio/internal/storyboard/domain"
)

// Channel delivers events for one submission. The returned channel is closed
// when a terminal event has been sent, the transport gives up, or ctx is done.
type Channel interface {
	Subscribe(ctx context.Context, submissionID string) (<-chan domain.Event, error)
}

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xleos_update_events_total",
		Help: "Lifecycle events emitted by update channels.",
	},
	[]string{"transport", "status", "synthetic"},
)

func emit(ctx context.Context, out chan<- domain.Event, transport string, ev domain.Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case out <- ev:
		synthetic := "false"
		if ev.Synthetic {
			synthetic = "true"
		}
		eventsTotal.WithLabelValues(transport, string(ev.Status), synthetic).Inc()
		return true
	case <-ctx.Done():
		return false
	}
}
