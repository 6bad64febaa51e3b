package updates

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xleos/studio/internal/backend"
	"github.com/xleos/studio/internal/storyboard/domain"
)

const transportPush = "push"

// PushChannel is the push strategy: one status socket per submission,
// authenticated by the session cookie.
type PushChannel struct {
	dialer      *websocket.Dialer
	urlFor      func(submissionID string) string
	idleTimeout time.Duration
	log         *zap.Logger
}

// NewPushChannel dials urlFor(id) with cookies from jar. An idle timeout of
// zero disables the watchdog.
func NewPushChannel(urlFor func(string) string, jar http.CookieJar, idleTimeout time.Duration, logger *zap.Logger) *PushChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushChannel{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Jar:              jar,
		},
		urlFor:      urlFor,
		idleTimeout: idleTimeout,
		log:         logger.Named("push"),
	}
}

func (p *PushChannel) Subscribe(ctx context.Context, submissionID string) (<-chan domain.Event, error) {
	target := p.urlFor(submissionID)
	conn, resp, err := p.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial status socket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial status socket: %w", err)
	}
	p.log.Debug("status socket connected", zap.String("submission_id", submissionID), zap.String("url", target))

	out := make(chan domain.Event, 1)
	go p.run(ctx, submissionID, conn, out)
	return out, nil
}

func (p *PushChannel) run(ctx context.Context, id string, conn *websocket.Conn, out chan<- domain.Event) {
	defer close(out)
	log := p.log.With(zap.String("submission_id", id))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		if p.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(p.idleTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Info("no status updates within idle timeout", zap.Duration("idle_timeout", p.idleTimeout))
				emit(ctx, out, transportPush, domain.Event{
					SubmissionID: id,
					Status:       domain.StatusError,
					Message:      domain.MsgNoUpdates,
					Synthetic:    true,
				})
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("status socket closed by server")
			} else {
				log.Warn("status socket read failed", zap.Error(err))
			}
			return
		}

		ev, err := backend.DecodeStatusMessage(data)
		if err != nil {
			log.Debug("ignoring malformed status message", zap.Error(err))
			continue
		}
		if ev.SubmissionID == "" {
			ev.SubmissionID = id
		}
		if ev.SubmissionID != id {
			log.Debug("ignoring status message for another submission", zap.String("other_id", ev.SubmissionID))
			continue
		}

		if !emit(ctx, out, transportPush, ev) {
			return
		}
		if ev.Status.IsTerminal() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
