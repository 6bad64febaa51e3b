package updates

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xleos/studio/internal/backend"
	"github.com/xleos/studio/internal/storyboard/domain"
)

type fetcherFunc func(ctx context.Context, id string) (*domain.Submission, error)

func (f fetcherFunc) Results(ctx context.Context, id string) (*domain.Submission, error) {
	return f(ctx, id)
}

func collect(t *testing.T, ch <-chan domain.Event) []domain.Event {
	t.Helper()
	var events []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("channel not closed, got %d events", len(events))
			return nil
		}
	}
}

func TestPoller_UntilCompleted(t *testing.T) {
	var calls atomic.Int32
	f := fetcherFunc(func(ctx context.Context, id string) (*domain.Submission, error) {
		switch calls.Add(1) {
		case 1, 2:
			return nil, domain.ErrNotReady
		case 3:
			return &domain.Submission{ID: id, Status: domain.StatusProcessing}, nil
		default:
			return &domain.Submission{ID: id, Status: domain.StatusCompleted, Lines: []domain.Line{{Number: 1}}}, nil
		}
	})

	ch, err := NewPoller(f, time.Millisecond, 30, nil).Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 4)
	for _, ev := range events[:3] {
		assert.Equal(t, domain.StatusProcessing, ev.Status)
		assert.Equal(t, "s1", ev.SubmissionID)
	}
	last := events[3]
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Len(t, last.Lines, 1)
	assert.Equal(t, int32(4), calls.Load())
}

func TestPoller_BoundedAttempts(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL, "", time.Second, nil)
	require.NoError(t, err)

	ch, err := NewPoller(client, time.Millisecond, 30, nil).Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, int32(30), requests.Load(), "no request beyond the bound")
	require.Len(t, events, 31)
	last := events[len(events)-1]
	assert.Equal(t, domain.StatusError, last.Status)
	assert.Equal(t, domain.MsgResultsUnavailable, last.Message)
	assert.True(t, last.Synthetic)
}

func TestPoller_TransportErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	f := fetcherFunc(func(ctx context.Context, id string) (*domain.Submission, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			return nil, backend.ErrMalformedPayload
		default:
			return &domain.Submission{ID: id, Status: domain.StatusError, Message: "pipeline failed"}, nil
		}
	})

	ch, err := NewPoller(f, time.Millisecond, 5, nil).Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusError, events[0].Status)
	assert.Equal(t, "pipeline failed", events[0].Message)
	assert.False(t, events[0].Synthetic)
}

func TestPoller_NullBodyKeepsPolling(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.Write([]byte(`null`))
			return
		}
		w.Write([]byte(`{"_id":"s1","status":"error","error":"Video search quota exceeded"}`))
	}))
	defer srv.Close()

	client, err := backend.NewClient(srv.URL, "", time.Second, nil)
	require.NoError(t, err)

	ch, err := NewPoller(client, time.Millisecond, 5, nil).Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, int32(3), requests.Load())
	require.Len(t, events, 1, "null bodies emit nothing")
	assert.Equal(t, domain.StatusError, events[0].Status)
	assert.Equal(t, "Video search quota exceeded", events[0].Message)
	assert.False(t, events[0].Synthetic)
}

func TestPoller_CancelStops(t *testing.T) {
	var calls atomic.Int32
	f := fetcherFunc(func(ctx context.Context, id string) (*domain.Submission, error) {
		calls.Add(1)
		return nil, domain.ErrNotReady
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewPoller(f, time.Hour, 30, nil).Subscribe(ctx, "s1")
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, domain.StatusProcessing, ev.Status)
	cancel()
	collect(t, ch)
	assert.Equal(t, int32(1), calls.Load())
}

type wsServer struct {
	*httptest.Server
	mu      sync.Mutex
	cookies []string
}

func newWSServer(t *testing.T, script func(conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session"); err == nil {
			s.mu.Lock()
			s.cookies = append(s.cookies, ck.Value)
			s.mu.Unlock()
		}
		if !strings.HasPrefix(r.URL.Path, "/ws/status/") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) channel(t *testing.T, idle time.Duration) *PushChannel {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "cookie-1", Path: "/"}})

	wsBase := "ws" + strings.TrimPrefix(s.URL, "http")
	return NewPushChannel(func(id string) string { return wsBase + "/ws/status/" + id }, jar, idle, nil)
}

func TestPushChannel_FiltersAndStopsOnTerminal(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"processing","submission_id":"other"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"processing","message":"Queued","submission_id":"s1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"completed","message":"Done","submission_id":"s1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"processing","submission_id":"s1"}`))
		conn.ReadMessage()
	})

	ch, err := srv.channel(t, time.Second).Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 2)
	assert.Equal(t, domain.StatusProcessing, events[0].Status)
	assert.Equal(t, "Queued", events[0].Message)
	assert.Equal(t, domain.StatusCompleted, events[1].Status)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"cookie-1"}, srv.cookies)
}

func TestPushChannel_CloseWithoutTerminal(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"processing","submission_id":"s1"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	ch, err := srv.channel(t, time.Second).Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusProcessing, events[0].Status)
}

func TestPushChannel_IdleWatchdog(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := newWSServer(t, func(conn *websocket.Conn) {
		<-release
	})

	ch, err := srv.channel(t, 50*time.Millisecond).Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, domain.StatusError, events[0].Status)
	assert.Equal(t, domain.MsgNoUpdates, events[0].Message)
	assert.True(t, events[0].Synthetic)
}

func TestPushChannel_CancelClosesStream(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := newWSServer(t, func(conn *websocket.Conn) {
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := srv.channel(t, 0).Subscribe(ctx, "s1")
	require.NoError(t, err)
	cancel()

	assert.Empty(t, collect(t, ch))
}

func TestPushChannel_DialFailure(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {})
	p := NewPushChannel(func(id string) string {
		return "ws" + strings.TrimPrefix(srv.URL, "http") + "/nope/" + id
	}, nil, time.Second, nil)

	_, err := p.Subscribe(context.Background(), "s1")
	assert.Error(t, err)
}
