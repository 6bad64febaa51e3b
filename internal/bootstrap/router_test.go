package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xleos/studio/internal/waitlist/domain"
	waitlisthttp "github.com/xleos/studio/internal/waitlist/http"
)

type joiner struct{ calls int }

func (j *joiner) Join(ctx context.Context, req domain.Request) (*domain.Signup, error) {
	j.calls++
	s, err := req.Validate()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func TestBuildRouter(t *testing.T) {
	SetGinMode("test")
	j := &joiner{}
	r := BuildRouter(RouterDeps{
		ServiceName:    "xleos-api",
		Version:        "test",
		AllowedOrigins: []string{"https://xleos.com"},
		Waitlist:       waitlisthttp.New(j, nil, nil),
	})

	t.Run("health", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
	})

	t.Run("metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("collect email", func(t *testing.T) {
		body := `{"fullName":"Ada","address":"ada@example.com","role":"Filmmaker","use":"Storyboards for docs"}`
		req := httptest.NewRequest(http.MethodPost, "/api/collect-email", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "https://xleos.com")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "https://xleos.com", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, 1, j.calls)
	})
}
