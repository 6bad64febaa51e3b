package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name  string
		db    Pinger
		redis Pinger
		wantD string
		wantR string
	}{
		{"disabled", nil, nil, "disabled", "disabled"},
		{"up", PingerFunc(func(context.Context) error { return nil }), PingerFunc(func(context.Context) error { return nil }), "up", "up"},
		{"db down", PingerFunc(func(context.Context) error { return errors.New("refused") }), nil, "down", "disabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			NewHealthHandler("xleos-api", "1.2.3", tc.db, tc.redis).RegisterRoutes(r)

			for _, path := range []string{"/health", "/healthz"} {
				rr := httptest.NewRecorder()
				r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
				require.Equal(t, http.StatusOK, rr.Code)

				var body HealthResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, "healthy", body.Status)
				assert.Equal(t, "xleos-api", body.Service)
				assert.Equal(t, "1.2.3", body.Version)
				assert.Equal(t, tc.wantD, body.DB)
				assert.Equal(t, tc.wantR, body.Redis)
			}
		})
	}
}
