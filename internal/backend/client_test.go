package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xleos/studio/internal/storyboard/domain"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "ws"+srv.URL[len("http"):], 0, nil)
	require.NoError(t, err)
	return c, srv
}

func TestClient_UserStatus_Unauthorized(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := c.UserStatus(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized, "status %d", code)
	}
}

func TestClient_ExchangeCodeStoresCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") != "abc" {
			t.Errorf("unexpected code: %s", r.URL.Query().Get("code"))
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s3cret", Path: "/"})
		w.Write([]byte(`{"message":"Login successful","user":{"email":"a@b.co","approved":true}}`))
	})
	mux.HandleFunc("/api/user/status", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("session")
		if err != nil || ck.Value != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"approved":true,"email":"a@b.co"}`))
	})
	c, _ := newTestClient(t, mux)

	resp, err := c.ExchangeCode(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "Login successful", resp.Message)
	require.NotNil(t, resp.User)
	assert.Equal(t, "a@b.co", resp.User.Email)

	status, err := c.UserStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Approved)

	require.NoError(t, c.ClearCookies())
	_, err = c.UserStatus(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_SubmitScript(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/submit-script", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello\nWorld", body["script_text"])
		w.Write([]byte(`{"submission_id":"sub-1","message":"Queued"}`))
	}))

	id, err := c.SubmitScript(context.Background(), "Hello\nWorld")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", id)
}

func TestClient_SubmitScript_Rejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"limit reached"}`))
	}))

	_, err := c.SubmitScript(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSubmitRejected)
	assert.Contains(t, err.Error(), "limit reached")
}

func TestClient_Results(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/results/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/api/results/pending":
			w.Write([]byte(`{"error":"Submission not found or not ready"}`))
		case "/api/results/broken":
			w.Write([]byte(`{not json`))
		case "/api/results/null":
			w.Write([]byte(`null`))
		case "/api/results/failed":
			w.Write([]byte(`{"_id":"failed","status":"error","error":"Video search quota exceeded"}`))
		case "/api/results/boom":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("database down"))
		case "/api/results/done":
			w.Write([]byte(`{
				"_id": "done",
				"status": "completed",
				"script_text": "Hello\nWorld",
				"submission_timestamp": "2025-06-01T10:11:12.123456",
				"lines": [{
					"line_number": 1,
					"line_text": "Hello",
					"search_phrase": "greeting",
					"videos": [
						{"video_url": "https://v/1", "start_timestamp": 1, "end_timestamp": 4, "relevance_score": 0.9,
						 "feedback": {"rating": 4, "text": "good"}},
						{"video_url": "https://v/2", "start_timestamp": 5, "end_timestamp": 5, "relevance_score": 0.2,
						 "feedback": {"rating": null, "text": null}},
						{"video_url": "https://v/3", "start_timestamp": 0, "end_timestamp": 2, "relevance_score": 0.5,
						 "feedback": {"rating": null, "text": null}}
					]
				}]
			}`))
		}
	}))
	ctx := context.Background()

	_, err := c.Results(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = c.Results(ctx, "pending")
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = c.Results(ctx, "broken")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = c.Results(ctx, "null")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	failed, err := c.Results(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, failed.Status)
	assert.Equal(t, "Video search quota exceeded", failed.Message)

	_, err = c.Results(ctx, "boom")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "database down", se.Body)

	sub, err := c.Results(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, "done", sub.ID)
	assert.Equal(t, domain.StatusCompleted, sub.Status)
	assert.Equal(t, 2025, sub.CreatedAt.Year())
	require.Len(t, sub.Lines, 1)

	line := sub.Lines[0]
	assert.Equal(t, 1, line.Number)
	assert.Equal(t, "greeting", line.SearchPhrase)
	require.Len(t, line.Videos, 2, "zero-length clip is dropped")
	assert.Equal(t, 0, line.Videos[0].Index)
	assert.Equal(t, 2, line.Videos[1].Index, "backend index survives filtering")
	assert.Equal(t, &domain.Feedback{Rating: 4, Comment: "good"}, line.Videos[0].Feedback)
	assert.Nil(t, line.Videos[1].Feedback)
}

func TestClient_Submissions_ArrayAndEnvelope(t *testing.T) {
	bodies := []string{
		`[{"submission_id":"a","status":"completed","script_text":"one"}]`,
		`{"submissions":[{"_id":"a","script_text":"one"}]}`,
	}
	for _, body := range bodies {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		subs, err := c.Submissions(context.Background())
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "a", subs[0].ID)
		assert.Equal(t, domain.StatusCompleted, subs[0].Status)
	}
}

func TestClient_SubmitFeedback(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/submit-feedback/sub-1/3", r.URL.Path)
		var req FeedbackRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, FeedbackRequest{VideoIndex: 2, Rating: 5, Text: "great"}, req)
		w.Write([]byte(`{"message":"ok"}`))
	}))

	err := c.SubmitFeedback(context.Background(), "sub-1", 3, FeedbackRequest{VideoIndex: 2, Rating: 5, Text: "great"})
	assert.NoError(t, err)
}

func TestClient_StatusSocketURL(t *testing.T) {
	c, err := NewClient("https://api.xleos.test/", "wss://api.xleos.test", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://api.xleos.test/ws/status/abc", c.StatusSocketURL("abc"))
}

func TestClient_CookiePersistence(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "persisted", Path: "/"})
		w.Write([]byte(`{"message":"Login successful"}`))
	}))
	_, err := c.ExchangeCode(context.Background(), "code")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "xleos", "cookies.json")
	require.NoError(t, c.SaveCookies(path))

	restored, err := NewClient(srv.URL, "", 0, nil)
	require.NoError(t, err)
	require.NoError(t, restored.LoadCookies(path))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	cookies := restored.Jar().Cookies(req.URL)
	require.Len(t, cookies, 1)
	assert.Equal(t, "persisted", cookies[0].Value)

	missing, err := NewClient(srv.URL, "", 0, nil)
	require.NoError(t, err)
	assert.NoError(t, missing.LoadCookies(filepath.Join(t.TempDir(), "none.json")))
}

func TestAuthURLs_Primary(t *testing.T) {
	u := AuthURLs{GoogleLoginURL: "g-login", EmailSignupURL: "e-signup"}
	assert.Equal(t, "g-login", u.Primary(false))
	assert.Equal(t, "e-signup", u.Primary(true))

	u.AuthURL = "combined"
	assert.Equal(t, "combined", u.Primary(true))
}

func TestDecodeStatusMessage(t *testing.T) {
	ev, err := DecodeStatusMessage([]byte(`{"status":"processing","message":"Queued","submission_id":"s1",
		"timestamp":"2025-06-01T10:00:00Z","progress":{"stage":"search","stage_name":"Searching","overall_progress":40,"total_lines":2,"detailed_message":"line 1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", ev.SubmissionID)
	assert.Equal(t, domain.StatusProcessing, ev.Status)
	assert.Equal(t, "Queued", ev.Message)
	require.NotNil(t, ev.Progress)
	assert.Equal(t, 40.0, ev.Progress.OverallProgress)

	ev, err = DecodeStatusMessage([]byte(`{"status":"error","submission_id":"s1","error":"pipeline crashed"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, ev.Status)
	assert.Equal(t, "pipeline crashed", ev.Message)
	assert.False(t, ev.At.IsZero())

	_, err = DecodeStatusMessage([]byte(`{"message":"no status"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = DecodeStatusMessage([]byte(`garbage`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestClient_FeedbackSummary(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/feedback/summary/s1", r.URL.Path)
		w.Write([]byte(`{"submission_id":"s1","overall_rating":4.5,"completion_percentage":50,
			"line_feedbacks":[{"line_number":1,"average_rating":4.5,"total_ratings":2,
			"feedback":[{"video_index":0,"rating":5,"text":"great"},{"video_index":2,"rating":4}]}]}`))
	}))

	sum, err := c.FeedbackSummary(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 4.5, sum.OverallRating)
	require.Len(t, sum.LineFeedbacks, 1)
	assert.Equal(t, 2, sum.LineFeedbacks[0].TotalRatings)
	assert.Equal(t, 2, sum.LineFeedbacks[0].Feedback[1].VideoIndex)
}
