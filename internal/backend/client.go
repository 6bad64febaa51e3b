package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xleos/studio/internal/storyboard/domain"
)

const maxErrorBody = 512

// Client talks to the Xleos backend. The session lives in a cookie, so every
// request goes through the same jar.
type Client struct {
	baseURL   string
	wsBaseURL string
	http      *http.Client
	jar       *sessionJar
	log       *zap.Logger
}

// NewClient builds a client with its own cookie jar.
func NewClient(baseURL, wsBaseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		wsBaseURL: strings.TrimRight(wsBaseURL, "/"),
		http:      &http.Client{Timeout: timeout, Jar: jar},
		jar:       jar,
		log:       logger.Named("backend"),
	}, nil
}

// Jar exposes the session cookie jar so the websocket dialer can share it.
func (c *Client) Jar() http.CookieJar { return c.jar }

// BaseURL returns the REST root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// StatusSocketURL is the push channel address for a submission.
func (c *Client) StatusSocketURL(submissionID string) string {
	return c.wsBaseURL + "/ws/status/" + url.PathEscape(submissionID)
}

// LoginURLs fetches the identity provider URLs for sign in.
func (c *Client) LoginURLs(ctx context.Context) (AuthURLs, error) {
	var out AuthURLs
	err := c.getJSON(ctx, "login_urls", "/auth/login", &out)
	return out, err
}

// SignupURLs fetches the identity provider URLs for sign up.
func (c *Client) SignupURLs(ctx context.Context) (AuthURLs, error) {
	var out AuthURLs
	err := c.getJSON(ctx, "signup_urls", "/auth/signup", &out)
	return out, err
}

// ExchangeCode trades an authorization code for the session cookie.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*CallbackResponse, error) {
	var out CallbackResponse
	path := "/auth/callback?code=" + url.QueryEscape(code)
	if err := c.getJSON(ctx, "exchange_code", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout asks the backend to clear the session cookie.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.send(ctx, "logout", http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus("logout", resp)
}

// UserStatus returns the approval state. 401/403 surface as ErrUnauthorized.
func (c *Client) UserStatus(ctx context.Context) (*UserStatus, error) {
	var out UserStatus
	if err := c.getJSON(ctx, "user_status", "/api/user/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserStats returns the submission quota.
func (c *Client) UserStats(ctx context.Context) (*UserStats, error) {
	var out UserStats
	if err := c.getJSON(ctx, "user_stats", "/api/user/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitScript creates a submission and returns its id.
func (c *Client) SubmitScript(ctx context.Context, script string) (string, error) {
	resp, err := c.send(ctx, "submit_script", http.MethodPost, "/api/submit-script", submitRequest{ScriptText: script})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := c.checkStatus("submit_script", resp); err != nil {
		return "", err
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if out.SubmissionID == "" {
		reason := out.Error
		if reason == "" {
			reason = out.Detail
		}
		if reason == "" {
			reason = out.Message
		}
		return "", fmt.Errorf("%w: %s", ErrSubmitRejected, reason)
	}
	return out.SubmissionID, nil
}

// Results fetches the authoritative state of a submission. A 404 or an
// error body without a status means the results are not ready yet.
func (c *Client) Results(ctx context.Context, submissionID string) (*domain.Submission, error) {
	const op = "results"
	resp, err := c.send(ctx, op, http.MethodGet, "/api/results/"+url.PathEscape(submissionID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotReady
	}
	if err := c.checkStatus(op, resp); err != nil {
		return nil, err
	}

	var w *wireSubmission
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w == nil {
		return nil, fmt.Errorf("%w: empty results body", ErrMalformedPayload)
	}
	if w.Error != "" && w.Status == "" {
		return nil, domain.ErrNotReady
	}

	sub := w.toDomain()
	if sub.ID == "" {
		sub.ID = submissionID
	}
	return sub, nil
}

// Submissions lists the caller's history. The backend has shipped both a
// bare array and a {"submissions": [...]} envelope.
func (c *Client) Submissions(ctx context.Context) ([]*domain.Submission, error) {
	const op = "submissions"
	resp, err := c.send(ctx, op, http.MethodGet, "/api/submissions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(op, resp); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var list []wireSubmission
	if err := json.Unmarshal(raw, &list); err != nil {
		var envelope struct {
			Submissions []wireSubmission `json:"submissions"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		list = envelope.Submissions
	}

	out := make([]*domain.Submission, 0, len(list))
	for _, w := range list {
		out = append(out, w.toDomain())
	}
	return out, nil
}

// SubmitFeedback records the rating for one video of one line.
func (c *Client) SubmitFeedback(ctx context.Context, submissionID string, lineNumber int, req FeedbackRequest) error {
	const op = "submit_feedback"
	path := "/api/submit-feedback/" + url.PathEscape(submissionID) + "/" + strconv.Itoa(lineNumber)
	resp, err := c.send(ctx, op, http.MethodPost, path, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(op, resp)
}

// FeedbackSummary returns aggregated ratings for a submission.
func (c *Client) FeedbackSummary(ctx context.Context, submissionID string) (*FeedbackSummary, error) {
	var out FeedbackSummary
	if err := c.getJSON(ctx, "feedback_summary", "/api/feedback/summary/"+url.PathEscape(submissionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, dst any) error {
	resp, err := c.send(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	log := c.log.With(zap.String("operation", op), zap.String("path", path))
	start := time.Now()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		recordCall(op, "error", time.Since(start))
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		recordCall(op, "error", duration)
		if !errors.Is(err, context.Canceled) {
			log.Warn("backend request failed", zap.Error(err))
		}
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}

	recordCall(op, outcome(resp.StatusCode), duration)
	log.Debug("backend response", zap.Int("status", resp.StatusCode), zap.Duration("duration", duration))
	return resp, nil
}

// checkStatus maps non-2xx responses. The body is left unread on success.
func (c *Client) checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.log.Warn("backend returned error status",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
	)
	return &StatusError{Operation: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

func outcome(code int) string {
	switch {
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	default:
		return "ok"
	}
}
