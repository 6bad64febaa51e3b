package backend

import (
	"strings"
	"time"

	"github.com/xleos/studio/internal/storyboard/domain"
)

// AuthURLs are the identity provider entry points handed out by /auth/login and /auth/signup.
type AuthURLs struct {
	GoogleLoginURL  string `json:"google_login_url,omitempty"`
	AppleLoginURL   string `json:"apple_login_url,omitempty"`
	EmailLoginURL   string `json:"email_login_url,omitempty"`
	GoogleSignupURL string `json:"google_signup_url,omitempty"`
	AppleSignupURL  string `json:"apple_signup_url,omitempty"`
	EmailSignupURL  string `json:"email_signup_url,omitempty"`
	AuthURL         string `json:"auth_url,omitempty"`
}

// Primary returns the combined URL if the backend sent one, else the first provider URL.
func (u AuthURLs) Primary(signup bool) string {
	candidates := []string{u.AuthURL, u.EmailLoginURL, u.GoogleLoginURL, u.AppleLoginURL}
	if signup {
		candidates = []string{u.AuthURL, u.EmailSignupURL, u.GoogleSignupURL, u.AppleSignupURL,
			u.EmailLoginURL, u.GoogleLoginURL, u.AppleLoginURL}
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

type CallbackUser struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Approved bool   `json:"approved"`
}

// CallbackResponse is the body of a successful code exchange.
type CallbackResponse struct {
	Message string        `json:"message"`
	User    *CallbackUser `json:"user,omitempty"`
}

type UserStatus struct {
	Approved bool   `json:"approved"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

type UserStats struct {
	SubmissionsUsed int  `json:"submissions_used"`
	TotalAllowed    int  `json:"total_allowed"`
	Remaining       int  `json:"remaining"`
	IsAdmin         bool `json:"is_admin"`
}

type submitRequest struct {
	ScriptText string `json:"script_text"`
}

type submitResponse struct {
	SubmissionID string `json:"submission_id"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// FeedbackRequest is the body of POST /api/submit-feedback/:id/:line.
type FeedbackRequest struct {
	VideoIndex int    `json:"video_index"`
	Rating     int    `json:"rating"`
	Text       string `json:"text,omitempty"`
}

type VideoFeedback struct {
	VideoIndex int    `json:"video_index"`
	Rating     int    `json:"rating"`
	Text       string `json:"text,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

type LineFeedback struct {
	LineNumber      int             `json:"line_number"`
	Feedback        []VideoFeedback `json:"feedback"`
	AverageRating   float64         `json:"average_rating,omitempty"`
	TotalRatings    int             `json:"total_ratings,omitempty"`
	CombinedComment string          `json:"combined_comment,omitempty"`
}

// FeedbackSummary is returned by GET /api/feedback/summary/:id.
type FeedbackSummary struct {
	SubmissionID         string         `json:"submission_id"`
	LineFeedbacks        []LineFeedback `json:"line_feedbacks"`
	OverallRating        float64        `json:"overall_rating,omitempty"`
	CompletionPercentage float64        `json:"completion_percentage,omitempty"`
}

type wireFeedback struct {
	Rating *int    `json:"rating"`
	Text   *string `json:"text"`
}

type wireVideo struct {
	VideoURL       string        `json:"video_url"`
	StartTimestamp float64       `json:"start_timestamp"`
	EndTimestamp   float64       `json:"end_timestamp"`
	Description    string        `json:"description"`
	RelevanceScore float64       `json:"relevance_score"`
	Feedback       *wireFeedback `json:"feedback"`
	VideoTitle     string        `json:"video_title,omitempty"`
	ChannelName    string        `json:"channel_name,omitempty"`
	ThumbnailURL   string        `json:"thumbnail_url,omitempty"`
}

type wireLine struct {
	LineNumber   int         `json:"line_number"`
	LineText     string      `json:"line_text"`
	SearchPhrase string      `json:"search_phrase"`
	Videos       []wireVideo `json:"videos"`
}

type wireSubmission struct {
	ID                  string     `json:"_id"`
	SubmissionID        string     `json:"submission_id"`
	UserID              string     `json:"user_id"`
	UserEmail           string     `json:"user_email"`
	SubmissionTimestamp string     `json:"submission_timestamp"`
	CreatedAt           string     `json:"created_at"`
	ScriptText          string     `json:"script_text"`
	Status              string     `json:"status"`
	Message             string     `json:"message"`
	Error               string     `json:"error"`
	Lines               []wireLine `json:"lines"`
	TotalLines          int        `json:"total_lines"`
}

func (w wireSubmission) id() string {
	if w.ID != "" {
		return w.ID
	}
	return w.SubmissionID
}

// toDomain normalises a backend payload. A missing status counts as completed;
// a failed job without a message reports its error field.
func (w wireSubmission) toDomain() *domain.Submission {
	status, ok := domain.ParseStatus(w.Status)
	if !ok {
		status = domain.StatusCompleted
	}

	owner := w.UserEmail
	if owner == "" {
		owner = w.UserID
	}

	created := parseTime(w.SubmissionTimestamp)
	if created.IsZero() {
		created = parseTime(w.CreatedAt)
	}

	message := w.Message
	if status == domain.StatusError && message == "" {
		message = w.Error
	}

	return &domain.Submission{
		ID:            w.id(),
		OwnerIdentity: owner,
		ScriptText:    w.ScriptText,
		Status:        status,
		Message:       message,
		Lines:         linesToDomain(w.Lines),
		TotalLines:    w.TotalLines,
		CreatedAt:     created,
	}
}

func linesToDomain(in []wireLine) []domain.Line {
	out := make([]domain.Line, 0, len(in))
	for i, l := range in {
		number := l.LineNumber
		if number == 0 {
			number = i + 1
		}
		line := domain.Line{
			Index:        i,
			Number:       number,
			Text:         l.LineText,
			SearchPhrase: l.SearchPhrase,
			Videos:       make([]domain.VideoCandidate, 0, len(l.Videos)),
		}
		for j, v := range l.Videos {
			if v.EndTimestamp <= v.StartTimestamp {
				continue
			}
			line.Videos = append(line.Videos, domain.VideoCandidate{
				Index:          j,
				SourceURL:      v.VideoURL,
				StartOffset:    v.StartTimestamp,
				EndOffset:      v.EndTimestamp,
				RelevanceScore: v.RelevanceScore,
				Description:    v.Description,
				Title:          v.VideoTitle,
				ChannelName:    v.ChannelName,
				ThumbnailURL:   v.ThumbnailURL,
				Feedback:       v.Feedback.toDomain(),
			})
		}
		out = append(out, line)
	}
	return out
}

// toDomain returns nil unless both a rating and a non-empty comment are present.
func (f *wireFeedback) toDomain() *domain.Feedback {
	if f == nil || f.Rating == nil || f.Text == nil {
		return nil
	}
	if strings.TrimSpace(*f.Text) == "" {
		return nil
	}
	return &domain.Feedback{Rating: *f.Rating, Comment: *f.Text}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
