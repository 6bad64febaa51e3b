package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further lifecycle transition may happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ParseStatus maps a backend status string onto a lifecycle status.
// Unknown non-empty values count as progress; ok is false only for an empty value.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", false
	case "completed", "complete", "done":
		return StatusCompleted, true
	case "error", "failed", "failure":
		return StatusError, true
	default:
		return StatusProcessing, true
	}
}

// ViewMode is the screen the user is looking at.
type ViewMode string

const (
	ViewInput    ViewMode = "input"
	ViewTimeline ViewMode = "timeline"
	ViewHistory  ViewMode = "history"
)

// Submission is one script-to-storyboard job.
type Submission struct {
	ID            string    `json:"id"`
	OwnerIdentity string    `json:"owner_identity"`
	ScriptText    string    `json:"script_text"`
	Status        Status    `json:"status"`
	Message       string    `json:"message,omitempty"`
	Lines         []Line    `json:"lines"`
	TotalLines    int       `json:"total_lines,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Line is one storyboard line. Index is the zero-based position, Number the backend line_number.
type Line struct {
	Index        int              `json:"index"`
	Number       int              `json:"number"`
	Text         string           `json:"text"`
	SearchPhrase string           `json:"search_phrase"`
	Videos       []VideoCandidate `json:"videos"`
}

// VideoCandidate is a ranked stock clip for a line. Index is its position in the backend list
// and is what feedback requests address.
type VideoCandidate struct {
	Index          int       `json:"index"`
	SourceURL      string    `json:"source_url"`
	StartOffset    float64   `json:"start_offset"`
	EndOffset      float64   `json:"end_offset"`
	RelevanceScore float64   `json:"relevance_score"`
	Description    string    `json:"description,omitempty"`
	Title          string    `json:"title,omitempty"`
	ChannelName    string    `json:"channel_name,omitempty"`
	ThumbnailURL   string    `json:"thumbnail_url,omitempty"`
	Feedback       *Feedback `json:"feedback,omitempty"`
}

// Duration is the clip length in seconds.
func (v VideoCandidate) Duration() float64 {
	return v.EndOffset - v.StartOffset
}

// Feedback is a user rating for a video candidate.
type Feedback struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

const (
	MinRating = 1
	MaxRating = 5
)

// Validate checks rating bounds and a non-empty comment.
func (f Feedback) Validate() error {
	if f.Rating < MinRating || f.Rating > MaxRating {
		return ErrInvalidFeedback
	}
	if strings.TrimSpace(f.Comment) == "" {
		return ErrInvalidFeedback
	}
	return nil
}

// Complete reports whether every video in the line carries feedback.
func (l Line) Complete() bool {
	if len(l.Videos) == 0 {
		return false
	}
	for _, v := range l.Videos {
		if v.Feedback == nil {
			return false
		}
	}
	return true
}

// LineState is the review state of a line shown in the timeline.
type LineState string

const (
	LineProcessing LineState = "processing"
	LineReady      LineState = "ready"
	LineCompleted  LineState = "completed"
)

// LineStates derives the review state of every line.
func (s *Submission) LineStates() []LineState {
	out := make([]LineState, len(s.Lines))
	for i, l := range s.Lines {
		switch {
		case s.Status != StatusCompleted:
			out[i] = LineProcessing
		case l.Complete():
			out[i] = LineCompleted
		default:
			out[i] = LineReady
		}
	}
	return out
}

// Preview returns the first 80 characters of the script for listings.
func (s *Submission) Preview() string {
	r := []rune(s.ScriptText)
	if len(r) <= 80 {
		return s.ScriptText
	}
	return string(r[:80]) + "…"
}

// Clone returns a deep copy so snapshots never alias store state.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Lines = CloneLines(s.Lines)
	return &cp
}

// CloneLines deep-copies a line slice including feedback pointers.
func CloneLines(lines []Line) []Line {
	if lines == nil {
		return nil
	}
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = l
		out[i].Videos = make([]VideoCandidate, len(l.Videos))
		for j, v := range l.Videos {
			out[i].Videos[j] = v
			if v.Feedback != nil {
				fb := *v.Feedback
				out[i].Videos[j].Feedback = &fb
			}
		}
	}
	return out
}

// Progress is optional stage information attached to push updates.
type Progress struct {
	Stage           string  `json:"stage"`
	StageName       string  `json:"stage_name"`
	OverallProgress float64 `json:"overall_progress"`
	CurrentLine     int     `json:"current_line,omitempty"`
	TotalLines      int     `json:"total_lines"`
	DetailedMessage string  `json:"detailed_message"`
}

// Event is one lifecycle update for a submission, produced by an update channel.
type Event struct {
	SubmissionID string
	Status       Status
	Message      string
	Progress     *Progress
	// Lines is set when the transport delivered result data; the reconciler
	// still performs the authoritative fetch on completion.
	Lines     []Line
	Synthetic bool
	At        time.Time
}
