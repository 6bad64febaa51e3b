package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xleos/studio/internal/storyboard/domain"
)

// StatusMessage is one frame on the /ws/status/:id channel.
type StatusMessage struct {
	Status       string           `json:"status"`
	Message      string           `json:"message"`
	SubmissionID string           `json:"submission_id"`
	Timestamp    string           `json:"timestamp"`
	Progress     *domain.Progress `json:"progress,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// DecodeStatusMessage parses a push frame into an Event. Frames without a
// recognizable status are rejected with ErrMalformedPayload.
func DecodeStatusMessage(data []byte) (domain.Event, error) {
	var msg StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	status, ok := domain.ParseStatus(msg.Status)
	if !ok {
		return domain.Event{}, fmt.Errorf("%w: missing status", ErrMalformedPayload)
	}

	text := msg.Message
	if status == domain.StatusError && strings.TrimSpace(text) == "" {
		text = msg.Error
	}

	at := parseTime(msg.Timestamp)
	if at.IsZero() {
		at = time.Now()
	}

	return domain.Event{
		SubmissionID: msg.SubmissionID,
		Status:       status,
		Message:      text,
		Progress:     msg.Progress,
		At:           at,
	}, nil
}
