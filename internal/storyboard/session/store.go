// Package session holds the current submission and view mode shown to the user.
package session

import (
	"sync"

	"github.com/xleos/studio/internal/storyboard/domain"
)

// Snapshot is a read-only copy of the store.
type Snapshot struct {
	Submission *domain.Submission
	View       domain.ViewMode
	Message    string
	Progress   *domain.Progress
}

// LineStates is a convenience over Submission.LineStates for an empty store.
func (s Snapshot) LineStates() []domain.LineState {
	if s.Submission == nil {
		return nil
	}
	return s.Submission.LineStates()
}

// Store is a mutex guarded state container. Terminal statuses never change
// once set; every mutation that targets a submission id other than the current
// one fails with ErrStaleSubmission.
type Store struct {
	mu       sync.RWMutex
	current  *domain.Submission
	view     domain.ViewMode
	message  string
	progress *domain.Progress

	watchers map[int]chan struct{}
	nextID   int
}

func NewStore() *Store {
	return &Store{
		view:     domain.ViewInput,
		watchers: make(map[int]chan struct{}),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Submission: s.current.Clone(),
		View:       s.view,
		Message:    s.message,
	}
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	return snap
}

// CurrentID returns the id of the current submission, or "".
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// Watch returns a channel that receives a signal after each change. Signals
// coalesce; read Snapshot after waking up.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Begin replaces the store content with a freshly submitted script.
func (s *Store) Begin(sub *domain.Submission) {
	s.update(func() bool {
		cp := sub.Clone()
		cp.Status = domain.StatusProcessing
		cp.Lines = []domain.Line{}
		s.current = cp
		s.view = domain.ViewTimeline
		s.message = domain.MsgProcessingStarted
		s.progress = nil
		return true
	})
}

// Select shows an existing submission.
func (s *Store) Select(sub *domain.Submission) {
	s.update(func() bool {
		s.current = sub.Clone()
		s.view = domain.ViewTimeline
		s.message = sub.Message
		s.progress = nil
		return true
	})
}

// Clear drops the current submission and returns to script input.
func (s *Store) Clear() {
	s.update(func() bool {
		s.current = nil
		s.view = domain.ViewInput
		s.message = ""
		s.progress = nil
		return true
	})
}

func (s *Store) SetView(v domain.ViewMode) {
	s.update(func() bool {
		if s.view == v {
			return false
		}
		s.view = v
		return true
	})
}

// ApplyProcessing records progress for a processing submission. It is a no-op
// once the submission is terminal.
func (s *Store) ApplyProcessing(id, message string, progress *domain.Progress) (bool, error) {
	return s.mutate(id, func(cur *domain.Submission) bool {
		if cur.Status.IsTerminal() {
			return false
		}
		cur.Status = domain.StatusProcessing
		if message != "" {
			s.message = message
		}
		if progress != nil {
			p := *progress
			s.progress = &p
			if progress.TotalLines > 0 {
				cur.TotalLines = progress.TotalLines
			}
		}
		return true
	})
}

// MarkCompleted moves the submission to completed. changed is false when it
// was already terminal.
func (s *Store) MarkCompleted(id string) (bool, error) {
	return s.mutate(id, func(cur *domain.Submission) bool {
		if cur.Status.IsTerminal() {
			return false
		}
		cur.Status = domain.StatusCompleted
		s.message = ""
		s.progress = nil
		return true
	})
}

// MarkFailed moves the submission to error with a display message.
func (s *Store) MarkFailed(id, message string) (bool, error) {
	return s.mutate(id, func(cur *domain.Submission) bool {
		if cur.Status.IsTerminal() {
			return false
		}
		cur.Status = domain.StatusError
		cur.Message = message
		s.message = message
		s.progress = nil
		return true
	})
}

// ReplaceLines overwrites the lines with an authoritative result. Server
// feedback wins where present; local feedback is kept where the server has none.
func (s *Store) ReplaceLines(id string, lines []domain.Line) error {
	_, err := s.mutate(id, func(cur *domain.Submission) bool {
		merged := domain.CloneLines(lines)
		if merged == nil {
			merged = []domain.Line{}
		}
		mergeLocalFeedback(merged, cur.Lines)
		cur.Lines = merged
		if cur.TotalLines < len(merged) {
			cur.TotalLines = len(merged)
		}
		return true
	})
	return err
}

// SetMessage sets the user-facing message for the current submission.
func (s *Store) SetMessage(id, message string) error {
	_, err := s.mutate(id, func(*domain.Submission) bool {
		if s.message == message {
			return false
		}
		s.message = message
		return true
	})
	return err
}

// RecordFeedback writes feedback onto the video at position videoPos of line
// lineIndex. Only completed submissions accept feedback.
func (s *Store) RecordFeedback(id string, lineIndex, videoPos int, fb domain.Feedback) error {
	if err := fb.Validate(); err != nil {
		return err
	}
	var ferr error
	_, err := s.mutate(id, func(cur *domain.Submission) bool {
		if cur.Status != domain.StatusCompleted {
			ferr = domain.ErrSubmissionNotReady
			return false
		}
		if lineIndex < 0 || lineIndex >= len(cur.Lines) {
			ferr = domain.ErrLineNotFound
			return false
		}
		videos := cur.Lines[lineIndex].Videos
		if videoPos < 0 || videoPos >= len(videos) {
			ferr = domain.ErrLineNotFound
			return false
		}
		cp := fb
		videos[videoPos].Feedback = &cp
		return true
	})
	if err != nil {
		return err
	}
	return ferr
}

func (s *Store) mutate(id string, fn func(cur *domain.Submission) bool) (bool, error) {
	var changed bool
	var err error
	s.update(func() bool {
		if s.current == nil {
			err = domain.ErrNoActiveSubmission
			return false
		}
		if s.current.ID != id {
			err = domain.ErrStaleSubmission
			return false
		}
		changed = fn(s.current)
		return changed
	})
	return changed, err
}

func (s *Store) update(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	var notify []chan struct{}
	if changed {
		notify = make([]chan struct{}, 0, len(s.watchers))
		for _, ch := range s.watchers {
			notify = append(notify, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range notify {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func mergeLocalFeedback(fresh, previous []domain.Line) {
	type key struct{ line, video int }
	local := make(map[key]domain.Feedback)
	for _, l := range previous {
		for _, v := range l.Videos {
			if v.Feedback != nil {
				local[key{l.Number, v.Index}] = *v.Feedback
			}
		}
	}
	if len(local) == 0 {
		return
	}
	for i := range fresh {
		for j := range fresh[i].Videos {
			v := &fresh[i].Videos[j]
			if v.Feedback != nil {
				continue
			}
			if fb, ok := local[key{fresh[i].Number, v.Index}]; ok {
				cp := fb
				v.Feedback = &cp
			}
		}
	}
}
