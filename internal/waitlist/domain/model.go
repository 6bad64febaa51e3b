package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Request is the body of POST /api/collect-email.
type Request struct {
	FullName string `json:"fullName"`
	Address  string `json:"address"`
	Role     string `json:"role"`
	Company  string `json:"company"`
	Use      string `json:"use"`
}

// Signup is a normalised waitlist entry.
type Signup struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Company   string    `json:"company"`
	Use       string    `json:"use"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Row is the spreadsheet layout: name, email, role, company, use, timestamp, source.
func (s Signup) Row() []any {
	return []any{
		s.FullName,
		s.Email,
		s.Role,
		s.Company,
		s.Use,
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		s.Source,
	}
}

var (
	ErrDuplicate  = errors.New("this email is already on the waitlist")
	ErrSinkFailed = errors.New("failed to save to waitlist. Please try again.")
)

// ValidationError carries the user-facing reason a request was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate checks required fields and returns the normalised signup.
func (r Request) Validate() (Signup, error) {
	if r.FullName == "" || r.Address == "" || r.Role == "" || r.Use == "" {
		return Signup{}, &ValidationError{Message: "Full name, email, role, and use case are required"}
	}
	if !emailPattern.MatchString(strings.TrimSpace(r.Address)) {
		return Signup{}, &ValidationError{Message: "Please enter a valid email address"}
	}
	if utf8.RuneCountInString(r.FullName) < 2 {
		return Signup{}, &ValidationError{Message: "Name must be at least 2 characters"}
	}
	if utf8.RuneCountInString(r.Use) < 10 {
		return Signup{}, &ValidationError{Message: "Please provide more details about how you plan to use Xleos"}
	}

	return Signup{
		FullName: strings.TrimSpace(r.FullName),
		Email:    strings.ToLower(strings.TrimSpace(r.Address)),
		Role:     r.Role,
		Company:  strings.TrimSpace(r.Company),
		Use:      strings.TrimSpace(r.Use),
	}, nil
}
