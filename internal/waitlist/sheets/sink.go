// Package sheets appends waitlist rows to a Google spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/xleos/studio/internal/waitlist/domain"
)

const scopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"

var ErrMissingCredentials = errors.New("missing Google service account credentials")

// Sink appends signups to one sheet range.
type Sink struct {
	svc     *gsheets.Service
	sheetID string
	rng     string
}

// NewServiceAccountSink authenticates with a service account email and PEM key.
func NewServiceAccountSink(ctx context.Context, email, privateKey, sheetID, rng string) (*Sink, error) {
	if email == "" || privateKey == "" {
		return nil, ErrMissingCredentials
	}
	conf := &jwt.Config{
		Email:      email,
		PrivateKey: []byte(privateKey),
		Scopes:     []string{scopeSpreadsheets},
		TokenURL:   google.JWTTokenURL,
	}
	return NewSink(ctx, sheetID, rng, option.WithHTTPClient(conf.Client(ctx)))
}

// NewSink builds a sink from explicit client options.
func NewSink(ctx context.Context, sheetID, rng string, opts ...option.ClientOption) (*Sink, error) {
	if sheetID == "" {
		return nil, errors.New("sheet id is required")
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Sink{svc: svc, sheetID: sheetID, rng: rng}, nil
}

// Append writes the signup as a single RAW row.
func (s *Sink) Append(ctx context.Context, signup domain.Signup) error {
	vr := &gsheets.ValueRange{Values: [][]any{signup.Row()}}
	_, err := s.svc.Spreadsheets.Values.Append(s.sheetID, s.rng, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("google sheets append: %w", err)
	}
	return nil
}
