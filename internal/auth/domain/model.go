package domain

import "errors"

// State is the session bootstrap state.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateChecking        State = "checking"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
	StateError           State = "error"
)

// Approval is the admin-approval status of an authenticated account.
type Approval string

const (
	ApprovalApproved Approval = "approved"
	ApprovalPending  Approval = "pending"
	ApprovalUnknown  Approval = "unknown"
)

// ApprovalFrom maps the backend flag onto an Approval.
func ApprovalFrom(approved bool) Approval {
	if approved {
		return ApprovalApproved
	}
	return ApprovalPending
}

// DefaultTotal is the quota assumed when the stats call fails.
const DefaultTotal = 3

// Quota is the server-side submission allowance.
type Quota struct {
	Used      int  `json:"used"`
	Total     int  `json:"total"`
	Remaining int  `json:"remaining"`
	IsAdmin   bool `json:"is_admin"`
}

func DefaultQuota() Quota {
	return Quota{Used: 0, Total: DefaultTotal, Remaining: DefaultTotal}
}

// Exhausted reports whether a non-admin has no submissions left.
func (q Quota) Exhausted() bool {
	return !q.IsAdmin && q.Remaining <= 0
}

// Low reports whether the user should see a non-blocking quota notice.
func (q Quota) Low() bool {
	return q.Used == 0 || (!q.IsAdmin && q.Remaining <= 2)
}

type User struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Session is a point-in-time view of the Auth Gate.
type Session struct {
	State    State    `json:"state"`
	Approval Approval `json:"approval"`
	User     User     `json:"user"`
	Quota    Quota    `json:"quota"`
	Err      error    `json:"-"`
}

// Authenticated reports whether the backend accepted the session cookie.
func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated
}

// Approved reports whether the session may start submissions.
func (s Session) Approved() bool {
	return s.Authenticated() && s.Approval == ApprovalApproved
}

var (
	ErrAuthDenied      = errors.New("sign in was cancelled or denied")
	ErrMissingCode     = errors.New("authorization code missing")
	ErrBootstrapFailed = errors.New("could not verify session after sign in")
	ErrNoLoginURL      = errors.New("no sign in URL available")
)
