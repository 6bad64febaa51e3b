package domain

import "errors"

var (
	ErrNotReady           = errors.New("results not ready")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrNoActiveSubmission = errors.New("no active submission")
	ErrScriptEmpty        = errors.New("please enter your creative vision/script")
	ErrScriptTooLong      = errors.New("script exceeds the maximum length")
	ErrNotAuthenticated   = errors.New("sign in to continue")
	ErrApprovalPending    = errors.New("account is pending admin approval")
	ErrQuotaExhausted     = errors.New("chat limit reached")
	ErrInvalidFeedback    = errors.New("every video needs a rating between 1 and 5 and a comment")
	ErrLineNotFound       = errors.New("line not found")
	ErrSubmissionNotReady = errors.New("submission is not completed")
	ErrStaleSubmission    = errors.New("submission is no longer current")
)

// Messages shown to the user for synthetic terminal events.
const (
	MsgResultsUnavailable = "Results not available. Please try again later."
	MsgConnectionClosed   = "Connection closed before processing finished. Please try again later."
	MsgNoUpdates          = "No status updates received. Please try again later."
	MsgFetchFailed        = "Failed to fetch results."
	MsgProcessingStarted  = "Processing started"
	MsgCheckingResults    = "Checking for results..."
)
