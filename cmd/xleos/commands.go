package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	authdomain "github.com/xleos/studio/internal/auth/domain"
	"github.com/xleos/studio/internal/backend"
	"github.com/xleos/studio/internal/storyboard/domain"
	"github.com/xleos/studio/internal/storyboard/session"
)

const helpText = `commands:
  login | signup                   print the sign-in URL
  callback <code> | callback error=<code>
                                   finish sign-in with the redirect parameters
  status                           show the session and quota
  submit <script> | submit -f <file>
  new                              start over with a new script
  history [query]                  list past submissions
  open <n>                         show submission n from the last listing
  show                             show the current submission
  feedback <line> <video>:<rating>:<comment> ...
                                   rate every video of a line
  summary                          show aggregated ratings for the current submission
  logout
  quit`

type historyEntry struct {
	sub *domain.Submission
}

func (a *app) dispatch(ctx context.Context, input string) (bool, error) {
	cmd, rest := splitCommand(input)
	switch cmd {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(a.out, helpText)
		return false, nil
	case "login", "signup":
		u, err := a.gate.LoginURL(ctx, cmd == "signup")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "Open this URL in your browser, then run: callback <code>\n  %s\n", u)
		return false, nil
	case "callback":
		return false, a.callback(ctx, rest)
	case "status":
		s := a.gate.Snapshot()
		if s.Authenticated() {
			if _, err := a.gate.RefreshQuota(ctx); err != nil {
				a.log.Debug("refresh quota", zap.Error(err))
			}
			s = a.gate.Snapshot()
		}
		a.printSession(s)
		return false, nil
	case "submit":
		return false, a.submit(ctx, rest)
	case "new":
		if err := a.ctrl.NewSession(); err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, "Ready for a new script.")
		return false, nil
	case "history":
		return false, a.listHistory(ctx, rest)
	case "open":
		return false, a.open(ctx, rest)
	case "show":
		a.show(a.store.Snapshot())
		return false, nil
	case "feedback":
		return false, a.feedback(ctx, rest)
	case "summary":
		return false, a.summary(ctx)
	case "logout":
		err := a.gate.Logout(ctx)
		a.ctrl.Close()
		a.store.Clear()
		a.history = nil
		a.persistCookies()
		fmt.Fprintln(a.out, "Signed out.")
		return false, err
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
}

func (a *app) callback(ctx context.Context, arg string) error {
	var code, errCode string
	if v, ok := strings.CutPrefix(arg, "error="); ok {
		errCode = v
	} else {
		code = arg
	}
	s, err := a.gate.CompleteLogin(ctx, code, errCode)
	a.persistCookies()
	if err != nil {
		return err
	}
	a.printSession(s)
	return nil
}

func (a *app) submit(ctx context.Context, arg string) error {
	script := arg
	if path, ok := strings.CutPrefix(arg, "-f "); ok {
		b, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		script = string(b)
	}

	res, err := a.ctrl.Submit(ctx, script)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Submitted %s. Processing started.\n", res.SubmissionID)
	if res.QuotaNotice && !res.Quota.IsAdmin {
		fmt.Fprintf(a.out, "You have %d of %d submissions remaining.\n", res.Quota.Remaining, res.Quota.Total)
	}
	return nil
}

func (a *app) listHistory(ctx context.Context, query string) error {
	subs, err := a.ctrl.History(ctx, query)
	if err != nil {
		return err
	}
	a.history = a.history[:0]
	if len(subs) == 0 {
		fmt.Fprintln(a.out, "No submissions found.")
		return nil
	}
	for i, s := range subs {
		a.history = append(a.history, historyEntry{sub: s})
		fmt.Fprintf(a.out, "%3d  %-10s  %s  %s\n", i+1, s.Status, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Preview())
	}
	return nil
}

func (a *app) open(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(a.history) {
		return fmt.Errorf("open: pick a number from the last history listing")
	}
	if err := a.ctrl.Select(ctx, a.history[n-1].sub); err != nil {
		return err
	}
	a.show(a.store.Snapshot())
	return nil
}

func (a *app) feedback(ctx context.Context, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return fmt.Errorf("usage: feedback <line> <video>:<rating>:<comment> ...")
	}
	lineNo, err := strconv.Atoi(fields[0])
	if err != nil || lineNo < 1 {
		return domain.ErrLineNotFound
	}

	snap := a.store.Snapshot()
	if snap.Submission == nil {
		return domain.ErrNoActiveSubmission
	}
	if lineNo > len(snap.Submission.Lines) {
		return domain.ErrLineNotFound
	}
	videos := len(snap.Submission.Lines[lineNo-1].Videos)

	ratings, err := parseFeedback(strings.TrimSpace(strings.TrimPrefix(arg, fields[0])), videos)
	if err != nil {
		return err
	}
	if err := a.ctrl.RecordFeedback(ctx, lineNo-1, ratings); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Feedback saved for line %d.\n", lineNo)
	return nil
}

func (a *app) summary(ctx context.Context) error {
	id := a.store.CurrentID()
	if id == "" {
		return domain.ErrNoActiveSubmission
	}
	sum, err := a.client.FeedbackSummary(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Overall rating %.1f, %.0f%% of lines rated\n", sum.OverallRating, sum.CompletionPercentage)
	for _, lf := range sum.LineFeedbacks {
		fmt.Fprintf(a.out, "  line %d: %.1f from %d ratings\n", lf.LineNumber, lf.AverageRating, lf.TotalRatings)
	}
	return nil
}

func (a *app) persistCookies() {
	if err := a.client.SaveCookies(a.cfg.Backend.CookieFile); err != nil {
		a.log.Warn("save cookies", zap.Error(err))
	}
}

func (a *app) printSession(s authdomain.Session) {
	switch s.State {
	case authdomain.StateAuthenticated:
		fmt.Fprintf(a.out, "Signed in as %s", displayName(s.User))
		if s.Approval == authdomain.ApprovalPending {
			fmt.Fprint(a.out, " (pending admin approval)")
		}
		fmt.Fprintln(a.out)
		if s.Quota.IsAdmin {
			fmt.Fprintln(a.out, "Submissions: unlimited")
		} else {
			fmt.Fprintf(a.out, "Submissions: %d used, %d of %d remaining\n", s.Quota.Used, s.Quota.Remaining, s.Quota.Total)
		}
	case authdomain.StateError:
		fmt.Fprintf(a.out, "Could not check your session: %v\n", s.Err)
	default:
		fmt.Fprintln(a.out, "Not signed in. Run login or signup.")
	}
}

func (a *app) show(snap session.Snapshot) {
	sub := snap.Submission
	if sub == nil {
		fmt.Fprintln(a.out, "No submission selected.")
		return
	}
	fmt.Fprintln(a.out, statusLine(snap))
	states := sub.LineStates()
	for i, l := range sub.Lines {
		fmt.Fprintf(a.out, "%3d. [%s] %s\n", i+1, states[i], l.Text)
		for j, v := range l.Videos {
			fmt.Fprintf(a.out, "      %d) %s  %.1fs-%.1fs  score %.2f", j+1, v.SourceURL, v.StartOffset, v.EndOffset, v.RelevanceScore)
			if v.Feedback != nil {
				fmt.Fprintf(a.out, "  rated %d: %s", v.Feedback.Rating, v.Feedback.Comment)
			}
			fmt.Fprintln(a.out)
		}
	}
}

func statusLine(snap session.Snapshot) string {
	sub := snap.Submission
	if sub == nil {
		return ""
	}
	line := fmt.Sprintf("[%s] %s", sub.ID, sub.Status)
	msg := snap.Message
	if msg == "" {
		msg = sub.Message
	}
	if snap.Progress != nil && snap.Progress.StageName != "" {
		line += fmt.Sprintf(" %s %.0f%%", snap.Progress.StageName, snap.Progress.OverallProgress)
	}
	if msg != "" {
		line += ": " + msg
	}
	if sub.Status == domain.StatusCompleted {
		line += fmt.Sprintf(" (%d lines)", len(sub.Lines))
	}
	return line
}

func displayName(u authdomain.User) string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return "unknown user"
}

func describe(err error) string {
	if errors.Is(err, backend.ErrUnauthorized) {
		return "your session has expired, run login"
	}
	return err.Error()
}

func splitCommand(input string) (string, string) {
	input = strings.TrimSpace(input)
	cmd, rest, _ := strings.Cut(input, " ")
	return strings.ToLower(cmd), strings.TrimSpace(rest)
}

// parseFeedback reads "<video>:<rating>:<comment>" entries, one per video of
// the line. Comments may contain spaces; an entry ends where the next
// "<n>:<n>:" token starts.
func parseFeedback(arg string, videos int) ([]domain.Feedback, error) {
	out := make([]domain.Feedback, videos)
	seen := make([]bool, videos)

	var cur *domain.Feedback
	for _, tok := range strings.Fields(arg) {
		if pos, rating, comment, ok := feedbackHead(tok); ok {
			if pos < 1 || pos > videos {
				return nil, fmt.Errorf("%w: video %d does not exist", domain.ErrInvalidFeedback, pos)
			}
			seen[pos-1] = true
			out[pos-1] = domain.Feedback{Rating: rating, Comment: comment}
			cur = &out[pos-1]
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: expected <video>:<rating>:<comment>, got %q", domain.ErrInvalidFeedback, tok)
		}
		cur.Comment = strings.TrimSpace(cur.Comment + " " + tok)
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: video %d has no rating", domain.ErrInvalidFeedback, i+1)
		}
	}
	return out, nil
}

func feedbackHead(tok string) (int, int, string, bool) {
	parts := strings.SplitN(tok, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", false
	}
	pos, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, "", false
	}
	rating, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, "", false
	}
	return pos, rating, parts[2], true
}

// syncWriter serializes prompt output with updates printed by the observer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
