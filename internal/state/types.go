package state

import "time"

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	InvocationOK    = "ok"
	InvocationError = "error"
)

type AppendixRef struct {
	Ref  string
	Name string
	Size int64
}

type SubmissionRecord struct {
	ID           string
	SessionID    string
	OverlayID    string
	DocumentName string
	DocumentRef  string
	Appendices   []AppendixRef
	SubmittedBy  string
	Status       string
	OverallScore *int
	Message      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InvocationRecord is one attempt at one agent stage. Records are append-only;
// a retry appends a new record with the next attempt number rather than
// mutating the failed one.
type InvocationRecord struct {
	SubmissionID string
	AgentKind    string
	Attempt      int
	Model        string
	InputTokens  int
	OutputTokens int
	CallCount    int
	Status       string
	Error        string
	Result       string
	CreatedAt    time.Time
	ClosedAt     time.Time
}

type FeedbackItem struct {
	Text        string
	CriterionID string
}

type FeedbackRecord struct {
	SubmissionID    string
	OverallScore    *int
	Narrative       string
	Strengths       []FeedbackItem
	Weaknesses      []FeedbackItem
	Recommendations []FeedbackItem
	Partial         bool
	DegradedAgents  []string
	CreatedAt       time.Time
}

type QuestionRecord struct {
	ID           string
	SubmissionID string
	Text         string
	Priority     string
	CreatedAt    time.Time
}

type AnswerRecord struct {
	ID         string
	QuestionID string
	Text       string
	Author     string
	CreatedAt  time.Time
}

type SubmissionRef struct {
	SubmissionID string
}

type QueueClaim struct {
	Ref       SubmissionRef
	Receipt   string
	ClaimedBy string
	ClaimedAt time.Time
	VisibleAt time.Time
}

type SubmissionQuery struct {
	SessionID string
	Status    string
	Limit     int
	Offset    int
}

func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether a submission status admits no further transition.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
