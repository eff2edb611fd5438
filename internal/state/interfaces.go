package state

import (
	"context"
	"time"
)

// Store persists submissions, their invocation history, assembled feedback,
// and clarification questions/answers. Submission status writes are
// single-writer (the coordinator); all reads may happen concurrently.
type Store interface {
	CreateSubmission(ctx context.Context, sub SubmissionRecord) error
	GetSubmission(ctx context.Context, id string) (SubmissionRecord, bool, error)
	ListSubmissions(ctx context.Context, query SubmissionQuery) ([]SubmissionRecord, int, error)
	// UpdateSubmissionStatus enforces the monotonic lifecycle: any write that
	// would move a submission backwards, or out of a terminal state, fails.
	UpdateSubmissionStatus(ctx context.Context, id, status, message string) error
	// CompleteSubmission writes the feedback record and the completed status
	// in one atomic step so readers never observe one without the other.
	CompleteSubmission(ctx context.Context, id string, score *int, feedback FeedbackRecord) error

	AppendInvocation(ctx context.Context, inv InvocationRecord) error
	ListInvocations(ctx context.Context, submissionID string) ([]InvocationRecord, error)

	GetFeedback(ctx context.Context, submissionID string) (FeedbackRecord, bool, error)

	CreateQuestion(ctx context.Context, q QuestionRecord) error
	GetQuestion(ctx context.Context, questionID string) (QuestionRecord, bool, error)
	ListQuestionsBySubmission(ctx context.Context, submissionID string) ([]QuestionRecord, error)
	AppendAnswer(ctx context.Context, a AnswerRecord) error
	ListAnswersByQuestion(ctx context.Context, questionID string) ([]AnswerRecord, error)
}

// Queue hands pending submission refs to coordinator workers. Claims carry a
// visibility timeout; unacked claims become visible again after it elapses.
type Queue interface {
	Enqueue(ctx context.Context, ref SubmissionRef) error
	Claim(ctx context.Context, max int, consumer string, visibilityTimeout time.Duration) ([]QueueClaim, error)
	Ack(ctx context.Context, claims []QueueClaim) error
	Nack(ctx context.Context, claims []QueueClaim, reason string) error
	RequeueExpired(ctx context.Context, now time.Time, max int) (int, error)
	ListDeadLetters(ctx context.Context, limit int) ([]SubmissionRef, error)
}
