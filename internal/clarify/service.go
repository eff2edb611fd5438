// Package clarify manages the question-and-answer side channel. Questions
// are emitted by the clarification agent during evaluation; answers arrive
// from reviewers at any time afterwards, including after the submission has
// reached a terminal status. Answers never feed back into scoring.
package clarify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
	"github.com/futurisms/overlay-platform-sub000/internal/observability"
	"github.com/futurisms/overlay-platform-sub000/internal/state"
)

type Service struct {
	store state.Store
}

func NewService(store state.Store) *Service {
	return &Service{store: store}
}

// EmitQuestions records the questions an agent produced for a submission.
// Empty question texts are dropped rather than rejected; the agent output is
// advisory and a blank line should not fail the stage.
func (s *Service) EmitQuestions(ctx context.Context, submissionID string, questions []agents.Question) ([]state.QuestionRecord, error) {
	var out []state.QuestionRecord
	for _, q := range questions {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		rec := state.QuestionRecord{
			ID:           uuid.NewString(),
			SubmissionID: submissionID,
			Text:         text,
			Priority:     q.Priority,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.store.CreateQuestion(ctx, rec); err != nil {
			return out, fmt.Errorf("create question: %w", err)
		}
		observability.Default.IncCounter("clarify_questions_emitted_total", nil, 1)
		out = append(out, rec)
	}
	return out, nil
}

// SubmitAnswer appends an answer to an existing question. The question must
// exist and the answer text must be non-empty; the submission's status is
// irrelevant.
func (s *Service) SubmitAnswer(ctx context.Context, questionID, text, author string) (state.AnswerRecord, error) {
	if strings.TrimSpace(text) == "" {
		return state.AnswerRecord{}, fmt.Errorf("answer text is required")
	}
	_, ok, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return state.AnswerRecord{}, fmt.Errorf("question %s: %w", questionID, err)
	}
	if !ok {
		return state.AnswerRecord{}, fmt.Errorf("question %s not found", questionID)
	}
	rec := state.AnswerRecord{
		ID:         uuid.NewString(),
		QuestionID: questionID,
		Text:       text,
		Author:     author,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendAnswer(ctx, rec); err != nil {
		return state.AnswerRecord{}, fmt.Errorf("append answer: %w", err)
	}
	observability.Default.IncCounter("clarify_answers_total", nil, 1)
	return rec, nil
}

// Thread is a question with its answers in arrival order.
type Thread struct {
	Question state.QuestionRecord
	Answers  []state.AnswerRecord
}

// Threads returns every question for a submission with nested answers.
func (s *Service) Threads(ctx context.Context, submissionID string) ([]Thread, error) {
	questions, err := s.store.ListQuestionsBySubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	threads := make([]Thread, 0, len(questions))
	for _, q := range questions {
		answers, err := s.store.ListAnswersByQuestion(ctx, q.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers for %s: %w", q.ID, err)
		}
		threads = append(threads, Thread{Question: q, Answers: answers})
	}
	return threads, nil
}
