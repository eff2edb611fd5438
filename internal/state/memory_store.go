package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu          sync.Mutex
	submissions map[string]SubmissionRecord
	invocations map[string][]InvocationRecord
	feedback    map[string]FeedbackRecord
	questions   map[string]QuestionRecord
	answers     map[string][]AnswerRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[string]SubmissionRecord),
		invocations: make(map[string][]InvocationRecord),
		feedback:    make(map[string]FeedbackRecord),
		questions:   make(map[string]QuestionRecord),
		answers:     make(map[string][]AnswerRecord),
	}
}

func (m *MemoryStore) CreateSubmission(_ context.Context, sub SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[sub.ID]; ok {
		return fmt.Errorf("submission %s already exists", sub.ID)
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Status == "" {
		sub.Status = StatusPending
	}
	m.submissions[sub.ID] = sub
	return nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, id string) (SubmissionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	return sub, ok, nil
}

func (m *MemoryStore) ListSubmissions(_ context.Context, query SubmissionQuery) ([]SubmissionRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := make([]SubmissionRecord, 0, len(m.submissions))
	for _, s := range m.submissions {
		if query.SessionID != "" && s.SessionID != query.SessionID {
			continue
		}
		if query.Status != "" && s.Status != query.Status {
			continue
		}
		filtered = append(filtered, s)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	total := len(filtered)
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	items := filtered[offset:]
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit < len(items) {
		items = items[:limit]
	}
	out := make([]SubmissionRecord, len(items))
	copy(out, items)
	return out, total, nil
}

func (m *MemoryStore) UpdateSubmissionStatus(_ context.Context, id, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, status, message, nil)
}

func (m *MemoryStore) CompleteSubmission(_ context.Context, id string, score *int, feedback FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(id, StatusCompleted, "", score); err != nil {
		return err
	}
	feedback.SubmissionID = id
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	m.feedback[id] = feedback
	return nil
}

func (m *MemoryStore) transitionLocked(id, status, message string, score *int) error {
	sub, ok := m.submissions[id]
	if !ok {
		return fmt.Errorf("submission %s not found", id)
	}
	if statusRank(status) < 0 {
		return fmt.Errorf("unknown status %q", status)
	}
	if IsTerminal(sub.Status) || statusRank(status) <= statusRank(sub.Status) {
		return fmt.Errorf("illegal transition %s -> %s for submission %s", sub.Status, status, id)
	}
	sub.Status = status
	if message != "" {
		sub.Message = message
	}
	if score != nil {
		v := *score
		sub.OverallScore = &v
	}
	sub.UpdatedAt = time.Now().UTC()
	m.submissions[id] = sub
	return nil
}

func (m *MemoryStore) AppendInvocation(_ context.Context, inv InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.ClosedAt.IsZero() {
		inv.ClosedAt = inv.CreatedAt
	}
	for _, existing := range m.invocations[inv.SubmissionID] {
		if existing.AgentKind == inv.AgentKind && existing.Attempt == inv.Attempt {
			return fmt.Errorf("invocation %s/%s attempt %d already recorded", inv.SubmissionID, inv.AgentKind, inv.Attempt)
		}
	}
	m.invocations[inv.SubmissionID] = append(m.invocations[inv.SubmissionID], inv)
	return nil
}

func (m *MemoryStore) ListInvocations(_ context.Context, submissionID string) ([]InvocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.invocations[submissionID]
	out := make([]InvocationRecord, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryStore) GetFeedback(_ context.Context, submissionID string) (FeedbackRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb, ok := m.feedback[submissionID]
	return fb, ok, nil
}

func (m *MemoryStore) CreateQuestion(_ context.Context, q QuestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[q.ID]; ok {
		return fmt.Errorf("question %s already exists", q.ID)
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	m.questions[q.ID] = q
	return nil
}

func (m *MemoryStore) GetQuestion(_ context.Context, questionID string) (QuestionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	return q, ok, nil
}

func (m *MemoryStore) ListQuestionsBySubmission(_ context.Context, submissionID string) ([]QuestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QuestionRecord, 0, 8)
	for _, q := range m.questions {
		if q.SubmissionID == submissionID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) AppendAnswer(_ context.Context, a AnswerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[a.QuestionID]; !ok {
		return fmt.Errorf("question %s not found", a.QuestionID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.answers[a.QuestionID] = append(m.answers[a.QuestionID], a)
	return nil
}

func (m *MemoryStore) ListAnswersByQuestion(_ context.Context, questionID string) ([]AnswerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.answers[questionID]
	out := make([]AnswerRecord, len(src))
	copy(out, src)
	return out, nil
}
