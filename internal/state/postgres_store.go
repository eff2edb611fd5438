package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/futurisms/overlay-platform-sub000/db/migrations"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if !hasSQLDriver("pgx") {
		return nil, errors.New("pgx SQL driver is not linked; import github.com/jackc/pgx/v5/stdlib")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func hasSQLDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := p.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (p *PostgresStore) CreateSubmission(ctx context.Context, sub SubmissionRecord) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Status == "" {
		sub.Status = StatusPending
	}
	appendices, err := json.Marshal(sub.Appendices)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO submissions (id, session_id, overlay_id, document_name, document_ref, appendices_json, submitted_by, status, overall_score, message, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sub.ID, sub.SessionID, sub.OverlayID, sub.DocumentName, sub.DocumentRef, string(appendices), sub.SubmittedBy, sub.Status, nullInt(sub.OverallScore), sub.Message, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetSubmission(ctx context.Context, id string) (SubmissionRecord, bool, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, session_id, overlay_id, document_name, document_ref, appendices_json, submitted_by, status, overall_score, message, created_at, updated_at
		 FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SubmissionRecord{}, false, nil
	}
	if err != nil {
		return SubmissionRecord{}, false, err
	}
	return sub, true, nil
}

func (p *PostgresStore) ListSubmissions(ctx context.Context, query SubmissionQuery) ([]SubmissionRecord, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if query.SessionID != "" {
		args = append(args, query.SessionID)
		where = append(where, fmt.Sprintf("session_id=$%d", len(args)))
	}
	if query.Status != "" {
		args = append(args, query.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM submissions`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, session_id, overlay_id, document_name, document_ref, appendices_json, submitted_by, status, overall_score, message, created_at, updated_at
		 FROM submissions`+cond+fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]SubmissionRecord, 0, limit)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sub)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) UpdateSubmissionStatus(ctx context.Context, id, status, message string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := transitionTx(ctx, tx, id, status, message, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CompleteSubmission(ctx context.Context, id string, score *int, feedback FeedbackRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := transitionTx(ctx, tx, id, StatusCompleted, "", score); err != nil {
		return err
	}
	strengths, err := json.Marshal(feedback.Strengths)
	if err != nil {
		return err
	}
	weaknesses, err := json.Marshal(feedback.Weaknesses)
	if err != nil {
		return err
	}
	recommendations, err := json.Marshal(feedback.Recommendations)
	if err != nil {
		return err
	}
	degraded, err := json.Marshal(feedback.DegradedAgents)
	if err != nil {
		return err
	}
	createdAt := feedback.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feedback (submission_id, overall_score, narrative, strengths_json, weaknesses_json, recommendations_json, partial, degraded_json, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		id, nullInt(feedback.OverallScore), feedback.Narrative, string(strengths), string(weaknesses), string(recommendations), feedback.Partial, string(degraded), createdAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// transitionTx enforces monotonic status transitions under a row lock.
func transitionTx(ctx context.Context, tx *sql.Tx, id, status, message string, score *int) error {
	if statusRank(status) < 0 {
		return fmt.Errorf("unknown status %q", status)
	}
	var current string
	err := tx.QueryRowContext(ctx, `SELECT status FROM submissions WHERE id=$1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("submission %s not found", id)
	}
	if err != nil {
		return err
	}
	if IsTerminal(current) || statusRank(status) <= statusRank(current) {
		return fmt.Errorf("illegal transition %s -> %s for submission %s", current, status, id)
	}
	if score != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE submissions SET status=$2, overall_score=$3, updated_at=$4 WHERE id=$1`,
			id, status, *score, time.Now().UTC())
		return err
	}
	if message != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE submissions SET status=$2, message=$3, updated_at=$4 WHERE id=$1`,
			id, status, message, time.Now().UTC())
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE submissions SET status=$2, updated_at=$3 WHERE id=$1`,
		id, status, time.Now().UTC())
	return err
}

func (p *PostgresStore) AppendInvocation(ctx context.Context, inv InvocationRecord) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.ClosedAt.IsZero() {
		inv.ClosedAt = inv.CreatedAt
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO agent_invocations (submission_id, agent_kind, attempt, model, input_tokens, output_tokens, call_count, status, error_text, result_json, created_at, closed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		inv.SubmissionID, inv.AgentKind, inv.Attempt, inv.Model, inv.InputTokens, inv.OutputTokens, inv.CallCount, inv.Status, inv.Error, inv.Result, inv.CreatedAt, inv.ClosedAt,
	)
	return err
}

func (p *PostgresStore) ListInvocations(ctx context.Context, submissionID string) ([]InvocationRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT submission_id, agent_kind, attempt, model, input_tokens, output_tokens, call_count, status, error_text, result_json, created_at, closed_at
		 FROM agent_invocations WHERE submission_id=$1 ORDER BY id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]InvocationRecord, 0, 8)
	for rows.Next() {
		var inv InvocationRecord
		if err := rows.Scan(&inv.SubmissionID, &inv.AgentKind, &inv.Attempt, &inv.Model, &inv.InputTokens, &inv.OutputTokens, &inv.CallCount, &inv.Status, &inv.Error, &inv.Result, &inv.CreatedAt, &inv.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetFeedback(ctx context.Context, submissionID string) (FeedbackRecord, bool, error) {
	var (
		fb              FeedbackRecord
		score           sql.NullInt64
		strengths       string
		weaknesses      string
		recommendations string
		degraded        string
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT submission_id, overall_score, narrative, strengths_json, weaknesses_json, recommendations_json, partial, degraded_json, created_at
		 FROM feedback WHERE submission_id=$1`, submissionID,
	).Scan(&fb.SubmissionID, &score, &fb.Narrative, &strengths, &weaknesses, &recommendations, &fb.Partial, &degraded, &fb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FeedbackRecord{}, false, nil
	}
	if err != nil {
		return FeedbackRecord{}, false, err
	}
	if score.Valid {
		v := int(score.Int64)
		fb.OverallScore = &v
	}
	if err := json.Unmarshal([]byte(strengths), &fb.Strengths); err != nil {
		return FeedbackRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(weaknesses), &fb.Weaknesses); err != nil {
		return FeedbackRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(recommendations), &fb.Recommendations); err != nil {
		return FeedbackRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(degraded), &fb.DegradedAgents); err != nil {
		return FeedbackRecord{}, false, err
	}
	return fb, true, nil
}

func (p *PostgresStore) CreateQuestion(ctx context.Context, q QuestionRecord) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO questions (id, submission_id, question_text, priority, created_at) VALUES ($1,$2,$3,$4,$5)`,
		q.ID, q.SubmissionID, q.Text, q.Priority, q.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetQuestion(ctx context.Context, questionID string) (QuestionRecord, bool, error) {
	var q QuestionRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT id, submission_id, question_text, priority, created_at FROM questions WHERE id=$1`, questionID,
	).Scan(&q.ID, &q.SubmissionID, &q.Text, &q.Priority, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return QuestionRecord{}, false, nil
	}
	if err != nil {
		return QuestionRecord{}, false, err
	}
	return q, true, nil
}

func (p *PostgresStore) ListQuestionsBySubmission(ctx context.Context, submissionID string) ([]QuestionRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, submission_id, question_text, priority, created_at FROM questions WHERE submission_id=$1 ORDER BY created_at, id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]QuestionRecord, 0, 8)
	for rows.Next() {
		var q QuestionRecord
		if err := rows.Scan(&q.ID, &q.SubmissionID, &q.Text, &q.Priority, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendAnswer(ctx context.Context, a AnswerRecord) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO answers (id, question_id, answer_text, author, created_at) VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.QuestionID, a.Text, a.Author, a.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListAnswersByQuestion(ctx context.Context, questionID string) ([]AnswerRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, question_id, answer_text, author, created_at FROM answers WHERE question_id=$1 ORDER BY created_at, id`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AnswerRecord, 0, 4)
	for rows.Next() {
		var a AnswerRecord
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Text, &a.Author, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (SubmissionRecord, error) {
	var (
		sub        SubmissionRecord
		appendices string
		score      sql.NullInt64
	)
	if err := row.Scan(&sub.ID, &sub.SessionID, &sub.OverlayID, &sub.DocumentName, &sub.DocumentRef, &appendices, &sub.SubmittedBy, &sub.Status, &score, &sub.Message, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return SubmissionRecord{}, err
	}
	if score.Valid {
		v := int(score.Int64)
		sub.OverallScore = &v
	}
	if appendices != "" {
		if err := json.Unmarshal([]byte(appendices), &sub.Appendices); err != nil {
			return SubmissionRecord{}, err
		}
	}
	return sub, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
