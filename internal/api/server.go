// Package api serves the submission HTTP surface: intake, status polling,
// feedback retrieval, the clarification Q&A channel, and the admin usage
// report.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/futurisms/overlay-platform-sub000/internal/blob"
	"github.com/futurisms/overlay-platform-sub000/internal/clarify"
	"github.com/futurisms/overlay-platform-sub000/internal/observability"
	"github.com/futurisms/overlay-platform-sub000/internal/state"
	"github.com/futurisms/overlay-platform-sub000/internal/usage"
	"github.com/futurisms/overlay-platform-sub000/pkg/overlayapi"
)

// usageScanMax bounds how many submissions the usage report aggregates per
// request; cost and token sorts need the aggregates in hand before ordering.
const usageScanMax = 1000

type Server struct {
	store   state.Store
	queue   state.Queue
	blobs   blob.Store
	clarify *clarify.Service
	rates   usage.RateTable
	auth    *authorizer
	limiter *submitLimiter
}

func NewServer(store state.Store, queue state.Queue, blobs blob.Store, rates usage.RateTable) *Server {
	return &Server{
		store:   store,
		queue:   queue,
		blobs:   blobs,
		clarify: clarify.NewService(store),
		rates:   rates,
		auth:    newAuthorizerFromEnv(),
		limiter: newSubmitLimiterFromEnv(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(withTracing, withLogging)
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/metrics", s.handleMetrics)
	r.Get("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	r.Route("/v1/submissions", func(r chi.Router) {
		r.Post("/", s.handleCreateSubmission)
		r.Route("/{submissionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSubmission)
			r.Get("/feedback", s.handleGetFeedback)
			r.Get("/answers", s.handleListAnswers)
			r.Post("/answers", s.handleSubmitAnswer)
			r.Get("/document", s.handleDocumentURL)
		})
	})
	r.Get("/v1/admin/usage", s.handleUsageReport)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "metrics", "admin"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "metrics", "admin"); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "submission:submit", "admin"); !ok {
		return
	}
	var req overlayapi.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.DocumentName) == "" {
		writeError(w, http.StatusBadRequest, "document_name is required")
		return
	}
	docBody, err := decodeDocument(req.DocumentContent, req.IsPastedText)
	if err != nil {
		writeError(w, http.StatusBadRequest, "document_content must be base64")
		return
	}
	if len(docBody) == 0 {
		writeError(w, http.StatusBadRequest, "document_content is required")
		return
	}
	if len(docBody) > blob.MaxDocumentBytes || req.FileSize > blob.MaxDocumentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "document exceeds size limit")
		return
	}
	if !s.limiter.allow(req.SessionID, time.Now().UTC()) {
		writeError(w, http.StatusTooManyRequests, "submit rate limit exceeded")
		return
	}

	ctx := r.Context()
	id := uuid.NewString()
	docRef := id + "/document"
	if err := s.blobs.Put(ctx, docRef, "text/plain", docBody); err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "document exceeds size limit")
			return
		}
		writeError(w, http.StatusInternalServerError, "storing document failed")
		return
	}
	var appendices []state.AppendixRef
	for i, ap := range req.Appendices {
		body, err := decodeDocument(ap.Content, req.IsPastedText)
		if err != nil || len(body) == 0 {
			writeError(w, http.StatusBadRequest, "appendix "+strconv.Itoa(i)+" content invalid")
			return
		}
		ref := id + "/appendix-" + strconv.Itoa(i)
		if err := s.blobs.Put(ctx, ref, "text/plain", body); err != nil {
			writeError(w, http.StatusInternalServerError, "storing appendix failed")
			return
		}
		appendices = append(appendices, state.AppendixRef{Ref: ref, Name: ap.Name, Size: int64(len(body))})
	}

	now := time.Now().UTC()
	sub := state.SubmissionRecord{
		ID:           id,
		SessionID:    req.SessionID,
		OverlayID:    req.OverlayID,
		DocumentName: req.DocumentName,
		DocumentRef:  docRef,
		Appendices:   appendices,
		SubmittedBy:  req.SubmittedBy,
		Status:       state.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		writeError(w, http.StatusInternalServerError, "creating submission failed")
		return
	}
	if err := s.queue.Enqueue(ctx, state.SubmissionRef{SubmissionID: id}); err != nil {
		log.Error().Err(err).Str("submission_id", id).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "queueing submission failed")
		return
	}
	observability.Default.IncCounter("submissions_accepted_total", nil, 1)
	writeJSON(w, http.StatusAccepted, overlayapi.CreateSubmissionResponse{SubmissionID: id})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "submission:read", "admin"); !ok {
		return
	}
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, overlayapi.SubmissionStatusResponse{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		OverallScore: sub.OverallScore,
		Message:      sub.Message,
		CreatedAt:    sub.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    sub.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "submission:read", "admin"); !ok {
		return
	}
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	fb, found, err := s.store.GetFeedback(r.Context(), sub.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading feedback failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "feedback not yet available")
		return
	}
	writeJSON(w, http.StatusOK, overlayapi.FeedbackResponse{
		SubmissionID:    fb.SubmissionID,
		OverallScore:    fb.OverallScore,
		Narrative:       fb.Narrative,
		Strengths:       toAPIItems(fb.Strengths),
		Weaknesses:      toAPIItems(fb.Weaknesses),
		Recommendations: toAPIItems(fb.Recommendations),
		Partial:         fb.Partial,
		DegradedAgents:  fb.DegradedAgents,
		CreatedAt:       fb.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleListAnswers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "submission:read", "admin"); !ok {
		return
	}
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	threads, err := s.clarify.Threads(r.Context(), sub.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading questions failed")
		return
	}
	resp := overlayapi.ListQuestionsResponse{SubmissionID: sub.ID, Questions: []overlayapi.QuestionView{}}
	for _, th := range threads {
		qv := overlayapi.QuestionView{
			QuestionID: th.Question.ID,
			Text:       th.Question.Text,
			Priority:   th.Question.Priority,
			CreatedAt:  th.Question.CreatedAt.Format(time.RFC3339),
			Answers:    []overlayapi.AnswerView{},
		}
		for _, a := range th.Answers {
			qv.Answers = append(qv.Answers, overlayapi.AnswerView{
				AnswerID:   a.ID,
				QuestionID: a.QuestionID,
				Text:       a.Text,
				Author:     a.Author,
				CreatedAt:  a.CreatedAt.Format(time.RFC3339),
			})
		}
		resp.Questions = append(resp.Questions, qv)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "answer:write", "admin"); !ok {
		return
	}
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	var req overlayapi.SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AnswerText) == "" {
		writeError(w, http.StatusBadRequest, "answer_text is required")
		return
	}
	q, found, err := s.store.GetQuestion(r.Context(), req.QuestionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading question failed")
		return
	}
	if !found || q.SubmissionID != sub.ID {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	author := strings.TrimSpace(req.Author)
	if author == "" {
		author = s.auth.subjectFromRequest(r)
	}
	rec, err := s.clarify.SubmitAnswer(r.Context(), req.QuestionID, req.AnswerText, author)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, overlayapi.AnswerView{
		AnswerID:   rec.ID,
		QuestionID: rec.QuestionID,
		Text:       rec.Text,
		Author:     rec.Author,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "submission:read", "admin"); !ok {
		return
	}
	sub, ok := s.loadSubmission(w, r)
	if !ok {
		return
	}
	ref := sub.DocumentRef
	name := sub.DocumentName
	if raw := strings.TrimSpace(r.URL.Query().Get("appendix")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 || idx >= len(sub.Appendices) {
			writeError(w, http.StatusNotFound, "appendix not found")
			return
		}
		ref = sub.Appendices[idx].Ref
		name = sub.Appendices[idx].Name
	}
	expiry := 15 * time.Minute
	url, err := s.blobs.PresignedGetURL(r.Context(), ref, expiry)
	if errors.Is(err, blob.ErrNoPresign) {
		writeError(w, http.StatusNotImplemented, "blob backend does not support download URLs")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generating download URL failed")
		return
	}
	writeJSON(w, http.StatusOK, overlayapi.DocumentURLResponse{
		SubmissionID: sub.ID,
		Name:         name,
		URL:          url,
		ExpiresAt:    time.Now().UTC().Add(expiry).Format(time.RFC3339),
	})
}

func (s *Server) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireScopes(w, r, "admin"); !ok {
		return
	}
	q := r.URL.Query()
	offset := parseQueryInt(q.Get("offset"), 0)
	limit := parseQueryInt(q.Get("limit"), 50)
	if limit <= 0 || limit > usageScanMax {
		limit = 50
	}
	sortKey := strings.ToLower(strings.TrimSpace(q.Get("sort")))
	switch sortKey {
	case "", "date", "cost", "tokens":
	default:
		writeError(w, http.StatusBadRequest, "sort must be one of date, cost, tokens")
		return
	}

	ctx := r.Context()
	subs, total, err := s.store.ListSubmissions(ctx, state.SubmissionQuery{
		SessionID: strings.TrimSpace(q.Get("session_id")),
		Limit:     usageScanMax,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing submissions failed")
		return
	}

	entries := make([]overlayapi.UsageReportEntry, 0, len(subs))
	for _, sub := range subs {
		invs, err := s.store.ListInvocations(ctx, sub.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "listing invocations failed")
			return
		}
		sum := usage.Aggregate(sub.ID, invs, s.rates)
		entries = append(entries, overlayapi.UsageReportEntry{
			UsageSummary: overlayapi.UsageSummary{
				SubmissionID: sum.SubmissionID,
				TotalTokens:  sum.TotalTokens,
				InputTokens:  sum.InputTokens,
				OutputTokens: sum.OutputTokens,
				AgentCalls:   sum.AgentCalls,
				AgentsUsed:   sum.AgentsUsed,
				CostUSD:      sum.CostUSD,
			},
			Status:       sub.Status,
			DocumentName: sub.DocumentName,
			CreatedAt:    sub.CreatedAt.Format(time.RFC3339),
		})
	}

	switch sortKey {
	case "cost":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].CostUSD > entries[j].CostUSD })
	case "tokens":
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].TotalTokens > entries[j].TotalTokens })
	default:
		// ListSubmissions already orders newest first
	}

	if offset < 0 {
		offset = 0
	}
	if offset > len(entries) {
		offset = len(entries)
	}
	page := entries[offset:]
	if limit < len(page) {
		page = page[:limit]
	}
	writeJSON(w, http.StatusOK, overlayapi.UsageReportResponse{
		Total:    total,
		Returned: len(page),
		Offset:   offset,
		Limit:    limit,
		Entries:  page,
	})
}

func (s *Server) loadSubmission(w http.ResponseWriter, r *http.Request) (state.SubmissionRecord, bool) {
	id := chi.URLParam(r, "submissionID")
	sub, found, err := s.store.GetSubmission(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading submission failed")
		return state.SubmissionRecord{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "submission not found")
		return state.SubmissionRecord{}, false
	}
	return sub, true
}

func (s *Server) requireScopes(w http.ResponseWriter, r *http.Request, scopes ...string) (principal, bool) {
	p, code, msg := s.auth.authorize(r, scopes...)
	if code != http.StatusOK {
		writeError(w, code, msg)
		return principal{}, false
	}
	return p, true
}

// decodeDocument accepts base64 document bodies; pasted text arrives raw
// from the UI and is passed through unchanged.
func decodeDocument(content string, pasted bool) ([]byte, error) {
	if pasted {
		return []byte(content), nil
	}
	b, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func toAPIItems(items []state.FeedbackItem) []overlayapi.FeedbackItem {
	out := make([]overlayapi.FeedbackItem, 0, len(items))
	for _, it := range items {
		out = append(out, overlayapi.FeedbackItem{Text: it.Text, CriterionID: it.CriterionID})
	}
	return out
}

func parseQueryInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
