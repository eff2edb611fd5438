package overlayapi

type CreateSubmissionRequest struct {
	SessionID       string             `json:"session_id"`
	OverlayID       string             `json:"overlay_id"`
	DocumentName    string             `json:"document_name"`
	DocumentContent string             `json:"document_content"`
	FileSize        int64              `json:"file_size"`
	Appendices      []AppendixUpload   `json:"appendices,omitempty"`
	IsPastedText    bool               `json:"is_pasted_text,omitempty"`
	SubmittedBy     string             `json:"submitted_by,omitempty"`
}

type AppendixUpload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

type CreateSubmissionResponse struct {
	SubmissionID string `json:"submission_id"`
}

type SubmissionStatusResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	OverallScore *int   `json:"overall_score"`
	Message      string `json:"message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type FeedbackItem struct {
	Text        string `json:"text"`
	CriterionID string `json:"criterion_id,omitempty"`
}

type FeedbackResponse struct {
	SubmissionID    string         `json:"submission_id"`
	OverallScore    *int           `json:"overall_score"`
	Narrative       string         `json:"narrative"`
	Strengths       []FeedbackItem `json:"strengths"`
	Weaknesses      []FeedbackItem `json:"weaknesses"`
	Recommendations []FeedbackItem `json:"recommendations"`
	Partial         bool           `json:"partial,omitempty"`
	DegradedAgents  []string       `json:"degraded_agents,omitempty"`
	CreatedAt       string         `json:"created_at"`
}

type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id"`
	AnswerText string `json:"answer_text"`
	Author     string `json:"author,omitempty"`
}

type AnswerView struct {
	AnswerID   string `json:"answer_id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
	Author     string `json:"author,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type QuestionView struct {
	QuestionID string       `json:"question_id"`
	Text       string       `json:"text"`
	Priority   string       `json:"priority"`
	CreatedAt  string       `json:"created_at"`
	Answers    []AnswerView `json:"answers"`
}

type ListQuestionsResponse struct {
	SubmissionID string         `json:"submission_id"`
	Questions    []QuestionView `json:"questions"`
}

type DocumentURLResponse struct {
	SubmissionID string `json:"submission_id"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	ExpiresAt    string `json:"expires_at"`
}

type UsageSummary struct {
	SubmissionID string   `json:"submission_id"`
	TotalTokens  int      `json:"total_tokens"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	AgentCalls   int      `json:"agent_calls"`
	AgentsUsed   []string `json:"agents_used"`
	CostUSD      float64  `json:"cost_usd"`
}

type UsageReportEntry struct {
	UsageSummary
	Status       string `json:"status"`
	DocumentName string `json:"document_name"`
	CreatedAt    string `json:"created_at"`
}

type UsageReportResponse struct {
	Total    int                `json:"total"`
	Returned int                `json:"returned"`
	Offset   int                `json:"offset"`
	Limit    int                `json:"limit"`
	Entries  []UsageReportEntry `json:"entries"`
}
