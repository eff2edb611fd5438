// overlayctl is the operator CLI: submit a document and wait for its
// feedback, inspect a submission, answer clarification questions, or pull
// the admin usage report.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/futurisms/overlay-platform-sub000/pkg/overlayapi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "answer":
		runAnswer(os.Args[2:])
	case "usage":
		runUsage(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: overlayctl <submit|status|answer|usage> [...]")
}

type client struct {
	base  string
	token string
}

func newClient(fs *flag.FlagSet) *client {
	base := fs.Lookup("server").Value.String()
	token := fs.Lookup("token").Value.String()
	if token == "" {
		token = os.Getenv("OVERLAY_API_TOKEN")
	}
	return &client{base: strings.TrimRight(base, "/"), token: token}
}

func commonFlags(fs *flag.FlagSet) {
	fs.String("server", envOr("OVERLAY_SERVER", "http://127.0.0.1:8080"), "api-gateway base URL")
	fs.String("token", "", "bearer token (or OVERLAY_API_TOKEN)")
}

func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	commonFlags(fs)
	session := fs.String("session", "cli", "session id")
	overlayID := fs.String("overlay", "", "overlay (criteria set) id")
	pollEvery := fs.Duration("poll-interval", 10*time.Second, "status poll interval")
	wait := fs.Bool("wait", true, "poll until the submission reaches a terminal status")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fatalf("usage: overlayctl submit [flags] <document-file>")
	}
	path := fs.Arg(0)
	body, err := os.ReadFile(path)
	if err != nil {
		fatalf("read document: %v", err)
	}

	c := newClient(fs)
	var created overlayapi.CreateSubmissionResponse
	err = c.post("/v1/submissions", overlayapi.CreateSubmissionRequest{
		SessionID:       *session,
		OverlayID:       *overlayID,
		DocumentName:    filepath.Base(path),
		DocumentContent: base64.StdEncoding.EncodeToString(body),
		FileSize:        int64(len(body)),
	}, &created)
	if err != nil {
		fatalf("submit: %v", err)
	}
	fmt.Printf("submission %s accepted\n", created.SubmissionID)
	if !*wait {
		return
	}

	for {
		var status overlayapi.SubmissionStatusResponse
		if err := c.get("/v1/submissions/"+created.SubmissionID, &status); err != nil {
			fatalf("poll: %v", err)
		}
		if status.Status == "completed" || status.Status == "failed" {
			printStatus(status)
			if status.Status == "completed" {
				c.printFeedback(created.SubmissionID)
			}
			return
		}
		fmt.Printf("status: %s\n", status.Status)
		time.Sleep(*pollEvery)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	commonFlags(fs)
	feedback := fs.Bool("feedback", false, "also print feedback when available")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fatalf("usage: overlayctl status [flags] <submission-id>")
	}
	c := newClient(fs)
	id := fs.Arg(0)
	var status overlayapi.SubmissionStatusResponse
	if err := c.get("/v1/submissions/"+id, &status); err != nil {
		fatalf("status: %v", err)
	}
	printStatus(status)
	if *feedback && status.Status == "completed" {
		c.printFeedback(id)
	}
}

func runAnswer(args []string) {
	fs := flag.NewFlagSet("answer", flag.ExitOnError)
	commonFlags(fs)
	author := fs.String("author", envOr("USER", "overlayctl"), "answer author")
	_ = fs.Parse(args)
	if fs.NArg() < 3 {
		fatalf("usage: overlayctl answer [flags] <submission-id> <question-id> <text>")
	}
	c := newClient(fs)
	subID, qID := fs.Arg(0), fs.Arg(1)
	text := strings.Join(fs.Args()[2:], " ")
	var answer overlayapi.AnswerView
	err := c.post("/v1/submissions/"+subID+"/answers", overlayapi.SubmitAnswerRequest{
		QuestionID: qID,
		AnswerText: text,
		Author:     *author,
	}, &answer)
	if err != nil {
		fatalf("answer: %v", err)
	}
	fmt.Printf("answer %s recorded for question %s\n", answer.AnswerID, answer.QuestionID)
}

func runUsage(args []string) {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	commonFlags(fs)
	sortKey := fs.String("sort", "date", "sort order: date, cost, or tokens")
	limit := fs.Int("limit", 20, "max entries")
	offset := fs.Int("offset", 0, "pagination offset")
	_ = fs.Parse(args)

	c := newClient(fs)
	var report overlayapi.UsageReportResponse
	path := fmt.Sprintf("/v1/admin/usage?sort=%s&limit=%d&offset=%d", *sortKey, *limit, *offset)
	if err := c.get(path, &report); err != nil {
		fatalf("usage: %v", err)
	}
	fmt.Printf("%-38s %-10s %10s %8s %10s  %s\n", "SUBMISSION", "STATUS", "TOKENS", "CALLS", "COST USD", "DOCUMENT")
	for _, e := range report.Entries {
		fmt.Printf("%-38s %-10s %10d %8d %10.4f  %s\n",
			e.SubmissionID, e.Status, e.TotalTokens, e.AgentCalls, e.CostUSD, e.DocumentName)
	}
	fmt.Printf("%d of %d entries (offset %d)\n", report.Returned, report.Total, report.Offset)
}

func printStatus(s overlayapi.SubmissionStatusResponse) {
	fmt.Printf("submission %s: %s", s.SubmissionID, s.Status)
	if s.OverallScore != nil {
		fmt.Printf(" (score %d)", *s.OverallScore)
	}
	if s.Message != "" {
		fmt.Printf(" - %s", s.Message)
	}
	fmt.Println()
}

func (c *client) printFeedback(id string) {
	var fb overlayapi.FeedbackResponse
	if err := c.get("/v1/submissions/"+id+"/feedback", &fb); err != nil {
		fatalf("feedback: %v", err)
	}
	if fb.Narrative != "" {
		fmt.Printf("\n%s\n", fb.Narrative)
	}
	printItems("strengths", fb.Strengths)
	printItems("weaknesses", fb.Weaknesses)
	printItems("recommendations", fb.Recommendations)
	if fb.Partial {
		fmt.Printf("\nnote: partial result, degraded agents: %s\n", strings.Join(fb.DegradedAgents, ", "))
	}
}

func printItems(title string, items []overlayapi.FeedbackItem) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, it := range items {
		if it.CriterionID != "" {
			fmt.Printf("  - [%s] %s\n", it.CriterionID, it.Text)
		} else {
			fmt.Printf("  - %s\n", it.Text)
		}
	}
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) post(path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
