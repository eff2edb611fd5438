// Package coordinator drives submissions through the evaluation pipeline:
// it claims queued submissions, fans out the analysis agents, retries
// transient failures, joins the results into a score, and writes the
// terminal status.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
	"github.com/futurisms/overlay-platform-sub000/internal/blob"
	"github.com/futurisms/overlay-platform-sub000/internal/clarify"
	"github.com/futurisms/overlay-platform-sub000/internal/observability"
	"github.com/futurisms/overlay-platform-sub000/internal/overlay"
	"github.com/futurisms/overlay-platform-sub000/internal/planner"
	"github.com/futurisms/overlay-platform-sub000/internal/scoring"
	"github.com/futurisms/overlay-platform-sub000/internal/state"
)

type Options struct {
	Workers           int
	ClaimBatch        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Backoff           BackoffConfig
	Planner           planner.Options
	// Sleep is swappable in tests so retry backoff does not slow the suite.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Coordinator struct {
	store     state.Store
	queue     state.Queue
	blobs     blob.Store
	overlays  overlay.Source
	evaluator agents.Evaluator
	clarify   *clarify.Service
	compiler  *planner.Compiler
	opts      Options

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

func New(store state.Store, queue state.Queue, blobs blob.Store, overlays overlay.Source, evaluator agents.Evaluator, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ClaimBatch <= 0 {
		opts.ClaimBatch = 1
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Backoff.InitialDelay == 0 {
		opts.Backoff = defaultBackoff()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Coordinator{
		store:     store,
		queue:     queue,
		blobs:     blobs,
		overlays:  overlays,
		evaluator: evaluator,
		clarify:   clarify.NewService(store),
		compiler:  planner.NewCompilerWithOptions(opts.Planner),
		opts:      opts,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the worker pool and the expired-claim reaper. It returns
// immediately; workers run until ctx is canceled.
func (c *Coordinator) Start(ctx context.Context) {
	for i := 0; i < c.opts.Workers; i++ {
		consumer := fmt.Sprintf("coordinator-%d", i)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.workerLoop(ctx, consumer)
		}()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reaperLoop(ctx)
	}()
}

// Wait blocks until every worker has exited, including any clarification
// goroutines still in flight.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) workerLoop(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}
		claims, err := c.queue.Claim(ctx, c.opts.ClaimBatch, consumer, c.opts.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("consumer", consumer).Msg("claim failed")
			if sleepCtx(ctx, c.opts.PollInterval) != nil {
				return
			}
			continue
		}
		if len(claims) == 0 {
			if sleepCtx(ctx, c.opts.PollInterval) != nil {
				return
			}
			continue
		}
		for _, claim := range claims {
			if err := c.Run(ctx, claim.Ref.SubmissionID); err != nil {
				log.Error().Err(err).Str("submission_id", claim.Ref.SubmissionID).Msg("pipeline run failed")
				if nackErr := c.queue.Nack(ctx, []state.QueueClaim{claim}, err.Error()); nackErr != nil {
					log.Error().Err(nackErr).Str("submission_id", claim.Ref.SubmissionID).Msg("nack failed")
				}
				continue
			}
			if ackErr := c.queue.Ack(ctx, []state.QueueClaim{claim}); ackErr != nil {
				log.Error().Err(ackErr).Str("submission_id", claim.Ref.SubmissionID).Msg("ack failed")
			}
		}
	}
}

func (c *Coordinator) reaperLoop(ctx context.Context) {
	interval := c.opts.VisibilityTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := c.queue.RequeueExpired(ctx, now, 100)
			if err != nil {
				log.Warn().Err(err).Msg("requeue expired claims failed")
				continue
			}
			if n > 0 {
				observability.Default.IncCounter("coordinator_requeued_total", nil, float64(n))
			}
		}
	}
}

type stageOutcome struct {
	kind   agents.Kind
	result agents.Result
	err    error
}

// Run takes one submission from pending to a terminal status. Redelivery of
// an already-terminal submission is a no-op. Run returns an error only for
// infrastructure failures worth redelivering; evaluation failures end in the
// failed status, not an error.
func (c *Coordinator) Run(ctx context.Context, submissionID string) error {
	ctx, span := observability.StartSpan(ctx, "coordinator.run",
		attribute.String("submission.id", submissionID))
	defer span.End()

	sub, ok, err := c.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if !ok {
		log.Warn().Str("submission_id", submissionID).Msg("claimed unknown submission, dropping")
		return nil
	}
	if state.IsTerminal(sub.Status) {
		return nil
	}

	doc, fatal, err := c.loadDocument(ctx, sub)
	if err != nil {
		return err
	}
	if fatal != "" {
		observability.Default.IncCounter("submissions_failed_total", map[string]string{"reason": "validation"}, 1)
		return c.store.UpdateSubmissionStatus(ctx, sub.ID, state.StatusFailed, fatal)
	}

	if sub.Status == state.StatusPending {
		if err := c.store.UpdateSubmissionStatus(ctx, sub.ID, state.StatusInProgress, ""); err != nil {
			return fmt.Errorf("mark in progress: %w", err)
		}
	}

	criteria, err := c.overlays.Get(ctx, sub.OverlayID)
	if err != nil {
		return fmt.Errorf("resolve overlay %s: %w", sub.OverlayID, err)
	}

	plan := c.compiler.Compile(sub.ID)
	analysisKinds := []agents.Kind{agents.KindStructure, agents.KindGrammar, agents.KindContent}

	outcomes := make(chan stageOutcome, len(analysisKinds))
	var stageWG sync.WaitGroup
	for _, kind := range analysisKinds {
		stage, _ := plan.Stage(kind)
		stageWG.Add(1)
		go func(st planner.Stage) {
			defer stageWG.Done()
			res, err := c.runStage(ctx, sub.ID, st, agents.Request{
				Kind:          st.Kind,
				DocumentText:  doc.text,
				AppendixTexts: doc.appendices,
				Criteria:      criteria,
			})
			outcomes <- stageOutcome{kind: st.Kind, result: res, err: err}
		}(stage)
	}
	stageWG.Wait()
	close(outcomes)

	var upstream []agents.Finding
	var degraded []string
	var infraErr error
	results := map[agents.Kind]agents.Result{}
	for out := range outcomes {
		if out.err != nil {
			// Only an exhausted retry budget degrades the stage. Anything
			// else (store failure, cancellation) leaves the submission
			// in_progress for redelivery.
			if !stageExhausted(out.err) {
				if infraErr == nil {
					infraErr = out.err
				}
				continue
			}
			degraded = append(degraded, string(out.kind))
			continue
		}
		results[out.kind] = out.result
		upstream = append(upstream, out.result.Findings...)
	}
	if infraErr != nil {
		return infraErr
	}

	if len(degraded) == len(analysisKinds) {
		observability.Default.IncCounter("submissions_failed_total", map[string]string{"reason": "all_agents_failed"}, 1)
		return c.store.UpdateSubmissionStatus(ctx, sub.ID, state.StatusFailed,
			"all analysis agents failed: "+strings.Join(degraded, ", "))
	}

	// Clarification runs on the side once content analysis is in; it never
	// gates the terminal transition.
	if _, ok := results[agents.KindContent]; ok {
		clarStage, _ := plan.Stage(agents.KindClarification)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runClarification(context.WithoutCancel(ctx), sub.ID, clarStage, agents.Request{
				Kind:          agents.KindClarification,
				DocumentText:  doc.text,
				AppendixTexts: doc.appendices,
				Criteria:      criteria,
				Upstream:      results[agents.KindContent].Findings,
			})
		}()
	}

	scoreStage, _ := plan.Stage(agents.KindScoring)
	scoreResult, scoreErr := c.runStage(ctx, sub.ID, scoreStage, agents.Request{
		Kind:         agents.KindScoring,
		DocumentText: doc.text,
		Criteria:     criteria,
		Upstream:     upstream,
		Degraded:     degraded,
	})

	if scoreErr != nil && !stageExhausted(scoreErr) {
		return scoreErr
	}

	var assembled scoring.Assembled
	if scoreErr != nil {
		// Scoring degraded: fall back to the raw analysis findings so the
		// submission still completes with partial feedback.
		degraded = append(degraded, string(agents.KindScoring))
		assembled = scoring.Assemble(criteria, upstream, "", degraded)
	} else {
		assembled = scoring.Assemble(criteria, scoreResult.Findings, scoreResult.Narrative, degraded)
	}
	assembled.Feedback.SubmissionID = sub.ID
	assembled.Feedback.CreatedAt = time.Now().UTC()

	if err := c.store.CompleteSubmission(ctx, sub.ID, assembled.Score, assembled.Feedback); err != nil {
		return fmt.Errorf("complete submission: %w", err)
	}
	observability.Default.IncCounter("submissions_completed_total", map[string]string{"partial": fmt.Sprintf("%t", len(degraded) > 0)}, 1)
	log.Info().
		Str("submission_id", sub.ID).
		Strs("degraded", degraded).
		Msg("submission completed")
	return nil
}

type loadedDocument struct {
	text       string
	appendices []string
}

// loadDocument fetches the document and appendix bodies. A non-empty fatal
// string means the submission cannot be evaluated at all and should fail
// without any agent invocation.
func (c *Coordinator) loadDocument(ctx context.Context, sub state.SubmissionRecord) (loadedDocument, string, error) {
	var doc loadedDocument
	if strings.TrimSpace(sub.DocumentRef) == "" {
		return doc, "submission has no document", nil
	}
	body, err := c.blobs.Get(ctx, sub.DocumentRef)
	if errors.Is(err, blob.ErrNotFound) {
		return doc, "document body missing from blob store", nil
	}
	if err != nil {
		return doc, "", fmt.Errorf("fetch document: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return doc, "document is empty", nil
	}
	doc.text = string(body)
	for _, ap := range sub.Appendices {
		b, err := c.blobs.Get(ctx, ap.Ref)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return doc, "", fmt.Errorf("fetch appendix %s: %w", ap.Name, err)
		}
		doc.appendices = append(doc.appendices, string(b))
	}
	return doc, "", nil
}

// stageExhaustedError marks a stage whose full retry budget was spent on
// agent failures. Any other error out of runStage is infrastructure trouble
// the caller should surface for redelivery rather than fold into degraded
// feedback.
type stageExhaustedError struct {
	kind agents.Kind
	err  error
}

func (e *stageExhaustedError) Error() string {
	return fmt.Sprintf("stage %s exhausted: %v", e.kind, e.err)
}

func (e *stageExhaustedError) Unwrap() error { return e.err }

func stageExhausted(err error) bool {
	var ex *stageExhaustedError
	return errors.As(err, &ex)
}

// runStage invokes one agent with the stage's retry budget. Every attempt,
// failed or not, appends an invocation record so token spend on errors is
// never lost. A redelivered submission resumes where the invocation log left
// off: a recorded success is reused without another call, and failed
// attempts already on record count against the budget.
func (c *Coordinator) runStage(ctx context.Context, submissionID string, stage planner.Stage, req agents.Request) (agents.Result, error) {
	ctx, span := observability.StartSpan(ctx, "coordinator.stage",
		attribute.String("submission.id", submissionID),
		attribute.String("agent.kind", string(stage.Kind)))
	defer span.End()

	attempt := 1
	var lastErr error
	prior, err := c.store.ListInvocations(ctx, submissionID)
	if err != nil {
		return agents.Result{}, fmt.Errorf("list invocations: %w", err)
	}
	for _, p := range prior {
		if p.AgentKind != string(stage.Kind) {
			continue
		}
		if p.Status == state.InvocationOK && p.Result != "" {
			var res agents.Result
			if uErr := json.Unmarshal([]byte(p.Result), &res); uErr == nil {
				return res, nil
			}
		}
		if p.Attempt >= attempt {
			attempt = p.Attempt + 1
			if p.Error != "" {
				lastErr = errors.New(p.Error)
			}
		}
	}

	for ; attempt <= stage.MaxAttempts; attempt++ {
		started := time.Now().UTC()
		callCtx := ctx
		var cancel context.CancelFunc
		if stage.TimeoutSec > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(stage.TimeoutSec)*time.Second)
		}
		result, usage, err := c.evaluator.Invoke(callCtx, req)
		if cancel != nil {
			cancel()
		}

		inv := state.InvocationRecord{
			SubmissionID: submissionID,
			AgentKind:    string(stage.Kind),
			Attempt:      attempt,
			Model:        usage.Model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			CallCount:    usage.Calls,
			Status:       state.InvocationOK,
			CreatedAt:    started,
			ClosedAt:     time.Now().UTC(),
		}
		if err != nil {
			inv.Status = state.InvocationError
			inv.Error = err.Error()
		} else if b, mErr := json.Marshal(result); mErr == nil {
			inv.Result = string(b)
		}
		if appendErr := c.store.AppendInvocation(ctx, inv); appendErr != nil {
			return agents.Result{}, fmt.Errorf("append invocation: %w", appendErr)
		}
		observability.Default.IncCounter("agent_invocations_total",
			map[string]string{"agent_kind": string(stage.Kind), "status": inv.Status}, 1)

		if err == nil {
			return result, nil
		}
		lastErr = err
		if !agents.IsTransient(err) {
			log.Warn().Err(err).
				Str("submission_id", submissionID).
				Str("agent_kind", string(stage.Kind)).
				Msg("permanent agent failure")
			break
		}
		if attempt < stage.MaxAttempts {
			delay := nextBackoffDelay(c.opts.Backoff, attempt, c.lockedRng())
			log.Debug().
				Str("submission_id", submissionID).
				Str("agent_kind", string(stage.Kind)).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying agent after transient failure")
			if sleepErr := c.opts.Sleep(ctx, delay); sleepErr != nil {
				return agents.Result{}, sleepErr
			}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return agents.Result{}, ctxErr
	}
	return agents.Result{}, &stageExhaustedError{kind: stage.Kind, err: lastErr}
}

func (c *Coordinator) runClarification(ctx context.Context, submissionID string, stage planner.Stage, req agents.Request) {
	// Questions from an earlier delivery are already on record; emitting
	// again would duplicate them.
	if prior, err := c.store.ListInvocations(ctx, submissionID); err == nil {
		for _, p := range prior {
			if p.AgentKind == string(stage.Kind) && p.Status == state.InvocationOK {
				return
			}
		}
	}
	result, err := c.runStage(ctx, submissionID, stage, req)
	if err != nil {
		log.Warn().Err(err).Str("submission_id", submissionID).Msg("clarification agent failed")
		return
	}
	if _, err := c.clarify.EmitQuestions(ctx, submissionID, result.Questions); err != nil {
		log.Error().Err(err).Str("submission_id", submissionID).Msg("recording clarification questions failed")
	}
}

func (c *Coordinator) lockedRng() *rand.Rand {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	// rand.Rand is not goroutine safe; hand each caller a derived source.
	return rand.New(rand.NewSource(c.rng.Int63()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
