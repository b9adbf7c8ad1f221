package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/priorai/priorai/internal/analysis"
	"github.com/priorai/priorai/internal/orchestrate"
	"github.com/priorai/priorai/internal/providers"
	"github.com/priorai/priorai/internal/store"
)

// Stage names as recorded in the step log. Fixed vocabulary; the direct
// strategy executes the first five in order, the delegated strategy records
// a single orchestrate_workflow entry instead.
const (
	StageAssess        = "assess_patentability"
	StageExtract       = "extract_claims"
	StageSearch        = "search_patents"
	StageScore         = "score_similarity"
	StageRecommend     = "generate_recommendation"
	StageOrchestrate   = "orchestrate_workflow"
	StageWorkflowError = "workflow_error"
)

// GateReasoning is the fixed explanation written when the patentability gate
// stops a run early.
const GateReasoning = "Disclosure appears to be publishable research but not patentable. See patentability assessment for details."

const (
	DefaultMaxSearchResults = 100
	DefaultCallTimeout      = 60 * time.Second
	DefaultRunTimeout       = 15 * time.Minute
	searchKeywordLimit      = 5
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "workflow"
}

// Orchestrator is the delegated-strategy boundary. Configured is evaluated
// once per run; it is never re-checked mid-run.
type Orchestrator interface {
	Configured() bool
	ExecuteWorkflow(ctx context.Context, analysisID, disclosureText string, maxResults int) (*orchestrate.Bundle, error)
}

type Config struct {
	MaxSearchResults int
	CallTimeout      time.Duration
	RunTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = DefaultMaxSearchResults
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	return c
}

// Engine sequences the five-stage analysis pipeline: assess, gate, extract,
// search, score, recommend. Providers are injected at construction; the
// engine never inspects configuration itself.
type Engine struct {
	store  store.API
	set    *providers.Set
	orch   Orchestrator
	cfg    Config
	tracer trace.Tracer

	mu      sync.Mutex
	running map[string]struct{}
}

func New(st store.API, set *providers.Set, orch Orchestrator, cfg Config) *Engine {
	return &Engine{
		store:   st,
		set:     set,
		orch:    orch,
		cfg:     cfg.withDefaults(),
		tracer:  otel.Tracer("priorai/workflow"),
		running: map[string]struct{}{},
	}
}

// Start launches a run in the background. Results are observed through the
// persisted analysis; duplicate starts for the same id are dropped.
func (e *Engine) Start(analysisID, disclosureText string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RunTimeout)
		defer cancel()
		if _, err := e.Run(ctx, analysisID, disclosureText); err != nil {
			log.Printf("workflow run_failed analysis_id=%s stage=%s err=%v", analysisID, StageNameFromError(err), err)
		}
	}()
}

// Run executes one analysis to completion. At most one run per analysis id
// is admitted at a time.
func (e *Engine) Run(ctx context.Context, analysisID, disclosureText string) (*analysis.Analysis, error) {
	if strings.TrimSpace(disclosureText) == "" {
		return nil, fmt.Errorf("disclosure text is required")
	}
	if !e.admit(analysisID) {
		return nil, fmt.Errorf("analysis %s already running", analysisID)
	}
	defer e.release(analysisID)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(attribute.String("analysis.id", analysisID)))
	defer span.End()

	started := time.Now()
	a, err := e.execute(ctx, analysisID, disclosureText)
	if err != nil {
		e.recordFailure(analysisID, err)
		return nil, err
	}
	log.Printf("workflow run_done analysis_id=%s status=%s recommendation=%s elapsed_ms=%d",
		analysisID, a.Status, a.Recommendation, time.Since(started).Milliseconds())
	return a, nil
}

func (e *Engine) execute(ctx context.Context, analysisID, disclosureText string) (*analysis.Analysis, error) {
	a, err := e.store.GetAnalysis(analysisID)
	if err != nil {
		return nil, err
	}

	if e.orch != nil && e.orch.Configured() {
		if done, derr := e.runDelegated(ctx, a, disclosureText); derr == nil {
			return done, nil
		} else {
			log.Printf("workflow delegated_failed analysis_id=%s err=%v falling back to direct", analysisID, derr)
		}
	}
	return e.runDirect(ctx, a, disclosureText)
}

// --- delegated strategy ---

func (e *Engine) runDelegated(ctx context.Context, a *analysis.Analysis, disclosureText string) (*analysis.Analysis, error) {
	ctx, span := e.tracer.Start(ctx, StageOrchestrate)
	defer span.End()

	logID, err := e.store.BeginStep(a.ID, StageOrchestrate)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	bundle, err := e.orch.ExecuteWorkflow(ctx, a.ID, disclosureText, e.cfg.MaxSearchResults)
	if err != nil {
		_ = e.store.FailStep(logID, err.Error())
		return nil, err
	}
	if bundle.ExecutionID != "" {
		_ = e.store.SetStepExternalID(logID, bundle.ExecutionID)
	}
	if err := e.store.CompleteStep(logID, summarize(started, map[string]any{
		"execution_id": bundle.ExecutionID,
		"patents":      len(bundle.Candidates),
	})); err != nil {
		return nil, err
	}
	return e.applyBundle(a, bundle)
}

func (e *Engine) applyBundle(a *analysis.Analysis, bundle *orchestrate.Bundle) (*analysis.Analysis, error) {
	patentable := bundle.Assessment.IsPatentable
	confidence := bundle.Assessment.Confidence
	a.IsPatentable = &patentable
	a.PatentabilityConfidence = &confidence
	a.MissingElements = bundle.Assessment.MissingElements

	if !patentable {
		return e.completeGated(a)
	}

	claims := bundle.Claims
	a.Claims = &claims
	novelty := bundle.NoveltyScore
	a.NoveltyScore = &novelty
	a.Recommendation = bundle.Recommendation
	a.Reasoning = bundle.Reasoning
	if err := e.store.SaveCandidates(a.ID, bundle.Candidates); err != nil {
		return nil, err
	}
	return e.complete(a)
}

// --- direct strategy ---

func (e *Engine) runDirect(ctx context.Context, a *analysis.Analysis, disclosureText string) (*analysis.Analysis, error) {
	assessment, err := e.assessStage(ctx, a, disclosureText)
	if err != nil {
		return nil, err
	}
	if !assessment.IsPatentable {
		return e.completeGated(a)
	}

	claims, err := e.extractStage(ctx, a, disclosureText)
	if err != nil {
		return nil, err
	}

	candidates, err := e.searchStage(ctx, a, claims)
	if err != nil {
		return nil, err
	}

	scored, err := e.scoreStage(ctx, a, claims, candidates)
	if err != nil {
		return nil, err
	}

	result, err := e.recommendStage(ctx, a, claims, scored)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveCandidates(a.ID, scored); err != nil {
		return nil, err
	}
	novelty := result.NoveltyScore
	a.NoveltyScore = &novelty
	a.Recommendation = result.Recommendation
	a.Reasoning = result.Reasoning
	return e.complete(a)
}

func (e *Engine) assessStage(ctx context.Context, a *analysis.Analysis, disclosureText string) (analysis.PatentabilityAssessment, error) {
	var assessment analysis.PatentabilityAssessment
	err := e.step(ctx, a.ID, StageAssess, func(ctx context.Context) (map[string]any, error) {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		out, err := e.set.Assessor.Assess(cctx, disclosureText)
		if err != nil {
			return nil, err
		}
		assessment = out

		patentable := out.IsPatentable
		confidence := out.Confidence
		a.IsPatentable = &patentable
		a.PatentabilityConfidence = &confidence
		a.MissingElements = out.MissingElements
		if err := e.store.UpdateAnalysis(a); err != nil {
			return nil, err
		}
		return map[string]any{"is_patentable": out.IsPatentable, "confidence": out.Confidence}, nil
	})
	return assessment, err
}

func (e *Engine) extractStage(ctx context.Context, a *analysis.Analysis, disclosureText string) (analysis.ExtractedClaims, error) {
	var claims analysis.ExtractedClaims
	err := e.step(ctx, a.ID, StageExtract, func(ctx context.Context) (map[string]any, error) {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		out, err := e.set.Extractor.Extract(cctx, disclosureText)
		if err != nil {
			return nil, err
		}
		claims = out
		a.Claims = &out
		if err := e.store.UpdateAnalysis(a); err != nil {
			return nil, err
		}
		return map[string]any{"keywords": len(out.Keywords), "innovations": len(out.Innovations)}, nil
	})
	return claims, err
}

func (e *Engine) searchStage(ctx context.Context, a *analysis.Analysis, claims analysis.ExtractedClaims) ([]analysis.Candidate, error) {
	var candidates []analysis.Candidate
	err := e.step(ctx, a.ID, StageSearch, func(ctx context.Context) (map[string]any, error) {
		keywords := claims.Keywords
		if len(keywords) > searchKeywordLimit {
			keywords = keywords[:searchKeywordLimit]
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		out, err := e.set.Searcher.Search(cctx, keywords, claims.Classifications, e.cfg.MaxSearchResults)
		if err != nil {
			return nil, err
		}
		candidates = out
		return map[string]any{"patents": len(out)}, nil
	})
	return candidates, err
}

// scoreStage scores every candidate, one scorer call per pair. A failed call
// degrades to the keyword-overlap heuristic for that candidate only; one
// provider error never fails the batch.
func (e *Engine) scoreStage(ctx context.Context, a *analysis.Analysis, claims analysis.ExtractedClaims, candidates []analysis.Candidate) ([]analysis.Candidate, error) {
	scored := make([]analysis.Candidate, 0, len(candidates))
	err := e.step(ctx, a.ID, StageScore, func(ctx context.Context) (map[string]any, error) {
		fallbacks := 0
		for _, cand := range candidates {
			cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
			sim, serr := e.set.Scorer.Score(cctx, claims, cand)
			cancel()
			if serr != nil {
				log.Printf("workflow score_fallback analysis_id=%s patent_id=%s err=%v", a.ID, cand.PatentID, serr)
				sim = providers.KeywordOverlapScore(claims, cand)
				fallbacks++
			}
			cand.SimilarityScore = sim.Score
			cand.OverlappingConcepts = sim.OverlappingConcepts
			cand.KeyDifferences = sim.KeyDifferences
			scored = append(scored, cand)
		}
		analysis.SortByScore(scored)
		return map[string]any{"patents": len(scored), "fallbacks": fallbacks}, nil
	})
	return scored, err
}

func (e *Engine) recommendStage(ctx context.Context, a *analysis.Analysis, claims analysis.ExtractedClaims, scored []analysis.Candidate) (analysis.Result, error) {
	var result analysis.Result
	err := e.step(ctx, a.ID, StageRecommend, func(ctx context.Context) (map[string]any, error) {
		result = analysis.Recommend(&claims, scored)
		return map[string]any{"novelty_score": result.NoveltyScore, "recommendation": string(result.Recommendation)}, nil
	})
	return result, err
}

// --- shared stage machinery ---

// step wraps one pipeline stage with a step log row and a span. The next
// stage never starts before this row reaches a terminal status.
func (e *Engine) step(ctx context.Context, analysisID, stage string, fn func(ctx context.Context) (map[string]any, error)) error {
	ctx, span := e.tracer.Start(ctx, stage)
	defer span.End()

	logID, err := e.store.BeginStep(analysisID, stage)
	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	started := time.Now()
	fields, err := fn(ctx)
	if err != nil {
		_ = e.store.FailStep(logID, err.Error())
		return &StageError{Stage: stage, Err: err}
	}
	if err := e.store.CompleteStep(logID, summarize(started, fields)); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// summarize builds the bounded output summary written to a step log:
// durations and counts, never payloads.
func summarize(started time.Time, fields map[string]any) string {
	out := map[string]any{
		"status":           "success",
		"duration_seconds": time.Since(started).Seconds(),
	}
	for k, v := range fields {
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return `{"status":"success"}`
	}
	return string(b)
}

func (e *Engine) completeGated(a *analysis.Analysis) (*analysis.Analysis, error) {
	novelty := 0.0
	a.NoveltyScore = &novelty
	a.Recommendation = analysis.RecommendReject
	a.Reasoning = GateReasoning
	return e.complete(a)
}

func (e *Engine) complete(a *analysis.Analysis) (*analysis.Analysis, error) {
	now := time.Now().UTC()
	a.Status = analysis.StatusCompleted
	a.CompletedAt = &now
	if err := e.store.UpdateAnalysis(a); err != nil {
		return nil, err
	}
	return a, nil
}

// recordFailure writes the terminal failure state: a workflow_error row plus
// the error text on the analysis itself. No partial completed state is ever
// written on failure.
func (e *Engine) recordFailure(analysisID string, runErr error) {
	if logID, err := e.store.BeginStep(analysisID, StageWorkflowError); err == nil {
		_ = e.store.FailStep(logID, runErr.Error())
	}
	a, err := e.store.GetAnalysis(analysisID)
	if err != nil {
		log.Printf("workflow record_failure_load analysis_id=%s err=%v", analysisID, err)
		return
	}
	a.Status = analysis.StatusFailed
	a.Reasoning = runErr.Error()
	if err := e.store.UpdateAnalysis(a); err != nil {
		log.Printf("workflow record_failure_save analysis_id=%s err=%v", analysisID, err)
	}
}

func (e *Engine) admit(analysisID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[analysisID]; ok {
		return false
	}
	e.running[analysisID] = struct{}{}
	return true
}

func (e *Engine) release(analysisID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, analysisID)
}
