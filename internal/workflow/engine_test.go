package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/priorai/priorai/internal/analysis"
	"github.com/priorai/priorai/internal/orchestrate"
	"github.com/priorai/priorai/internal/providers"
	"github.com/priorai/priorai/internal/store"
)

type fakeAssessor struct {
	out   analysis.PatentabilityAssessment
	err   error
	block chan struct{}
}

func (f *fakeAssessor) Assess(ctx context.Context, text string) (analysis.PatentabilityAssessment, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return analysis.PatentabilityAssessment{}, ctx.Err()
		}
	}
	return f.out, f.err
}

type fakeExtractor struct {
	out analysis.ExtractedClaims
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (analysis.ExtractedClaims, error) {
	return f.out, f.err
}

type fakeSearcher struct {
	out      []analysis.Candidate
	err      error
	keywords []string
	max      int
}

func (f *fakeSearcher) Search(ctx context.Context, keywords, classifications []string, maxResults int) ([]analysis.Candidate, error) {
	f.keywords = keywords
	f.max = maxResults
	return f.out, f.err
}

type fakeScorer struct {
	scores  map[string]float64
	failFor map[string]bool
}

func (f *fakeScorer) Score(ctx context.Context, claims analysis.ExtractedClaims, candidate analysis.Candidate) (analysis.SimilarityAssessment, error) {
	if f.failFor[candidate.PatentID] {
		return analysis.SimilarityAssessment{}, errors.New("scorer unavailable")
	}
	return analysis.SimilarityAssessment{
		Score:               f.scores[candidate.PatentID],
		OverlappingConcepts: []string{"shared concept"},
		KeyDifferences:      []string{"different approach"},
	}, nil
}

type fakeOrchestrator struct {
	configured bool
	bundle     *orchestrate.Bundle
	err        error
	calls      int
}

func (f *fakeOrchestrator) Configured() bool { return f.configured }

func (f *fakeOrchestrator) ExecuteWorkflow(ctx context.Context, analysisID, disclosureText string, maxResults int) (*orchestrate.Bundle, error) {
	f.calls++
	return f.bundle, f.err
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "wf.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAnalysis(t *testing.T, s store.API, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateAnalysis(&analysis.Analysis{
		ID:        id,
		Title:     "Solid state battery",
		Status:    analysis.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateAnalysis: %v", err)
	}
}

func patentableSet(candidates []analysis.Candidate, scores map[string]float64) *providers.Set {
	confidence := 80.0
	return &providers.Set{
		Assessor:  &fakeAssessor{out: analysis.PatentabilityAssessment{IsPatentable: true, Confidence: confidence}},
		Extractor: &fakeExtractor{out: analysis.ExtractedClaims{Keywords: []string{"battery", "electrolyte"}, Innovations: []string{"ceramic separator"}}},
		Searcher:  &fakeSearcher{out: candidates},
		Scorer:    &fakeScorer{scores: scores},
	}
}

func stageNames(t *testing.T, s store.API, id string) []string {
	t.Helper()
	steps, err := s.ListSteps(id)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	names := make([]string, len(steps))
	for i, st := range steps {
		names[i] = st.Stage
	}
	return names
}

func TestRunDirectCompletes(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-1")

	cands := []analysis.Candidate{
		{PatentID: "US1B2", Title: "First"},
		{PatentID: "US2B2", Title: "Second"},
	}
	set := patentableSet(cands, map[string]float64{"US1B2": 30, "US2B2": 60})
	eng := New(s, set, nil, Config{})

	a, err := eng.Run(context.Background(), "an-1", "A solid state battery device.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Status != analysis.StatusCompleted {
		t.Fatalf("status = %s, want completed", a.Status)
	}
	if a.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	if a.Recommendation != analysis.RecommendReconsider {
		t.Fatalf("recommendation = %s, want reconsider", a.Recommendation)
	}
	if a.NoveltyScore == nil || *a.NoveltyScore < 57 || *a.NoveltyScore > 59 {
		t.Fatalf("novelty = %v, want ~58", a.NoveltyScore)
	}

	want := []string{StageAssess, StageExtract, StageSearch, StageScore, StageRecommend}
	got := stageNames(t, s, "an-1")
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}
	steps, _ := s.ListSteps("an-1")
	for _, st := range steps {
		if st.Status != store.StepCompleted {
			t.Fatalf("stage %s status = %s, want completed", st.Stage, st.Status)
		}
		if !strings.Contains(st.OutputSummary, `"status":"success"`) {
			t.Fatalf("stage %s summary = %q", st.Stage, st.OutputSummary)
		}
	}

	saved, err := s.ListCandidates("an-1")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(saved) != 2 || saved[0].PatentID != "US2B2" || saved[0].SimilarityScore != 60 {
		t.Fatalf("candidates not sorted by score: %+v", saved)
	}
}

func TestRunGateStopsEarly(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-2")

	confidence := 60.0
	set := &providers.Set{
		Assessor: &fakeAssessor{out: analysis.PatentabilityAssessment{
			IsPatentable:    false,
			Confidence:      confidence,
			MissingElements: []string{"Specific technical details"},
		}},
		Extractor: &fakeExtractor{err: errors.New("must not be called")},
		Searcher:  &fakeSearcher{err: errors.New("must not be called")},
		Scorer:    &fakeScorer{},
	}
	eng := New(s, set, nil, Config{})

	a, err := eng.Run(context.Background(), "an-2", "A survey of prior results.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Status != analysis.StatusCompleted {
		t.Fatalf("status = %s, want completed", a.Status)
	}
	if a.Recommendation != analysis.RecommendReject {
		t.Fatalf("recommendation = %s, want reject", a.Recommendation)
	}
	if a.NoveltyScore == nil || *a.NoveltyScore != 0 {
		t.Fatalf("novelty = %v, want 0", a.NoveltyScore)
	}
	if a.Reasoning != GateReasoning {
		t.Fatalf("reasoning = %q", a.Reasoning)
	}
	if a.IsPatentable == nil || *a.IsPatentable {
		t.Fatal("assessment outcome not persisted")
	}
	if a.Claims != nil {
		t.Fatal("claims should not be set on a gated run")
	}

	got := stageNames(t, s, "an-2")
	if len(got) != 1 || got[0] != StageAssess {
		t.Fatalf("stages = %v, want only assess_patentability", got)
	}
}

func TestRunScorerFallbackKeepsBatchAlive(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-3")

	cands := []analysis.Candidate{
		{PatentID: "US1B2", Title: "Battery electrolyte", Abstract: "battery electrolyte ceramic"},
		{PatentID: "US2B2", Title: "Second"},
		{PatentID: "US3B2", Title: "Third"},
	}
	set := patentableSet(cands, map[string]float64{"US2B2": 20, "US3B2": 10})
	set.Scorer = &fakeScorer{
		scores:  map[string]float64{"US2B2": 20, "US3B2": 10},
		failFor: map[string]bool{"US1B2": true},
	}
	eng := New(s, set, nil, Config{})

	if _, err := eng.Run(context.Background(), "an-3", "A solid state battery device."); err != nil {
		t.Fatalf("Run: %v", err)
	}

	saved, err := s.ListCandidates("an-3")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("len(candidates) = %d, want 3", len(saved))
	}
	var fallback *analysis.Candidate
	for i := range saved {
		if saved[i].PatentID == "US1B2" {
			fallback = &saved[i]
		}
	}
	if fallback == nil {
		t.Fatal("failed candidate missing from results")
	}
	if len(fallback.OverlappingConcepts) == 0 || fallback.OverlappingConcepts[0] != "Keyword analysis fallback" {
		t.Fatalf("fallback not scored by heuristic: %+v", fallback)
	}

	steps, _ := s.ListSteps("an-3")
	for _, st := range steps {
		if st.Stage == StageScore {
			if st.Status != store.StepCompleted {
				t.Fatalf("score stage = %s, want completed", st.Status)
			}
			if !strings.Contains(st.OutputSummary, `"fallbacks":1`) {
				t.Fatalf("score summary = %q", st.OutputSummary)
			}
		}
	}
}

func TestRunDelegated(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-4")

	orch := &fakeOrchestrator{
		configured: true,
		bundle: &orchestrate.Bundle{
			ExecutionID: "exec-9",
			Assessment:  analysis.PatentabilityAssessment{IsPatentable: true, Confidence: 85},
			Claims:      analysis.ExtractedClaims{Keywords: []string{"battery"}},
			Candidates: []analysis.Candidate{
				{PatentID: "US9B2", SimilarityScore: 44, Source: "orchestrate"},
			},
			NoveltyScore:   64,
			Recommendation: analysis.RecommendReconsider,
			Reasoning:      "Moderate overlap with existing patents.",
		},
	}
	eng := New(s, patentableSet(nil, nil), orch, Config{})

	a, err := eng.Run(context.Background(), "an-4", "A solid state battery device.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Status != analysis.StatusCompleted || a.Recommendation != analysis.RecommendReconsider {
		t.Fatalf("analysis = %+v", a)
	}
	if a.NoveltyScore == nil || *a.NoveltyScore != 64 {
		t.Fatalf("novelty = %v, want 64", a.NoveltyScore)
	}

	steps, _ := s.ListSteps("an-4")
	if len(steps) != 1 || steps[0].Stage != StageOrchestrate {
		t.Fatalf("stages = %v, want single orchestrate_workflow", stageNames(t, s, "an-4"))
	}
	if steps[0].Status != store.StepCompleted {
		t.Fatalf("orchestrate step = %s, want completed", steps[0].Status)
	}
	if steps[0].ExternalExecutionID != "exec-9" {
		t.Fatalf("external id = %q, want exec-9", steps[0].ExternalExecutionID)
	}

	saved, _ := s.ListCandidates("an-4")
	if len(saved) != 1 || saved[0].PatentID != "US9B2" {
		t.Fatalf("candidates = %+v", saved)
	}
}

func TestRunDelegatedGateApplies(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-5")

	orch := &fakeOrchestrator{
		configured: true,
		bundle: &orchestrate.Bundle{
			ExecutionID: "exec-10",
			Assessment:  analysis.PatentabilityAssessment{IsPatentable: false, Confidence: 60},
		},
	}
	eng := New(s, patentableSet(nil, nil), orch, Config{})

	a, err := eng.Run(context.Background(), "an-5", "A survey of prior results.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Recommendation != analysis.RecommendReject || a.Reasoning != GateReasoning {
		t.Fatalf("gate semantics not applied: %+v", a)
	}
	if a.NoveltyScore == nil || *a.NoveltyScore != 0 {
		t.Fatalf("novelty = %v, want 0", a.NoveltyScore)
	}
}

func TestRunDelegatedFailureFallsBackToDirect(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-6")

	orch := &fakeOrchestrator{configured: true, err: errors.New("orchestrate 502")}
	set := patentableSet([]analysis.Candidate{{PatentID: "US1B2"}}, map[string]float64{"US1B2": 10})
	eng := New(s, set, orch, Config{})

	a, err := eng.Run(context.Background(), "an-6", "A solid state battery device.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Status != analysis.StatusCompleted {
		t.Fatalf("status = %s, want completed via direct fallback", a.Status)
	}
	if orch.calls != 1 {
		t.Fatalf("orchestrator calls = %d, want 1", orch.calls)
	}

	steps, _ := s.ListSteps("an-6")
	if len(steps) != 6 {
		t.Fatalf("stages = %v, want orchestrate_workflow plus five direct stages", stageNames(t, s, "an-6"))
	}
	if steps[0].Stage != StageOrchestrate || steps[0].Status != store.StepFailed {
		t.Fatalf("first step = %s/%s, want failed orchestrate_workflow", steps[0].Stage, steps[0].Status)
	}
	if !strings.Contains(steps[0].ErrorText, "orchestrate 502") {
		t.Fatalf("orchestrate error text = %q", steps[0].ErrorText)
	}
	if steps[1].Stage != StageAssess {
		t.Fatalf("second step = %s, want assess_patentability", steps[1].Stage)
	}
}

func TestRunStageFailureRecordsError(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-7")

	set := patentableSet(nil, nil)
	set.Searcher = &fakeSearcher{err: errors.New("PatentsView API unavailable")}
	eng := New(s, set, nil, Config{})

	_, err := eng.Run(context.Background(), "an-7", "A solid state battery device.")
	if err == nil {
		t.Fatal("expected error")
	}
	if StageNameFromError(err) != StageSearch {
		t.Fatalf("stage from error = %s, want search_patents", StageNameFromError(err))
	}

	a, gerr := s.GetAnalysis("an-7")
	if gerr != nil {
		t.Fatalf("GetAnalysis: %v", gerr)
	}
	if a.Status != analysis.StatusFailed {
		t.Fatalf("status = %s, want failed", a.Status)
	}
	if !strings.Contains(a.Reasoning, "PatentsView API unavailable") {
		t.Fatalf("reasoning = %q", a.Reasoning)
	}

	steps, _ := s.ListSteps("an-7")
	last := steps[len(steps)-1]
	if last.Stage != StageWorkflowError || last.Status != store.StepFailed {
		t.Fatalf("last step = %s/%s, want failed workflow_error", last.Stage, last.Status)
	}
	for _, st := range steps {
		if st.Stage == StageSearch && st.Status != store.StepFailed {
			t.Fatalf("search step = %s, want failed", st.Status)
		}
	}
}

func TestRunEmptyTextRejected(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-8")

	eng := New(s, patentableSet(nil, nil), nil, Config{})
	if _, err := eng.Run(context.Background(), "an-8", "   "); err == nil {
		t.Fatal("expected error for empty disclosure")
	}
	if got := stageNames(t, s, "an-8"); len(got) != 0 {
		t.Fatalf("stages = %v, want none", got)
	}
}

func TestRunSearchKeywordsCappedAtFive(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-9")

	searcher := &fakeSearcher{}
	set := patentableSet(nil, nil)
	set.Extractor = &fakeExtractor{out: analysis.ExtractedClaims{
		Keywords: []string{"a", "b", "c", "d", "e", "f", "g"},
	}}
	set.Searcher = searcher
	eng := New(s, set, nil, Config{})

	if _, err := eng.Run(context.Background(), "an-9", "A device."); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(searcher.keywords) != 5 {
		t.Fatalf("search keywords = %v, want first five", searcher.keywords)
	}
	if searcher.max != DefaultMaxSearchResults {
		t.Fatalf("maxResults = %d, want %d", searcher.max, DefaultMaxSearchResults)
	}
}

func TestRunSingleFlight(t *testing.T) {
	s := newTestStore(t)
	seedAnalysis(t, s, "an-10")

	block := make(chan struct{})
	set := patentableSet(nil, nil)
	set.Assessor = &fakeAssessor{
		out:   analysis.PatentabilityAssessment{IsPatentable: false},
		block: block,
	}
	eng := New(s, set, nil, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := eng.Run(context.Background(), "an-10", "A device.")
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		eng.mu.Lock()
		_, running := eng.running["an-10"]
		eng.mu.Unlock()
		if running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run never admitted")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := eng.Run(context.Background(), "an-10", "A device."); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second run err = %v, want already running", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestStageNameFromError(t *testing.T) {
	if got := StageNameFromError(&StageError{Stage: StageScore, Err: errors.New("boom")}); got != StageScore {
		t.Fatalf("got %s", got)
	}
	if got := StageNameFromError(errors.New("plain")); got != "workflow" {
		t.Fatalf("got %s", got)
	}
}
