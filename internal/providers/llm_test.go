package providers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/priorai/priorai/internal/analysis"
)

type scriptedCaller struct {
	responses []string
	errs      []error
	prompts   []string
}

func (s *scriptedCaller) GenerateJSON(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	idx := len(s.prompts) - 1
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	resp := ""
	if idx < len(s.responses) {
		resp = s.responses[idx]
	}
	return resp, err
}

func TestJSONExecutorParsesFencedJSON(t *testing.T) {
	caller := &scriptedCaller{responses: []string{"```json\n{\"value\": 7}\n```"}}
	exec := NewJSONExecutor(caller)

	out := struct {
		Value int `json:"value"`
	}{}
	m, err := exec.Run(context.Background(), "test_op", "prompt", &out, func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 7 {
		t.Fatalf("expected 7, got %d", out.Value)
	}
	if m.Attempts != 1 || m.ContentRetries != 0 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestJSONExecutorRetriesInvalidJSONWithFeedback(t *testing.T) {
	caller := &scriptedCaller{responses: []string{"not json", `{"value": 3}`}}
	exec := NewJSONExecutor(caller)

	out := struct {
		Value int `json:"value"`
	}{}
	m, err := exec.Run(context.Background(), "test_op", "prompt", &out, func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 3 {
		t.Fatalf("expected 3, got %d", out.Value)
	}
	if m.ContentRetries != 1 {
		t.Fatalf("expected 1 content retry, got %d", m.ContentRetries)
	}
	if len(caller.prompts) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(caller.prompts))
	}
	if !strings.Contains(caller.prompts[1], "not valid JSON") {
		t.Fatal("second prompt should carry corrective feedback")
	}
}

func TestJSONExecutorRetriesValidationFailure(t *testing.T) {
	caller := &scriptedCaller{responses: []string{`{"value": -1}`, `{"value": 5}`}}
	exec := NewJSONExecutor(caller)

	out := struct {
		Value int `json:"value"`
	}{}
	_, err := exec.Run(context.Background(), "test_op", "prompt", &out, func() error {
		if out.Value < 0 {
			return errors.New("value must be non-negative")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 5 {
		t.Fatalf("expected 5, got %d", out.Value)
	}
	if !strings.Contains(caller.prompts[1], "value must be non-negative") {
		t.Fatal("feedback should name the validation failure")
	}
}

func TestJSONExecutorGivesUpAfterThreeAttempts(t *testing.T) {
	caller := &scriptedCaller{responses: []string{"junk", "junk", "junk"}}
	exec := NewJSONExecutor(caller)

	out := struct{}{}
	_, err := exec.Run(context.Background(), "test_op", "prompt", &out, func() error { return nil })
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if len(caller.prompts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(caller.prompts))
	}
}

func TestJSONExecutorClientErrorNotRetried(t *testing.T) {
	caller := &scriptedCaller{
		responses: []string{"", ""},
		errs:      []error{errors.New("status code: 400 bad request")},
	}
	exec := NewJSONExecutor(caller)

	out := struct{}{}
	_, err := exec.Run(context.Background(), "test_op", "prompt", &out, func() error { return nil })
	if err == nil {
		t.Fatal("expected transport error")
	}
	if len(caller.prompts) != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", len(caller.prompts))
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFences(in); got != want {
			t.Fatalf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLLMAssessorMapsPayload(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"isPatentable": true, "confidence": 82, "reasoning": "Concrete device with stated dimensions.", "missingElements": []}`,
	}}
	assessor := NewLLMAssessor(NewJSONExecutor(caller))

	out, err := assessor.Assess(context.Background(), "a device for testing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.IsPatentable || out.Confidence != 82 {
		t.Fatalf("unexpected assessment %+v", out)
	}
}

func TestLLMAssessorRejectsOutOfRangeConfidence(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"isPatentable": true, "confidence": 140, "reasoning": "Looks quite strong overall.", "missingElements": []}`,
		`{"isPatentable": true, "confidence": 140, "reasoning": "Looks quite strong overall.", "missingElements": []}`,
		`{"isPatentable": true, "confidence": 140, "reasoning": "Looks quite strong overall.", "missingElements": []}`,
	}}
	assessor := NewLLMAssessor(NewJSONExecutor(caller))

	if _, err := assessor.Assess(context.Background(), "a device"); err == nil {
		t.Fatal("expected validation failure")
	}
}

func TestLLMScorerMapsPayload(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"similarity_score": 66.5, "overlapping_concepts": ["coil design"], "key_differences": ["material choice"]}`,
	}}
	scorer := NewLLMScorer(NewJSONExecutor(caller))

	claims := analysis.ExtractedClaims{Innovations: []string{"wireless coil"}}
	cand := analysis.Candidate{Title: "Charging coil", Abstract: "A coil."}
	out, err := scorer.Score(context.Background(), claims, cand)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Score != 66.5 {
		t.Fatalf("expected 66.5, got %v", out.Score)
	}
	if len(out.OverlappingConcepts) != 1 || out.OverlappingConcepts[0] != "coil design" {
		t.Fatalf("unexpected overlaps %v", out.OverlappingConcepts)
	}
}

func TestLLMExtractorValidatesKeywords(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"background": "A battery cell with a solid electrolyte layer.", "innovations": ["solid electrolyte"], "keywords": ["battery", "electrolyte"], "classifications": ["H01M"]}`,
	}}
	extractor := NewLLMExtractor(NewJSONExecutor(caller))

	out, err := extractor.Extract(context.Background(), "disclosure text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Keywords) != 2 {
		t.Fatalf("unexpected keywords %v", out.Keywords)
	}
	if out.Classifications[0] != "H01M" {
		t.Fatalf("unexpected classifications %v", out.Classifications)
	}
}
