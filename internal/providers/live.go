package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/priorai/priorai/internal/analysis"
)

const assessSchemaPrompt = `Required JSON schema:
{
  "isPatentable": "boolean",
  "confidence": "float (0-100)",
  "reasoning": "string (min 10 chars)",
  "missingElements": ["string (0-10 entries)"]
}`

const assessPromptContext = `PATENTABLE inventions have:
- Specific device design, process steps, or method
- Industrial application (can be manufactured/used)
- Technical details (numbers, materials, configurations)

PUBLISHABLE-ONLY research:
- Only theory or experimental results
- No specific implementation
- Just observations or discoveries`

const extractSchemaPrompt = `Required JSON schema:
{
  "background": "string (20-2000 chars)",
  "innovations": ["string (1-20 entries)"],
  "keywords": ["string (1-20 entries, single terms or short phrases)"],
  "classifications": ["string (0-10 entries, IPC/CPC codes such as G06F or H01M10/05)"]
}`

const scoreSchemaPrompt = `Required JSON schema:
{
  "similarity_score": "float (0-100)",
  "overlapping_concepts": ["string (0-10 entries)"],
  "key_differences": ["string (0-10 entries)"]
}`

type LLMAssessor struct {
	exec *JSONExecutor
}

func NewLLMAssessor(exec *JSONExecutor) *LLMAssessor {
	return &LLMAssessor{exec: exec}
}

type assessPayload struct {
	IsPatentable    bool     `json:"isPatentable"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	MissingElements []string `json:"missingElements"`
}

func (a *LLMAssessor) Assess(ctx context.Context, text string) (analysis.PatentabilityAssessment, error) {
	out := assessPayload{}
	prompt := fmt.Sprintf(
		"Analyze if this invention disclosure is PATENTABLE or just PUBLISHABLE research.\n\n%s\n\n%s\n\nDisclosure (first %d chars):\n%s",
		assessPromptContext,
		assessSchemaPrompt,
		AssessmentPrefixLimit,
		assessmentPrefix(text),
	)
	_, err := a.exec.Run(ctx, "assess_patentability", prompt, &out, func() error { return validateAssessment(out) })
	if err != nil {
		return analysis.PatentabilityAssessment{}, err
	}
	return analysis.PatentabilityAssessment{
		IsPatentable:    out.IsPatentable,
		Confidence:      out.Confidence,
		MissingElements: out.MissingElements,
	}, nil
}

type LLMExtractor struct {
	exec *JSONExecutor
}

func NewLLMExtractor(exec *JSONExecutor) *LLMExtractor {
	return &LLMExtractor{exec: exec}
}

type extractPayload struct {
	Background      string   `json:"background"`
	Innovations     []string `json:"innovations"`
	Keywords        []string `json:"keywords"`
	Classifications []string `json:"classifications"`
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) (analysis.ExtractedClaims, error) {
	out := extractPayload{}
	prompt := fmt.Sprintf(
		"Extract the claimable substance of this invention disclosure: background context, discrete innovation statements, search keywords, and patent classification codes.\n\n%s\n\nDisclosure text:\n%s",
		extractSchemaPrompt,
		text,
	)
	_, err := e.exec.Run(ctx, "extract_claims", prompt, &out, func() error { return validateExtraction(out) })
	if err != nil {
		return analysis.ExtractedClaims{}, err
	}
	return analysis.ExtractedClaims{
		Background:      out.Background,
		Innovations:     out.Innovations,
		Keywords:        out.Keywords,
		Classifications: out.Classifications,
	}, nil
}

type LLMScorer struct {
	exec *JSONExecutor
}

func NewLLMScorer(exec *JSONExecutor) *LLMScorer {
	return &LLMScorer{exec: exec}
}

type scorePayload struct {
	SimilarityScore     float64  `json:"similarity_score"`
	OverlappingConcepts []string `json:"overlapping_concepts"`
	KeyDifferences      []string `json:"key_differences"`
}

func (s *LLMScorer) Score(ctx context.Context, claims analysis.ExtractedClaims, candidate analysis.Candidate) (analysis.SimilarityAssessment, error) {
	out := scorePayload{}
	innovations, _ := json.Marshal(claims.Innovations)
	prompt := fmt.Sprintf(
		"Compare the invention disclosure with the patent and score their similarity.\n\n%s\n\nDisclosure innovations:\n%s\n\nPatent:\nTitle: %s\nAbstract: %s",
		scoreSchemaPrompt,
		innovations,
		candidate.Title,
		abstractPrefix(candidate.Abstract),
	)
	_, err := s.exec.Run(ctx, "score_similarity", prompt, &out, func() error { return validateScore(out) })
	if err != nil {
		return analysis.SimilarityAssessment{}, err
	}
	return analysis.SimilarityAssessment{
		Score:               out.SimilarityScore,
		OverlappingConcepts: out.OverlappingConcepts,
		KeyDifferences:      out.KeyDifferences,
	}, nil
}

// abstractPrefix bounds the patent abstract sent per scoring call. Abstracts
// past 500 chars add tokens without moving the score.
func abstractPrefix(abstract string) string {
	return runePrefix(abstract, 500)
}

func validateAssessment(p assessPayload) error {
	if p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Errorf("confidence out of range")
	}
	if len(strings.TrimSpace(p.Reasoning)) < 10 {
		return fmt.Errorf("reasoning too short")
	}
	if len(p.MissingElements) > 10 {
		return fmt.Errorf("missingElements count")
	}
	return nil
}

func validateExtraction(p extractPayload) error {
	if !between(len(strings.TrimSpace(p.Background)), 20, 2000) {
		return fmt.Errorf("background length")
	}
	if len(p.Innovations) < 1 || len(p.Innovations) > 20 {
		return fmt.Errorf("innovations count")
	}
	if len(p.Keywords) < 1 || len(p.Keywords) > 20 {
		return fmt.Errorf("keywords count")
	}
	if len(p.Classifications) > 10 {
		return fmt.Errorf("classifications count")
	}
	for _, k := range p.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("empty keyword")
		}
	}
	return nil
}

func validateScore(p scorePayload) error {
	if p.SimilarityScore < 0 || p.SimilarityScore > 100 {
		return fmt.Errorf("similarity_score out of range")
	}
	if len(p.OverlappingConcepts) > 10 || len(p.KeyDifferences) > 10 {
		return fmt.Errorf("concept list count")
	}
	return nil
}

func between(v, min, max int) bool {
	return v >= min && v <= max
}
