package orchestrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/priorai/priorai/internal/analysis"
)

// DefaultWorkflowName is the workflow the external orchestrator executes.
const DefaultWorkflowName = "patent-analysis-workflow"

type Config struct {
	BaseURL      string
	APIKey       string
	WorkflowName string
	HTTPClient   *http.Client
}

// Client delegates a full analysis run to an external multi-agent
// orchestrator. It is a translation boundary only: one request out, one
// consolidated result bundle back.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.WorkflowName == "" {
		cfg.WorkflowName = DefaultWorkflowName
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg}
}

// Configured reports whether an endpoint and credential are present. The
// workflow engine evaluates this once per run to pick its strategy.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.BaseURL) != "" && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Bundle is the consolidated result covering the five logical pipeline
// stages, already mapped to canonical conventions (novelty 0-100,
// pursue/reconsider/reject).
type Bundle struct {
	ExecutionID    string
	Assessment     analysis.PatentabilityAssessment
	Claims         analysis.ExtractedClaims
	Candidates     []analysis.Candidate
	NoveltyScore   float64
	Recommendation analysis.Recommendation
	Reasoning      string
}

type workflowRequest struct {
	DocumentText string          `json:"documentText"`
	AnalysisID   string          `json:"analysisId"`
	Options      workflowOptions `json:"options"`
}

type workflowOptions struct {
	MaxPatents int `json:"maxPatents"`
}

type workflowResponse struct {
	ExecutionID string          `json:"executionId"`
	Status      string          `json:"status"`
	Results     workflowResults `json:"results"`
}

type workflowResults struct {
	PatentabilityAssessment struct {
		IsPatentable    bool     `json:"isPatentable"`
		Confidence      float64  `json:"confidence"`
		MissingElements []string `json:"missingElements"`
	} `json:"patentabilityAssessment"`
	ExtractedClaims struct {
		Background      string   `json:"background"`
		Innovations     []string `json:"innovations"`
		Keywords        []string `json:"keywords"`
		Classifications []string `json:"classifications"`
	} `json:"extractedClaims"`
	Patents        []workflowPatent `json:"patents"`
	NoveltyScore   float64          `json:"noveltyScore"`
	Recommendation string           `json:"recommendation"`
	Reasoning      string           `json:"reasoning"`
}

type workflowPatent struct {
	PatentID        string   `json:"patentId"`
	Title           string   `json:"title"`
	Abstract        string   `json:"abstract"`
	PublicationDate string   `json:"publicationDate"`
	Assignee        string   `json:"assignee"`
	Similarity      float64  `json:"similarity"`
	Overlaps        []string `json:"overlappingConcepts"`
	Differences     []string `json:"keyDifferences"`
}

// ExecuteWorkflow runs the delegated workflow and returns the mapped bundle.
// Any transport, status, or shape problem comes back as an error; the caller
// decides whether to fall back.
func (c *Client) ExecuteWorkflow(ctx context.Context, analysisID, disclosureText string, maxResults int) (*Bundle, error) {
	if !c.Configured() {
		return nil, errors.New("orchestrator not configured")
	}
	payload, _ := json.Marshal(workflowRequest{
		DocumentText: disclosureText,
		AnalysisID:   analysisID,
		Options:      workflowOptions{MaxPatents: maxResults},
	})
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/workflows/" + c.cfg.WorkflowName + "/run"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrate transport: %w", err)
	}
	defer res.Body.Close()
	blob, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("orchestrate workflow failed status=%d body=%s", res.StatusCode, string(blob))
	}

	var parsed workflowResponse
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, fmt.Errorf("orchestrate malformed response: %w", err)
	}
	if parsed.Status != "completed" {
		return nil, fmt.Errorf("orchestrate workflow status=%q execution_id=%s", parsed.Status, parsed.ExecutionID)
	}

	bundle := &Bundle{
		ExecutionID: parsed.ExecutionID,
		Assessment: analysis.PatentabilityAssessment{
			IsPatentable:    parsed.Results.PatentabilityAssessment.IsPatentable,
			Confidence:      parsed.Results.PatentabilityAssessment.Confidence,
			MissingElements: parsed.Results.PatentabilityAssessment.MissingElements,
		},
		Claims: analysis.ExtractedClaims{
			Background:      parsed.Results.ExtractedClaims.Background,
			Innovations:     parsed.Results.ExtractedClaims.Innovations,
			Keywords:        parsed.Results.ExtractedClaims.Keywords,
			Classifications: parsed.Results.ExtractedClaims.Classifications,
		},
		NoveltyScore:   canonicalNovelty(parsed.Results.NoveltyScore),
		Recommendation: canonicalRecommendation(parsed.Results.Recommendation),
		Reasoning:      parsed.Results.Reasoning,
	}
	for _, p := range parsed.Results.Patents {
		bundle.Candidates = append(bundle.Candidates, analysis.Candidate{
			PatentID:            p.PatentID,
			Title:               p.Title,
			Abstract:            p.Abstract,
			PublicationDate:     p.PublicationDate,
			Assignee:            p.Assignee,
			SimilarityScore:     canonicalNovelty(p.Similarity),
			OverlappingConcepts: p.Overlaps,
			KeyDifferences:      p.Differences,
			Source:              "orchestrate",
		})
	}
	analysis.SortByScore(bundle.Candidates)
	return bundle, nil
}

// canonicalNovelty maps scores onto the 0-100 scale. Some orchestrator
// deployments report fractions in [0,1]; anything at or below 1 is treated
// as one.
func canonicalNovelty(v float64) float64 {
	if v > 0 && v <= 1 {
		v *= 100
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// canonicalRecommendation maps the orchestrator's vocabulary onto the
// canonical categories.
func canonicalRecommendation(v string) analysis.Recommendation {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pursue", "proceed":
		return analysis.RecommendPursue
	case "reconsider", "revise":
		return analysis.RecommendReconsider
	default:
		return analysis.RecommendReject
	}
}
