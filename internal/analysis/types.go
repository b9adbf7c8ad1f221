package analysis

import "time"

// Status is the lifecycle state of an analysis run.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Recommendation is the categorical filing recommendation.
type Recommendation string

const (
	RecommendPursue     Recommendation = "pursue"
	RecommendReconsider Recommendation = "reconsider"
	RecommendReject     Recommendation = "reject"
)

// HighSimilarityThreshold is the similarity score above which a candidate
// counts as highly similar in the novelty formula.
const HighSimilarityThreshold = 70.0

// PatentabilityAssessment is the output of the patentability gate stage.
type PatentabilityAssessment struct {
	IsPatentable    bool     `json:"is_patentable"`
	Confidence      float64  `json:"confidence"`
	MissingElements []string `json:"missing_elements"`
}

// ExtractedClaims is the structured claim set pulled from a disclosure.
type ExtractedClaims struct {
	Background      string   `json:"background"`
	Innovations     []string `json:"innovations"`
	Keywords        []string `json:"keywords"`
	Classifications []string `json:"classifications"`
}

// SimilarityAssessment is the per-candidate output of the similarity scorer.
type SimilarityAssessment struct {
	Score               float64  `json:"score"`
	OverlappingConcepts []string `json:"overlapping_concepts"`
	KeyDifferences      []string `json:"key_differences"`
}

// Candidate is one prior-art patent retrieved by search and, once scored,
// annotated with its similarity assessment. Immutable after scoring.
type Candidate struct {
	PatentID            string   `json:"patent_id"`
	Title               string   `json:"title"`
	Abstract            string   `json:"abstract"`
	Claims              []string `json:"claims,omitempty"`
	PublicationDate     string   `json:"publication_date,omitempty"`
	Assignee            string   `json:"assignee,omitempty"`
	Inventors           []string `json:"inventors,omitempty"`
	Classifications     []string `json:"classifications,omitempty"`
	SimilarityScore     float64  `json:"similarity_score"`
	OverlappingConcepts []string `json:"overlapping_concepts,omitempty"`
	KeyDifferences      []string `json:"key_differences,omitempty"`
	Source              string   `json:"source"`
}

// Analysis is one disclosure under review. Nullable fields stay nil until
// the stage that produces them completes.
type Analysis struct {
	ID                      string           `json:"id"`
	Title                   string           `json:"title"`
	Status                  Status           `json:"status"`
	Claims                  *ExtractedClaims `json:"extracted_claims,omitempty"`
	IsPatentable            *bool            `json:"is_patentable,omitempty"`
	PatentabilityConfidence *float64         `json:"patentability_confidence,omitempty"`
	MissingElements         []string         `json:"missing_elements,omitempty"`
	NoveltyScore            *float64         `json:"novelty_score,omitempty"`
	Recommendation          Recommendation   `json:"recommendation,omitempty"`
	Reasoning               string           `json:"reasoning,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
	CompletedAt             *time.Time       `json:"completed_at,omitempty"`
}

// Result bundles the final recommendation fields written back to an Analysis.
type Result struct {
	NoveltyScore   float64        `json:"novelty_score"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning"`
}
