package providers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/priorai/priorai/internal/analysis"
)

// AssessmentPrefixLimit bounds how much disclosure text is sent to the
// patentability assessor. Assessment quality degrades slowly with truncation
// while token cost grows linearly, so only a prefix goes to the model.
const AssessmentPrefixLimit = 2000

type Assessor interface {
	Assess(ctx context.Context, text string) (analysis.PatentabilityAssessment, error)
}

type Extractor interface {
	Extract(ctx context.Context, text string) (analysis.ExtractedClaims, error)
}

type Searcher interface {
	Search(ctx context.Context, keywords, classifications []string, maxResults int) ([]analysis.Candidate, error)
}

type Scorer interface {
	Score(ctx context.Context, claims analysis.ExtractedClaims, candidate analysis.Candidate) (analysis.SimilarityAssessment, error)
}

// Set bundles one implementation of each capability. The workflow engine
// receives a Set by injection and never inspects which variant it got.
type Set struct {
	Assessor  Assessor
	Extractor Extractor
	Searcher  Searcher
	Scorer    Scorer
}

type Config struct {
	AnthropicAPIKey    string
	PatentsViewAPIKey  string
	PatentsViewBaseURL string
	RateLimitPerMinute int
	HTTPClient         *http.Client
}

// New selects live or stub variants once, at construction time, based on
// which credentials are present. Business logic never re-checks configuration.
func New(cfg Config) (*Set, error) {
	set := &Set{}

	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		caller := NewAnthropicCaller(cfg.AnthropicAPIKey)
		exec := NewJSONExecutor(caller)
		set.Assessor = NewLLMAssessor(exec)
		set.Extractor = NewLLMExtractor(exec)
		set.Scorer = NewLLMScorer(exec)
		log.Printf("providers assessor=llm extractor=llm scorer=llm")
	} else {
		set.Assessor = StubAssessor{}
		set.Extractor = StubExtractor{}
		set.Scorer = StubScorer{}
		log.Printf("providers assessor=stub extractor=stub scorer=stub reason=no_anthropic_key")
	}

	if strings.TrimSpace(cfg.PatentsViewAPIKey) != "" {
		searcher, err := NewPatentsViewSearcher(PatentsViewConfig{
			APIKey:             cfg.PatentsViewAPIKey,
			BaseURL:            cfg.PatentsViewBaseURL,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			HTTPClient:         cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		set.Searcher = searcher
		log.Printf("providers searcher=patentsview")
	} else {
		set.Searcher = StubSearcher{}
		log.Printf("providers searcher=stub reason=no_patentsview_key")
	}

	return set, nil
}

func assessmentPrefix(text string) string {
	return runePrefix(text, AssessmentPrefixLimit)
}

// runePrefix truncates s to at most limit bytes without splitting a
// multi-byte rune at the cut point.
func runePrefix(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
