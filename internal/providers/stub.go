package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/priorai/priorai/internal/analysis"
)

// Deterministic stand-ins used when no external credentials are configured.
// Each stub mimics the shape and rough behavior of its live counterpart so
// the full pipeline can run end to end in development.

type StubAssessor struct{}

func (StubAssessor) Assess(_ context.Context, text string) (analysis.PatentabilityAssessment, error) {
	lower := strings.ToLower(assessmentPrefix(text))
	patentable := strings.Contains(lower, "device") || strings.Contains(lower, "method") || strings.Contains(lower, "system")
	out := analysis.PatentabilityAssessment{IsPatentable: patentable, Confidence: 60}
	if patentable {
		out.Confidence = 75
	} else {
		out.MissingElements = []string{"Specific technical details", "Manufacturing process"}
	}
	return out, nil
}

type StubExtractor struct{}

func (StubExtractor) Extract(_ context.Context, text string) (analysis.ExtractedClaims, error) {
	if strings.TrimSpace(text) == "" {
		return analysis.ExtractedClaims{}, fmt.Errorf("empty disclosure text")
	}
	sentences := splitSentences(text)
	claims := analysis.ExtractedClaims{
		Background:      backgroundOf(text),
		Innovations:     pickInnovations(sentences),
		Keywords:        topKeywords(text, 10),
		Classifications: classifyKeywords(topKeywords(text, 10)),
	}
	if len(claims.Innovations) == 0 && len(sentences) > 0 {
		n := len(sentences)
		if n > 3 {
			n = 3
		}
		claims.Innovations = sentences[:n]
	}
	return claims, nil
}

type StubScorer struct{}

func (StubScorer) Score(_ context.Context, claims analysis.ExtractedClaims, candidate analysis.Candidate) (analysis.SimilarityAssessment, error) {
	return KeywordOverlapScore(claims, candidate), nil
}

// KeywordOverlapScore estimates similarity from raw word overlap between the
// disclosure innovations and the patent title plus abstract. It backs the
// stub scorer and serves as the per-candidate fallback when a live scorer
// call fails.
func KeywordOverlapScore(claims analysis.ExtractedClaims, candidate analysis.Candidate) analysis.SimilarityAssessment {
	innovations := strings.ToLower(strings.Join(claims.Innovations, " "))
	patent := strings.ToLower(candidate.Title + " " + candidate.Abstract)

	seen := map[string]struct{}{}
	for _, w := range strings.Fields(innovations) {
		seen[w] = struct{}{}
	}
	common := map[string]struct{}{}
	for _, w := range strings.Fields(patent) {
		if _, ok := seen[w]; ok {
			common[w] = struct{}{}
		}
	}
	score := float64(len(common)) * 10
	if score > 100 {
		score = 100
	}
	return analysis.SimilarityAssessment{
		Score:               score,
		OverlappingConcepts: []string{"Keyword analysis fallback"},
		KeyDifferences:      []string{"Full semantic analysis unavailable"},
	}
}

// StubSearcher fabricates a deterministic prior-art corpus from the search
// keywords. Result shape mirrors what a patent search API returns.
type StubSearcher struct{}

var stubTitleTemplates = []string{
	"Method and apparatus for %s processing",
	"System for enhanced %s performance",
	"%s with improved efficiency",
	"Novel %s composition and method",
	"Apparatus for %s optimization",
	"Method of manufacturing %s device",
	"Integrated %s system",
	"%s-based solution for industrial applications",
	"Advanced %s technology",
	"Improved %s methodology",
}

var stubAssignees = []string{
	"Advanced Technology Corp.",
	"Innovation Industries Inc.",
	"TechSolutions LLC",
	"Global Research Institute",
	"NextGen Systems",
	"Future Technologies",
	"Precision Engineering Co.",
	"Scientific Applications Ltd.",
}

var stubAbstractTemplates = []string{
	"The present invention relates to %s technology. More specifically, it provides a novel approach to improve the efficiency and performance of %s systems through innovative design and implementation methodologies.",
	"This invention discloses a method and apparatus for %s processing. The invention addresses limitations in conventional %s systems by introducing advanced techniques that enhance operational characteristics.",
	"A %s system is described that overcomes drawbacks of existing solutions. The invention incorporates novel features that provide significant advantages in terms of performance, cost-effectiveness, and reliability.",
}

var stubInventorFirst = []string{"John", "Jane", "Michael", "Sarah", "David", "Emily", "Robert", "Lisa"}
var stubInventorLast = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis"}

func (StubSearcher) Search(_ context.Context, keywords, _ []string, maxResults int) ([]analysis.Candidate, error) {
	terms := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if len(k) > 3 {
			terms = append(terms, k)
		}
	}
	if len(terms) == 0 {
		terms = []string{"technology"}
	}

	n := maxResults
	if n > 50 {
		n = 50
	}
	out := make([]analysis.Candidate, 0, n)
	for i := 0; i < n; i++ {
		keyword := terms[i%len(terms)]
		title := fmt.Sprintf(stubTitleTemplates[i%len(stubTitleTemplates)], titleCase(keyword))
		out = append(out, analysis.Candidate{
			PatentID:        fmt.Sprintf("US%dB2", 10000000+i*12345),
			Title:           title,
			Abstract:        stubAbstract(keyword, i),
			Claims:          stubClaims(keyword, i),
			PublicationDate: fmt.Sprintf("%d-%02d-15", 2015+(i%10), (i%12)+1),
			Assignee:        stubAssignees[i%len(stubAssignees)],
			Inventors:       stubInventors(i),
			Classifications: classifyKeywords([]string{keyword}),
			Source:          "stub",
		})
	}
	return out, nil
}

func stubAbstract(keyword string, seed int) string {
	switch seed % len(stubAbstractTemplates) {
	case 0:
		return fmt.Sprintf(stubAbstractTemplates[0], keyword, keyword)
	case 1:
		return fmt.Sprintf(stubAbstractTemplates[1], keyword, keyword)
	default:
		return fmt.Sprintf(stubAbstractTemplates[2], keyword)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func stubClaims(keyword string, seed int) []string {
	claims := []string{
		fmt.Sprintf("1. A method for %s processing, comprising: receiving input data, processing said data, and outputting results.", keyword),
		"2. The method of claim 1, wherein the processing step includes optimization techniques.",
		"3. The method of claim 1, wherein the method is implemented in a distributed computing environment.",
		fmt.Sprintf("4. An apparatus for %s processing, comprising: a processing unit configured to execute the method of claim 1.", keyword),
		"5. The apparatus of claim 4, further comprising a storage unit for maintaining data.",
	}
	n := (seed % 5) + 3
	if n > len(claims) {
		n = len(claims)
	}
	return claims[:n]
}

func stubInventors(seed int) []string {
	n := (seed % 3) + 1
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		first := stubInventorFirst[(seed+i)%len(stubInventorFirst)]
		last := stubInventorLast[(seed+i*2)%len(stubInventorLast)]
		out = append(out, first+" "+last)
	}
	return out
}

var keywordIPC = map[string][]string{
	"battery":        {"H01M10/05", "H01M10/0562"},
	"electrolyte":    {"H01M10/0562"},
	"lithium":        {"H01M10/0525"},
	"software":       {"G06F9", "G06F17"},
	"network":        {"H04L", "H04W"},
	"neural":         {"G06N3/08"},
	"database":       {"G06F16"},
	"semiconductor":  {"H01L21", "H01L29"},
	"pharmaceutical": {"A61K", "A61K31"},
	"chemical":       {"C07D", "C08F"},
}

func classifyKeywords(keywords []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for key, codes := range keywordIPC {
			if !strings.Contains(kw, key) {
				continue
			}
			for _, c := range codes {
				if _, ok := seen[c]; ok {
					continue
				}
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

var extractStopwords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "have": {}, "been": {},
	"their": {}, "which": {}, "would": {}, "using": {}, "into": {}, "such": {},
	"these": {}, "than": {}, "other": {}, "more": {}, "also": {}, "when": {},
	"where": {}, "while": {}, "through": {}, "over": {}, "under": {}, "each": {},
}

func topKeywords(text string, n int) []string {
	counts := map[string]int{}
	order := []string{}
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		w := strings.Trim(raw, ".,;:()[]\"'!?")
		if len(w) <= 3 {
			continue
		}
		if _, stop := extractStopwords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func backgroundOf(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "\n\n"); idx > 20 {
		text = text[:idx]
	}
	if len(text) > 300 {
		text = strings.TrimSpace(text[:300])
	}
	return text
}

func splitSentences(text string) []string {
	out := []string{}
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		s = strings.TrimSpace(s)
		if len(s) > 15 {
			out = append(out, s)
		}
	}
	return out
}

func pickInnovations(sentences []string) []string {
	markers := []string{"device", "method", "system", "process", "apparatus", "novel", "invention"}
	out := []string{}
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				out = append(out, s)
				break
			}
		}
		if len(out) == 5 {
			break
		}
	}
	return out
}
