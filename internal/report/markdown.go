// Package report renders a completed analysis as a markdown document and,
// through headless Chromium, as a PDF.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/priorai/priorai/internal/analysis"
)

const reportDisclaimer = "This report was generated automatically from an invention disclosure. " +
	"It is a screening aid, not a legal opinion. Consult patent counsel before filing decisions."

const topCandidateLimit = 10

// BuildMarkdown assembles the analysis report. Sections degrade gracefully:
// a gated run has no claims or prior-art table, only the assessment and the
// recommendation.
func BuildMarkdown(a *analysis.Analysis, candidates []analysis.Candidate) string {
	var b strings.Builder

	b.WriteString("# Prior Art Analysis Report\n\n")
	b.WriteString(fmt.Sprintf("**Disclosure:** %s\n\n", a.Title))
	b.WriteString(fmt.Sprintf("**Analysis ID:** `%s`\n\n", a.ID))
	if a.CompletedAt != nil {
		b.WriteString(fmt.Sprintf("**Completed:** %s\n\n", a.CompletedAt.UTC().Format(time.RFC3339)))
	}

	b.WriteString("## Recommendation\n\n")
	b.WriteString(fmt.Sprintf("**%s**", strings.ToUpper(string(a.Recommendation))))
	if a.NoveltyScore != nil {
		b.WriteString(fmt.Sprintf(" &mdash; novelty score %.1f / 100", *a.NoveltyScore))
	}
	b.WriteString("\n\n")
	if a.Reasoning != "" {
		b.WriteString(a.Reasoning + "\n\n")
	}

	writeAssessment(&b, a)
	writeClaims(&b, a.Claims)
	writeCandidates(&b, candidates)

	b.WriteString("---\n\n")
	b.WriteString("*" + reportDisclaimer + "*\n")
	return b.String()
}

func writeAssessment(b *strings.Builder, a *analysis.Analysis) {
	if a.IsPatentable == nil {
		return
	}
	b.WriteString("## Patentability Assessment\n\n")
	if *a.IsPatentable {
		b.WriteString("The disclosure describes patentable subject matter.")
	} else {
		b.WriteString("The disclosure does not appear to describe patentable subject matter.")
	}
	if a.PatentabilityConfidence != nil {
		b.WriteString(fmt.Sprintf(" Confidence: %.0f%%.", *a.PatentabilityConfidence))
	}
	b.WriteString("\n\n")
	if len(a.MissingElements) > 0 {
		b.WriteString("Missing elements:\n\n")
		for _, m := range a.MissingElements {
			b.WriteString("- " + m + "\n")
		}
		b.WriteString("\n")
	}
}

func writeClaims(b *strings.Builder, claims *analysis.ExtractedClaims) {
	if claims == nil {
		return
	}
	b.WriteString("## Extracted Claims\n\n")
	if claims.Background != "" {
		b.WriteString(claims.Background + "\n\n")
	}
	if len(claims.Innovations) > 0 {
		b.WriteString("Key innovations:\n\n")
		for _, in := range claims.Innovations {
			b.WriteString("- " + in + "\n")
		}
		b.WriteString("\n")
	}
	if len(claims.Keywords) > 0 {
		b.WriteString("Search keywords: " + strings.Join(claims.Keywords, ", ") + "\n\n")
	}
	if len(claims.Classifications) > 0 {
		b.WriteString("Classifications: " + strings.Join(claims.Classifications, ", ") + "\n\n")
	}
}

func writeCandidates(b *strings.Builder, candidates []analysis.Candidate) {
	if len(candidates) == 0 {
		return
	}
	top := candidates
	if len(top) > topCandidateLimit {
		top = top[:topCandidateLimit]
	}

	b.WriteString("## Closest Prior Art\n\n")
	b.WriteString("| Patent | Title | Similarity | Published | Assignee |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, c := range top {
		b.WriteString(fmt.Sprintf("| %s | %s | %.1f | %s | %s |\n",
			c.PatentID, tableCell(c.Title), c.SimilarityScore, c.PublicationDate, tableCell(c.Assignee)))
	}
	b.WriteString("\n")

	for _, c := range top {
		if len(c.OverlappingConcepts) == 0 && len(c.KeyDifferences) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("### %s &middot; %.1f\n\n", c.PatentID, c.SimilarityScore))
		if len(c.OverlappingConcepts) > 0 {
			b.WriteString("Overlapping concepts: " + strings.Join(c.OverlappingConcepts, "; ") + "\n\n")
		}
		if len(c.KeyDifferences) > 0 {
			b.WriteString("Key differences: " + strings.Join(c.KeyDifferences, "; ") + "\n\n")
		}
	}
}

func tableCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
