package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/priorai/priorai/internal/analysis"
)

const (
	patentsViewBaseURL        = "https://search.patentsview.org"
	patentsViewPatentPath     = "/api/v1/patent/"
	defaultRateLimitPerMinute = 45
	searchKeywordLimit        = 5
)

var cpcSubclassRe = regexp.MustCompile(`^[A-HY][0-9]{2}[A-Z]$`)

type PatentsViewConfig struct {
	APIKey             string
	BaseURL            string
	RateLimitPerMinute int
	HTTPClient         *http.Client
}

// PatentsViewSearcher queries the PatentsView search API for prior art.
// It issues a narrow all-terms query first, then a broad any-terms query,
// deduplicating by patent id until maxResults is reached.
type PatentsViewSearcher struct {
	cfg    PatentsViewConfig
	ticker *time.Ticker
}

func NewPatentsViewSearcher(cfg PatentsViewConfig) (*PatentsViewSearcher, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("PATENTSVIEW_API_KEY not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = patentsViewBaseURL
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = defaultRateLimitPerMinute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := time.Minute / time.Duration(cfg.RateLimitPerMinute)
	return &PatentsViewSearcher{cfg: cfg, ticker: time.NewTicker(interval)}, nil
}

// Close stops the rate-limit ticker. The searcher must not be used after.
func (s *PatentsViewSearcher) Close() {
	s.ticker.Stop()
}

type patentAPIResponse struct {
	Error     bool             `json:"error"`
	Count     int              `json:"count"`
	TotalHits int              `json:"total_hits"`
	Patents   []map[string]any `json:"patents"`
}

func (s *PatentsViewSearcher) Search(ctx context.Context, keywords, classifications []string, maxResults int) ([]analysis.Candidate, error) {
	terms := normalizeTerms(keywords, searchKeywordLimit)
	if len(terms) == 0 {
		return nil, errors.New("no usable search keywords")
	}
	cpcs := normalizeCPCs(classifications)

	queries := []map[string]any{
		buildAllTermsQuery(strings.Join(terms, " "), cpcs),
		buildAnyTermsQuery(strings.Join(terms, " "), cpcs),
	}

	byID := map[string]analysis.Candidate{}
	failed := 0
	for i, body := range queries {
		if len(byID) >= maxResults {
			break
		}
		if err := s.waitRateLimit(ctx); err != nil {
			return nil, err
		}
		resp, statusCode, err := s.executeWithRetry(ctx, body)
		if err != nil {
			failed++
			if statusCode == http.StatusForbidden {
				return nil, errors.New("PatentsView API authentication failed. Check PATENTSVIEW_API_KEY")
			}
			log.Printf("patent-search query failed idx=%d status=%d err=%v", i, statusCode, err)
			continue
		}
		for _, raw := range resp.Patents {
			cand := flattenPatent(raw)
			if cand.PatentID == "" {
				continue
			}
			if _, ok := byID[cand.PatentID]; ok {
				continue
			}
			if len(byID) >= maxResults {
				break
			}
			byID[cand.PatentID] = cand
		}
	}
	if failed == len(queries) {
		return nil, errors.New("PatentsView API unavailable")
	}

	out := make([]analysis.Candidate, 0, len(byID))
	for _, cand := range byID {
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublicationDate != out[j].PublicationDate {
			return out[i].PublicationDate > out[j].PublicationDate
		}
		return out[i].PatentID < out[j].PatentID
	})
	return out, nil
}

func (s *PatentsViewSearcher) waitRateLimit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticker.C:
		return nil
	}
}

func (s *PatentsViewSearcher) executeWithRetry(ctx context.Context, body map[string]any) (patentAPIResponse, int, error) {
	var lastErr error
	statusCode := 0
	for attempt := 1; attempt <= 4; attempt++ {
		resp, code, retryAfter, err := s.executeOnce(ctx, body)
		statusCode = code
		if err == nil {
			return resp, statusCode, nil
		}
		lastErr = err

		if code == http.StatusBadRequest || code == http.StatusForbidden {
			return patentAPIResponse{}, statusCode, err
		}
		if code == http.StatusTooManyRequests {
			if attempt == 4 {
				break
			}
			sleep := retryAfter
			if sleep <= 0 {
				sleep = backoffDelay(attempt)
			}
			if err := sleepCtx(ctx, sleep); err != nil {
				return patentAPIResponse{}, statusCode, err
			}
			continue
		}
		if code >= 500 || errors.Is(err, context.DeadlineExceeded) {
			if attempt == 4 {
				break
			}
			if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
				return patentAPIResponse{}, statusCode, err
			}
			continue
		}
		return patentAPIResponse{}, statusCode, err
	}
	return patentAPIResponse{}, statusCode, lastErr
}

func (s *PatentsViewSearcher) executeOnce(ctx context.Context, body map[string]any) (patentAPIResponse, int, time.Duration, error) {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.BaseURL, "/")+patentsViewPatentPath, bytes.NewReader(payload))
	if err != nil {
		return patentAPIResponse{}, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.cfg.APIKey)

	res, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return patentAPIResponse{}, 0, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<20))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode == http.StatusTooManyRequests {
		return patentAPIResponse{}, res.StatusCode, retryAfter, fmt.Errorf("status code: %d", res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return patentAPIResponse{}, res.StatusCode, retryAfter, fmt.Errorf("status code: %d body=%s", res.StatusCode, string(b))
	}

	var parsed patentAPIResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return patentAPIResponse{}, res.StatusCode, retryAfter, err
	}
	if parsed.Error {
		return patentAPIResponse{}, res.StatusCode, retryAfter, fmt.Errorf("patentsview error flag true body=%s", string(b))
	}
	return parsed, res.StatusCode, retryAfter, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func buildAnyTermsQuery(tokens string, cpcs []string) map[string]any {
	text := map[string]any{"_or": []any{
		map[string]any{"_text_any": map[string]any{"patent_title": tokens}},
		map[string]any{"_text_any": map[string]any{"patent_abstract": tokens}},
	}}
	return queryBody(text, cpcs)
}

func buildAllTermsQuery(tokens string, cpcs []string) map[string]any {
	text := map[string]any{"_or": []any{
		map[string]any{"_text_all": map[string]any{"patent_title": tokens}},
		map[string]any{"_text_all": map[string]any{"patent_abstract": tokens}},
	}}
	return queryBody(text, cpcs)
}

func queryBody(textClause map[string]any, cpcs []string) map[string]any {
	q := any(textClause)
	if len(cpcs) > 0 {
		q = map[string]any{"_and": []any{textClause, map[string]any{"cpc_at_issue.cpc_subclass_id": cpcs}}}
	}
	return map[string]any{
		"q": q,
		"f": []string{
			"patent_id", "patent_title", "patent_abstract", "patent_date",
			"assignees.assignee_organization", "cpc_at_issue.cpc_subclass_id",
			"inventors.inventor_name_first", "inventors.inventor_name_last",
		},
		"s": []map[string]string{{"patent_date": "desc"}, {"patent_id": "asc"}},
		"o": map[string]int{"size": 200},
	}
}

func normalizeTerms(keywords []string, limit int) []string {
	out := make([]string, 0, limit)
	seen := map[string]struct{}{}
	for _, kw := range keywords {
		for _, tok := range strings.Fields(strings.NewReplacer("-", " ").Replace(kw)) {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if len(tok) < 3 {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

func normalizeCPCs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, code := range in {
		c := strings.ToUpper(strings.TrimSpace(code))
		if c == "" {
			continue
		}
		if len(c) > 4 {
			c = c[:4]
		}
		if !cpcSubclassRe.MatchString(c) {
			log.Printf("patent-search dropping invalid cpc_subclass=%q", code)
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func flattenPatent(raw map[string]any) analysis.Candidate {
	return analysis.Candidate{
		PatentID:        strings.TrimSpace(str(raw["patent_id"])),
		Title:           strings.TrimSpace(str(raw["patent_title"])),
		Abstract:        strings.TrimSpace(str(raw["patent_abstract"])),
		PublicationDate: strings.TrimSpace(str(raw["patent_date"])),
		Assignee:        firstAssignee(raw["assignees"]),
		Inventors:       flattenInventors(raw["inventors"]),
		Classifications: flattenCPC(raw["cpc_at_issue"]),
		Source:          "patentsview",
	}
}

func firstAssignee(v any) string {
	arr, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, item := range arr {
		m, _ := item.(map[string]any)
		name := strings.Join(strings.Fields(str(m["assignee_organization"])), " ")
		if name != "" {
			return name
		}
	}
	return ""
}

func flattenCPC(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	out := []string{}
	for _, item := range arr {
		m, _ := item.(map[string]any)
		c := strings.TrimSpace(str(m["cpc_subclass_id"]))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func flattenInventors(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := []string{}
	for _, item := range arr {
		if len(out) >= 10 {
			break
		}
		m, _ := item.(map[string]any)
		first := strings.TrimSpace(str(m["inventor_name_first"]))
		last := strings.TrimSpace(str(m["inventor_name_last"]))
		name := strings.TrimSpace(first + " " + last)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
