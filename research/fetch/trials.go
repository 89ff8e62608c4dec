package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dshills/bioquery-go/research"
)

// TrialsAdapter talks to the clinical-trials registry.
type TrialsAdapter struct {
	BaseURL string
	Client  *http.Client
}

// NewTrialsAdapter builds an adapter with a default client.
func NewTrialsAdapter(baseURL string) *TrialsAdapter {
	return &TrialsAdapter{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type trialsSearchRequest struct {
	Condition string   `json:"condition,omitempty"`
	Sponsor   string   `json:"sponsor,omitempty"`
	NCTID     string   `json:"nct_id,omitempty"`
	Phases    []string `json:"phases,omitempty"`
	Statuses  []string `json:"statuses,omitempty"`
	Limit     int      `json:"limit"`
}

type trialsStudy struct {
	NCTID     string  `json:"nct_id"`
	Title     string  `json:"title"`
	Sponsor   string  `json:"sponsor"`
	Phase     string  `json:"phase"`
	Status    string  `json:"status"`
	StartYear int     `json:"start_year"`
	Summary   string  `json:"summary,omitempty"`
	Score     float64 `json:"score"`
}

type trialsSearchResponse struct {
	Studies []trialsStudy `json:"studies"`
}

// Search implements Adapter.
func (a *TrialsAdapter) Search(ctx context.Context, q Query) ([]research.Item, error) {
	condition := q.Indication
	if condition == "" {
		condition = q.Topic
	}

	req := trialsSearchRequest{
		Condition: condition,
		Sponsor:   q.Company,
		NCTID:     q.TrialID,
		Phases:    q.Phases,
		Statuses:  q.Statuses,
		Limit:     q.Limit,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("trials encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/v2/studies/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("trials registry returned status %d: %s", resp.StatusCode, snippet)
	}

	var out trialsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("trials decode response: %w", err)
	}

	items := make([]research.Item, 0, len(out.Studies))
	for _, s := range out.Studies {
		items = append(items, research.Item{
			ID:             s.NCTID,
			Source:         research.SourceTrials,
			Title:          s.Title,
			Year:           s.StartYear,
			Abstract:       s.Summary,
			RelevanceScore: s.Score,
			Extra: map[string]any{
				"sponsor": s.Sponsor,
				"phase":   s.Phase,
				"status":  s.Status,
			},
		})
	}
	return items, nil
}
