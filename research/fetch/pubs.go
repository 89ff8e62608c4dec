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

// PubsAdapter talks to the publications index (a PubMed-style search
// service). It implements both Adapter and DetailFetcher: search returns
// summaries, the detail pass fills abstracts.
type PubsAdapter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewPubsAdapter builds an adapter with a default client; per-call deadlines
// come from the context.
func NewPubsAdapter(baseURL, apiKey string) *PubsAdapter {
	return &PubsAdapter{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type pubsSearchRequest struct {
	Query               string `json:"query"`
	MaxResults          int    `json:"max_results"`
	PublishedWithinDays int    `json:"published_within_days,omitempty"`
	YearFrom            int    `json:"year_from,omitempty"`
	YearTo              int    `json:"year_to,omitempty"`
}

type pubsRecord struct {
	PMID      string   `json:"pmid"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Journal   string   `json:"journal"`
	Year      int      `json:"year"`
	Abstract  string   `json:"abstract,omitempty"`
	Relevance float64  `json:"relevance"`
}

type pubsSearchResponse struct {
	Results []pubsRecord `json:"results"`
}

// Search implements Adapter.
func (a *PubsAdapter) Search(ctx context.Context, q Query) ([]research.Item, error) {
	term := q.Topic
	if term == "" {
		term = q.Indication
	}
	if q.Company != "" {
		term = q.Company + " " + term
	}

	req := pubsSearchRequest{
		Query:               term,
		MaxResults:          q.Limit,
		PublishedWithinDays: q.PublishedWithinDays,
		YearFrom:            q.YearFrom,
		YearTo:              q.YearTo,
	}

	var resp pubsSearchResponse
	if err := a.post(ctx, "/api/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return pubsItems(resp.Results), nil
}

// FetchDetails implements DetailFetcher.
func (a *PubsAdapter) FetchDetails(ctx context.Context, ids []string) ([]research.Item, error) {
	var resp pubsSearchResponse
	if err := a.post(ctx, "/api/v1/fetch", map[string][]string{"pmids": ids}, &resp); err != nil {
		return nil, err
	}
	return pubsItems(resp.Results), nil
}

func pubsItems(records []pubsRecord) []research.Item {
	items := make([]research.Item, 0, len(records))
	for _, r := range records {
		items = append(items, research.Item{
			ID:             r.PMID,
			Source:         research.SourcePubs,
			Title:          r.Title,
			Authors:        r.Authors,
			Venue:          r.Journal,
			Year:           r.Year,
			Abstract:       r.Abstract,
			RelevanceScore: r.Relevance,
		})
	}
	return items
}

func (a *PubsAdapter) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("pubs encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("pubs index returned status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pubs decode response: %w", err)
	}
	return nil
}
