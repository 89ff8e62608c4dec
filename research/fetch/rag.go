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

// RAGAdapter queries the internal vector store over its HTTP facade.
type RAGAdapter struct {
	BaseURL string
	Client  *http.Client
}

// NewRAGAdapter builds an adapter with a default client.
func NewRAGAdapter(baseURL string) *RAGAdapter {
	return &RAGAdapter{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ragQueryRequest struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

type ragMatch struct {
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet,omitempty"`
	Year    int     `json:"year,omitempty"`
	Score   float64 `json:"score"`
}

type ragQueryResponse struct {
	Matches []ragMatch `json:"matches"`
}

// Search implements Adapter.
func (a *RAGAdapter) Search(ctx context.Context, q Query) ([]research.Item, error) {
	text := q.Topic
	if text == "" {
		text = q.Indication
	}

	payload, err := json.Marshal(ragQueryRequest{Text: text, TopK: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("rag encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("rag store returned status %d: %s", resp.StatusCode, snippet)
	}

	var out ragQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("rag decode response: %w", err)
	}

	items := make([]research.Item, 0, len(out.Matches))
	for _, m := range out.Matches {
		items = append(items, research.Item{
			ID:             m.DocID,
			Source:         research.SourceRAG,
			Title:          m.Title,
			Year:           m.Year,
			Abstract:       m.Snippet,
			RelevanceScore: m.Score,
		})
	}
	return items, nil
}
