// Package fetch implements the source fetch nodes: a uniform
// cache-then-network template over source-specific adapters for the
// publications index, the clinical-trials registry, and the internal RAG
// store.
package fetch

import (
	"context"

	"github.com/dshills/bioquery-go/research"
)

// Query is the source-neutral search request built from a parsed frame.
type Query struct {
	Topic               string
	Indication          string
	Company             string
	TrialID             string
	Phases              []string
	Statuses            []string
	PublishedWithinDays int
	YearFrom            int
	YearTo              int
	Limit               int
}

// Adapter is a source-specific client. Implementations handle transport and
// mapping to the common item envelope; retries and deadlines come from the
// caller.
type Adapter interface {
	Search(ctx context.Context, q Query) ([]research.Item, error)
}

// DetailFetcher is the optional second capability: fetching full records for
// ids found by Search. The pubs node uses it when the intent demands
// abstracts.
type DetailFetcher interface {
	FetchDetails(ctx context.Context, ids []string) ([]research.Item, error)
}

// queryFromFrame projects the frame onto a Query.
func queryFromFrame(frame *research.Frame, limit int) Query {
	q := Query{Limit: limit}
	if frame == nil {
		return q
	}
	q.Topic = frame.Entities.Topic
	q.Indication = frame.Entities.Indication
	q.Company = frame.Entities.Company
	q.TrialID = frame.Entities.TrialID
	q.Phases = frame.Filters.Phases
	q.Statuses = frame.Filters.Statuses
	q.PublishedWithinDays = frame.Filters.PublishedWithinDays
	q.YearFrom = frame.Filters.YearFrom
	q.YearTo = frame.Filters.YearTo
	return q
}
