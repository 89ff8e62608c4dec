package research

import (
	"fmt"
	"sort"
	"strings"
)

// maxDisplayedCitations caps the citation block; the remainder is reported
// as a count.
const maxDisplayedCitations = 20

// BuildCitations extracts citations from the result slots: items are
// de-duplicated across sources by canonical id, sorted by descending
// relevance (year desc, id asc tie-breaks for determinism), assigned 1-based
// indices, and truncated to the display cap. The second return is the
// remainder count beyond the cap.
func BuildCitations(results map[string][]Item) ([]Citation, int) {
	seen := make(map[string]bool)
	var all []Citation

	// Iterate sources in stable order so duplicates resolve deterministically.
	sources := make([]string, 0, len(results))
	for src := range results {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		for _, item := range results[src] {
			key := canonicalID(item)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, Citation{
				ID:             item.ID,
				Source:         item.Source,
				Title:          item.Title,
				Authors:        item.Authors,
				Venue:          item.Venue,
				Year:           item.Year,
				ExternalURL:    externalURL(item),
				RelevanceScore: item.RelevanceScore,
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].RelevanceScore != all[j].RelevanceScore {
			return all[i].RelevanceScore > all[j].RelevanceScore
		}
		if all[i].Year != all[j].Year {
			return all[i].Year > all[j].Year
		}
		return all[i].ID < all[j].ID
	})

	remainder := 0
	if len(all) > maxDisplayedCitations {
		remainder = len(all) - maxDisplayedCitations
		all = all[:maxDisplayedCitations]
	}
	for i := range all {
		all[i].Index = i + 1
	}
	return all, remainder
}

// canonicalID normalizes a source-native id for cross-source de-duplication.
func canonicalID(item Item) string {
	id := strings.ToLower(strings.TrimSpace(item.ID))
	id = strings.TrimPrefix(id, "pmid:")
	id = strings.TrimPrefix(id, "doc:")
	return id
}

func externalURL(item Item) string {
	switch item.Source {
	case SourcePubs:
		return "https://pubmed.ncbi.nlm.nih.gov/" + strings.TrimPrefix(item.ID, "PMID:") + "/"
	case SourceTrials:
		return "https://clinicaltrials.gov/study/" + item.ID
	default:
		return ""
	}
}

// RenderCitations formats the citation block in the requested format.
func RenderCitations(citations []Citation, remainder int, format string) string {
	if len(citations) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("References:\n")
	for _, c := range citations {
		switch format {
		case CitationIDOnly:
			fmt.Fprintf(&sb, "[%d] %s\n", c.Index, c.ID)
		case CitationInline:
			fmt.Fprintf(&sb, "[%d] %s (%s)\n", c.Index, c.Title, c.ID)
		default: // full
			fmt.Fprintf(&sb, "[%d] %s. %s", c.Index, formatAuthors(c.Authors), c.Title)
			if c.Venue != "" {
				fmt.Fprintf(&sb, ". %s", c.Venue)
			}
			if c.Year > 0 {
				fmt.Fprintf(&sb, " (%d)", c.Year)
			}
			fmt.Fprintf(&sb, ". %s", c.ID)
			if c.ExternalURL != "" {
				fmt.Fprintf(&sb, " %s", c.ExternalURL)
			}
			sb.WriteString("\n")
		}
	}
	if remainder > 0 {
		fmt.Fprintf(&sb, "... and %d more sources\n", remainder)
	}
	return sb.String()
}

func formatAuthors(authors []string) string {
	switch {
	case len(authors) == 0:
		return "Unknown authors"
	case len(authors) <= 3:
		return strings.Join(authors, ", ")
	default:
		return strings.Join(authors[:3], ", ") + " et al"
	}
}
