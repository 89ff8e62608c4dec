package research

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// confidenceFloor is the backstop threshold: below it the parser falls back
// to recent_pubs_by_topic seeded from the raw query.
const confidenceFloor = 0.5

var (
	nctRe   = regexp.MustCompile(`(?i)\bNCT\d{8}\b`)
	pmidRe  = regexp.MustCompile(`(?i)\bPMID:?\s*(\d{4,9})\b`)
	phaseRe = regexp.MustCompile(`(?i)\bphase\s*(IV|III|II|I|[1-4])\b`)
)

// companyLexicon maps lowercase company aliases to canonical names. Matching
// is dictionary-based; an LLM tier can fill gaps for names outside it.
var companyLexicon = map[string]string{
	"novartis":     "Novartis",
	"pfizer":       "Pfizer",
	"roche":        "Roche",
	"merck":        "Merck",
	"astrazeneca":  "AstraZeneca",
	"sanofi":       "Sanofi",
	"gsk":          "GSK",
	"novo nordisk": "Novo Nordisk",
	"eli lilly":    "Eli Lilly",
	"lilly":        "Eli Lilly",
	"bayer":        "Bayer",
	"amgen":        "Amgen",
	"gilead":       "Gilead",
	"biogen":       "Biogen",
	"regeneron":    "Regeneron",
	"moderna":      "Moderna",
	"vertex":       "Vertex",
	"abbvie":       "AbbVie",
}

var indicationLexicon = []string{
	"cardiovascular", "oncology", "cancer", "diabetes", "obesity",
	"alzheimer", "parkinson", "asthma", "copd", "hypertension",
	"depression", "schizophrenia", "rheumatoid arthritis", "psoriasis",
	"multiple sclerosis", "heart failure", "stroke", "nash", "hepatitis",
	"migraine", "epilepsy", "lupus", "crohn",
}

// Parser turns a raw query into a Frame via a tiered strategy: rule-based
// extraction, an optional LLM proposal to fill gaps, and a low-confidence
// backstop. The zero threshold behavior and fallback intent are fixed; only
// the LLM tier is optional.
type Parser struct {
	// Chat, when non-nil, is consulted for queries the rules leave
	// under-determined.
	Chat ChatFunc
}

// ChatFunc sends a conversation and returns the model's reply. It matches
// llm.Chat's Complete method so any provider adapter can be plugged in.
type ChatFunc func(ctx context.Context, system, user string) (string, error)

// ErrEmptyQuery is returned for blank input; every other query parses.
var ErrEmptyQuery = errors.New("intent parse: empty query")

// Parse produces a Frame for the query. It never fails on non-empty input:
// when neither rules nor the LLM reach the confidence floor, the frame falls
// back to recent_pubs_by_topic with the query as topic.
func (p *Parser) Parse(ctx context.Context, query string) (*Frame, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	frame := p.ruleExtract(query)

	if p.Chat != nil && frame.Confidence < 0.8 {
		if proposal, ok := p.llmPropose(ctx, query); ok {
			mergeProposal(frame, proposal)
		}
	}

	if frame.Confidence < confidenceFloor {
		frame.Intent = IntentRecentPubs
		if frame.Entities.Topic == "" {
			frame.Entities.Topic = query
		}
		frame.Confidence = confidenceFloor
	}

	if frame.FetchPolicy == "" {
		frame.FetchPolicy = FetchCacheThenNetwork
	}
	return frame, nil
}

// ruleExtract is tier 1: regex identifiers, phase terms, and lexicon lookups.
// Each strong signal raises confidence; the intent is chosen from the
// combination of signals.
func (p *Parser) ruleExtract(query string) *Frame {
	lower := strings.ToLower(query)
	frame := &Frame{}
	conf := 0.0

	if m := nctRe.FindString(query); m != "" {
		frame.Entities.TrialID = strings.ToUpper(m)
		conf += 0.4
	}
	if pmidRe.MatchString(query) {
		conf += 0.3
	}
	for _, m := range phaseRe.FindAllStringSubmatch(query, -1) {
		frame.Filters.Phases = append(frame.Filters.Phases, normalizePhase(m[1]))
		conf += 0.15
	}
	for alias, canonical := range companyLexicon {
		if strings.Contains(lower, alias) {
			frame.Entities.Company = canonical
			conf += 0.3
			break
		}
	}
	for _, ind := range indicationLexicon {
		if strings.Contains(lower, ind) {
			frame.Entities.Indication = ind
			conf += 0.2
			break
		}
	}

	hasTrialWords := strings.Contains(lower, "trial") || frame.Entities.TrialID != ""
	hasPubWords := strings.Contains(lower, "paper") || strings.Contains(lower, "publication") ||
		strings.Contains(lower, "pubmed") || pmidRe.MatchString(query) || strings.Contains(lower, "literature")

	switch {
	case strings.Contains(lower, "pipeline") && frame.Entities.Company != "":
		frame.Intent = IntentCompany
		conf += 0.2
	case hasTrialWords && hasPubWords:
		frame.Intent = IntentTrialsWithPubs
		conf += 0.2
	case frame.Entities.Company != "" && hasTrialWords:
		frame.Intent = IntentCompany
		conf += 0.1
	case hasTrialWords:
		frame.Intent = IntentPhaseTrials
		conf += 0.2
	case strings.Contains(lower, "similar to") || strings.Contains(lower, "related to") ||
		strings.Contains(lower, "semantic") || strings.Contains(lower, "hybrid"):
		frame.Intent = IntentHybridSearch
		conf += 0.2
	case hasPubWords:
		frame.Intent = IntentRecentPubs
		conf += 0.2
	}

	if strings.Contains(lower, "recent") || strings.Contains(lower, "latest") {
		frame.Filters.PublishedWithinDays = 730
		conf += 0.05
	}

	if frame.Entities.Topic == "" {
		frame.Entities.Topic = topicFromQuery(query)
	}

	if conf > 0.95 {
		conf = 0.95
	}
	frame.Confidence = conf
	return frame
}

// topicFromQuery strips common lead-ins so the topic is the subject phrase
// rather than the whole sentence.
func topicFromQuery(query string) string {
	lower := strings.ToLower(query)
	for _, prefix := range []string{
		"recent papers on ", "recent publications on ", "papers on ",
		"publications on ", "latest research on ", "research on ",
		"what is known about ", "find ", "search for ",
	} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(query[len(prefix):])
		}
	}
	return query
}

func normalizePhase(raw string) string {
	switch strings.ToUpper(raw) {
	case "I", "1":
		return "phase_1"
	case "II", "2":
		return "phase_2"
	case "III", "3":
		return "phase_3"
	case "IV", "4":
		return "phase_4"
	}
	return "phase_" + strings.ToLower(raw)
}

// intentProposal is the JSON shape requested from the LLM tier.
type intentProposal struct {
	Intent     string   `json:"intent"`
	Topic      string   `json:"topic"`
	Indication string   `json:"indication"`
	Company    string   `json:"company"`
	TrialID    string   `json:"trial_id"`
	Phases     []string `json:"phases"`
	Confidence float64  `json:"confidence"`
}

const intentSystemPrompt = `You classify biomedical research questions. Reply with only a JSON object:
{"intent": one of [recent_pubs_by_topic, indication_phase_trials, trials_with_pubs, hybrid_search, company_pipeline],
 "topic": string, "indication": string, "company": string, "trial_id": string,
 "phases": [strings like phase_3], "confidence": number in [0,1]}`

// llmPropose is tier 2. Failures are soft: a provider error or unparseable
// reply just means the rules' frame stands.
func (p *Parser) llmPropose(ctx context.Context, query string) (*intentProposal, bool) {
	reply, err := p.Chat(ctx, intentSystemPrompt, query)
	if err != nil {
		return nil, false
	}

	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")

	var prop intentProposal
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &prop); err != nil {
		return nil, false
	}
	return &prop, true
}

// mergeProposal fills gaps the rules left open. Rule-extracted entities win;
// the proposal only adds what is missing, and its intent is adopted when it
// is valid and more confident than the rules.
func mergeProposal(frame *Frame, prop *intentProposal) {
	if frame.Entities.Topic == "" {
		frame.Entities.Topic = prop.Topic
	}
	if frame.Entities.Indication == "" {
		frame.Entities.Indication = prop.Indication
	}
	if frame.Entities.Company == "" {
		frame.Entities.Company = prop.Company
	}
	if frame.Entities.TrialID == "" {
		frame.Entities.TrialID = strings.ToUpper(prop.TrialID)
	}
	if len(frame.Filters.Phases) == 0 {
		frame.Filters.Phases = prop.Phases
	}

	if prop.Confidence > frame.Confidence && validIntent(Intent(prop.Intent)) {
		frame.Intent = Intent(prop.Intent)
		frame.Confidence = prop.Confidence
	}
}

func validIntent(i Intent) bool {
	switch i {
	case IntentRecentPubs, IntentPhaseTrials, IntentTrialsWithPubs, IntentHybridSearch, IntentCompany:
		return true
	}
	return false
}
