package research

// RouteFrame is a pure function from the parsed frame to the set of fetch
// nodes to execute. It is idempotent: the same frame always yields the same
// successor set.
//
// The request's explicit source list, when present, constrains the mapping;
// in the danger zone multi-source fan-outs collapse to their first
// (highest-value) successor.
func RouteFrame(frame *Frame, requested []string, dangerZone bool) []string {
	var successors []string
	intent := IntentRecentPubs
	if frame != nil {
		intent = frame.Intent
	}

	switch intent {
	case IntentRecentPubs:
		successors = []string{NodePubsFetch}
	case IntentPhaseTrials:
		successors = []string{NodeTrialsFetch}
	case IntentHybridSearch:
		successors = []string{NodeRAGFetch}
	case IntentTrialsWithPubs:
		successors = []string{NodePubsFetch, NodeTrialsFetch}
	case IntentCompany:
		successors = []string{NodeTrialsFetch, NodePubsFetch}
	default:
		// Defensive default for unknown intents.
		successors = []string{NodePubsFetch}
	}

	if len(requested) > 0 {
		allowed := make(map[string]bool, len(requested))
		for _, src := range requested {
			allowed[FetchNodeFor(src)] = true
		}
		kept := successors[:0:0]
		for _, node := range successors {
			if allowed[node] {
				kept = append(kept, node)
			}
		}
		if len(kept) == 0 {
			// The intent mapping and the requested sources are disjoint;
			// the explicit request wins.
			for _, src := range requested {
				kept = append(kept, FetchNodeFor(src))
			}
		}
		successors = kept
	}

	if dangerZone && len(successors) > 1 {
		successors = successors[:1]
	}
	return successors
}
