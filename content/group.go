package content

// PhaseGroup is a run of episodes belonging to one story-arc phase.
type PhaseGroup struct {
	Phase    Phase     `json:"phase"`
	Episodes []Episode `json:"episodes"`
}

// UnphasedID labels episodes that match no configured phase.
const UnphasedID = "unphased"

// GroupByPhase buckets episodes by phase in story-arc order. An episode's
// own phase id wins over the configured sequence ranges. Episodes matching
// no phase are collected last under UnphasedID. Empty phases are omitted.
func GroupByPhase(episodes []Episode, phases []Phase) []PhaseGroup {
	index := make(map[string]int, len(phases))
	groups := make([]PhaseGroup, len(phases))
	for i, p := range phases {
		index[p.ID] = i
		groups[i] = PhaseGroup{Phase: p, Episodes: []Episode{}}
	}
	rest := PhaseGroup{Phase: Phase{ID: UnphasedID}, Episodes: []Episode{}}

	for _, ep := range episodes {
		if i, ok := index[ep.Phase]; ok && ep.Phase != "" {
			groups[i].Episodes = append(groups[i].Episodes, ep)
			continue
		}
		placed := false
		for i, p := range phases {
			if p.Contains(ep.SequenceNumber) {
				groups[i].Episodes = append(groups[i].Episodes, ep)
				placed = true
				break
			}
		}
		if !placed {
			rest.Episodes = append(rest.Episodes, ep)
		}
	}

	out := make([]PhaseGroup, 0, len(groups)+1)
	for _, g := range groups {
		if len(g.Episodes) > 0 {
			out = append(out, g)
		}
	}
	if len(rest.Episodes) > 0 {
		out = append(out, rest)
	}
	return out
}

// FindEpisode returns the episode with sequence number seq.
func FindEpisode(episodes []Episode, seq int) (Episode, bool) {
	for _, ep := range episodes {
		if ep.SequenceNumber == seq {
			return ep, true
		}
	}
	return Episode{}, false
}
