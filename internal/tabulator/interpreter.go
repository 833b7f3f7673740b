package tabulator

// Exhaustion reason codes recorded in the audit trail.
const (
	ReasonUndervote              = "undervote"
	ReasonOvervote               = "overvote"
	ReasonNoContinuingCandidates = "no continuing candidates"
	reasonDuplicatePrefix        = "duplicate candidate: "
)

// overvoteDecision is the result of applying the overvote rule to the
// candidate set at one rank.
type overvoteDecision int

const (
	overvoteNone overvoteDecision = iota
	overvoteExhaust
	overvoteSkipToNextRank
)

// selection is the interpreter's verdict for one ballot in one round:
// either the continuing candidate the ballot counts for, or the reason it
// exhausts.
type selection struct {
	candidate     string
	exhaustReason string
}

// interpreter applies the ranking-scan rules to ballots whose current
// recipient is no longer continuing. isContinuing answers
// continuing-for-selection under the active histories and flags.
type interpreter struct {
	rules        *Rules
	isContinuing func(candidate string) bool
}

// decide scans the ballot's rankings from most preferred upward and
// returns the first continuing candidate, or the exhaustion reason.
//
// At each rank, in order: the skipped-rank rule, the duplicate-candidate
// rule, the overvote rule, then candidate selection. A rank whose
// candidates are all non-continuing is passed over. Running out of
// rankings exhausts the ballot, as an undervote when the trailing skipped
// ranks exceed the allowance.
func (in *interpreter) decide(b *Ballot) selection {
	if len(b.Rankings) == 0 {
		return selection{exhaustReason: ReasonUndervote}
	}

	lastRankSeen := 0
	var candidatesSeen map[string]bool
	if in.rules.ExhaustOnDuplicateCandidate {
		candidatesSeen = make(map[string]bool)
	}

	for i, entry := range b.Rankings {
		if in.rules.MaxSkippedRanks != nil &&
			entry.Rank-lastRankSeen > *in.rules.MaxSkippedRanks+1 {
			return selection{exhaustReason: ReasonUndervote}
		}
		lastRankSeen = entry.Rank

		if in.rules.ExhaustOnDuplicateCandidate {
			for _, candidate := range entry.Candidates {
				if candidatesSeen[candidate] {
					return selection{exhaustReason: reasonDuplicatePrefix + candidate}
				}
				candidatesSeen[candidate] = true
			}
		}

		switch in.overvoteDecision(entry.Candidates) {
		case overvoteExhaust:
			return selection{exhaustReason: ReasonOvervote}
		case overvoteSkipToNextRank:
			if i == len(b.Rankings)-1 {
				return selection{exhaustReason: ReasonNoContinuingCandidates}
			}
			continue
		}

		// At most one candidate here can be continuing; more than one would
		// have been flagged as an overvote above.
		for _, candidate := range entry.Candidates {
			if in.isContinuing(candidate) {
				return selection{candidate: candidate}
			}
		}
	}

	if in.rules.MaxSkippedRanks != nil &&
		in.rules.MaxRankings-b.Rankings.LastRank() > *in.rules.MaxSkippedRanks {
		return selection{exhaustReason: ReasonUndervote}
	}
	return selection{exhaustReason: ReasonNoContinuingCandidates}
}

// overvoteDecision applies the active overvote rule to the candidate set
// at one rank.
func (in *interpreter) overvoteDecision(candidates []string) overvoteDecision {
	explicitOvervote := false
	for _, candidate := range candidates {
		if candidate == ExplicitOvervote {
			explicitOvervote = true
			break
		}
	}

	if explicitOvervote {
		// Config validation restricts the explicit label to the first two
		// rules; a normalized CVR has it as the rank's only mark.
		if in.rules.OvervoteRule == AlwaysSkipToNextRank {
			return overvoteSkipToNextRank
		}
		return overvoteExhaust
	}

	if len(candidates) <= 1 {
		return overvoteNone
	}

	switch in.rules.OvervoteRule {
	case ExhaustImmediately:
		return overvoteExhaust
	case AlwaysSkipToNextRank:
		return overvoteSkipToNextRank
	}

	// ExhaustIfMultipleContinuing: exhaust only when the voter's marks are
	// genuinely ambiguous, i.e. two or more are still continuing.
	continuing := 0
	for _, candidate := range candidates {
		if in.isContinuing(candidate) {
			continuing++
			if continuing > 1 {
				return overvoteExhaust
			}
		}
	}
	return overvoteNone
}
