package mad

import (
	"github.com/telephis/telephis/internal/model"
)

// CheckConsensus reports whether a round's responses reached early
// consensus: unanimity, or at least ConsensusVotes agents agreeing
// with average confidence at or above ConsensusConfidence.
func (r *Roster) CheckConsensus(responses []model.AgentResponse) (bool, model.Stance, float64) {
	if len(responses) == 0 {
		return false, "", 0
	}

	counts := make(map[model.Stance]int)
	confSums := make(map[model.Stance]float64)
	for _, resp := range responses {
		counts[resp.Stance]++
		confSums[resp.Stance] += resp.Confidence
	}

	if len(counts) == 1 {
		stance := responses[0].Stance
		return true, stance, confSums[stance] / float64(len(responses))
	}

	for stance, n := range counts {
		if n >= r.ConsensusVotes {
			avg := confSums[stance] / float64(n)
			if avg >= r.ConsensusConfidence {
				return true, stance, avg
			}
		}
	}
	return false, "", 0
}

// Aggregate turns the debate rounds into a final decision using
// confidence-scaled weighted voting over the LAST round. SUSPICIOUS
// stances are neutral and contribute to neither side. Token usage is
// accumulated across all rounds.
func (r *Roster) Aggregate(rounds []model.DebateRound) *model.DebateRecord {
	if len(rounds) == 0 || len(rounds[0].Responses) == 0 {
		return &model.DebateRecord{
			Decision:   model.StanceSuspicious,
			Confidence: 0.5,
		}
	}

	final := rounds[len(rounds)-1].Responses

	var phishingScore, legitimateScore float64
	votes := make(map[string]model.Stance, len(final))
	for _, resp := range final {
		w, ok := r.Weights[resp.Agent]
		if !ok {
			w = 1.0
		}
		w *= resp.Confidence
		votes[resp.Agent] = resp.Stance

		switch resp.Stance {
		case model.StancePhishing:
			phishingScore += w
		case model.StanceLegitimate:
			legitimateScore += w
		}
	}

	decisive := phishingScore + legitimateScore
	phishingProb := 0.5
	if decisive > 0 {
		phishingProb = phishingScore / decisive
	}

	var decision model.Stance
	switch {
	case phishingProb >= r.PhishingThreshold:
		decision = model.StancePhishing
	case phishingProb <= r.LegitimateThreshold:
		decision = model.StanceLegitimate
	default:
		decision = model.StanceSuspicious
	}

	confidence := phishingProb
	if 1-phishingProb > confidence {
		confidence = 1 - phishingProb
	}

	consensus, _, _ := r.CheckConsensus(final)

	var usage model.TokenUsage
	for _, round := range rounds {
		for _, resp := range round.Responses {
			usage.Add(resp.Usage)
		}
	}

	return &model.DebateRecord{
		Decision:      decision,
		Confidence:    confidence,
		WeightedScore: phishingProb,
		Votes:         votes,
		Consensus:     consensus,
		ConsensusType: r.consensusType(final, decision),
		Rounds:        rounds,
		RoundsUsed:    len(rounds),
		Usage:         usage,
	}
}

func (r *Roster) consensusType(responses []model.AgentResponse, decision model.Stance) string {
	distinct := make(map[model.Stance]struct{})
	decisionVotes := 0
	for _, resp := range responses {
		distinct[resp.Stance] = struct{}{}
		if resp.Stance == decision {
			decisionVotes++
		}
	}

	switch {
	case len(distinct) == 1:
		return "unanimous"
	case r.StrongMajorityVotes > 0 && decisionVotes >= r.StrongMajorityVotes:
		return "strong_majority"
	case decisionVotes >= r.MajorityVotes:
		return "majority"
	default:
		return "weighted"
	}
}
