package engine

import "math"

// ScoreInput is everything a Scorer may combine for one candidate: the best
// vector similarity across searched sectors, the effective (decayed) salience
// and the waypoint weight the candidate was reached with (0 for direct hits).
type ScoreInput struct {
	Similarity float64
	Salience   float64
	HopWeight  float64
	Hops       int
}

// Scorer ranks query candidates. Implementations must be pure: scoring a
// candidate never mutates stored state.
type Scorer interface {
	Score(in ScoreInput) float64
}

// WeightedScorer is the default linear combination.
type WeightedScorer struct {
	Similarity float64
	Salience   float64
	Waypoint   float64
}

func (s WeightedScorer) Score(in ScoreInput) float64 {
	return s.Similarity*in.Similarity + s.Salience*in.Salience + s.Waypoint*in.HopWeight
}

// DefaultScorer weights vector similarity dominant, salience secondary and
// graph proximity as a tiebreaker.
func DefaultScorer() Scorer {
	return WeightedScorer{Similarity: 0.7, Salience: 0.2, Waypoint: 0.1}
}

const decayAlphaReinforce = 0.08

// effectiveSalience applies exponential read-through decay. Stored salience
// is never modified here; query results report the decayed view.
func effectiveSalience(sector string, stored float64, lastSeenAt, now int64) float64 {
	if lastSeenAt <= 0 || now <= lastSeenAt {
		return clamp01(stored)
	}
	lambda := DecayLambda(sector)
	days := float64(now-lastSeenAt) / 86400000.0
	decayed := stored*math.Exp(-lambda*days) +
		decayAlphaReinforce*(1-math.Exp(-lambda*days))
	return clamp01(decayed)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
