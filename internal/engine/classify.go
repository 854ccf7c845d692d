package engine

import (
	"regexp"
	"sort"
)

// Sector names, in canonical order.
const (
	SectorEpisodic   = "episodic"
	SectorSemantic   = "semantic"
	SectorProcedural = "procedural"
	SectorEmotional  = "emotional"
	SectorReflective = "reflective"
)

// Sectors lists every semantic sector.
var Sectors = []string{
	SectorEpisodic,
	SectorSemantic,
	SectorProcedural,
	SectorEmotional,
	SectorReflective,
}

// sectorConfig carries the per-sector classification patterns, scoring weight
// and decay rate.
type sectorConfig struct {
	DecayLambda float64
	Weight      float64
	Patterns    []*regexp.Regexp
}

var sectorConfigs = map[string]sectorConfig{
	SectorEpisodic: {
		DecayLambda: 0.015,
		Weight:      1.2,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(today|yesterday|tomorrow|last\s+(week|month|year)|next\s+(week|month|year))\b`),
			regexp.MustCompile(`(?i)\b(remember\s+when|recall|that\s+time|when\s+I|I\s+was|we\s+were)\b`),
			regexp.MustCompile(`(?i)\b(went|saw|met|felt|heard|visited|attended|participated)\b`),
			regexp.MustCompile(`(?i)\b(at\s+\d{1,2}:\d{2}|on\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`),
			regexp.MustCompile(`(?i)\b(event|moment|experience|incident|occurrence|happened)\b`),
			regexp.MustCompile(`(?i)\bI\s+'?m\s+going\s+to\b`),
		},
	},
	SectorSemantic: {
		DecayLambda: 0.005,
		Weight:      1.0,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(is\s+a|represents|means|stands\s+for|defined\s+as)\b`),
			regexp.MustCompile(`(?i)\b(concept|theory|principle|law|hypothesis|theorem|axiom)\b`),
			regexp.MustCompile(`(?i)\b(fact|statistic|data|evidence|proof|research|study|report)\b`),
			regexp.MustCompile(`(?i)\b(capital|population|distance|weight|height|width|depth)\b`),
			regexp.MustCompile(`(?i)\b(history|science|geography|math|physics|biology|chemistry)\b`),
			regexp.MustCompile(`(?i)\b(know|understand|learn|read|write|speak)\b`),
		},
	},
	SectorProcedural: {
		DecayLambda: 0.008,
		Weight:      1.1,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(how\s+to|step\s+by\s+step|guide|tutorial|manual|instructions)\b`),
			regexp.MustCompile(`(?i)\b(first|second|then|next|finally|afterwards|lastly)\b`),
			regexp.MustCompile(`(?i)\b(install|run|execute|compile|build|deploy|configure|setup)\b`),
			regexp.MustCompile(`(?i)\b(click|press|type|enter|select|drag|drop|scroll)\b`),
			regexp.MustCompile(`(?i)\b(method|function|class|algorithm|routine|recipie)\b`),
			regexp.MustCompile(`(?i)\b(to\s+do|to\s+make|to\s+build|to\s+create)\b`),
		},
	},
	SectorEmotional: {
		DecayLambda: 0.02,
		Weight:      1.3,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(feel|feeling|felt|emotions?|mood|vibe)\b`),
			regexp.MustCompile(`(?i)\b(happy|sad|angry|mad|excited|scared|anxious|nervous|depressed)\b`),
			regexp.MustCompile(`(?i)\b(love|hate|like|dislike|adore|detest|enjoy|loathe)\b`),
			regexp.MustCompile(`(?i)\b(amazing|terrible|awesome|awful|wonderful|horrible|great|bad)\b`),
			regexp.MustCompile(`(?i)\b(frustrated|confused|overwhelmed|stressed|relaxed|calm)\b`),
			regexp.MustCompile(`(?i)\b(wow|omg|yay|nooo|ugh|sigh)\b`),
			regexp.MustCompile(`!{2,}`),
		},
	},
	SectorReflective: {
		DecayLambda: 0.001,
		Weight:      0.8,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(realize|realized|realization|insight|epiphany)\b`),
			regexp.MustCompile(`(?i)\b(think|thought|thinking|ponder|contemplate|reflect)\b`),
			regexp.MustCompile(`(?i)\b(understand|understood|understanding|grasp|comprehend)\b`),
			regexp.MustCompile(`(?i)\b(pattern|trend|connection|link|relationship|correlation)\b`),
			regexp.MustCompile(`(?i)\b(lesson|moral|takeaway|conclusion|summary|implication)\b`),
			regexp.MustCompile(`(?i)\b(feedback|review|analysis|evaluation|assessment)\b`),
			regexp.MustCompile(`(?i)\b(improve|grow|change|adapt|evolve)\b`),
		},
	},
}

// Classification is the outcome of routing content to sectors.
type Classification struct {
	Primary    string
	Additional []string
	Confidence float64
}

// Classify scores content against every sector's patterns. An explicit
// metadata["sector"] naming a known sector wins outright. With no pattern
// hits at all, semantic is the fallback at low confidence.
func Classify(content string, metadata map[string]any) Classification {
	if metadata != nil {
		if s, ok := metadata["sector"].(string); ok {
			if _, known := sectorConfigs[s]; known {
				return Classification{Primary: s, Confidence: 1.0}
			}
		}
	}

	type scored struct {
		sector string
		score  float64
	}
	scores := make([]scored, 0, len(Sectors))
	for _, sector := range Sectors {
		cfg := sectorConfigs[sector]
		var score float64
		for _, p := range cfg.Patterns {
			if n := len(p.FindAllStringIndex(content, -1)); n > 0 {
				score += float64(n) * cfg.Weight
			}
		}
		scores = append(scores, scored{sector, score})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	primary := scores[0]
	if primary.score == 0 {
		return Classification{Primary: SectorSemantic, Confidence: 0.2}
	}

	threshold := primary.score * 0.3
	if threshold < 1 {
		threshold = 1
	}
	var additional []string
	for _, s := range scores[1:] {
		if s.score > 0 && s.score >= threshold {
			additional = append(additional, s.sector)
		}
	}
	confidence := primary.score / (primary.score + scores[1].score + 1)
	if confidence > 1 {
		confidence = 1
	}
	return Classification{Primary: primary.sector, Additional: additional, Confidence: confidence}
}

// DecayLambda returns the sector's decay constant, or the semantic default
// for unknown sectors.
func DecayLambda(sector string) float64 {
	if cfg, ok := sectorConfigs[sector]; ok {
		return cfg.DecayLambda
	}
	return sectorConfigs[SectorSemantic].DecayLambda
}
