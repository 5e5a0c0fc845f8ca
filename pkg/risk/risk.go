// Package risk turns the aggregated answer signals of a finished call into a
// readmission-risk score, level, and explanation.
package risk

import (
	"math"
	"sort"

	"github.com/carepulse/callgate/pkg/clinical/convo"
)

// Risk levels, mapped from score thresholds.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// escalationFloor is the minimum score for a call that raised any red flag.
const escalationFloor = 0.7

// Features is the fixed feature vector fed to scorers. Field order is the
// canonical feature order used by explanations.
type Features struct {
	ChestPain         float64
	ShortnessOfBreath bool
	MedAdherence      float64
	RedFlag           bool
}

// Build maps the conversation payload onto the feature vector.
func Build(p convo.Payload) Features {
	return Features{
		ChestPain:         p.ChestPainSeverity,
		ShortnessOfBreath: p.BreathShortness,
		MedAdherence:      p.MedAdherence,
		RedFlag:           p.RedFlag,
	}
}

// Scorer produces a probability in [0, 1] for a feature vector.
type Scorer interface {
	Score(Features) float64
	Model() string
}

// Baseline is the heuristic logistic scorer used when no trained model is
// deployed.
type Baseline struct{}

func (Baseline) Model() string { return "baseline-v1" }

func (Baseline) Score(f Features) float64 {
	score := 0.2
	score += math.Min(0.6, f.ChestPain*0.5)
	if f.ShortnessOfBreath {
		score += 0.2
	}
	if f.RedFlag {
		score += 0.2
	}
	if f.MedAdherence >= 0.8 {
		score -= 0.1
	}
	return math.Max(0, math.Min(1, score))
}

// Factor is one explanation row.
type Factor struct {
	Feature   string  `json:"feature"`
	Label     string  `json:"label"`
	Impact    float64 `json:"impact"`
	Direction string  `json:"direction"`
}

// Explainer attributes a score to individual features. Implementations may
// return nil when no attribution is available; callers then fall back to
// FallbackFactors.
type Explainer interface {
	Explain(Features) []Factor
}

var labels = map[string]string{
	"chest_pain_score":    "Chest pain",
	"shortness_of_breath": "Shortness of breath",
	"med_adherence":       "Medication adherence",
	"red_flag":            "Red flag response",
}

var fallbackWeights = []struct {
	feature string
	weight  float64
}{
	{"chest_pain_score", 0.6},
	{"shortness_of_breath", 0.3},
	{"med_adherence", -0.3},
	{"red_flag", 0.8},
}

const maxFactors = 6

// FallbackFactors derives an explanation from fixed heuristic weights. Rows
// with effectively zero impact are dropped; the rest are sorted by absolute
// impact, largest first.
func FallbackFactors(f Features) []Factor {
	values := map[string]float64{
		"chest_pain_score":    f.ChestPain,
		"shortness_of_breath": boolToFloat(f.ShortnessOfBreath),
		"med_adherence":       f.MedAdherence,
		"red_flag":            boolToFloat(f.RedFlag),
	}
	var out []Factor
	for _, w := range fallbackWeights {
		impact := w.weight * values[w.feature]
		if math.Abs(impact) < 1e-6 {
			continue
		}
		out = append(out, Factor{
			Feature:   w.feature,
			Label:     labels[w.feature],
			Impact:    impact,
			Direction: direction(impact),
		})
	}
	sortFactors(out)
	return out
}

// Assessment is the final risk verdict for a call.
type Assessment struct {
	Score   float64  `json:"score"`
	Level   string   `json:"level"`
	Model   string   `json:"model"`
	Factors []Factor `json:"top_factors"`
}

// Assess scores the features, applies the escalation floor, and attaches an
// explanation. A nil explainer, or one returning no rows, falls back to the
// heuristic weights.
func Assess(f Features, scorer Scorer, explainer Explainer) Assessment {
	if scorer == nil {
		scorer = Baseline{}
	}
	score := scorer.Score(f)
	if f.RedFlag && score < escalationFloor {
		score = escalationFloor
	}
	factors := []Factor(nil)
	if explainer != nil {
		factors = explainer.Explain(f)
	}
	if !hasSignal(factors) {
		factors = FallbackFactors(f)
	} else {
		sortFactors(factors)
	}
	if len(factors) > maxFactors {
		factors = factors[:maxFactors]
	}
	return Assessment{
		Score:   score,
		Level:   Level(score),
		Model:   scorer.Model(),
		Factors: factors,
	}
}

// Level maps a score onto the three-tier scale.
func Level(score float64) string {
	switch {
	case score >= 0.65:
		return LevelHigh
	case score >= 0.40:
		return LevelMedium
	default:
		return LevelLow
	}
}

func hasSignal(factors []Factor) bool {
	for _, f := range factors {
		if math.Abs(f.Impact) > 1e-6 {
			return true
		}
	}
	return false
}

func sortFactors(factors []Factor) {
	sort.SliceStable(factors, func(i, j int) bool {
		return math.Abs(factors[i].Impact) > math.Abs(factors[j].Impact)
	})
}

func direction(impact float64) string {
	if impact >= 0 {
		return "increase"
	}
	return "decrease"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
