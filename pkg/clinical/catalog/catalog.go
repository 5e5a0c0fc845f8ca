// Package catalog holds the static clinical question catalogue and the
// per-condition protocols that order it. The tables are plain data loaded
// once at init; nothing here is mutated after program start.
package catalog

import "strings"

// Shape is the expected answer shape for a question.
type Shape string

const (
	ShapeNone   Shape = "none"
	ShapeYesNo  Shape = "yes_no"
	ShapeTrend  Shape = "trend"
	ShapeChoice Shape = "choice"
)

// DefaultProtocol is the fallback used whenever a protocol name cannot be
// resolved.
const DefaultProtocol = "GENERAL_MONITORING"

// Question is one entry of the clinical screening catalogue. Immutable.
type Question struct {
	ID      string
	Domain  string
	Meaning string
	Shape   Shape

	// Escalation marks a question whose answer can count as a red flag.
	// Adherence flips the rule: the negative answer escalates.
	Escalation bool
	Adherence  bool

	// Prompts are canonical phrasings; the first one is the default prompt.
	Prompts []string

	// Options and Severe apply to choice/scale questions only.
	Options []string
	Severe  string
}

// Prompt returns the default canonical phrasing.
func (q Question) Prompt() string {
	if len(q.Prompts) == 0 {
		return q.ID
	}
	return q.Prompts[0]
}

var questions = map[string]Question{
	"daily_checkin": {
		ID: "daily_checkin", Domain: "general", Meaning: "daily check-in start", Shape: ShapeNone,
		Prompts: []string{
			"Hello, this is your daily health check-in after hospital discharge.",
			"Hi, I'm here to check on your health today.",
		},
	},
	"chest_pain": {
		ID: "chest_pain", Domain: "cardiac", Meaning: "myocardial ischemia", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you have any chest pain or pressure today?",
			"Did you feel heaviness or tightness in your chest?",
		},
	},
	"exertional_chest_pain": {
		ID: "exertional_chest_pain", Domain: "cardiac", Meaning: "effort angina", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did chest pain come while walking or climbing stairs?",
			"Did activity bring on chest discomfort?",
		},
	},
	"pain_radiation": {
		ID: "pain_radiation", Domain: "cardiac", Meaning: "typical MI radiation", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did the pain spread to your arm, jaw, neck, or back?",
			"Did the discomfort radiate to other areas?",
		},
	},
	"worsening_dyspnea": {
		ID: "worsening_dyspnea", Domain: "cardiac", Meaning: "HF / ischemia / PE", Shape: ShapeTrend, Escalation: true,
		Prompts: []string{
			"Was your breathing worse today than yesterday?",
			"Did you feel more breathless today?",
		},
	},
	"orthopnea": {
		ID: "orthopnea", Domain: "cardiac", Meaning: "HF decompensation", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you feel breathless while lying flat?",
			"Did you need extra pillows to sleep comfortably?",
		},
	},
	"pnd": {
		ID: "pnd", Domain: "cardiac", Meaning: "paroxysmal nocturnal dyspnea", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you wake up at night feeling short of breath?",
			"Did breathing trouble wake you from sleep?",
		},
	},
	"edema": {
		ID: "edema", Domain: "cardiac", Meaning: "fluid overload / HF", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did your feet or legs look more swollen?",
			"Any new swelling in your ankles or legs?",
		},
	},
	"weight_gain": {
		ID: "weight_gain", Domain: "cardiac", Meaning: "rapid fluid retention", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did your weight increase suddenly?",
			"Did you gain weight quickly in the last day or two?",
		},
	},
	"urine_output": {
		ID: "urine_output", Domain: "cardiac", Meaning: "low urine output", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you pass less urine than usual?",
			"Were you urinating less today?",
		},
	},
	"functional_decline": {
		ID: "functional_decline", Domain: "cardiac", Meaning: "reduced daily activity tolerance", Shape: ShapeTrend, Escalation: true,
		Prompts: []string{
			"Was it harder to walk or move around today?",
			"Did daily activities feel more difficult?",
		},
	},
	"fatigue": {
		ID: "fatigue", Domain: "cardiac", Meaning: "low cardiac output", Shape: ShapeYesNo,
		Prompts: []string{
			"Did you feel unusually tired today?",
			"Were you more fatigued than usual?",
		},
	},
	"palpitations": {
		ID: "palpitations", Domain: "cardiac", Meaning: "arrhythmia", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you feel fast or irregular heartbeats?",
			"Did your heart feel like it was racing or skipping?",
		},
	},
	"dizziness": {
		ID: "dizziness", Domain: "cardiac", Meaning: "arrhythmia / hypotension", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you feel dizzy or light-headed?",
			"Did you feel like you might faint?",
		},
	},
	"med_adherence": {
		ID: "med_adherence", Domain: "medication", Meaning: "non-compliance risk", Shape: ShapeYesNo, Escalation: true, Adherence: true,
		Prompts: []string{
			"Did you take all your prescribed medicines today?",
			"Were all your medications taken as prescribed?",
		},
	},
	"med_side_effects": {
		ID: "med_side_effects", Domain: "medication", Meaning: "drug intolerance / side effects", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did any medicine make you feel unwell?",
			"Did you experience side effects from your medication today?",
		},
	},
	"bleeding": {
		ID: "bleeding", Domain: "medication", Meaning: "anticoagulant / antiplatelet bleeding", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you notice any bleeding or unusual bruising?",
			"Any bleeding from gums, nose, urine, or stool?",
		},
	},
	"breathing_trend": {
		ID: "breathing_trend", Domain: "pulmonary", Meaning: "respiratory deterioration", Shape: ShapeTrend, Escalation: true,
		Prompts: []string{
			"Is your breathing better, the same, or worse today?",
			"Compared to yesterday, how is your breathing?",
		},
	},
	"rescue_inhaler": {
		ID: "rescue_inhaler", Domain: "pulmonary", Meaning: "COPD/asthma exacerbation", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you use your rescue inhaler more today?",
			"Did you need your quick-relief inhaler more often?",
		},
	},
	"inhaler_adherence": {
		ID: "inhaler_adherence", Domain: "medication", Meaning: "inhaler adherence", Shape: ShapeYesNo, Escalation: true, Adherence: true,
		Prompts: []string{
			"Did you use your regular inhaler today?",
			"Did you take your daily breathing medicine?",
		},
	},
	"cough": {
		ID: "cough", Domain: "pulmonary", Meaning: "infection / exacerbation", Shape: ShapeYesNo,
		Prompts: []string{
			"Did your cough increase today?",
			"Was your cough worse than yesterday?",
		},
	},
	"sputum_change": {
		ID: "sputum_change", Domain: "pulmonary", Meaning: "infection marker", Shape: ShapeYesNo,
		Prompts: []string{
			"Did your phlegm change color or amount?",
			"Was there more mucus than usual?",
		},
	},
	"fever": {
		ID: "fever", Domain: "pulmonary", Meaning: "infection", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you have fever or chills?",
			"Did you feel feverish today?",
		},
	},
	"oxygen_adherence": {
		ID: "oxygen_adherence", Domain: "pulmonary", Meaning: "oxygen therapy compliance", Shape: ShapeYesNo, Escalation: true, Adherence: true,
		Prompts: []string{
			"Did you use your oxygen as advised?",
			"Were you on oxygen as prescribed today?",
		},
	},
	"exertional_hypoxia": {
		ID: "exertional_hypoxia", Domain: "pulmonary", Meaning: "exertional desaturation", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did you feel breathless while walking even with oxygen?",
			"Was walking difficult despite oxygen?",
		},
	},
	"overall_health": {
		ID: "overall_health", Domain: "general", Meaning: "global deterioration", Shape: ShapeTrend, Escalation: true,
		Prompts: []string{
			"Overall, do you feel better, the same, or worse today?",
			"Compared to yesterday, are you feeling better, same, or worse?",
		},
	},
	"mental_stress": {
		ID: "mental_stress", Domain: "general", Meaning: "psychosocial risk", Shape: ShapeYesNo,
		Prompts: []string{
			"Did you feel anxious or low today?",
			"Were you feeling mentally stressed today?",
		},
	},
	"selfcare_barriers": {
		ID: "selfcare_barriers", Domain: "general", Meaning: "self-care / adherence barriers", Shape: ShapeYesNo, Escalation: true,
		Prompts: []string{
			"Did anything make it hard to care for yourself today?",
			"Did any problem stop you from taking medicines?",
		},
	},
	"social_support": {
		ID: "social_support", Domain: "general", Meaning: "social support / safety", Shape: ShapeYesNo,
		Prompts: []string{
			"Is someone available to help you at home?",
			"Do you have support if you need help?",
		},
	},
	"safety_close": {
		ID: "safety_close", Domain: "general", Meaning: "emergency advice / call closure", Shape: ShapeNone,
		Prompts: []string{
			"Thank you for your time. If symptoms suddenly worsen, please seek emergency care.",
			"Remember to contact medical help if you feel severe chest pain, breathing difficulty, or fainting.",
		},
	},
}

var protocols = map[string][]string{
	"POST_MI": {
		"chest_pain", "exertional_chest_pain", "pain_radiation",
		"worsening_dyspnea", "med_adherence", "bleeding",
	},
	"HEART_FAILURE": {
		"worsening_dyspnea", "orthopnea", "pnd", "edema", "weight_gain",
		"urine_output", "functional_decline", "fatigue", "med_adherence",
	},
	"HYPERTENSION": {
		"worsening_dyspnea", "palpitations", "med_adherence", "med_side_effects",
	},
	"ARRHYTHMIA": {
		"palpitations", "dizziness", "med_adherence", "bleeding",
	},
	"COPD": {
		"breathing_trend", "rescue_inhaler", "inhaler_adherence", "cough", "fever",
	},
	"ASTHMA": {
		"breathing_trend", "rescue_inhaler", "inhaler_adherence", "cough", "fever",
	},
	"PNEUMONIA": {
		"breathing_trend", "cough", "sputum_change", "fever", "inhaler_adherence",
	},
	"PE": {
		"worsening_dyspnea", "breathing_trend", "bleeding",
		"oxygen_adherence", "exertional_hypoxia",
	},
	"ILD_POST_COVID": {
		"breathing_trend", "cough", "fever", "oxygen_adherence",
		"exertional_hypoxia", "fatigue",
	},
	DefaultProtocol: {
		"overall_health", "mental_stress", "selfcare_barriers",
		"social_support", "safety_close",
	},
}

var aliases = map[string]string{
	"POSTMI":         "POST_MI",
	"MI":             "POST_MI",
	"HEARTFAILURE":   "HEART_FAILURE",
	"HF":             "HEART_FAILURE",
	"CHF":            "HEART_FAILURE",
	"GENERAL":        DefaultProtocol,
	"ILD":            "ILD_POST_COVID",
	"ILDPOSTCOVID":   "ILD_POST_COVID",
	"POSTCOVID":      "ILD_POST_COVID",
	"GENERALMONITOR": DefaultProtocol,
}

// Normalize resolves a free-form protocol name to a catalogue key. Matching
// is case and punctuation insensitive; unknown names resolve to
// DefaultProtocol.
func Normalize(name string) string {
	key := strings.ToUpper(strings.TrimSpace(name))
	for _, sep := range []string{"__", "-", " ", "."} {
		key = strings.ReplaceAll(key, sep, "_")
	}
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	if _, ok := protocols[key]; ok {
		return key
	}
	collapsed := strings.ReplaceAll(key, "_", "")
	if canonical, ok := aliases[collapsed]; ok {
		return canonical
	}
	return DefaultProtocol
}

// Known reports whether name resolves to a configured protocol without
// falling back to the default.
func Known(name string) bool {
	key := Normalize(name)
	if key != DefaultProtocol {
		return true
	}
	collapsed := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), "_", "")
	for _, sep := range []string{"-", " ", "."} {
		collapsed = strings.ReplaceAll(collapsed, sep, "")
	}
	return collapsed == "GENERALMONITORING" || aliases[collapsed] == DefaultProtocol
}

// Questions returns the ordered, resolved question list for a protocol name.
// The default protocol's list is returned for unknown names; the result is
// never empty.
func Questions(name string) []Question {
	ids := protocols[Normalize(name)]
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := questions[id]; ok {
			out = append(out, q)
		}
	}
	return out
}

// Lookup returns the catalogue entry for a question id.
func Lookup(id string) (Question, bool) {
	q, ok := questions[id]
	return q, ok
}
