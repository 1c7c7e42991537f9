package triage

// TopicID identifies one clinical information need in the intake catalogue.
type TopicID string

const (
	TopicOnset      TopicID = "onset"
	TopicTrend      TopicID = "trend"
	TopicTriggers   TopicID = "triggers"
	TopicImpact     TopicID = "impact"
	TopicMedication TopicID = "medication"
	TopicSafety     TopicID = "safety"
	TopicSummary    TopicID = "summary"
)

// Topic is a static catalogue entry.  Keywords are tested against the
// patient's text to decide coverage; Asked phrases are tested against the
// assistant's text to recognise the question once it has been posed.  The
// Asked phrases must stay in sync with Question so the engine can detect
// its own questions.
type Topic struct {
	ID       TopicID
	Question string
	Analysis string
	Keywords []string
	Asked    []string
}

// catalogue is ordered: the first uncovered topic is asked next.
var catalogue = []Topic{
	{
		ID:       TopicOnset,
		Question: "Can you tell me when this started, and whether it came on suddenly or gradually?",
		Analysis: "Fallback triage: establishing symptom onset and duration.",
		Keywords: []string{
			" started ", " since ", " ago", " for ", "week", "month", "year", "day",
			"yesterday", "recently", "last night",
		},
		Asked: []string{"when this started", "when did this start", "how long this has"},
	},
	{
		ID:       TopicTrend,
		Question: "Over that time, has it been getting better, getting worse, or staying about the same?",
		Analysis: "Fallback triage: assessing symptom trajectory.",
		Keywords: []string{
			"better", "worse", "improv", "same", "fluctuat", "comes and goes",
			"on and off", "up and down",
		},
		Asked: []string{"getting better, getting worse", "staying about the same"},
	},
	{
		ID:       TopicTriggers,
		Question: "Have you noticed anything that seems to trigger it, or anything that makes it easier or harder to cope?",
		Analysis: "Fallback triage: identifying triggers and relieving factors.",
		Keywords: []string{
			"trigger", "makes it worse", "makes it better", "helps when", "harder when",
			"easily overstimulated", "worse when", "better when",
		},
		Asked: []string{"seems to trigger it", "easier or harder to cope"},
	},
	{
		ID:       TopicImpact,
		Question: "How is this affecting your sleep, work or school, relationships, or daily routine?",
		Analysis: "Fallback triage: assessing functional impact.",
		Keywords: []string{
			"sleep", "school", "work", "daily", "concentration", "concentrate",
			"relationships", "libido", "energy", "appetite",
		},
		Asked: []string{"affecting your sleep", "daily routine"},
	},
	{
		ID:       TopicMedication,
		Question: "Are you currently taking any medication for this, and have you noticed any side effects?",
		Analysis: "Fallback triage: reviewing current medication and side effects.",
		Keywords: []string{
			"medication", "medicine", "dose", "mg", "side effect", "prescribed",
			"started taking", "sertraline", "fluoxetine", "escitalopram", "bupropion",
			"venlafaxine", "adderall", "methylphenidate", "lithium", "antidepressant",
		},
		Asked: []string{"taking any medication", "noticed any side effects"},
	},
	{
		ID:       TopicSafety,
		Question: "I also need to ask about safety: have you had any thoughts of harming yourself, or do you feel you are in immediate danger?",
		Analysis: "Fallback triage: explicit safety screen.",
		// Safety coverage is decided by whether the question was posed, so
		// the assistant-side phrases double as its coverage terms.
		Asked: []string{"thoughts of harming yourself", "immediate danger", "safety concern"},
	},
	{
		ID:       TopicSummary,
		Question: "Is there anything else you would like your clinician to know before they review your intake?",
		Analysis: "Fallback triage: core topics covered, inviting a final summary.",
		Asked:    []string{"anything else you would like your clinician to know"},
	},
}

// Topics returns a copy of the catalogue in selection order.
func Topics() []Topic {
	out := make([]Topic, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup returns the catalogue entry for id.
func Lookup(id TopicID) (Topic, bool) {
	for _, t := range catalogue {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

var acknowledgments = []string{
	"Thank you for sharing that.",
	"I appreciate you telling me.",
	"That is helpful to know.",
	"Thanks, that helps me understand.",
}

// safetyTerms are matched against the full patient history.
var safetyTerms = []string{
	"suicid", "self harm", "self-harm", "harm myself", "hurt myself",
	"kill myself", "end my life", "want to die", "immediate danger",
	"can't stay safe", "can’t stay safe", "cannot stay safe",
	"can't keep myself safe", "not safe right now",
}

const (
	// OpeningPrompt is returned while the patient has not said anything yet.
	OpeningPrompt = "Hi, thank you for reaching out. To get started, what brought you in today, and how long have you been feeling this way?"
	// ForwardPrompt replaces a reply that would repeat the previous question.
	ForwardPrompt = "Let's keep moving. What is the single most important thing you would like to address first today?"
	// SafetyScript replaces every other reply once crisis language appears.
	SafetyScript = "I'm concerned about your safety. If you are in immediate danger or might act on thoughts of harming yourself, please call your local emergency number or go to the nearest emergency department now. Can you confirm that you are safe right now?"

	openingAnalysis = "Fallback triage: opening prompt, no patient input yet."
	safetyAnalysis  = "Potential acute safety concern detected in patient text; safety check escalated."

	// SafetyRiskScore is forced whenever crisis language is detected.
	SafetyRiskScore = 80
)
