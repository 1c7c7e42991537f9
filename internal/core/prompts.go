package core

// prompts.go defines the prompts used by the assessor and summariser.
// Keeping them in a separate file makes them easy to tweak without touching
// the rest of the code.

const (
	// SystemPrompt instructs the live model to run the intake conversation
	// one question at a time and to answer with a single JSON object.
	SystemPrompt = "You are an intake assistant for a mental-health clinic. Have a calm, empathetic conversation " +
		"with the patient and gather what a clinician needs for triage: when the problem started, whether it is " +
		"getting better or worse, triggers, impact on sleep, work, school and relationships, current medication and " +
		"side effects, and an explicit safety screen for thoughts of self-harm. Ask exactly one short question per " +
		"turn and never repeat the question you asked last. Do not diagnose or give treatment advice. If the patient " +
		"mentions suicide, self-harm or being in immediate danger, direct them to emergency services and ask them to " +
		"confirm they are safe. Respond only with a JSON object of the form " +
		`{"content": string, "risk_score": integer 0-100 or null, "analysis": string, "is_complete": boolean}` +
		". content is shown to the patient; analysis is a short rationale for the clinician only."

	// SummarizationInstruction asks the model for the clinician summary.
	SummarizationInstruction = "Summarise this mental-health intake for the reviewing clinician. Respond only with a " +
		`JSON object {"key_points": [3-7 very short strings], "free_text": string of at most 120 words}. ` +
		"Highlight any safety concern first. Leave fields empty when information is missing."

	// CapMessage is sent when the patient exceeds the message cap for a
	// session.
	CapMessage = "We have reached the message limit for this intake. Thank you for everything you shared; a clinician will review your conversation. If you are in immediate danger, please call your local emergency number."
)
