package triage

import "strings"

// Normalize lowercases text, collapses whitespace runs to a single space
// and trims the ends.  Used only for repetition comparison.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContainsAnyTerm reports whether haystack contains any of terms as a
// literal substring.  The caller lowercases haystack.
func ContainsAnyTerm(haystack string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

// LastAskedTopic maps an assistant utterance back to the catalogue topic it
// asks about.  The first match in catalogue order wins.
func LastAskedTopic(assistantText string) (TopicID, bool) {
	lower := strings.ToLower(assistantText)
	if strings.TrimSpace(lower) == "" {
		return "", false
	}
	for _, t := range catalogue {
		if ContainsAnyTerm(lower, t.Asked) {
			return t.ID, true
		}
	}
	return "", false
}

// HasSafetyConcern reports whether any patient turn contains crisis
// language.
func HasSafetyConcern(history []Turn) bool {
	return ContainsAnyTerm(newTranscriptView(history).patientText, safetyTerms)
}

// CoveredTopics returns the content topics already covered by the
// transcript, in catalogue order.  The summary topic is never reported.
func CoveredTopics(history []Turn) []TopicID {
	v := newTranscriptView(history)
	var out []TopicID
	for _, t := range catalogue {
		if t.ID != TopicSummary && v.covers(t) {
			out = append(out, t.ID)
		}
	}
	return out
}

// transcriptView holds the lowercased text derived from a transcript.
type transcriptView struct {
	patientText   string
	assistantText string
	lastAssistant string
	patientCount  int
}

func newTranscriptView(history []Turn) transcriptView {
	var patient, assistant []string
	var v transcriptView
	for _, turn := range history {
		switch turn.Role {
		case RolePatient:
			patient = append(patient, strings.ToLower(turn.Content))
			v.patientCount++
		case RoleAssistant:
			assistant = append(assistant, strings.ToLower(turn.Content))
			v.lastAssistant = turn.Content
		}
	}
	// Padding lets boundary keywords such as " for " match at either end.
	v.patientText = " " + strings.Join(patient, " ") + " "
	v.assistantText = strings.Join(assistant, " ")
	return v
}

func (v transcriptView) covers(t Topic) bool {
	switch t.ID {
	case TopicSafety:
		return ContainsAnyTerm(v.assistantText, t.Asked)
	case TopicSummary:
		return false
	default:
		return ContainsAnyTerm(v.patientText, t.Keywords)
	}
}

// queue lists uncovered topics in catalogue order, always ending with the
// summary topic.
func (v transcriptView) queue() []Topic {
	var q []Topic
	for _, t := range catalogue {
		if t.ID == TopicSummary {
			continue
		}
		if !v.covers(t) {
			q = append(q, t)
		}
	}
	summary, _ := Lookup(TopicSummary)
	return append(q, summary)
}

// selectTopic picks the first queued topic that is not the one asked last.
func selectTopic(queue []Topic, last TopicID, haveLast bool) Topic {
	for _, t := range queue {
		if !haveLast || t.ID != last {
			return t
		}
	}
	return queue[0]
}
