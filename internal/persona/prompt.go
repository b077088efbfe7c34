package persona

import "strings"

// Prompt is the single system message sent for a question.
func (p Persona) Prompt(question string) string {
	return p.Preamble + " Question: " + question
}

// StripMarker removes one leading trigger marker (case-insensitive) and the
// whitespace around the question.
func StripMarker(query, marker string) string {
	q := strings.TrimSpace(query)
	if marker != "" && len(q) >= len(marker) && strings.EqualFold(q[:len(marker)], marker) {
		q = q[len(marker):]
	}
	return strings.TrimSpace(q)
}
