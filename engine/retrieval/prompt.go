package retrieval

import "strings"

const systemPrompt = `You are a technician expert on the {vehicle}.

RULES (follow strictly):
- Answer ONLY from the RETRIEVED KNOWLEDGE below. If the knowledge does not cover the question, say "I don't have that information."
- NEVER guess about safety items (brakes, steering, fuel, structural).
- Cite sources: [FSM], [IH8MUD], or [PARTS].
- Include part numbers and torque specs when available.
- Keep answers focused and structured.

{context}`

// SystemPrompt is the completion system prompt for an assembled context.
// It is kept short so small local models follow it.
func SystemPrompt(vehicleName string, c Context) string {
	return strings.NewReplacer("{vehicle}", vehicleName, "{context}", c.Formatted).Replace(systemPrompt)
}
