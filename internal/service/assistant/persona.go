package assistant

import (
	"regexp"
	"strings"
)

const fallbackReminder = "REMINDER: Strictly follow all system instructions."

var personaSentence = regexp.MustCompile(`(?i)You are [^.\n]*\.?`)

// DefaultPersona is used when the prompts file does not define system instructions.
var DefaultPersona = cleanInstructions(`
You are a helpful and professional legal assistant specializing in the Constitution of India.
- Your primary goal is to provide accurate, concise, and easy-to-understand legal summaries.
- Respond in the user's requested language. If no language is specified, use English.
- Always quote relevant articles or sections from the provided document to support your answer.
- Give a detailed explanation, ensuring it is a summarized one with clear examples if possible.
- If information is not in the provided document, state this clearly before providing a general legal principle based on common legal knowledge.
- IMPORTANT: If a message contains a language-setting instruction (e.g., 'Set Language to Hindi'), confirm the setting and use that language for all future responses in this chat session.
`)

// cleanInstructions trims every line, drops blank ones and joins the rest with spaces.
func cleanInstructions(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, " ")
}

// PersonaReminder returns the first "You are ..." sentence of persona with
// " REMINDER:" appended. It is prepended to every question.
func PersonaReminder(persona string) string {
	match := strings.TrimSpace(personaSentence.FindString(persona))
	if match == "" {
		return fallbackReminder
	}
	return match + " REMINDER:"
}
