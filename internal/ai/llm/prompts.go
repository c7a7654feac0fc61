package llm

import (
	"fmt"
	"strconv"
)

// Persona selects the system prompt used for alert commentary
type Persona string

const (
	PersonaCommentator Persona = "commentator"
	PersonaDeskAnalyst Persona = "desk"
)

// System prompts for the alert commentary personas
const (
	// SystemPromptCommentator is the default lightweight persona for
	// one-line alert commentary
	SystemPromptCommentator = `You are a crypto market commentator. Be concise and exciting.`

	// SystemPromptDeskAnalyst is a heavier persona tuned for voice delivery
	SystemPromptDeskAnalyst = `You are a senior high-frequency algorithmic trading analyst.
Your audience consists of professional crypto traders.

CORE DIRECTIVES:
1. **Latency is Critical:** Be extremely concise. Get to the point immediately.
2. **Data First:** Never make a qualitative claim ("The market is bullish") without quantitative backing ("BTC broke 69000 on 5x average volume").
3. **Output Format:** Streaming text optimized for Text-to-Speech. Avoid markdown tables or special characters that sound awkward when spoken.
4. **Brevity:** Maximum 3 sentences per alert. Think Bloomberg Terminal, not essay.

FORBIDDEN PATTERNS:
- "As an AI language model..."
- "Please note that this is not financial advice..."
- Generic pleasantries or filler words

VOICE STYLE:
- Urgent but not panicked
- Authoritative with data backing
- Like a senior desk analyst at a global macro hedge fund`
)

// SystemPromptFor returns the system prompt for a persona, defaulting to
// the commentator
func SystemPromptFor(persona Persona) string {
	if persona == PersonaDeskAnalyst {
		return SystemPromptDeskAnalyst
	}
	return SystemPromptCommentator
}

// BuildAlertPrompt builds the user prompt for one-line alert commentary
func BuildAlertPrompt(triggerType string, symbol string, price float64, triggerValue float64) string {
	return `Event: ` + triggerType + ` triggered for ` + symbol + `
Price: $` + fmt.Sprintf("%.2f", price) + `
Trigger Value: ` + formatTriggerValue(triggerValue) + `

Give a 1-sentence market insight. Is this a pump or trap?`
}

// BuildDeskAlertPrompt builds the user prompt for the desk analyst persona
func BuildDeskAlertPrompt(triggerType string, symbol string, price float64, triggerValue float64) string {
	return `MARKET ALERT
======================
Symbol: ` + symbol + `
Current Price: ` + fmt.Sprintf("%.2f", price) + `
Trigger: ` + triggerType + `
Trigger Value: ` + formatTriggerValue(triggerValue) + `

Provide a concise 2-3 sentence analysis suitable for voice delivery.
Focus on: What happened, why it matters, and what to watch next.`
}

// formatTriggerValue renders a trigger value without a fixed precision,
// so RSI readings keep their two decimals and round price levels stay whole
func formatTriggerValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
