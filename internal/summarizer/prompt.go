package summarizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/tracyhatemice/maildigest/internal/model"
)

// Delimiter wraps the final answer in the model's response.
const Delimiter = "$"

const excerptRunes = 200

const systemPrompt = "You are a professional email analysis assistant. " +
	"Analyze a batch of emails and produce a structured summary."

// excerpt returns the first excerptRunes characters of s, with "..."
// appended when something was cut.
func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes]) + "..."
}

func languageInstruction(language string) string {
	if language == "" || strings.EqualFold(language, "auto") {
		return "Write the summary in the language most of the emails are written in."
	}
	return fmt.Sprintf("Write the summary in %s.", language)
}

func buildPrompt(records []model.Record, language string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Analyze the following %d emails and produce a structured summary.\n", len(records))

	for i, r := range records {
		fmt.Fprintf(&sb, "\n**Email %d:**\n", i+1)
		fmt.Fprintf(&sb, "From: %s\n", r.Sender)
		fmt.Fprintf(&sb, "Subject: %s\n", r.Subject)
		fmt.Fprintf(&sb, "Time: %s\n", r.ReceivedAt.Format(time.DateTime))
		fmt.Fprintf(&sb, "Content: %s\n", excerpt(r.Body))
	}

	sb.WriteString(`
**Requirements:**
Think step by step.
1. Decide which emails are important (work related, urgent matters, important notices, school affairs and the like). When in doubt, treat an email as important; missing one is worse than including one too many.
2. Summarize all important emails in 200 characters or fewer in total.
3. Summarize every remaining email in 80 characters or fewer each.
4. Keep the summaries concise and lead with the key information.
`)
	sb.WriteString(languageInstruction(language))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, `**Output format** (use clean Markdown; do not leave out the %[1]s signs, they are parsed by a program)
Your step-by-step reasoning.

%[1]s
Overall assessment (e.g. 3 emails need attention, especially the one titled "xxx"; among the rest, "xxx" may also be worth a look)

Important emails
---
Email 1:
Original subject
Summary
---

Other emails
Email 1:
Original subject
Summary
...
%[1]s
`, Delimiter)

	return sb.String()
}
