package ai

import (
	"fmt"
	"strings"

	"clinref-chat/internal/domain/model"
)

// systemPrompt renders the per-turn context bundle into the system
// instruction sent with every generation.
func systemPrompt(tc model.TurnContext) string {
	var b strings.Builder
	b.WriteString("You are a clinical-reference assistant for healthcare professionals. ")
	b.WriteString("Answer with current, evidence-based medical information and cite guideline names where relevant. ")
	if tc.RoleHint != "" {
		fmt.Fprintf(&b, "The reader is a %s; pitch depth accordingly. ", tc.RoleHint)
	}
	if tc.Region != "" || tc.Country != "" {
		fmt.Fprintf(&b, "Prefer guidance applicable in %s. ", strings.TrimSpace(tc.Region+" "+tc.Country))
	}
	if tc.Language != "" {
		fmt.Fprintf(&b, "Answer in language %q. ", tc.Language)
	}
	if tc.ShortAnswer {
		b.WriteString("Be brief: a few sentences, no preamble.")
	}
	return b.String()
}

// relatedPrompt asks for follow-up questions a clinician would plausibly ask
// next. The reply is parsed line by line.
func relatedPrompt(userText, answerText, roleHint, language string) string {
	var b strings.Builder
	b.WriteString("Given the question and answer below, suggest exactly 3 short follow-up questions ")
	b.WriteString("the same reader would plausibly ask next. One per line, no numbering, no extra text.\n")
	if roleHint != "" {
		fmt.Fprintf(&b, "Reader: %s.\n", roleHint)
	}
	if language != "" {
		fmt.Fprintf(&b, "Language: %s.\n", language)
	}
	fmt.Fprintf(&b, "\nQuestion:\n%s\n\nAnswer:\n%s\n", userText, answerText)
	return b.String()
}

func parseQuestionList(raw string) []string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, 3)
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "-*0123456789. "))
		if l == "" {
			continue
		}
		out = append(out, l)
		if len(out) == 3 {
			break
		}
	}
	return out
}
