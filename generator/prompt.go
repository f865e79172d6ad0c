package generator

import (
	"fmt"
	"strings"

	"github.com/coverbot/policyqa/types"
)

const systemPrompt = `You are a professional customer service representative for an insurance company.

Rules:
1. Answer ONLY from the numbered context passages provided. Never introduce facts that are not in them.
2. Every factual sentence must end with a citation marker like [1] or [2] referencing the passage it came from.
3. For yes/no questions, start with a direct "Yes" or "No", then a short explanation.
4. If the question asks for a number or amount, state it at the start of the answer.
5. If the context contains no relevant information, say so plainly.
6. Answer in the language of the question. Keep answers short, clear, and professional.
7. End your reply with a final line of the form "Confidence: 0.NN" estimating how well the context supports your answer.`

const answerTemplate = `Context passages:
%s

---

Question: %s

Answer the question based only on the context passages above.`

const mergeTemplate = `You previously answered the question below separately per insurance domain.
Merge the sub-answers into one coherent answer.

Rules:
1. Keep every citation marker like [1] or [2] exactly where its fact appears.
2. If the sub-answers contradict each other, state both positions explicitly; do not pick one silently.
3. End with a final line "Confidence: 0.NN".

Question: %s

%s

Merged answer:`

// renderContext formats ranked entries as numbered, source-attributed blocks.
func renderContext(entries []types.ContextEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%d] (%s", e.Marker, e.Chunk.Source.DocumentID)
		if e.Chunk.Source.Section != "" {
			fmt.Fprintf(&sb, ", %s", e.Chunk.Source.Section)
		}
		if e.Chunk.Source.Page > 0 {
			fmt.Fprintf(&sb, ", page %d", e.Chunk.Source.Page)
		}
		fmt.Fprintf(&sb, ")\n%s\n\n", e.Chunk.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderSubAnswers(subAnswers map[types.Domain]string, order []types.Domain) string {
	var sb strings.Builder
	for _, d := range order {
		fmt.Fprintf(&sb, "Sub-answer (%s insurance):\n%s\n\n", d, subAnswers[d])
	}
	return strings.TrimRight(sb.String(), "\n")
}
