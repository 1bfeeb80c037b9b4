package answer

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/askdex/internal/domain"
)

const queryAnswerPrompt = `You answer one focused search over a private knowledge base.
Use only the numbered evidence below. Put the evidence number in square brackets
right after every claim that uses it, e.g. "The cache is warmed at boot [2]."
Never cite a number that is not in the evidence list. If the evidence does not
answer the search, say so plainly instead of guessing.`

const finalAnswerPrompt = `You write the final answer to the user's question from a private knowledge base.
You receive the user's selected context documents, the answers to the individual
searches, and a numbered evidence list. Every claim taken from the evidence must be
followed by its number in square brackets, e.g. [1] or [1, 3]. Cite only numbers from
the evidence list. Context documents are background and are not cited by number.
When a part of the question has no supporting evidence, say that explicitly and do
not fill the gap from general knowledge.`

const chatPrompt = `You are a research assistant answering questions about the user's own documents.
Ground your reply in the context documents and the numbered evidence below. Follow
every claim taken from the evidence with its number in square brackets, e.g. [2].
Cite only numbers from the evidence list. If the documents do not contain the answer,
say so instead of guessing.`

// noEvidenceText is the answer for a search that retrieved nothing.
func noEvidenceText(term string) string {
	return fmt.Sprintf("No relevant evidence was found in the selected sources for %q.", term)
}

// missingEvidenceNote discloses the searches that produced no evidence.
func missingEvidenceNote(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return "Insufficient evidence in the selected sources for: " + strings.Join(quoted, ", ") + "."
}

const emptyAnswerText = "No relevant evidence was found in the selected sources to answer this question."

func queryUserPrompt(q domain.SubQuery, evidence string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search: %s\n", q.Term)
	if q.Instructions != "" {
		fmt.Fprintf(&sb, "Instructions: %s\n", q.Instructions)
	}
	sb.WriteString("\nEvidence:\n")
	sb.WriteString(evidence)
	return sb.String()
}

func finalUserPrompt(question, docs string, answers []string, evidence string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", question)
	if docs != "" {
		sb.WriteString("\nContext documents:\n")
		sb.WriteString(docs)
		sb.WriteString("\n")
	}
	if len(answers) > 0 {
		sb.WriteString("\nSearch answers:\n")
		for _, a := range answers {
			sb.WriteString(a)
			sb.WriteString("\n")
		}
	}
	if evidence != "" {
		sb.WriteString("\nEvidence:\n")
		sb.WriteString(evidence)
	}
	return sb.String()
}

func chatSystemPrompt(docs, evidence string) string {
	var sb strings.Builder
	sb.WriteString(chatPrompt)
	if docs != "" {
		sb.WriteString("\n\nContext documents:\n")
		sb.WriteString(docs)
	}
	if evidence != "" {
		sb.WriteString("\n\nEvidence:\n")
		sb.WriteString(evidence)
	}
	return sb.String()
}
