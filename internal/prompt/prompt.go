// Package prompt assembles the prompts sent to the answer generator.
package prompt

import (
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"ragchat/internal/domain"
)

var contextTemplate = prompts.NewPromptTemplate(`You are an assistant that answers questions about the user's documents.
Answer the question using only the information in the context below{{if .web}} and the web results{{end}}.
If the answer is not contained there, say that the documents do not contain the answer.
Reply in the same language as the question.

Context:
{{.context}}

{{if .web}}Web results:
{{.web}}

{{end}}Question: {{.question}}
Answer:`, []string{"context", "web", "question"})

var openTemplate = prompts.NewPromptTemplate(`You are a knowledgeable assistant.
No document excerpts matched this question, so answer it using general reasoning{{if .web}} and the web results below{{end}}.
Say so plainly if you are not sure.
Reply in the same language as the question.

{{if .web}}Web results:
{{.web}}

{{end}}Question: {{.question}}
Answer:`, []string{"web", "question"})

// Input is everything that goes into one prompt.
type Input struct {
	Question string
	Hits     []domain.Hit
	Web      []domain.WebResult
}

// Build renders the context prompt when there are hits and the open
// prompt otherwise.
func Build(in Input) (string, error) {
	values := map[string]any{
		"question": strings.TrimSpace(in.Question),
		"web":      renderWeb(in.Web),
	}
	if len(in.Hits) == 0 {
		return openTemplate.Format(values)
	}
	values["context"] = renderHits(in.Hits)
	return contextTemplate.Format(values)
}

func renderHits(hits []domain.Hit) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = "Source: " + h.Source + "\n" + h.Text
	}
	return strings.Join(blocks, "\n\n")
}

func renderWeb(results []domain.WebResult) string {
	if len(results) == 0 {
		return ""
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		var b strings.Builder
		b.WriteString(r.Title)
		b.WriteString(" (")
		b.WriteString(r.URL)
		b.WriteString(")")
		if r.Snippet != "" {
			b.WriteString("\n")
			b.WriteString(r.Snippet)
		}
		blocks[i] = b.String()
	}
	return strings.Join(blocks, "\n\n")
}
