package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/service"
)

type fakeChat struct {
	requests []service.QueryRequest
	answer   *service.Answer
	err      error
}

func (f *fakeChat) Answer(_ context.Context, req service.QueryRequest) (*service.Answer, error) {
	f.requests = append(f.requests, req)
	return f.answer, f.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestModel(t *testing.T) {
	t.Run("Should ask the service and show the answer", func(t *testing.T) {
		chat := &fakeChat{answer: &service.Answer{
			Answer:            "Paris.",
			KnowledgeBaseHits: 1,
			RetrievedChunks:   []domain.Hit{{Source: "notes.txt", Text: "Intro. The capital of France is Paris.", Score: 0.9}},
		}}
		m := sized(t, New(context.Background(), chat, "qwen3", []string{"notes.txt"}))
		assert.Contains(t, m.View(), "Context: notes.txt")
		m.input.SetValue("capital of France?")

		next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = next.(Model)
		require.NotNil(t, cmd)
		assert.True(t, m.busy)
		assert.Equal(t, "Thinking...", m.status)

		next, _ = m.Update(cmd())
		m = next.(Model)
		require.Len(t, chat.requests, 1)
		assert.Equal(t, service.QueryRequest{Model: "qwen3", Message: "capital of France?", Sources: []string{"notes.txt"}}, chat.requests[0])
		assert.False(t, m.busy)
		transcript := m.renderTranscript()
		assert.Contains(t, transcript, "You: capital of France?")
		assert.Contains(t, transcript, "Paris.")
		assert.Contains(t, transcript, "Context 1/1  notes.txt")
	})

	t.Run("Should ignore empty input", func(t *testing.T) {
		chat := &fakeChat{}
		m := sized(t, New(context.Background(), chat, "qwen3", nil))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Nil(t, cmd)
		assert.Empty(t, chat.requests)
	})

	t.Run("Should show service errors in the status line", func(t *testing.T) {
		m := sized(t, New(context.Background(), &fakeChat{}, "qwen3", nil))
		next, _ := m.Update(answerMsg{question: "q", err: domain.Errorf(domain.KindUnknownModel, "unknown model %q", "x")})
		m = next.(Model)
		assert.Equal(t, `Error: unknown model "x"`, m.status)

		next, _ = m.Update(answerMsg{question: "q", err: errors.New("boom")})
		assert.Equal(t, "Error: internal", next.(Model).status)
	})

	t.Run("Should cycle through retrieved chunks", func(t *testing.T) {
		m := sized(t, New(context.Background(), &fakeChat{}, "qwen3", nil))
		next, _ := m.Update(answerMsg{question: "q", answer: &service.Answer{
			Answer:          "a",
			RetrievedChunks: []domain.Hit{{Source: "a.txt"}, {Source: "b.txt"}},
		}})
		m = next.(Model)
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = next.(Model)
		assert.Equal(t, 1, m.cursor)
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		assert.Equal(t, 0, next.(Model).cursor)
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
		assert.Equal(t, 0, next.(Model).cursor)
	})
}

func TestHighlightBestSentence(t *testing.T) {
	t.Run("Should keep every sentence", func(t *testing.T) {
		out := highlightBestSentence("Cats sleep. Paris is in France.", "where is paris")
		assert.Contains(t, out, "Cats sleep.")
		assert.Contains(t, out, "Paris is in France.")
	})

	t.Run("Should return text unchanged when empty", func(t *testing.T) {
		assert.Equal(t, "  ", highlightBestSentence("  ", "q"))
	})
}
