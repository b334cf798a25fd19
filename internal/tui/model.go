package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/domain"
	"ragchat/internal/service"
	"ragchat/internal/textutil"
)

// ChatPort is the TUI-facing subset of the RAG service.
type ChatPort interface {
	Answer(ctx context.Context, req service.QueryRequest) (*service.Answer, error)
}

type turn struct {
	question string
	answer   string
	hits     int
}

type answerMsg struct {
	question string
	answer   *service.Answer
	err      error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	service  ChatPort
	model    string
	sources  []string
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	hits     []domain.Hit
	cursor   int
	status   string
	busy     bool
	ready    bool
	lastAsk  string
}

// New creates a chat model that asks with the given model key, optionally
// restricted to sources.
func New(ctx context.Context, svc ChatPort, model string, sources []string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		service:  svc,
		model:    model,
		sources:  sources,
		input:    ti,
		viewport: vp,
		status:   "Ready. Up/Down browses the retrieved context.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and scope, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + domain.MessageOf(msg.err)
			return m, nil
		}
		m.turns = append(m.turns, turn{question: msg.question, answer: msg.answer.Answer, hits: msg.answer.KnowledgeBaseHits})
		m.hits = msg.answer.RetrievedChunks
		m.cursor = 0
		m.lastAsk = msg.question
		m.status = fmt.Sprintf("%d context chunks", len(m.hits))
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.input.SetValue("")
			m.status = "Thinking..."
			return m, m.ask(q)
		case "down":
			if len(m.hits) > 0 {
				m.cursor = (m.cursor + 1) % len(m.hits)
				m.refresh()
				return m, nil
			}
		case "up":
			if len(m.hits) > 0 {
				m.cursor = (m.cursor - 1 + len(m.hits)) % len(m.hits)
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	svc, ctx := m.service, m.ctx
	req := service.QueryRequest{Model: m.model, Message: question, Sources: m.sources}
	return func() tea.Msg {
		answer, err := svc.Answer(ctx, req)
		return answerMsg{question: question, answer: answer, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("ragchat · " + m.model)
	scope := "all sources"
	if len(m.sources) > 0 {
		scope = strings.Join(m.sources, ", ")
	}
	scopeLine := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("Context: " + scope)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	body := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + scopeLine + "\n" + body + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: " + t.question))
		b.WriteString("\n")
		b.WriteString(t.answer)
		if t.hits == 0 {
			b.WriteString("\n")
			b.WriteString(mutedStyle.Render("(answered without document context)"))
		}
	}
	if len(m.hits) > 0 {
		h := m.hits[m.cursor]
		b.WriteString("\n\n")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("Context %d/%d  %s #%d  score=%.3f", m.cursor+1, len(m.hits), h.Source, h.Index, h.Score)))
		b.WriteString("\n")
		b.WriteString(highlightBestSentence(h.Text, m.lastAsk))
	}
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// highlightBestSentence emphasises the sentence sharing the most words with
// query.
func highlightBestSentence(text, query string) string {
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	qTokens := textutil.TokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := textutil.Overlap(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	return strings.Join(sentences, " ")
}
