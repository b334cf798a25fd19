package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"ragchat/internal/domain"
)

// Separators are tried in order: paragraph, line, sentence, word, character.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveChunker splits text into overlapping chunks of at most Size runes.
type RecursiveChunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

// NewRecursiveChunker creates a chunker; overlap must be smaller than size.
func NewRecursiveChunker(size, overlap int) (*RecursiveChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: size must be greater than zero")
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunker: overlap %d must be in [0, %d)", overlap, size)
	}
	return &RecursiveChunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithSeparators(Separators),
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Chunk returns a sequence over the document's chunks. Every chunk is
// attributed to the document name.
func (c *RecursiveChunker) Chunk(doc domain.Document) *Sequence {
	return &Sequence{splitter: c.splitter, source: doc.Name, text: doc.Content}
}

// Sequence yields chunks on demand. It splits the text on the first call
// to Next and cannot be rewound.
type Sequence struct {
	splitter textsplitter.RecursiveCharacter
	source   string
	text     string
	pieces   []string
	started  bool
	pos      int
	emitted  int
	err      error
}

// Next returns the next chunk, or false once the sequence is exhausted or
// splitting failed; check Err afterwards.
func (s *Sequence) Next() (domain.Chunk, bool) {
	if !s.started {
		s.started = true
		if strings.TrimSpace(s.text) != "" {
			s.pieces, s.err = s.splitter.SplitText(s.text)
		}
		s.text = ""
	}
	for s.err == nil && s.pos < len(s.pieces) {
		piece := strings.TrimSpace(s.pieces[s.pos])
		s.pieces[s.pos] = ""
		s.pos++
		if piece == "" {
			continue
		}
		chunk := domain.Chunk{Source: s.source, Text: piece, Index: s.emitted}
		s.emitted++
		return chunk, true
	}
	return domain.Chunk{}, false
}

// Err reports why splitting failed, if it did.
func (s *Sequence) Err() error {
	if s.err != nil {
		return fmt.Errorf("chunker: split %s: %w", s.source, s.err)
	}
	return nil
}

// Collect drains the remaining chunks.
func (s *Sequence) Collect() ([]domain.Chunk, error) {
	var out []domain.Chunk
	for {
		ch, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, ch)
	}
	return out, s.Err()
}
