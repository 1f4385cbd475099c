// Package chunker splits document text into bounded, ordered segments for
// embedding and retrieval.
package chunker

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// DefaultMaxChars bounds chunk size well below the embedding provider's
// input limit (~8k tokens for text-embedding-3-small).
const DefaultMaxChars = 2000

// Chunk is a single bounded segment of a document.
type Chunk struct {
	Order int    // Position in document (0, 1, 2...)
	Text  string // Segment content, never empty or whitespace-only
}

// Chunker splits text at markdown section boundaries where present, then
// packs paragraphs and sentences up to a maximum size. Splitting is
// deterministic: the same input always yields the same chunks.
type Chunker struct {
	maxChars int
	parser   goldmark.Markdown
	sentence *regexp.Regexp
	blank    *regexp.Regexp
}

// New creates a Chunker with the given size bound.
// If maxChars <= 0, DefaultMaxChars is used.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Chunker{
		maxChars: maxChars,
		parser:   md,
		sentence: regexp.MustCompile(`[^.!?]+[.!?]+[)"']?\s*`),
		blank:    regexp.MustCompile(`\n[ \t]*\n`),
	}
}

// Split returns the ordered chunk sequence for text. An empty or
// whitespace-only document yields zero chunks; callers must treat that as a
// valid outcome, not an error.
func (c *Chunker) Split(input string) []Chunk {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	var segments []string
	for _, section := range c.sections(input) {
		segments = append(segments, c.packSection(section)...)
	}

	chunks := make([]Chunk, 0, len(segments))
	for _, seg := range segments {
		chunks = append(chunks, Chunk{Order: len(chunks), Text: seg})
	}
	return chunks
}

// sections splits input at H1/H2 markdown heading boundaries. Plain text
// without headings comes back as a single section.
func (c *Chunker) sections(input string) []string {
	source := []byte(input)
	reader := text.NewReader(source)
	doc := c.parser.Parser().Parse(reader)

	// Collect byte offsets of H1/H2 heading lines. The heading segment
	// points at the heading text, past the "#" markers, so every offset
	// is pulled back to the start of its line before it is used as a
	// boundary.
	var offsets []int
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			heading := n.(*ast.Heading)
			if heading.Level <= 2 && heading.Lines().Len() > 0 {
				offsets = append(offsets, lineStart(source, heading.Lines().At(0).Start))
			}
		}
		return ast.WalkContinue, nil
	})

	if len(offsets) == 0 {
		return []string{input}
	}

	var sections []string
	if offsets[0] > 0 {
		sections = append(sections, string(source[:offsets[0]]))
	}
	for i, start := range offsets {
		end := len(source)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		sections = append(sections, string(source[start:end]))
	}
	return sections
}

// lineStart walks back from a byte offset to the first byte of its line.
func lineStart(source []byte, offset int) int {
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}

// packSection packs one section's paragraphs into segments of at most
// maxChars. Oversized paragraphs are split at sentence boundaries.
func (c *Chunker) packSection(section string) []string {
	var segments []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	for _, para := range c.blank.Split(section, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > c.maxChars {
			flush()
			segments = append(segments, c.packSentences(para)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > c.maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return segments
}

// packSentences splits an oversized paragraph at sentence boundaries and
// packs the pieces. A single sentence longer than maxChars is hard-split.
func (c *Chunker) packSentences(para string) []string {
	sentences := c.sentence.FindAllString(para, -1)
	if joined := strings.Join(sentences, ""); len(joined) < len(para) {
		// Trailing text without terminal punctuation.
		if rest := strings.TrimSpace(para[len(joined):]); rest != "" {
			sentences = append(sentences, rest)
		}
	}

	var segments []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	for _, sent := range sentences {
		if len(sent) > c.maxChars {
			flush()
			for start := 0; start < len(sent); start += c.maxChars {
				end := min(start+c.maxChars, len(sent))
				if piece := strings.TrimSpace(sent[start:end]); piece != "" {
					segments = append(segments, piece)
				}
			}
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(sent) > c.maxChars {
			flush()
		}
		cur.WriteString(sent)
	}
	flush()
	return segments
}
