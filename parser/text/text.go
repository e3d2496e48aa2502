// Package text implements the §4.6.1 plain-text parser: blank-line
// paragraph splitting, short-paragraph merging, and long-paragraph
// sentence-boundary splitting. Sentence detection reuses the regex shape
// from other_examples/kxddry-rag-text-search's SentenceChunker
// (`[^.!?]+[.!?]`), adapted from a fixed-sentence-count packer into a
// greedy byte-length-bounded packer, since this parser's splitting unit is
// a length cap rather than a sentence count.
package text

import (
	"regexp"
	"strings"

	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/parser"
)

const contentType = "text"

var (
	blankLineSplitter = regexp.MustCompile(`\n\s*\n+`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
	sentenceSplitter  = regexp.MustCompile(`[^.!?]+[.!?]`)
)

// Parser splits raw text into paragraph fragments.
type Parser struct {
	MinParagraphLength int
	MaxParagraphLength int
}

// New builds a Parser with the §4.6.1 defaults (min=50, max=2000).
func New() *Parser {
	return &Parser{MinParagraphLength: 50, MaxParagraphLength: 2000}
}

func (p *Parser) ContentType() string { return contentType }

// CanParse returns true iff payload is non-empty and at least
// MinParagraphLength bytes long.
func (p *Parser) CanParse(payload []byte) bool {
	return len(payload) > 0 && len(payload) >= p.minParagraphLength()
}

func (p *Parser) minParagraphLength() int {
	if p.MinParagraphLength > 0 {
		return p.MinParagraphLength
	}
	return 50
}

func (p *Parser) maxParagraphLength() int {
	if p.MaxParagraphLength > 0 {
		return p.MaxParagraphLength
	}
	return 2000
}

func (p *Parser) Parse(payload []byte, resourceID string, metadata map[string]any) (*parser.ParsedResource, error) {
	if len(payload) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "payload is empty")
	}

	paragraphs := normalizeParagraphs(string(payload))

	var fragments []parser.ContentFragment
	var shortBuffer []string

	flushShortBuffer := func() {
		if len(shortBuffer) == 0 {
			return
		}
		joined := strings.Join(shortBuffer, "\n\n")
		fragments = appendParagraphFragments(fragments, joined, p.maxParagraphLength())
		shortBuffer = nil
	}

	minLen := p.minParagraphLength()
	for _, para := range paragraphs {
		if para == "" {
			continue
		}
		if len(para) < minLen {
			shortBuffer = append(shortBuffer, para)
			if len(strings.Join(shortBuffer, "\n\n")) >= minLen {
				flushShortBuffer()
			}
			continue
		}
		flushShortBuffer()
		fragments = appendParagraphFragments(fragments, para, p.maxParagraphLength())
	}
	flushShortBuffer()

	return &parser.ParsedResource{
		ResourceID:   resourceID,
		ResourceType: contentType,
		Metadata:     metadata,
		Fragments:    fragments,
	}, nil
}

// normalizeParagraphs splits payload on blank-line separators and
// collapses internal whitespace runs to single spaces.
func normalizeParagraphs(payload string) []string {
	raw := blankLineSplitter.Split(payload, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(p, " "))
		out = append(out, normalized)
	}
	return out
}

// appendParagraphFragments splits para on sentence boundaries if it
// exceeds maxLen, packing sentences greedily into chunks, then appends the
// result (one or more fragments) with monotone order starting from the
// current length of fragments.
func appendParagraphFragments(fragments []parser.ContentFragment, para string, maxLen int) []parser.ContentFragment {
	chunks := []string{para}
	if len(para) > maxLen {
		chunks = packSentences(para, maxLen)
	}

	for _, c := range chunks {
		if c == "" {
			continue
		}
		fragments = append(fragments, parser.ContentFragment{
			Content: c,
			Type:    "paragraph",
			Order:   len(fragments),
			Metadata: map[string]any{
				"length":     len(c),
				"word_count": len(strings.Fields(c)),
			},
		})
	}
	return fragments
}

// packSentences splits text into sentences and greedily packs them into
// chunks no longer than maxLen.
func packSentences(text string, maxLen int) []string {
	sentences := sentenceSplitter.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(s) > maxLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
