package pipeline

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures the token length of a text span.
type TokenCounter func(text string) int

// Chunker splits document text into sentence-aligned chunks bounded by a
// token budget, with a configurable sentence overlap between consecutive
// chunks. Chunk boundaries never fall mid-sentence unless a single sentence
// alone exceeds the budget.
type Chunker struct {
	maxTokens        int
	overlapSentences int
	countTokens      TokenCounter
	splitter         *regexp.Regexp
}

// NewChunker creates a Chunker measuring tokens with the cl100k_base
// encoding used by the embedding models this service targets.
func NewChunker(maxTokens, overlapSentences int) (*Chunker, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	counter := func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
	return newChunkerWithCounter(maxTokens, overlapSentences, counter), nil
}

func newChunkerWithCounter(maxTokens, overlapSentences int, counter TokenCounter) *Chunker {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	return &Chunker{
		maxTokens:        maxTokens,
		overlapSentences: overlapSentences,
		countTokens:      counter,
		splitter:         regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`),
	}
}

// Split breaks text into chunks. Paragraph and sentence boundaries are
// preserved; consecutive chunks share overlapSentences sentences.
func (c *Chunker) Split(text string) []string {
	spans := c.splitter.FindAllStringIndex(text, -1)
	var sentences []string
	consumed := 0
	for _, span := range spans {
		sentences = append(sentences, text[span[0]:span[1]])
		consumed = span[1]
	}
	// A trailing fragment without terminal punctuation is still document
	// text; keep it as a final sentence.
	if tail := strings.TrimSpace(text[consumed:]); tail != "" {
		sentences = append(sentences, tail)
	}

	cleaned := sentences[:0]
	for _, s := range sentences {
		if t := strings.TrimSpace(s); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	sentences = cleaned
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(sentences) {
		end := start
		tokens := 0
		for end < len(sentences) {
			n := c.countTokens(sentences[end])
			if end > start && tokens+n > c.maxTokens {
				break
			}
			tokens += n
			end++
		}

		chunks = append(chunks, strings.Join(sentences[start:end], " "))
		if end == len(sentences) {
			break
		}

		next := end - c.overlapSentences
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}
