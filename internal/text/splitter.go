package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators is ordered from coarsest to finest: paragraph, line,
// sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 250
)

// Splitter cuts text into overlapping segments of at most size runes,
// preferring the coarsest separator that keeps pieces under the limit.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the ordered segments of text. Identical input always yields
// identical output.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	var final, small []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			final = append(final, s.merge(small)...)
			small = nil
		}
		if len(finer) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, finer)...)
		}
	}
	if len(small) > 0 {
		final = append(final, s.merge(small)...)
	}
	return final
}

// merge packs consecutive pieces into segments no longer than size, carrying
// up to overlap runes of trailing pieces into the next segment.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)
	for _, p := range pieces {
		l := runeLen(p)
		if total+l > s.size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.overlap || (total+l > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator splits text on sep and re-attaches the separator to the
// start of each following piece. An empty sep splits into runes.
func splitKeepSeparator(text, sep string) []string {
	var out []string
	if sep == "" {
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	trailingSpace  = regexp.MustCompile(`[ \t]+\n`)
)

// Normalize cleans extracted text before splitting: unifies line endings,
// drops NUL bytes and collapses runs of blank lines into a paragraph break.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
