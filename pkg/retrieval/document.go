// Package retrieval answers questions from the dataset's free text by
// embedding row documents, searching them by similarity and generating an
// answer from the best matches.
package retrieval

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zen-systems/querygate/pkg/dataset"
)

// Chunking defaults.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Document is the text of one table row plus its metadata.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Chunk is an indexed slice of a document.
type Chunk struct {
	ID       string
	DocID    string
	Seq      int
	Content  string
	Metadata map[string]string
}

// BuildDocuments renders each row's text columns as "COL: value" joined by
// " | ". Rows with no text are skipped. Metadata keys are lowercased.
func BuildDocuments(t *dataset.Table, p dataset.Profile) []Document {
	docs := make([]Document, 0, t.Len())
	for i := range t.Rows {
		var parts []string
		for _, col := range p.TextColumns {
			v := strings.TrimSpace(t.Value(i, col))
			if dataset.IsNull(v) {
				continue
			}
			parts = append(parts, col+": "+v)
		}
		if len(parts) == 0 {
			continue
		}

		meta := make(map[string]string, len(p.MetadataColumns)+1)
		for _, col := range p.MetadataColumns {
			if !t.HasColumn(col) {
				continue
			}
			if v := t.Value(i, col); !dataset.IsNull(v) {
				meta[strings.ToLower(col)] = v
			}
		}
		id := strconv.Itoa(i + 1)
		if p.IDColumn != "" && t.HasColumn(p.IDColumn) {
			if v := t.Value(i, p.IDColumn); v != "" {
				id = v
			}
			meta["id"] = id
		}
		docs = append(docs, Document{ID: id, Content: strings.Join(parts, " | "), Metadata: meta})
	}
	return docs
}

// Splitter cuts text into overlapping chunks, preferring paragraph, line,
// field and word boundaries in that order. Sizes count runes.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter creates a splitter. Non-positive values take the defaults and
// the overlap is kept below the size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Splitter{
		Size:       size,
		Overlap:    overlap,
		Separators: []string{"\n\n", "\n", " | ", " ", ""},
	}
}

// Chunks splits every document. Chunk ids are "<doc id>#<seq>".
func (s *Splitter) Chunks(docs []Document) []Chunk {
	var out []Chunk
	for _, d := range docs {
		for seq, text := range s.Split(d.Content) {
			out = append(out, Chunk{
				ID:       d.ID + "#" + strconv.Itoa(seq),
				DocID:    d.ID,
				Seq:      seq,
				Content:  text,
				Metadata: d.Metadata,
			})
		}
	}
	return out
}

// Split returns the chunks of text.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, seps []string) []string {
	if runeLen(text) <= s.Size {
		return []string{text}
	}

	sep := ""
	rest := []string(nil)
	for i, candidate := range seps {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = splitRunes(text)
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, pending []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if runeLen(piece) <= s.Size {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			out = append(out, s.merge(pending, sep)...)
			pending = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(pending) > 0 {
		out = append(out, s.merge(pending, sep)...)
	}
	return out
}

// merge packs pieces into chunks of at most Size runes, carrying up to
// Overlap runes of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var out []string
	var window []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		joined := total + n
		if len(window) > 0 {
			joined += sepLen
		}
		if joined > s.Size && len(window) > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, sep)); chunk != "" {
				out = append(out, chunk)
			}
			for len(window) > 0 && (total > s.Overlap || total+n+sepLen > s.Size) {
				total -= runeLen(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(window, sep)); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
