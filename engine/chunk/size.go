package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// Size packs sentences up to the target size. Each new chunk starts with
// the last Overlap bytes of the previous one.
type Size struct{}

func (Size) Name() string { return "size" }

func (Size) Chunk(d domain.Document, o Options) []domain.Chunk {
	return emit(d, sizePieces(d.Content, o, ""))
}

var sentenceEndRe = regexp.MustCompile(`[.!?]\s+`)

// sentences splits text after terminal punctuation. Sentences longer than
// max are broken at whitespace, or hard when there is none.
func sentences(text string, max int) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		out = append(out, splitLong(text[start:loc[0]+1], max)...)
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, splitLong(text[start:], max)...)
	}
	return out
}

func splitLong(s string, max int) []string {
	var out []string
	for len(s) > max {
		head := cut(s, max)
		if head == "" {
			_, n := utf8.DecodeRuneInString(s)
			head = s[:n]
		}
		if i := strings.LastIndexAny(head, " \n\t"); i > max/2 {
			head = s[:i]
		}
		out = append(out, head)
		s = strings.TrimLeft(s[len(head):], " \n\t")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// sizePieces packs the sentences of text. All pieces share suffix; their
// ids differ by content hash.
func sizePieces(text string, o Options, suffix string) []piece {
	var out []piece
	cur := ""
	for _, s := range sentences(text, o.Size) {
		if cur != "" && len(cur)+len(s) > o.Size {
			out = append(out, piece{cur, suffix})
			cur = tail(cur, o.Overlap) + s
			continue
		}
		if cur == "" {
			cur = s
		} else {
			cur += " " + s
		}
	}
	if cur != "" && len(cur) >= o.MinSize {
		out = append(out, piece{cur, suffix})
	}
	return out
}
