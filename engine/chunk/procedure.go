package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// Procedure keeps numbered steps together. Content without steps is packed
// by section headings, then by size. Every chunk is prefixed with the
// document title.
type Procedure struct{}

func (Procedure) Name() string { return "procedure" }

var (
	stepRe        = regexp.MustCompile(`(?m)^[ \t]*\d+[.)][ \t]`)
	sectionHeadRe = regexp.MustCompile(`(?m)^(?:[A-Z][A-Z \t]+:|#+ )`)
)

func (Procedure) Chunk(d domain.Document, o Options) []domain.Chunk {
	var pieces []piece
	if stepRe.MatchString(d.Content) {
		pieces = procedurePieces(splitAt(d.Content, stepRe), o)
	} else {
		pieces = sectionPieces(splitAt(d.Content, sectionHeadRe), o)
	}
	if len(pieces) == 0 {
		pieces = sizePieces(d.Content, o, "")
	}

	var bounded []piece
	for _, p := range pieces {
		if len(p.text) > o.Size {
			bounded = append(bounded, sizePieces(p.text, o, p.suffix)...)
			continue
		}
		bounded = append(bounded, p)
	}
	if d.Title != "" {
		for i, p := range bounded {
			if !strings.Contains(p.text, d.Title) {
				bounded[i].text = d.Title + "\n\n" + p.text
			}
		}
	}
	return emit(d, bounded)
}

// splitAt cuts text before every match of re. Text ahead of the first match
// stays attached to the first part.
func splitAt(text string, re *regexp.Regexp) []string {
	var parts []string
	prev := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if strings.TrimSpace(text[prev:loc[0]]) == "" {
			continue
		}
		parts = append(parts, text[prev:loc[0]])
		prev = loc[0]
	}
	return append(parts, text[prev:])
}

// procedurePieces groups steps until the next one would overflow. A final
// group below the minimum size is dropped.
func procedurePieces(steps []string, o Options) []piece {
	var out []piece
	cur, first := "", 1
	for i, s := range steps {
		if cur != "" && len(cur)+len(s) > o.Size {
			out = append(out, piece{cur, fmt.Sprintf("_steps_%d-%d", first, i)})
			cur, first = s, i+1
			continue
		}
		cur += s
	}
	if strings.TrimSpace(cur) != "" && len(cur) >= o.MinSize {
		out = append(out, piece{cur, fmt.Sprintf("_steps_%d-%d", first, len(steps))})
	}
	return out
}

// sectionPieces packs heading-delimited sections up to the target size.
func sectionPieces(sections []string, o Options) []piece {
	var out []piece
	cur := ""
	for _, s := range sections {
		s = strings.TrimRight(s, "\n")
		if cur != "" && len(cur)+len(s) > o.Size {
			out = append(out, piece{cur, ""})
			cur = s
			continue
		}
		if cur == "" {
			cur = s
		} else {
			cur += "\n" + s
		}
	}
	if cur != "" && len(cur) >= o.MinSize {
		out = append(out, piece{cur, ""})
	}
	return out
}
