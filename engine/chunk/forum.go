package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// ForumQA keeps a thread whole when it fits. Longer threads become one
// chunk per response, each repeating the question.
type ForumQA struct{}

func (ForumQA) Name() string { return "forum-qa" }

// responseRe matches the response headers the forum normalizer writes.
var responseRe = regexp.MustCompile(`(?m)^(?:Response|Answer)(?: \(by [^)]*\))?:`)

func (ForumQA) Chunk(d domain.Document, o Options) []domain.Chunk {
	content := d.Content
	if d.Title != "" {
		content = "Topic: " + d.Title + "\n\n" + content
	}
	if len(content) <= o.Size {
		return emit(d, []piece{{content, ""}})
	}

	parts := splitAt(content, responseRe)
	if len(parts) < 2 || !responseRe.MatchString(parts[1]) {
		return emit(d, sizePieces(content, o, ""))
	}
	question := strings.TrimSpace(parts[0])
	if len(question) > o.Size/2 {
		question = strings.TrimSpace(cut(question, o.Size/2)) + "..."
	}

	out := make([]piece, 0, len(parts)-1)
	for i, resp := range parts[1:] {
		resp = strings.TrimSpace(resp)
		text := question + "\n\n" + resp
		if len(text) > o.Size {
			budget := o.Size - len(question) - 10
			text = question + "\n\n" + strings.TrimSpace(cut(resp, budget)) + "..."
		}
		out = append(out, piece{text, fmt.Sprintf("_qa_%d", i)})
	}
	return emit(d, out)
}
