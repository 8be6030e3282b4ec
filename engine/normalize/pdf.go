package normalize

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strings"
)

// pdfText is the text layer of a PDF: one entry per content stream that
// draws text, in file order.
type pdfText struct {
	pages   int
	streams []string
}

var (
	pageObjRe    = regexp.MustCompile(`/Type\s*/Page[^s]`)
	streamHeadRe = regexp.MustCompile(`stream\r?\n`)
)

// parsePDF scans raw PDF bytes for page objects and text-drawing content
// streams, inflating FlateDecode streams. Image streams are skipped.
func parsePDF(data []byte) pdfText {
	out := pdfText{pages: len(pageObjRe.FindAllIndex(data, -1))}
	rest := data
	for {
		loc := streamHeadRe.FindIndex(rest)
		if loc == nil {
			break
		}
		dict := rest[:loc[0]]
		if i := bytes.LastIndex(dict, []byte("obj")); i >= 0 {
			dict = dict[i:]
		}
		body := rest[loc[1]:]
		end := bytes.Index(body, []byte("endstream"))
		if end < 0 {
			break
		}
		raw := body[:end]
		rest = body[end+len("endstream"):]

		if bytes.Contains(dict, []byte("/Image")) || bytes.Contains(dict, []byte("/XObject")) {
			continue
		}
		if bytes.Contains(dict, []byte("/FlateDecode")) {
			r, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				continue
			}
			inflated, err := io.ReadAll(r)
			r.Close()
			if err != nil && len(inflated) == 0 {
				continue
			}
			raw = inflated
		}
		if text := textOperators(raw); text != "" {
			out.streams = append(out.streams, text)
		}
	}
	if out.pages < len(out.streams) {
		out.pages = len(out.streams)
	}
	return out
}

// page returns the text of page n (1-based).
func (p pdfText) page(n int) string {
	if n < 1 || n > len(p.streams) {
		return ""
	}
	return p.streams[n-1]
}

// textOperators collects the string operands inside BT/ET blocks. Each
// block becomes one line.
func textOperators(data []byte) string {
	var lines []string
	var cur []string
	inText := false
	for i := 0; i < len(data); i++ {
		switch {
		case !inText && isOp(data, i, "BT"):
			inText = true
			cur = cur[:0]
			i++
		case inText && isOp(data, i, "ET"):
			inText = false
			if line := strings.Join(cur, " "); strings.TrimSpace(line) != "" {
				lines = append(lines, strings.TrimSpace(line))
			}
			i++
		case inText && data[i] == '(':
			s, n := literalString(data[i:])
			if s = strings.TrimSpace(s); s != "" {
				cur = append(cur, s)
			}
			i += n - 1
		}
	}
	return strings.Join(lines, "\n")
}

// isOp reports whether the two-letter operator op starts at i and stands
// alone.
func isOp(data []byte, i int, op string) bool {
	if i+2 > len(data) || string(data[i:i+2]) != op {
		return false
	}
	if i > 0 && isAlpha(data[i-1]) {
		return false
	}
	return i+2 == len(data) || !isAlpha(data[i+2])
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// literalString decodes a PDF literal string starting at data[0] == '('.
// It returns the text and the number of bytes consumed.
func literalString(data []byte) (string, int) {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '\\' && i+1 < len(data):
			i++
			switch e := data[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '(', ')', '\\':
				b.WriteByte(e)
			default:
				if e >= '0' && e <= '7' {
					v, j := 0, i
					for ; j < len(data) && j < i+3 && data[j] >= '0' && data[j] <= '7'; j++ {
						v = v*8 + int(data[j]-'0')
					}
					b.WriteByte(byte(v))
					i = j - 1
				}
			}
		case c == '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), len(data)
}
