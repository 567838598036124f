// Package document renders contract text into a minimal PDF and maintains
// the signature blocks and content hashes stored alongside it.
package document

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Layout: US Letter, 10pt Courier, 12pt leading, 72pt margins. Courier
// glyphs are 6pt wide at 10pt, so 78 columns (468pt) fill the text width.
const (
	WrapColumns  = 78
	LinesPerPage = 54

	pageWidth  = 612
	pageHeight = 792
	marginLeft = 72
	marginTop  = 72
	fontSize   = 10
	leading    = 12
	tabWidth   = 4
)

// Render word-wraps text, paginates it and writes a PDF 1.4 file. The output
// depends only on the input bytes.
func Render(text string) []byte {
	return writePDF(Paginate(Wrap(text, WrapColumns), LinesPerPage))
}

// Wrap splits text into lines no wider than width runes. Paragraph breaks
// are preserved; words longer than width are hard-split.
func Wrap(text string, width int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\t", strings.Repeat(" ", tabWidth))

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		var cur strings.Builder
		curLen := 0
		flush := func() {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
		for _, w := range words {
			for utf8.RuneCountInString(w) > width {
				if curLen > 0 {
					flush()
				}
				r := []rune(w)
				lines = append(lines, string(r[:width]))
				w = string(r[width:])
			}
			wl := utf8.RuneCountInString(w)
			if wl == 0 {
				continue
			}
			if curLen > 0 && curLen+1+wl > width {
				flush()
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(w)
			curLen += wl
		}
		if curLen > 0 {
			flush()
		}
	}
	// Drop the empty line produced by a trailing newline.
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// Paginate groups lines into pages of at most perPage lines. There is
// always at least one page.
func Paginate(lines []string, perPage int) [][]string {
	if len(lines) == 0 {
		return [][]string{{}}
	}
	var pages [][]string
	for len(lines) > perPage {
		pages = append(pages, lines[:perPage])
		lines = lines[perPage:]
	}
	return append(pages, lines)
}

// EscapeText escapes a string for use inside a PDF literal string. Runes
// outside Latin-1 become '?', control characters become spaces and
// non-ASCII Latin-1 is written as octal escapes.
func EscapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '(':
			b.WriteString(`\(`)
		case r == ')':
			b.WriteString(`\)`)
		case r < 0x20 || r == 0x7f:
			b.WriteByte(' ')
		case r < 0x80:
			b.WriteRune(r)
		case r >= 0xa0 && r <= 0xff:
			fmt.Fprintf(&b, `\%03o`, r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

func contentStream(lines []string, pageNo, pageCount int) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "BT\n/F1 %d Tf\n%d TL\n%d %d Td\n", fontSize, leading, marginLeft, pageHeight-marginTop)
	for _, l := range lines {
		fmt.Fprintf(&b, "(%s) Tj T*\n", EscapeText(l))
	}
	b.WriteString("ET\n")
	fmt.Fprintf(&b, "BT\n/F1 8 Tf\n%d %d Td\n(Page %d of %d) Tj\nET\n", marginLeft, marginTop/2, pageNo, pageCount)
	return b.Bytes()
}

// writePDF lays objects out as:
//
//	1 catalog, 2 page tree, 3 font, then (page, content) pairs from 4.
func writePDF(pages [][]string) []byte {
	var buf bytes.Buffer
	var offsets []int

	begin := func() int {
		offsets = append(offsets, buf.Len())
		id := len(offsets)
		fmt.Fprintf(&buf, "%d 0 obj\n", id)
		return id
	}
	end := func() { buf.WriteString("endobj\n") }

	// The binary comment marks the file as binary for transfer tools.
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	begin()
	buf.WriteString("<< /Type /Catalog /Pages 2 0 R >>\n")
	end()

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	begin()
	fmt.Fprintf(&buf, "<< /Type /Pages /Kids [%s] /Count %d >>\n", strings.Join(kids, " "), len(pages))
	end()

	begin()
	buf.WriteString("<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding >>\n")
	end()

	for i, lines := range pages {
		pageID := begin()
		fmt.Fprintf(&buf, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>\n",
			pageWidth, pageHeight, pageID+1)
		end()

		stream := contentStream(lines, i+1, len(pages))
		begin()
		fmt.Fprintf(&buf, "<< /Length %d >>\nstream\n", len(stream))
		buf.Write(stream)
		buf.WriteString("endstream\n")
		end()
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	// Each entry is exactly 20 bytes including the two-byte EOL.
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
