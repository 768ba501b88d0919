package extract

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/ledongthuc/pdf"

	"meldung/internal/util"
)

type bodyFormat string

const (
	formatHTML  bodyFormat = "html"
	formatEML   bodyFormat = "eml"
	formatMSG   bodyFormat = "msg"
	formatPDF   bodyFormat = "pdf"
	formatPlain bodyFormat = "plain"
)

var (
	reTextPlainPart = regexp.MustCompile(`(?i)content-type:\s*text/plain`)
	reTextHTMLPart  = regexp.MustCompile(`(?i)content-type:\s*text/html`)
	reContentType   = regexp.MustCompile(`(?i)content-type`)
	reBlankLine     = regexp.MustCompile(`\r?\n\r?\n`)
)

// ExtractPlainText turns a raw email export into text suitable for pattern
// scanning. It never fails: anything it cannot interpret is returned as is.
func ExtractPlainText(content, filename string) string {
	switch detectFormat(content, filename) {
	case formatHTML:
		return htmlToText(content)
	case formatEML:
		return emlToText(content)
	case formatMSG:
		return msgToText(content)
	case formatPDF:
		return pdfToText(content)
	default:
		return content
	}
}

func detectFormat(content, filename string) bodyFormat {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "html" || ext == "htm" || strings.Contains(content, "<!DOCTYPE html>") || strings.Contains(content, "<html") {
		return formatHTML
	}
	switch ext {
	case "eml":
		return formatEML
	case "msg":
		return formatMSG
	case "pdf":
		return formatPDF
	default:
		return formatPlain
	}
}

func htmlToText(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return util.CollapseSpaces(content)
	}
	doc.Find("script,style").Remove()
	return util.CollapseSpaces(doc.Text())
}

func emlToText(content string) string {
	if body, ok := mimePartBody(content, reTextPlainPart); ok {
		return body
	}
	if body, ok := mimePartBody(content, reTextHTMLPart); ok {
		return htmlToText(body)
	}
	if body, ok := afterBlankLine(content); ok {
		return strings.TrimSpace(body)
	}
	return content
}

// mimePartBody finds the first part announced by header and returns the text
// after its header block. The part ends at the next Content-Type header.
func mimePartBody(content string, header *regexp.Regexp) (string, bool) {
	loc := header.FindStringIndex(content)
	if loc == nil {
		return "", false
	}
	part := content[loc[0]:]
	if next := reContentType.FindStringIndex(part[loc[1]-loc[0]:]); next != nil {
		part = part[:loc[1]-loc[0]+next[0]]
	}
	body, ok := afterBlankLine(part)
	if !ok {
		return "", false
	}
	body = strings.TrimSpace(stripBoundaryTail(body))
	if body == "" {
		return "", false
	}
	return body, true
}

// stripBoundaryTail drops trailing "--boundary" marker lines left over from
// cutting a multipart body at the next part header.
func stripBoundaryTail(body string) string {
	lines := strings.Split(strings.TrimRight(body, "\r\n \t"), "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last != "" && !strings.HasPrefix(last, "--") {
			break
		}
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func msgToText(content string) string {
	body, ok := afterBlankLine(content)
	if !ok {
		return content
	}
	body = strings.TrimSpace(body)
	var b strings.Builder
	b.Grow(len(body))
	for _, r := range body {
		if r == '\r' || r == '\n' || (r >= 0x20 && r <= 0x7E) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func pdfToText(content string) (text string) {
	// The PDF reader panics on some truncated cross-reference tables.
	defer func() {
		if recover() != nil {
			text = content
		}
	}()

	raw := []byte(content)
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return content
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, strings.TrimSpace(pageText))
	}
	if len(pages) == 0 {
		return content
	}
	return strings.Join(pages, "\n")
}

func afterBlankLine(content string) (string, bool) {
	loc := reBlankLine.FindStringIndex(content)
	if loc == nil {
		return "", false
	}
	return content[loc[1]:], true
}
