package extract

import (
	"strings"
	"testing"
)

func TestExtractPlainTextHTML(t *testing.T) {
	html := `<html><head><style>body{color:red}</style></head><script>alert(1)</script><body><p>Termin   am</p>
<p>01.01.2024</p></body></html>`
	got := ExtractPlainText(html, "mail.html")
	if got != "Termin am 01.01.2024" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractPlainTextHTMLNoBreakSpace(t *testing.T) {
	html := "<html><body><p>Filiale&nbsp;Heilbronn</p><p>am&nbsp;March&nbsp;3rd,&nbsp;2024&nbsp;&nbsp;</p></body></html>"
	got := ExtractPlainText(html, "mail.html")
	if got != "Filiale Heilbronn am March 3rd, 2024" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractPlainTextHTMLSniffedOverExtension(t *testing.T) {
	content := "<!DOCTYPE html><html><body>Vorfall <b>Heilbronn</b></body></html>"
	if got := ExtractPlainText(content, "export.txt"); got != "Vorfall Heilbronn" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractPlainTextEML(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "text plain part crlf",
			content: "Subject: x\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nDiebstahl in Filiale Mannheim\r\n",
			want:    "Diebstahl in Filiale Mannheim",
		},
		{
			name:    "text plain part lf",
			content: "Subject: x\nCONTENT-TYPE: TEXT/PLAIN\n\nHallo\nWelt\n",
			want:    "Hallo\nWelt",
		},
		{
			name: "multipart stops at next part",
			content: "Content-Type: multipart/alternative; boundary=b1\r\n\r\n--b1\r\n" +
				"Content-Type: text/plain\r\n\r\nErster Teil\r\n--b1\r\n" +
				"Content-Type: text/html\r\n\r\n<p>Zweiter Teil</p>\r\n--b1--\r\n",
			want: "Erster Teil",
		},
		{
			name:    "html part fallback",
			content: "Subject: y\nContent-Type: text/html\n\n<div>Vorfall <script>x()</script>am 3. März 2024</div>\n",
			want:    "Vorfall am 3. März 2024",
		},
		{
			name:    "no part headers",
			content: "From: a@example.test\r\nSubject: z\r\n\r\n  Body only  ",
			want:    "Body only",
		},
		{
			name:    "no blank line",
			content: "just one header line",
			want:    "just one header line",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractPlainText(tc.content, "incident.EML"); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestExtractPlainTextMSG(t *testing.T) {
	content := "\x00\x01header\r\n\r\nVorfall \x00am\x7f 9.24\r\nStore_ä"
	got := ExtractPlainText(content, "report.msg")
	if got != "Vorfall am 9.24\r\nStore_" {
		t.Fatalf("got %q", got)
	}
	if got := ExtractPlainText("no separator", "report.msg"); got != "no separator" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractPlainTextPlainUnchanged(t *testing.T) {
	content := "  Vorfall\n am 01.02.2024  "
	for _, name := range []string{"note.txt", "README", ""} {
		if got := ExtractPlainText(content, name); got != content {
			t.Fatalf("%s: got %q", name, got)
		}
	}
}

func TestExtractPlainTextBrokenPDF(t *testing.T) {
	content := "%PDF-1.4 truncated"
	if got := ExtractPlainText(content, "scan.pdf"); got != content {
		t.Fatalf("got %q", got)
	}
}

func TestStripBoundaryTail(t *testing.T) {
	got := stripBoundaryTail("Text\nmore\n--abc\n\n--abc--\n")
	if strings.Contains(got, "--") || got != "Text\nmore" {
		t.Fatalf("got %q", got)
	}
}
