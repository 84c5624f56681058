package prompts

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"deskmate/internal/logging"
	"deskmate/internal/tasks"
)

const noteExcerptRunes = 200

// NotesBlock formats notes as "- [title]: first-200-chars", HTML stripped.
func NotesBlock(notes []tasks.Note) string {
	if len(notes) == 0 {
		return ""
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		title := strings.TrimSpace(n.Title)
		if title == "" {
			title = "Untitled"
		}
		lines = append(lines, "- ["+title+"]: "+excerpt(PlainText(n.Body), noteExcerptRunes))
	}
	return "## The user's notes\n" + strings.Join(lines, "\n")
}

// PlainText flattens an HTML fragment to whitespace-normalised text. Input
// that is not HTML passes through with whitespace collapsed.
func PlainText(body string) string {
	if !strings.Contains(body, "<") {
		return strings.Join(strings.Fields(body), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		logging.DevLog("note html parse failed: %v", err)
		return strings.Join(strings.Fields(body), " ")
	}
	doc.Find("script,style").Remove()
	// keep block boundaries from gluing words together
	doc.Find("p,div,li,br,h1,h2,h3,h4,h5,h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
