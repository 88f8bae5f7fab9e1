package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// boilerplateSelectors match chrome that never carries article prose.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "template",
	"nav", "header", "footer", "aside", "form", "iframe",
	"[role='navigation']", "[role='banner']", "[role='contentinfo']",
}

// contentSelectors are tried in order; the first non-trivial match wins.
var contentSelectors = []string{
	"article",
	"[role='main']",
	"main",
	"#article-body",
	".article-body",
	".post-content",
	"#content",
}

// ReadableText strips boilerplate from rendered HTML and returns the main
// article text with whitespace collapsed to single spaces.
func ReadableText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", eris.Wrap(err, "extract: parse html")
	}

	for _, sel := range boilerplateSelectors {
		doc.Find(sel).Remove()
	}

	for _, sel := range contentSelectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if text := collapse(node.Text()); text != "" {
				return text, nil
			}
		}
	}

	// No recognizable content container; fall back to the whole body.
	return collapse(doc.Find("body").Text()), nil
}

// CountWords reports whitespace-delimited word count.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
