package browser

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// maxExtractLength bounds the Markdown returned by a single extract.
const maxExtractLength = 20000

// Extractor turns captured HTML into Markdown. Markup is sanitized first so
// scripts, styles and event handlers never reach the model.
type Extractor struct {
	policy    *bluemonday.Policy
	converter *converter.Converter
}

// NewExtractor builds the sanitizing policy and the Markdown converter.
func NewExtractor() *Extractor {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("main", "section", "article", "header", "footer", "nav", "aside", "label", "button")
	return &Extractor{
		policy: policy,
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown converts html captured at pageURL. Relative links are resolved
// against pageURL.
func (e *Extractor) Markdown(html, pageURL string) (string, error) {
	clean := e.policy.Sanitize(html)
	md, err := e.converter.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("failed to convert page content to markdown: %w", err)
	}
	md = strings.TrimSpace(md)
	if r := []rune(md); len(r) > maxExtractLength {
		md = string(r[:maxExtractLength]) + "\n\n[content truncated]"
	}
	return md, nil
}
