package builtin

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
)

// HTMLClean coerces an HTML RAW_TEXT body into readable plain text. It is a
// standalone handler: API_JOB and INTEGRATED_API do not call it, and
// Register does not bind it to any node type. With a "selector" config field it
// instead extracts one element's text via goquery; without one it runs
// go-readability's full-page extraction, keeping only title/text content.
var HTMLClean = handler.Func(func(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	env, ok := in.First(diagram.HandleDefault)
	if !ok {
		return nil, fmt.Errorf("html_clean %s: no inbound input", hctx.Node.ID)
	}
	html, err := env.AsText()
	if err != nil {
		return nil, fmt.Errorf("html_clean %s: %w", hctx.Node.ID, err)
	}

	if selector := cfg.StringDefault("selector", ""); selector != "" {
		text, err := extractBySelector(html, selector)
		if err != nil {
			return nil, fmt.Errorf("html_clean %s: %w", hctx.Node.ID, err)
		}
		out := envelope.New(text, envelope.RawText, hctx.Node.ID)
		return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
	}

	pageURL := cfg.StringDefault("url", "about:blank")
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("html_clean %s: invalid url %q: %w", hctx.Node.ID, pageURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return nil, fmt.Errorf("html_clean %s: readability: %w", hctx.Node.ID, err)
	}

	out := envelope.New(map[string]any{
		"title": article.Title,
		"text":  article.TextContent,
	}, envelope.Object, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
})

func extractBySelector(html, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("selector %q matched no elements", selector)
	}
	return strings.TrimSpace(sel.Text()), nil
}
