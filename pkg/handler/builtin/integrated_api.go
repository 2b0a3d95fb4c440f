package builtin

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
)

// IntegratedAPIProvider implements one named third-party integration.
// IntegratedAPI dispatches to whichever provider its node's "provider"
// config field names, grounded on the teacher's family of dedicated
// builtin executors (rss_parser.go, telegram_*.go, google_drive.go) —
// generalized into a single node type with a pluggable provider registry
// rather than one Go type per integration.
type IntegratedAPIProvider interface {
	Execute(ctx context.Context, cfg handler.Config, in resolve.Input) (map[string]any, error)
}

// IntegratedAPI dispatches to a registered IntegratedAPIProvider. DiPeO
// ships one concrete provider, "rss" (feed fetch + parse, no credentials
// required); Telegram and Google Drive need bot tokens/OAuth the teacher
// wires through its resource system, which DiPeO's handler.Config has no
// equivalent for — a diagram author registers those via RegisterProvider
// once the host application supplies credentials.
type IntegratedAPI struct {
	providers map[string]IntegratedAPIProvider
}

// NewIntegratedAPI builds an IntegratedAPI pre-registered with the "rss"
// provider.
func NewIntegratedAPI() *IntegratedAPI {
	h := &IntegratedAPI{providers: make(map[string]IntegratedAPIProvider)}
	h.RegisterProvider("rss", rssProvider{client: &http.Client{Timeout: 30 * time.Second}})
	return h
}

// RegisterProvider binds a provider name to its implementation.
func (h *IntegratedAPI) RegisterProvider(name string, p IntegratedAPIProvider) {
	h.providers[name] = p
}

func (h *IntegratedAPI) Execute(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	name, err := cfg.String("provider")
	if err != nil {
		return nil, err
	}
	p, ok := h.providers[name]
	if !ok {
		return nil, fmt.Errorf("integrated_api %s: no provider registered for %q", hctx.Node.ID, name)
	}

	result, err := p.Execute(ctx, cfg, in)
	if err != nil {
		return nil, fmt.Errorf("integrated_api %s: %s: %w", hctx.Node.ID, name, err)
	}

	out := envelope.New(result, envelope.Object, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
}

// rssProvider fetches and parses an RSS or Atom feed, grounded on the
// teacher's RSSParserExecutor.
type rssProvider struct {
	client *http.Client
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Updated string `xml:"updated"`
}

func (p rssProvider) Execute(ctx context.Context, cfg handler.Config, in resolve.Input) (map[string]any, error) {
	url, err := cfg.String("url")
	if err != nil {
		return nil, err
	}
	maxItems := cfg.IntDefault("max_items", 0)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "dipeo-rss/1.0")
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, application/atom+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %d %s", resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && rss.Channel.Title != "" {
		return buildRSSOutput(rss, maxItems), nil
	}
	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && atom.Title != "" {
		return buildAtomOutput(atom, maxItems), nil
	}
	return nil, fmt.Errorf("not a valid RSS or Atom feed")
}

func buildRSSOutput(rss rssFeed, maxItems int) map[string]any {
	limit := len(rss.Channel.Items)
	if maxItems > 0 && maxItems < limit {
		limit = maxItems
	}
	items := make([]map[string]any, 0, limit)
	for i := 0; i < limit; i++ {
		it := rss.Channel.Items[i]
		items = append(items, map[string]any{
			"title": it.Title, "link": it.Link, "description": it.Description, "pub_date": it.PubDate,
		})
	}
	return map[string]any{
		"title": rss.Channel.Title, "link": rss.Channel.Link, "description": rss.Channel.Description,
		"items": items, "item_count": len(items), "feed_type": "rss",
	}
}

func buildAtomOutput(atom atomFeed, maxItems int) map[string]any {
	limit := len(atom.Entries)
	if maxItems > 0 && maxItems < limit {
		limit = maxItems
	}
	items := make([]map[string]any, 0, limit)
	for i := 0; i < limit; i++ {
		e := atom.Entries[i]
		items = append(items, map[string]any{
			"title": e.Title, "summary": e.Summary, "updated": e.Updated,
		})
	}
	return map[string]any{
		"title": atom.Title, "items": items, "item_count": len(items), "feed_type": "atom",
	}
}
