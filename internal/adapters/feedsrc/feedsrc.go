// Package feedsrc resolves an RSS/Atom feed URL to a castable media
// enclosure, so a feed can be handed straight to a renderer.
package feedsrc

import (
	"context"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/castpoint/castpoint/internal/ports"
	"github.com/castpoint/castpoint/pkg/cast"
)

// Resolver fetches feeds and picks enclosures.
type Resolver struct {
	parser *gofeed.Parser
}

// NewResolver creates a feed resolver.
func NewResolver() *Resolver {
	return &Resolver{parser: gofeed.NewParser()}
}

// Latest returns the newest feed entry that carries a media enclosure.
func (r *Resolver) Latest(ctx context.Context, feedURL string) (ports.FeedItem, error) {
	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return ports.FeedItem{}, cast.WrapErr(cast.CategoryParsing, "parse feed", err)
	}
	for _, entry := range feed.Items {
		url, mime := pickEnclosure(entry)
		if url == "" {
			continue
		}
		item := ports.FeedItem{
			Title:    strings.TrimSpace(entry.Title),
			URL:      url,
			MimeType: mime,
		}
		if entry.PublishedParsed != nil {
			item.Published = *entry.PublishedParsed
		}
		return item, nil
	}
	return ports.FeedItem{}, cast.Errf(cast.CategoryInvalidParameter, "feed %s has no media enclosures", feedURL)
}

func pickEnclosure(item *gofeed.Item) (string, string) {
	for _, enc := range item.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		lower := strings.ToLower(enc.Type)
		if strings.HasPrefix(lower, "audio/") || strings.HasPrefix(lower, "video/") || lower == "" {
			return enc.URL, enc.Type
		}
	}
	return "", ""
}
