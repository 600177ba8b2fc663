package feedsrc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmcdole/gofeed"
)

func TestPickEnclosure(t *testing.T) {
	cases := []struct {
		name       string
		enclosures []*gofeed.Enclosure
		wantURL    string
		wantMime   string
	}{
		{
			name: "audio",
			enclosures: []*gofeed.Enclosure{
				{URL: "http://x/a.mp3", Type: "audio/mpeg"},
			},
			wantURL:  "http://x/a.mp3",
			wantMime: "audio/mpeg",
		},
		{
			name: "video",
			enclosures: []*gofeed.Enclosure{
				{URL: "http://x/a.mp4", Type: "video/mp4"},
			},
			wantURL:  "http://x/a.mp4",
			wantMime: "video/mp4",
		},
		{
			name: "skips images",
			enclosures: []*gofeed.Enclosure{
				{URL: "http://x/cover.jpg", Type: "image/jpeg"},
				{URL: "http://x/a.mp3", Type: "audio/mpeg"},
			},
			wantURL:  "http://x/a.mp3",
			wantMime: "audio/mpeg",
		},
		{
			name: "untyped enclosure accepted",
			enclosures: []*gofeed.Enclosure{
				{URL: "http://x/a.bin", Type: ""},
			},
			wantURL: "http://x/a.bin",
		},
		{
			name: "skips blank url",
			enclosures: []*gofeed.Enclosure{
				{URL: "  ", Type: "audio/mpeg"},
			},
		},
		{name: "none"},
	}
	for _, tc := range cases {
		url, mime := pickEnclosure(&gofeed.Item{Enclosures: tc.enclosures})
		if url != tc.wantURL || mime != tc.wantMime {
			t.Errorf("%s: pickEnclosure = (%q, %q), want (%q, %q)", tc.name, url, mime, tc.wantURL, tc.wantMime)
		}
	}
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Cast</title>
    <item>
      <title>Episode 2</title>
      <pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate>
      <enclosure url="http://example.com/ep2.mp3" type="audio/mpeg" length="1"/>
    </item>
    <item>
      <title>Episode 1</title>
      <pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
      <enclosure url="http://example.com/ep1.mp3" type="audio/mpeg" length="1"/>
    </item>
  </channel>
</rss>`

func TestLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, testFeed)
	}))
	defer server.Close()

	item, err := NewResolver().Latest(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if item.Title != "Episode 2" {
		t.Errorf("Title = %q, want newest entry", item.Title)
	}
	if item.URL != "http://example.com/ep2.mp3" || item.MimeType != "audio/mpeg" {
		t.Errorf("item = %+v", item)
	}
	if item.Published.IsZero() {
		t.Error("Published should be parsed")
	}
}

func TestLatestNoEnclosures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>X</title><item><title>A</title></item></channel></rss>`)
	}))
	defer server.Close()

	if _, err := NewResolver().Latest(context.Background(), server.URL); err == nil {
		t.Fatal("feed without enclosures should fail")
	}
}

func TestLatestBadFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "not a feed")
	}))
	defer server.Close()

	if _, err := NewResolver().Latest(context.Background(), server.URL); err == nil {
		t.Fatal("unparsable feed should fail")
	}
}
