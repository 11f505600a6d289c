package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lamosty/aharadar-go/internal/storage"
	"github.com/lamosty/aharadar-go/internal/urlcanon"
)

// rssFeed and rssItem mirror the teacher's RSS/Channel/RSSItem XML
// structs in internal/feeds/feeds.go; atomFeed/atomEntry mirror its
// Atom/AtomEntry structs.
type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
	Author      string `xml:"author"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Link      []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// rssRawItem is the raw any value RSSConnector.Fetch hands back per
// entry; Normalize type-asserts it.
type rssRawItem struct {
	externalID  string
	url         string
	title       string
	body        string
	author      string
	publishedAt time.Time
}

// RSSConnector fetches and parses RSS/Atom feeds over HTTP, with
// conditional-GET caching via Last-Modified/ETag cursor fields.
type RSSConnector struct {
	client *http.Client
}

// NewRSSConnector returns an RSS/Atom connector with a bounded HTTP
// client timeout, matching the teacher's FeedManager.
func NewRSSConnector() *RSSConnector {
	return &RSSConnector{client: &http.Client{Timeout: 30 * time.Second}}
}

func (c *RSSConnector) Type() string { return "rss" }

func (c *RSSConnector) Fetch(ctx context.Context, params FetchParams) (FetchResult, error) {
	feedURL, _ := params.Config["url"].(string)
	if feedURL == "" {
		return FetchResult{}, fmt.Errorf("rss source missing config.url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build request: %w", err)
	}
	if etag, _ := params.Cursor["etag"].(string); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified, _ := params.Cursor["last_modified"].(string); lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}
	req.Header.Set("User-Agent", "aharadar/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{NotModified: true, NextCursor: params.Cursor}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("feed %s returned status %d", feedURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read feed body: %w", err)
	}

	items, err := parseFeed(body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	raw := make([]any, 0, len(items))
	for _, item := range items {
		if params.MaxItems > 0 && len(raw) >= params.MaxItems {
			break
		}
		if !item.publishedAt.IsZero() && (item.publishedAt.Before(params.WindowStart) || !item.publishedAt.Before(params.WindowEnd)) {
			continue
		}
		raw = append(raw, item)
	}

	cursor := map[string]any{
		"etag":          resp.Header.Get("ETag"),
		"last_modified": resp.Header.Get("Last-Modified"),
	}
	return FetchResult{RawItems: raw, NextCursor: cursor}, nil
}

func (c *RSSConnector) Normalize(_ context.Context, raw any, _ FetchParams) (storage.ContentItemDraft, error) {
	item, ok := raw.(rssRawItem)
	if !ok {
		return storage.ContentItemDraft{}, fmt.Errorf("rss normalize: unexpected raw type %T", raw)
	}

	var canonicalURL *string
	if item.url != "" {
		canon := urlcanon.Canonicalize(item.url)
		canonicalURL = &canon
	}
	var externalID *string
	if item.externalID != "" {
		externalID = &item.externalID
	}

	return storage.ContentItemDraft{
		SourceType:   "rss",
		ExternalID:   externalID,
		CanonicalURL: canonicalURL,
		Title:        item.title,
		BodyText:     item.body,
		Author:       item.author,
		PublishedAt:  item.publishedAt,
		Metadata:     map[string]any{},
		Raw:          map[string]any{"link": item.url},
	}, nil
}

// parseFeed tries RSS first, then Atom, mirroring the teacher's
// parseResponse fallback.
func parseFeed(body []byte) ([]rssRawItem, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && rss.Channel.Title != "" {
		items := make([]rssRawItem, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			items = append(items, rssRawItem{
				externalID:  firstNonEmpty(it.GUID, it.Link, syntheticGUID(it.Title, it.Link)),
				url:         it.Link,
				title:       it.Title,
				body:        it.Description,
				author:      it.Author,
				publishedAt: parseRSSDate(it.PubDate),
			})
		}
		return items, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && atom.Title != "" {
		items := make([]rssRawItem, 0, len(atom.Entries))
		for _, entry := range atom.Entries {
			link := atomAlternateLink(entry.Link)
			published := entry.Published
			if published == "" {
				published = entry.Updated
			}
			items = append(items, rssRawItem{
				externalID:  firstNonEmpty(entry.ID, link, syntheticGUID(entry.Title, link)),
				url:         link,
				title:       entry.Title,
				body:        entry.Summary,
				author:      entry.Author.Name,
				publishedAt: parseAtomDate(published),
			})
		}
		return items, nil
	}

	return nil, fmt.Errorf("unable to parse as RSS or Atom")
}

func atomAlternateLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func syntheticGUID(title, link string) string {
	sum := sha256.Sum256([]byte(title + "|" + link))
	return hex.EncodeToString(sum[:])
}

// parseRSSDate tries the RSS date formats the teacher's FeedManager
// supports.
func parseRSSDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	formats := []string{
		time.RFC1123,
		time.RFC1123Z,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, strings.TrimSpace(s)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseAtomDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
		return t.UTC()
	}
	return parseRSSDate(s)
}
