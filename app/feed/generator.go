package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"time"

	"github.com/lysyi3m/trustfetch/app/item"
)

type Generator struct {
	now func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Run renders items, newest first as given, as an RSS 2.0 document.
func (g *Generator) Run(channel Channel, items []item.NormalizedItem) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", cmp.Or(channel.Title, "trustfetch"), 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, "Merged agent ecosystem updates"), 4)

	if channel.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfLink)))
	}

	lastBuildDate := g.now()
	if len(items) > 0 && !items[0].PublishedAt.IsZero() {
		lastBuildDate = items[0].PublishedAt
	}
	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("trustfetch/%s", cmp.Or(channel.Version, "unknown")), 4)

	for _, it := range items {
		g.writeItem(&buf, it)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, it item.NormalizedItem) {
	buf.WriteString("    <item>\n")

	if it.ID != "" {
		buf.WriteString("      <guid isPermaLink=\"false\">")
		xml.EscapeText(buf, []byte(it.ID))
		buf.WriteString("</guid>\n")
	}

	g.writeElement(buf, "title", it.Title, 6)
	g.writeElement(buf, "link", it.SourceURL, 6)
	g.writeElement(buf, "description", cmp.Or(it.Summary, "No description available"), 6)
	g.writeElement(buf, "pubDate", it.PublishedAt.Format(time.RFC1123Z), 6)

	for _, tag := range it.Tags {
		g.writeElement(buf, "category", tag, 6)
	}

	if it.SourceName != "" {
		g.writeElement(buf, "category", "source:"+it.SourceName, 6)
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
