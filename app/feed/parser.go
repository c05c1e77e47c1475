package feed

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses RSS, Atom or JSON Feed bytes.
func (p *Parser) Run(data []byte) (*Metadata, []Entry, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title: strings.TrimSpace(feed.Title),
		Link:  strings.TrimSpace(feed.Link),
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, p.normalizeItem(item))
	}

	return metadata, entries, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Entry {
	entry := Entry{
		GUID:        strings.TrimSpace(item.GUID),
		Title:       item.Title,
		Link:        p.entryLink(item),
		Description: item.Description,
		Content:     item.Content,
		Categories:  item.Categories,
		Authors:     p.extractAuthors(item),
	}

	// Atom feeds commonly carry only <updated>.
	if item.PublishedParsed != nil {
		entry.PublishedAt = item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		entry.PublishedAt = item.UpdatedParsed
	}

	return entry
}

func (p *Parser) entryLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, link := range item.Links {
		if link = strings.TrimSpace(link); link != "" {
			return link
		}
	}
	return ""
}

func (p *Parser) extractAuthors(item *gofeed.Item) []string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				if name := p.authorName(author); name != "" {
					authors = append(authors, name)
				}
			}
		}
	} else if item.Author != nil {
		if name := p.authorName(item.Author); name != "" {
			authors = append(authors, name)
		}
	}

	return authors
}

// authorName keeps the display name; addresses never reach summaries.
func (p *Parser) authorName(person *gofeed.Person) string {
	return strings.Join(strings.Fields(person.Name), " ")
}
