package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rxtrust/rxtrust-api/types"
)

// Searcher produces evidence links for a product batch. The waterfall stub
// below is the local implementation; a real regulatory search client can be
// swapped in without changing the audit pipeline.
type Searcher interface {
	WaterfallSearch(ctx context.Context, productName, batchNumber, manufacturer string) ([]types.EvidenceLink, error)
	Jurisdictions() []string
}

// Portal is one jurisdiction queried by the waterfall, in priority order.
type Portal struct {
	Source  string
	BaseURL string
}

// DefaultPortals lists the jurisdictions in the order they are queried.
var DefaultPortals = []Portal{
	{Source: "CDSCO", BaseURL: "https://cdsco.gov.in"},
	{Source: "FDA", BaseURL: "https://www.fda.gov"},
	{Source: "Health Canada", BaseURL: "https://recalls-rappels.canada.ca"},
}

// StubClient builds deterministic deep links into each portal's search page.
// It performs no network I/O.
type StubClient struct {
	portals []Portal
	now     func() time.Time
}

// NewStubClient returns a StubClient over DefaultPortals.
func NewStubClient() *StubClient {
	return &StubClient{
		portals: DefaultPortals,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the retrieval timestamp source.
func (c *StubClient) WithClock(now func() time.Time) *StubClient {
	c.now = now
	return c
}

func (c *StubClient) Jurisdictions() []string {
	out := make([]string, 0, len(c.portals))
	for _, p := range c.portals {
		out = append(out, p.Source)
	}
	return out
}

// WaterfallSearch returns one link per portal. Every portal is included; the
// waterfall never short-circuits on the first source.
func (c *StubClient) WaterfallSearch(ctx context.Context, productName, batchNumber, manufacturer string) ([]types.EvidenceLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("%s %s %s recall NSQ", productName, batchNumber, manufacturer)
	retrievedAt := c.now()

	links := make([]types.EvidenceLink, 0, len(c.portals))
	for _, portal := range c.portals {
		fragment := batchNumber
		links = append(links, types.EvidenceLink{
			Source:              portal.Source,
			Title:               fmt.Sprintf("%s recall lookup for %s", portal.Source, productName),
			URL:                 fmt.Sprintf("%s/search?q=%s#:~:text=%s", portal.BaseURL, escape(query), escape(batchNumber)),
			HighlightedFragment: &fragment,
			RetrievedAt:         retrievedAt,
		})
	}
	return links, nil
}

// escape percent-encodes s with spaces as %20 and slashes kept literal.
func escape(s string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	return strings.ReplaceAll(escaped, "%2F", "/")
}
