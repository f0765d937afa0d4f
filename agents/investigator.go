package agents

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rxtrust/rxtrust-api/search"
	"github.com/rxtrust/rxtrust-api/types"
)

// RegistryMatcher looks up a batch in the known NSQ registry.
type RegistryMatcher interface {
	FindExactMatch(batchNumber, manufacturer string) *types.RegistryRecord
}

// Investigator gathers evidence for a request: the waterfall search and the
// registry lookup are independent and run concurrently.
type Investigator struct {
	searcher search.Searcher
	registry RegistryMatcher
}

func NewInvestigator(searcher search.Searcher, registry RegistryMatcher) *Investigator {
	return &Investigator{searcher: searcher, registry: registry}
}

func (i *Investigator) Run(ctx context.Context, req types.AuditRequest) (types.InvestigationResult, error) {
	var (
		links []types.EvidenceLink
		match *types.RegistryRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		links, err = i.searcher.WaterfallSearch(gctx, req.ProductName, req.BatchNumber, req.Manufacturer)
		if err != nil {
			return fmt.Errorf("waterfall search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		match = i.registry.FindExactMatch(req.BatchNumber, req.Manufacturer)
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.InvestigationResult{}, err
	}

	return types.InvestigationResult{
		SearchQuery:       fmt.Sprintf("%s + %s + Recall", req.ProductName, req.BatchNumber),
		Results:           links,
		JurisdictionChain: i.searcher.Jurisdictions(),
		NSQMatch:          match,
	}, nil
}
