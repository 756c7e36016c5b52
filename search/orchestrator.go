// Package search orchestrates provider queries: pagination, multi-provider
// fallback, product-type guessing and post-search crunches.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/interface/plugin"
	"github.com/geowatch/eogate/service"
	"github.com/geowatch/eogate/service/log"
	"golang.org/x/sync/errgroup"
)

// FallbackPolicy decides when the orchestrator moves to the next-priority
// provider.
type FallbackPolicy int

const (
	// FallbackErrorOnly falls back on provider errors; an empty page is a result.
	FallbackErrorOnly FallbackPolicy = iota
	// FallbackEmptyOnly falls back on empty pages; an error fails the search.
	FallbackEmptyOnly
	// FallbackErrorOrEmpty falls back on either.
	FallbackErrorOrEmpty
)

const (
	defaultMaxPages     = 50
	defaultGuessWorkers = 4
)

// Result is the aggregated outcome of one search.
type Result struct {
	Products []*common.Product
	// Provider that served the products (empty for multi-branch results).
	Provider string
	// Total reported by the provider, -1 when unknown.
	Total int
	// Errors of the providers tried before one succeeded, keyed by name.
	Errors map[string]error
}

// Crunch applies post-search filters in order.
func (r *Result) Crunch(crunches ...plugin.Crunch) *Result {
	for _, c := range crunches {
		r.Products = c.Proceed(r.Products)
	}
	return r
}

// Serialize writes the result products to a geojson file.
func (r *Result) Serialize(filename string) error {
	return service.Serialize(r.Products, filename)
}

// Deserialize reads products back from a geojson file into a Result.
func Deserialize(filename string) (*Result, error) {
	products, err := service.Deserialize(filename)
	if err != nil {
		return nil, err
	}
	return &Result{Products: products, Total: len(products)}, nil
}

// Orchestrator runs searches over the plugin set.
type Orchestrator struct {
	Manager *plugin.Manager
	Catalog *config.Config
	// Fallback policy, FallbackErrorOnly unless set.
	Fallback FallbackPolicy
	// MaxPages caps SearchAll when the provider does not declare its own.
	MaxPages int
	// GuessWorkers bounds the concurrent guessing queries.
	GuessWorkers int
}

// Search runs one page of the criteria. Without an explicit product type the
// type is guessed from the free-text fields. Provider candidates are tried by
// descending priority under the fallback policy; their errors aggregate in
// the result, and the search only fails when every candidate does.
func (o *Orchestrator) Search(ctx context.Context, criteria common.SearchCriteria) (*Result, error) {
	if criteria.ProductType == "" && criteria.Provider == "" {
		return o.Guess(ctx, criteria)
	}

	candidates := o.candidates(criteria)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("Search: no provider supports product type %q", criteria.ProductType)
	}

	result := &Result{Total: -1, Errors: map[string]error{}}
	var empty *Result
	for _, candidate := range candidates {
		page, err := candidate.Query(ctx, criteria)
		if err != nil {
			result.Errors[candidate.Provider()] = err
			if o.Fallback == FallbackEmptyOnly {
				return nil, fmt.Errorf("Search[%s].%w", candidate.Provider(), err)
			}
			log.Logger(ctx).Sugar().Warnf("search %s failed, trying next provider: %v", candidate.Provider(), err)
			continue
		}
		if len(page.Products) == 0 && (o.Fallback == FallbackEmptyOnly || o.Fallback == FallbackErrorOrEmpty) {
			if empty == nil {
				empty = &Result{Provider: candidate.Provider(), Total: page.Total, Errors: result.Errors}
			}
			log.Logger(ctx).Sugar().Debugf("search %s returned no result, trying next provider", candidate.Provider())
			continue
		}
		result.Products = page.Products
		result.Provider = candidate.Provider()
		result.Total = page.Total
		return result, nil
	}

	// every candidate failed or came back empty
	if empty != nil {
		return empty, nil
	}
	return nil, service.PartialFailure{Errors: result.Errors}
}

// candidates returns the plugins to try, honoring the provider override.
func (o *Orchestrator) candidates(criteria common.SearchCriteria) []plugin.Search {
	plugins := o.Manager.GetSearchPlugins(criteria.ProductType)
	if criteria.Provider == "" {
		return plugins
	}
	for _, p := range plugins {
		if p.Provider() == criteria.Provider {
			return []plugin.Search{p}
		}
	}
	return nil
}

// Pages is the restartable lazy page sequence of one criteria. The provider
// chosen by the fallback logic on the first page serves every further page.
type Pages struct {
	orchestrator *Orchestrator
	criteria     common.SearchCriteria
	// pinned is the provider requested by the caller. Restart restores it,
	// dropping only the provider adopted from the first page.
	pinned  string
	page    int
	total   int
	fetched int
	done    bool
}

// Pages starts a page sequence.
func (o *Orchestrator) Pages(criteria common.SearchCriteria) *Pages {
	return &Pages{orchestrator: o, criteria: criteria, pinned: criteria.Provider, total: -1}
}

// Restart rewinds the sequence to the first page.
func (p *Pages) Restart() {
	p.page, p.total, p.fetched, p.done = 0, -1, 0, false
	p.criteria.Provider = p.pinned
}

// Next returns the next page, or nil when the sequence is exhausted (empty
// page or reported total reached).
func (p *Pages) Next(ctx context.Context) (*Result, error) {
	if p.done {
		return nil, nil
	}
	result, err := p.orchestrator.Search(ctx, p.criteria.WithPage(p.page))
	if err != nil {
		return nil, fmt.Errorf("Next[page %d].%w", p.page, err)
	}
	// stick to the provider that served the first page
	p.criteria.Provider = result.Provider
	p.page++
	p.fetched += len(result.Products)
	if result.Total >= 0 {
		p.total = result.Total
	}
	if len(result.Products) == 0 || (p.total >= 0 && p.fetched >= p.total) {
		p.done = true
	}
	if len(result.Products) == 0 && p.page > 1 {
		// trailing empty page of an unreliable-count provider
		return nil, nil
	}
	return result, nil
}

// SearchAll fetches every page of the criteria until an empty page or the
// reported total, capped by the provider's max_pages (or MaxPages) to bound
// runaway pagination.
func (o *Orchestrator) SearchAll(ctx context.Context, criteria common.SearchCriteria) (*Result, error) {
	maxPages := o.maxPages(criteria.Provider)
	pages := o.Pages(criteria)
	all := &Result{Total: -1, Errors: map[string]error{}}
	for i := 0; i < maxPages; i++ {
		result, err := pages.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("SearchAll.%w", err)
		}
		if result == nil {
			break
		}
		all.Products = append(all.Products, result.Products...)
		all.Provider = result.Provider
		all.Total = result.Total
		for provider, err := range result.Errors {
			all.Errors[provider] = err
		}
		maxPages = o.maxPages(result.Provider)
	}
	return all, nil
}

func (o *Orchestrator) maxPages(provider string) int {
	if provider != "" {
		if cfg, ok := o.Manager.Provider(provider); ok && cfg.Search.MaxPages > 0 {
			return cfg.Search.MaxPages
		}
	}
	if o.MaxPages > 0 {
		return o.MaxPages
	}
	return defaultMaxPages
}

// Guess infers candidate product types from the free-text criteria and
// queries them concurrently with a bounded worker pool. Partial failures
// attach to the aggregate result instead of aborting it.
func (o *Orchestrator) Guess(ctx context.Context, criteria common.SearchCriteria) (*Result, error) {
	candidates := o.GuessProductTypes(criteria)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("Guess: no product type matches the criteria")
	}

	workers := o.GuessWorkers
	if workers <= 0 {
		workers = defaultGuessWorkers
	}

	var mu sync.Mutex
	aggregate := &Result{Total: -1, Errors: map[string]error{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, productType := range candidates {
		g.Go(func() error {
			branch := criteria
			branch.ProductType = productType
			result, err := o.Search(gctx, branch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				aggregate.Errors[productType] = err
				return nil
			}
			aggregate.Products = append(aggregate.Products, result.Products...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Guess.%w", err)
	}
	if len(aggregate.Products) == 0 && len(aggregate.Errors) == len(candidates) {
		return nil, service.PartialFailure{Errors: aggregate.Errors}
	}
	return aggregate, nil
}

// GuessProductTypes matches the free-text criteria against the product-type
// catalog. Every queried field must match (case-insensitive substring).
func (o *Orchestrator) GuessProductTypes(criteria common.SearchCriteria) []string {
	var matched []string
	for name, info := range o.Catalog.ProductTypes {
		if matchesInfo(info, criteria.FreeText) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched
}

func matchesInfo(info config.ProductTypeInfo, freeText map[string]string) bool {
	if len(freeText) == 0 {
		return false
	}
	fields := map[string]string{
		"title":           info.Title,
		"abstract":        info.Abstract,
		"platform":        info.Platform,
		"instrument":      info.Instrument,
		"processingLevel": info.ProcessingLevel,
		"sensorType":      info.SensorType,
		"keywords":        strings.Join(info.Keywords, " "),
	}
	for key, wanted := range freeText {
		haystack, ok := fields[key]
		if !ok {
			return false
		}
		if !strings.Contains(strings.ToLower(haystack), strings.ToLower(wanted)) {
			return false
		}
	}
	return true
}
