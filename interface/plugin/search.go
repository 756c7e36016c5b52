package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"path"
	"strconv"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/mapping"
	"github.com/geowatch/eogate/service"
	"github.com/geowatch/eogate/service/log"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

const searchRetries = 2

// newSearchPlugin instantiates the search strategy declared by the provider.
func newSearchPlugin(provider string, cfg config.ProviderConfig, auth Authentication, registry *mapping.Registry, mappingOf func(productType string) (*mapping.Compiled, error)) (Search, error) {
	base, err := newSearchBase(provider, cfg, auth, registry, mappingOf)
	if err != nil {
		return nil, err
	}
	switch cfg.Search.Type {
	case "", "querystring":
		return &queryStringSearch{base}, nil
	case "postjson":
		return &postJSONSearch{base}, nil
	case "stac":
		return &stacSearch{base}, nil
	}
	return nil, service.MisconfiguredError{Provider: provider, Reason: "unknown search plugin type " + cfg.Search.Type}
}

// searchBase carries what every search strategy shares: the compiled result
// paths, the page template and access to the provider mapping.
type searchBase struct {
	provider  string
	cfg       config.ProviderConfig
	auth      Authentication
	registry  *mapping.Registry
	mappingOf func(productType string) (*mapping.Compiled, error)

	results  mapping.CompiledPath
	total    mapping.CompiledPath
	pageTmpl *mapping.Template
}

func newSearchBase(provider string, cfg config.ProviderConfig, auth Authentication, registry *mapping.Registry, mappingOf func(string) (*mapping.Compiled, error)) (searchBase, error) {
	base := searchBase{provider: provider, cfg: cfg, auth: auth, registry: registry, mappingOf: mappingOf}

	dialect, err := mapping.DialectString(cfg.Search.Dialect)
	if err != nil {
		return base, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
	}
	if base.results, err = mapping.CompilePath(dialect, cfg.Search.ResultsPath); err != nil {
		return base, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
	}
	if cfg.Search.TotalPath != "" {
		if base.total, err = mapping.CompilePath(dialect, cfg.Search.TotalPath); err != nil {
			return base, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
		}
	}
	if cfg.Search.PageTemplate != "" {
		if base.pageTmpl, err = mapping.ParseTemplate(cfg.Search.PageTemplate); err != nil {
			return base, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
		}
		if err = base.pageTmpl.Check(registry); err != nil {
			return base, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
		}
	}
	return base, nil
}

func (s *searchBase) Provider() string {
	return s.provider
}

func (s *searchBase) Priority() int {
	return s.cfg.Priority
}

func (s *searchBase) SupportsProductType(productType string) bool {
	return s.cfg.SupportsProductType(productType)
}

// pageSize returns the effective page size of a request.
func (s *searchBase) pageSize(criteria common.SearchCriteria) int {
	if criteria.PageSize > 0 {
		return criteria.PageSize
	}
	if s.cfg.Search.PageSize > 0 {
		return s.cfg.Search.PageSize
	}
	return 20
}

// pageParams renders the paging parameters. criteria.Page is zero-based, the
// provider numbering starts at the configured first page.
func (s *searchBase) pageParams(criteria common.SearchCriteria) (neturl.Values, error) {
	if s.pageTmpl == nil {
		return nil, nil
	}
	rendered, err := s.pageTmpl.Build(map[string]interface{}{
		"page":     float64(s.cfg.Search.FirstPageNumber() + criteria.Page),
		"pageSize": float64(s.pageSize(criteria)),
		"offset":   float64(criteria.Page * s.pageSize(criteria)),
	}, s.registry)
	if err != nil {
		return nil, fmt.Errorf("pageParams.%w", err)
	}
	params, err := neturl.ParseQuery(rendered)
	if err != nil {
		return nil, fmt.Errorf("pageParams[%s]: %w", rendered, err)
	}
	return params, nil
}

// warnUnqueryable logs the extra criteria parameters the provider mapping has
// no query template for; BuildQuery silently skips them.
func (s *searchBase) warnUnqueryable(ctx context.Context, compiled *mapping.Compiled, criteria common.SearchCriteria) {
	if len(criteria.Extra) == 0 {
		return
	}
	queryable := service.StringSet{}
	for _, name := range compiled.QueryableFields() {
		queryable.Push(name)
	}
	for k := range criteria.Extra {
		if !queryable.Exists(k) {
			log.Logger(ctx).Sugar().Warnf("%s: parameter %s is not queryable, ignored", s.provider, k)
		}
	}
}

// queryBindings builds the canonical bindings handed to the mapping.
func queryBindings(criteria common.SearchCriteria, nativeProductType string) map[string]interface{} {
	bindings := make(map[string]interface{}, len(criteria.Extra)+4)
	for k, v := range criteria.Extra {
		bindings[k] = v
	}
	if nativeProductType != "" {
		bindings[common.PropertyProductType] = nativeProductType
	}
	if !criteria.StartTime.IsZero() {
		bindings[common.PropertyStartTime] = criteria.StartTime
	}
	if !criteria.EndTime.IsZero() {
		bindings[common.PropertyEndTime] = criteria.EndTime
	}
	if criteria.Geometry != nil {
		bindings[common.PropertyGeometry] = criteria.Geometry
	}
	return bindings
}

// do sends the request with the provider credential and bounded retries.
func (s *searchBase) do(ctx context.Context, req *http.Request) ([]byte, error) {
	credential, err := s.auth.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("do.%w", err)
	}
	credential.Apply(req)
	body, err := service.GetBodyRetryReq(req.WithContext(ctx), searchRetries)
	if err != nil {
		return nil, fmt.Errorf("do[%s]: %w", req.URL, err)
	}
	return body, nil
}

// parsePage normalizes one raw response page. Record-level mapping failures
// drop the record and keep the page.
func (s *searchBase) parsePage(ctx context.Context, compiled *mapping.Compiled, productType string, raw []byte) (*Page, error) {
	doc, err := compiled.DecodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("parsePage.%w", err)
	}

	page := &Page{Total: -1}
	if s.total != nil {
		if v, ok := s.total.First(doc); ok {
			if total, err := strconv.Atoi(fmt.Sprintf("%v", v)); err == nil {
				page.Total = total
			}
		}
	}

	for _, record := range s.results.Split(doc) {
		properties, err := compiled.ParseResult(record)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("%s: record dropped: %v", s.provider, err)
			continue
		}
		product, err := newProduct(s.provider, productType, properties)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("%s: record dropped: %v", s.provider, err)
			continue
		}
		page.Products = append(page.Products, product)
	}
	return page, nil
}

// newProduct builds the canonical product from mapped properties.
func newProduct(provider, productType string, properties map[string]interface{}) (*common.Product, error) {
	id, _ := properties[common.PropertyID].(string)
	if id == "" {
		return nil, fmt.Errorf("newProduct: record without id")
	}
	if productType == "" {
		productType, _ = properties[common.PropertyProductType].(string)
	}
	product := &common.Product{
		ID:            id,
		Provider:      provider,
		ProductType:   productType,
		Properties:    properties,
		StorageStatus: mapping.CanonicalStorageStatus(properties[common.PropertyStorageStatus]),
	}
	if g, ok := properties[common.PropertyGeometry].(geom.Geometry); ok {
		product.Geometry = g
	}
	if hrefs, ok := properties[common.PropertyAssets].([]interface{}); ok {
		for _, href := range hrefs {
			if href, ok := href.(string); ok && href != "" {
				product.Assets = append(product.Assets, common.Asset{Key: path.Base(href), Href: href})
			}
		}
	}
	return product, nil
}

// queryStringSearch sends the mapped parameters in the URL query string.
type queryStringSearch struct {
	searchBase
}

func (s *queryStringSearch) Query(ctx context.Context, criteria common.SearchCriteria) (*Page, error) {
	compiled, err := s.mappingOf(criteria.ProductType)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	s.warnUnqueryable(ctx, compiled, criteria)
	params, err := compiled.BuildQuery(queryBindings(criteria, s.cfg.NativeProductType(criteria.ProductType)))
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	pageParams, err := s.pageParams(criteria)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	for k, values := range pageParams {
		for _, v := range values {
			params.Add(k, v)
		}
	}

	req, err := http.NewRequest("GET", s.cfg.Search.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("Query.NewRequest: %w", err)
	}
	body, err := s.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	return s.parsePage(ctx, compiled, criteria.ProductType, body)
}

// postJSONSearch sends the mapped parameters as a flat JSON body.
type postJSONSearch struct {
	searchBase
}

func (s *postJSONSearch) Query(ctx context.Context, criteria common.SearchCriteria) (*Page, error) {
	compiled, err := s.mappingOf(criteria.ProductType)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	s.warnUnqueryable(ctx, compiled, criteria)
	params, err := compiled.BuildQuery(queryBindings(criteria, s.cfg.NativeProductType(criteria.ProductType)))
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	pageParams, err := s.pageParams(criteria)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}

	payload := map[string]interface{}{}
	for _, params := range []neturl.Values{params, pageParams} {
		for k, values := range params {
			if len(values) == 1 {
				payload[k] = values[0]
			} else {
				payload[k] = values
			}
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("Query.Marshal: %w", err)
	}

	req, err := http.NewRequest("POST", s.cfg.Search.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Query.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := s.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	return s.parsePage(ctx, compiled, criteria.ProductType, raw)
}

// stacSearch issues a STAC item-search request; the response goes through the
// provider mapping like any other JSON page.
type stacSearch struct {
	searchBase
}

func (s *stacSearch) Query(ctx context.Context, criteria common.SearchCriteria) (*Page, error) {
	compiled, err := s.mappingOf(criteria.ProductType)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}

	payload := map[string]interface{}{
		"limit": s.pageSize(criteria),
		"page":  s.cfg.Search.FirstPageNumber() + criteria.Page,
	}
	if native := s.cfg.NativeProductType(criteria.ProductType); native != "" {
		payload["collections"] = []string{native}
	}
	if !criteria.StartTime.IsZero() || !criteria.EndTime.IsZero() {
		payload["datetime"] = stacInterval(criteria)
	}
	if criteria.Geometry != nil {
		payload["intersects"] = geojson.Geometry{Geometry: criteria.Geometry}
	}
	if len(criteria.Extra) > 0 {
		query := map[string]interface{}{}
		for k, v := range criteria.Extra {
			query[k] = map[string]interface{}{"eq": v}
		}
		payload["query"] = query
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("Query.Marshal: %w", err)
	}

	req, err := http.NewRequest("POST", s.cfg.Search.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Query.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := s.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Query.%w", err)
	}
	return s.parsePage(ctx, compiled, criteria.ProductType, raw)
}

func stacInterval(criteria common.SearchCriteria) string {
	start, end := "..", ".."
	if !criteria.StartTime.IsZero() {
		start = criteria.StartTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	if !criteria.EndTime.IsZero() {
		end = criteria.EndTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	return start + "/" + end
}
