package plugin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/mapping"
)

func searchManager(t *testing.T, cfg config.ProviderConfig) *Manager {
	t.Helper()
	m := NewManager(mapping.NewRegistry())
	if malformed := m.Rebuild(map[string]config.ProviderConfig{"mock": cfg}); len(malformed) != 0 {
		t.Fatalf("rebuild: %v", malformed)
	}
	return m
}

func TestQueryStringSearch(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{
			"properties": {"totalResults": 3},
			"features": [
				{"id": "uuid-1", "properties": {"productType": "S2_MSI_L1C", "status": "available"}},
				{"id": "uuid-2", "properties": {"productType": "S2_MSI_L1C", "status": "archived"}},
				{"properties": {"productType": "S2_MSI_L1C"}}
			]
		}`)
	}))
	defer server.Close()

	cfg := config.ProviderConfig{
		Priority: 1,
		Search: config.SearchConfig{
			Type:         "querystring",
			Endpoint:     server.URL,
			ResultsPath:  "$.features[*]",
			TotalPath:    "$.properties.totalResults",
			PageTemplate: "page={page}&maxRecords={pageSize}",
			PageSize:     20,
		},
		Metadata: mapping.Table{
			"id":            {Path: "$.id", Required: true},
			"productType":   {Query: "producttype={productType}", Path: "$.properties.productType"},
			"storageStatus": {Path: `$.properties.status#get_group_name((?P<ONLINE>available)|(?P<OFFLINE>archived))`},
		},
		ProductTypes: map[string]config.ProductType{"S2_MSI_L1C": {ID: "S2ST"}},
	}
	m := searchManager(t, cfg)

	page, err := m.GetSearchPlugins("S2_MSI_L1C")[0].Query(t.Context(), common.SearchCriteria{
		ProductType: "S2_MSI_L1C",
		StartTime:   time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if gotQuery != "maxRecords=20&page=1&producttype=S2ST" {
		t.Errorf("unexpected query: %s", gotQuery)
	}
	// the record without an id is dropped, the page survives
	if len(page.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(page.Products))
	}
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
	if page.Products[0].StorageStatus != common.StorageONLINE {
		t.Errorf("uuid-1 must be ONLINE, got %s", page.Products[0].StorageStatus)
	}
	if page.Products[1].StorageStatus != common.StorageOFFLINE {
		t.Errorf("uuid-2 must be OFFLINE, got %s", page.Products[1].StorageStatus)
	}
}

func TestPostJSONSearch(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		fmt.Fprint(w, `{"features": [{"id": "uuid-1", "properties": {}}]}`)
	}))
	defer server.Close()

	cfg := config.ProviderConfig{
		Priority: 1,
		Search: config.SearchConfig{
			Type:        "postjson",
			Endpoint:    server.URL,
			ResultsPath: "$.features[*]",
		},
		Metadata: mapping.Table{
			"id":          {Path: "$.id", Required: true},
			"productType": {Query: "dataset={productType}"},
		},
		ProductTypes: map[string]config.ProductType{"S2_MSI_L1C": {}},
	}
	m := searchManager(t, cfg)

	page, err := m.GetSearchPlugins("S2_MSI_L1C")[0].Query(t.Context(), common.SearchCriteria{ProductType: "S2_MSI_L1C"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if gotBody["dataset"] != "S2_MSI_L1C" {
		t.Errorf("expected dataset in body, got %v", gotBody)
	}
	if len(page.Products) != 1 || page.Products[0].ID != "uuid-1" {
		t.Errorf("unexpected products: %v", page.Products)
	}
}

func TestSTACSearch(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		fmt.Fprint(w, `{"features": [{"id": "item-1", "assets": {"b1": {"href": "https://x/b1.tif"}}}]}`)
	}))
	defer server.Close()

	cfg := config.ProviderConfig{
		Priority: 1,
		Search: config.SearchConfig{
			Type:        "stac",
			Endpoint:    server.URL,
			ResultsPath: "$.features[*]",
		},
		Metadata: mapping.Table{
			"id":     {Path: "$.id", Required: true},
			"assets": {Path: "$.assets.*.href", All: true},
		},
		ProductTypes: map[string]config.ProductType{"S2_MSI_L1C": {ID: "sentinel-2-l1c"}},
	}
	m := searchManager(t, cfg)

	page, err := m.GetSearchPlugins("S2_MSI_L1C")[0].Query(t.Context(), common.SearchCriteria{
		ProductType: "S2_MSI_L1C",
		StartTime:   time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	collections, _ := gotBody["collections"].([]interface{})
	if len(collections) != 1 || collections[0] != "sentinel-2-l1c" {
		t.Errorf("expected native collection, got %v", gotBody["collections"])
	}
	if gotBody["datetime"] != "2021-05-01T00:00:00Z/2021-06-01T00:00:00Z" {
		t.Errorf("unexpected datetime: %v", gotBody["datetime"])
	}
	if len(page.Products) != 1 || len(page.Products[0].Assets) != 1 {
		t.Fatalf("unexpected products: %v", page.Products)
	}
	if page.Products[0].Assets[0].Href != "https://x/b1.tif" {
		t.Errorf("unexpected asset: %+v", page.Products[0].Assets[0])
	}
}

func TestSearchErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := providerConfig(1, "S2_MSI_L1C")
	cfg.Search.Endpoint = server.URL
	m := searchManager(t, cfg)

	if _, err := m.GetSearchPlugins("S2_MSI_L1C")[0].Query(t.Context(), common.SearchCriteria{ProductType: "S2_MSI_L1C"}); err == nil {
		t.Errorf("expected error on 401")
	}
}
