package service

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/geowatch/eogate/common"
	"github.com/go-spatial/geom"
)

func testProducts() []*common.Product {
	return []*common.Product{
		{
			ID:          "S2A_MSIL1C_20210704",
			Provider:    "peps",
			ProductType: "S2_MSI_L1C",
			Properties: map[string]interface{}{
				common.PropertyTitle:      "S2A_MSIL1C_20210704",
				common.PropertyCloudCover: 12.5,
			},
			Geometry:      geom.Polygon{{{1, 2}, {3, 4}, {3, 2}, {1, 2}}},
			StorageStatus: common.StorageOFFLINE,
			OrderID:       "ORD-42",
		},
		{
			ID:            "no-geometry",
			Provider:      "onda",
			ProductType:   "S1_SAR_GRD",
			Properties:    map[string]interface{}{},
			StorageStatus: common.StorageONLINE,
		},
	}
}

func TestGeojsonRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "results.geojson")
	if err := Serialize(testProducts(), filename); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	products, err := Deserialize(filename)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}

	p := products[0]
	if p.ID != "S2A_MSIL1C_20210704" || p.Provider != "peps" || p.ProductType != "S2_MSI_L1C" {
		t.Errorf("identity lost: %v", p)
	}
	if p.StorageStatus != common.StorageOFFLINE {
		t.Errorf("storage status lost: %v", p.StorageStatus)
	}
	if p.Properties[common.PropertyTitle] != "S2A_MSIL1C_20210704" {
		t.Errorf("properties lost: %v", p.Properties)
	}
	if cover, ok := p.Properties[common.PropertyCloudCover].(float64); !ok || cover != 12.5 {
		t.Errorf("numeric property lost: %v", p.Properties[common.PropertyCloudCover])
	}
	if p.Geometry == nil {
		t.Errorf("geometry lost")
	}
	// an ordered-but-not-fetched product keeps its order id, so a later
	// download run does not order again
	if p.OrderID != "ORD-42" {
		t.Errorf("order id lost: %q", p.OrderID)
	}
	if products[1].Geometry != nil {
		t.Errorf("expected nil geometry to stay nil")
	}

	// the reserved keys never leak into the property bag
	for key := range p.Properties {
		if strings.HasPrefix(key, "eogate:") {
			t.Errorf("reserved key leaked: %s", key)
		}
	}
}
