package service

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/geowatch/eogate/common"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

// Feature is the serialized form of a canonical product.
type Feature struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id"`
	BBox       []float64              `json:"bbox,omitempty"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is the serialized form of a list of canonical products.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Reserved property keys carrying product fields that are not part of the
// canonical property bag.
const (
	featureProvider      = "eogate:provider"
	featureProductType   = "eogate:productType"
	featureStorageStatus = "eogate:storageStatus"
	featureOrderID       = "eogate:orderId"
	featureLocalPath     = "eogate:localPath"
)

// ToFeatureCollection converts products to a geojson feature collection.
func ToFeatureCollection(products []*common.Product) (FeatureCollection, error) {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, len(products))}
	for i, p := range products {
		properties := map[string]interface{}{}
		for k, v := range p.Properties {
			properties[k] = v
		}
		properties[featureProvider] = p.Provider
		properties[featureProductType] = p.ProductType
		properties[featureStorageStatus] = p.StorageStatus.String()
		// download annotations, so an ordered or fetched product stays so
		// across a round trip
		if p.OrderID != "" {
			properties[featureOrderID] = p.OrderID
		}
		if p.LocalPath != "" {
			properties[featureLocalPath] = p.LocalPath
		}

		f := Feature{Type: "Feature", ID: p.ID, Properties: properties}
		if p.Geometry != nil {
			f.Geometry = &geojson.Geometry{Geometry: p.Geometry}
			extent, err := geom.NewExtentFromGeometry(p.Geometry)
			if err != nil {
				return FeatureCollection{}, fmt.Errorf("ToFeatureCollection[%s]: %w", p.ID, err)
			}
			f.BBox = extent[:]
		}
		fc.Features[i] = f
	}
	return fc, nil
}

// FromFeatureCollection converts a geojson feature collection back to products.
// The round trip is lossless for the canonical property set.
func FromFeatureCollection(fc FeatureCollection) ([]*common.Product, error) {
	products := make([]*common.Product, len(fc.Features))
	for i, f := range fc.Features {
		p := &common.Product{
			ID:         f.ID,
			Properties: map[string]interface{}{},
		}
		for k, v := range f.Properties {
			switch k {
			case featureProvider:
				p.Provider, _ = v.(string)
			case featureProductType:
				p.ProductType, _ = v.(string)
			case featureStorageStatus:
				raw, _ := v.(string)
				status, err := common.StorageStatusString(raw)
				if err != nil {
					return nil, fmt.Errorf("FromFeatureCollection[%s]: %w", f.ID, err)
				}
				p.StorageStatus = status
			case featureOrderID:
				p.OrderID, _ = v.(string)
			case featureLocalPath:
				p.LocalPath, _ = v.(string)
			default:
				p.Properties[k] = v
			}
		}
		if f.Geometry != nil {
			p.Geometry = f.Geometry.Geometry
		}
		products[i] = p
	}
	return products, nil
}

// Serialize writes products as a geojson file.
func Serialize(products []*common.Product, filename string) error {
	fc, err := ToFeatureCollection(products)
	if err != nil {
		return fmt.Errorf("Serialize.%w", err)
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("Serialize.Marshal: %w", err)
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		return fmt.Errorf("Serialize.WriteFile: %w", err)
	}
	return nil
}

// Deserialize reads products back from a geojson file written by Serialize.
func Deserialize(filename string) ([]*common.Product, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Deserialize.ReadFile: %w", err)
	}
	var fc FeatureCollection
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("Deserialize.Unmarshal: %w", err)
	}
	products, err := FromFeatureCollection(fc)
	if err != nil {
		return nil, fmt.Errorf("Deserialize.%w", err)
	}
	return products, nil
}
