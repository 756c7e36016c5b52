package common

import (
	"fmt"
	"time"

	"github.com/go-spatial/geom"
)

// Well-known canonical property keys.
const (
	PropertyID             = "id"
	PropertyTitle          = "title"
	PropertyProductType    = "productType"
	PropertyStartTime      = "startTimeFromAscendingNode"
	PropertyEndTime        = "completionTimeFromAscendingNode"
	PropertyStorageStatus  = "storageStatus"
	PropertyDownloadLink   = "downloadLink"
	PropertyOrderLink      = "orderLink"
	PropertyOrderID        = "orderId"
	PropertyGeometry       = "geometry"
	PropertyAssets         = "assets"
	PropertyCloudCover     = "cloudCover"
	PropertyOrbitDirection = "orbitDirection"
)

// NotAvailable marks a mapped field that could not be resolved from a provider
// response. It is stripped from the canonical properties before the product is
// handed to the caller.
const NotAvailable = "Not Available"

// Asset is a single downloadable file of a product.
type Asset struct {
	Key   string `json:"key"`
	Title string `json:"title,omitempty"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
}

// Product is the canonical, provider-independent search result.
// It is immutable after creation except for the download annotations
// (OrderID, LocalPath) maintained by the download lifecycle.
type Product struct {
	ID            string                 `json:"id"`
	Provider      string                 `json:"provider"`
	ProductType   string                 `json:"productType"`
	Properties    map[string]interface{} `json:"properties"`
	Geometry      geom.Geometry          `json:"-"`
	Assets        []Asset                `json:"assets,omitempty"`
	StorageStatus StorageStatus          `json:"storageStatus"`

	// Download annotations, empty until the product enters the download lifecycle.
	OrderID   string `json:"orderId,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}

// RemoteLocation returns the provider-independent location of the product,
// used to key the resumability record.
func (p *Product) RemoteLocation() string {
	if link, ok := p.Properties[PropertyDownloadLink].(string); ok && link != "" {
		return link
	}
	return p.Provider + "/" + p.ID
}

// String implements fmt.Stringer
func (p *Product) String() string {
	return fmt.Sprintf("%s(id=%s, provider=%s)", p.ProductType, p.ID, p.Provider)
}

// SearchCriteria is the normalized search request.
type SearchCriteria struct {
	ProductType string
	StartTime   time.Time
	EndTime     time.Time
	// Geometry is the spatial extent (any geom type, usually a polygon or an extent).
	Geometry geom.Geometry
	// FreeText fields used for product-type guessing when ProductType is empty.
	FreeText map[string]string
	// Provider forces the search on a single provider, bypassing priorities.
	Provider string
	// Extra provider-vocabulary parameters passed through the mapping.
	Extra map[string]interface{}

	Page     int
	PageSize int
}

// WithPage returns a copy of the criteria for the given page.
func (c SearchCriteria) WithPage(page int) SearchCriteria {
	c.Page = page
	return c
}
