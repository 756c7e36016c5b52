package plugin

import (
	"context"
	"net/http"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/service"
)

// Search is the capability to query one provider catalog.
type Search interface {
	// Provider name of the plugin instance.
	Provider() string
	// Priority of the provider (higher wins).
	Priority() int
	// SupportsProductType returns whether the provider declares the type.
	SupportsProductType(productType string) bool
	// Query one result page.
	Query(ctx context.Context, criteria common.SearchCriteria) (*Page, error)
}

// Page is one page of provider results.
type Page struct {
	Products []*common.Product
	// Total reported by the provider, -1 when unknown or unreliable.
	Total int
}

// Download is the capability to order, poll and fetch product assets.
// The lifecycle itself (states, retries, extraction) lives outside the plugin.
type Download interface {
	// Provider name of the plugin instance.
	Provider() string
	// Order the retrieval of an OFFLINE product, returning the remote order id.
	Order(ctx context.Context, product *common.Product) (string, error)
	// Status returns the current storage status of the product.
	Status(ctx context.Context, product *common.Product) (common.StorageStatus, error)
	// Fetch one remote location (an asset href or the product download link)
	// under destDir and returns the local path.
	Fetch(ctx context.Context, product *common.Product, location, destDir string, progress *service.Progress) (string, error)
}

// Authentication is the capability to produce request credentials.
// Implementations cache tokens; Invalidate drops the cache.
type Authentication interface {
	Authenticate(ctx context.Context) (*Credential, error)
	Invalidate()
}

// Crunch is a post-search filtering pass over normalized products,
// independent of network state.
type Crunch interface {
	Proceed(products []*common.Product) []*common.Product
}

// Credential carries the authentication material of one provider.
type Credential struct {
	Username string
	Password string
	// Token set as "Authorization: Bearer <token>".
	Token string
	// Header entries added verbatim (api keys).
	Header http.Header
}

// Apply signs an outgoing request. A nil credential is a no-op.
func (c *Credential) Apply(req *http.Request) {
	if c == nil {
		return
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for key, values := range c.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
}
