package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geowatch/eogate/service"
)

const baseCatalog = `
providers:
  peps:
    priority: 1
    search:
      type: querystring
      endpoint: https://peps.cnes.fr/resto/api/collections/search.json
      results_path: "$.features[*]"
      total_path: "$.properties.totalResults"
      page_template: "page={page}&maxRecords={pageSize}"
      page_size: 20
    download:
      type: http
      poll_interval: 10s
      poll_timeout: 20m
    metadata:
      id:
        path: "$.id"
        required: true
      productType: ["producttype={productType}", "$.properties.productType"]
    product_types:
      S2_MSI_L1C:
        id: S2ST
  broken:
    priority: 5
    search:
      type: no_such_strategy
      endpoint: https://broken.example.com
      results_path: "$.features[*]"
    metadata:
      id: "$.id"
    product_types:
      S2_MSI_L1C: {}
download:
  output_dir: /tmp/eogate
`

const userCatalog = `
providers:
  peps:
    priority: 3
    credentials:
      username: alice
      password: s3cret
`

func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadMergesLayers(t *testing.T) {
	base := writeCatalog(t, "base.yaml", baseCatalog)
	user := writeCatalog(t, "user.yaml", userCatalog)

	c, err := Load(base, user)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	peps := c.Providers["peps"]
	if peps.Priority != 3 {
		t.Errorf("user layer must override priority, got %d", peps.Priority)
	}
	if peps.Credentials.Username != "alice" {
		t.Errorf("user layer must add credentials, got %+v", peps.Credentials)
	}
	// base-layer fields not present in the user layer survive the merge
	if peps.Search.Endpoint == "" || peps.Search.PageSize != 20 {
		t.Errorf("base layer lost in merge: %+v", peps.Search)
	}
	if time.Duration(peps.Download.PollTimeout) != 20*time.Minute {
		t.Errorf("poll_timeout: got %v", time.Duration(peps.Download.PollTimeout))
	}
	if entry := peps.Metadata["productType"]; entry.Query != "producttype={productType}" {
		t.Errorf("mapping table lost in merge: %+v", entry)
	}
}

func TestLoadFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, baseCatalog)
	}))
	defer server.Close()
	user := writeCatalog(t, "user.yaml", userCatalog)

	c, err := Load(server.URL, user)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Providers["peps"].Priority != 3 {
		t.Errorf("remote base layer must merge under the user file, got %d", c.Providers["peps"].Priority)
	}
	if c.Providers["peps"].Search.Endpoint == "" {
		t.Errorf("remote layer lost: %+v", c.Providers["peps"].Search)
	}
}

func TestEnvOverrides(t *testing.T) {
	overrides := envOverrides([]string{
		"EOGATE__PROVIDERS__PEPS__PRIORITY=7",
		"EOGATE__PROVIDERS__PEPS__CREDENTIALS__PASSWORD=fromenv",
		"EOGATE__DOWNLOAD__WORKERS=4",
		"HOME=/home/alice",
	})
	providers := overrides["providers"].(map[string]interface{})
	peps := providers["peps"].(map[string]interface{})
	if peps["priority"] != 7 {
		t.Errorf("expected int 7, got %T %v", peps["priority"], peps["priority"])
	}
	creds := peps["credentials"].(map[string]interface{})
	if creds["password"] != "fromenv" {
		t.Errorf("expected fromenv, got %v", creds["password"])
	}
	if _, ok := overrides["home"]; ok {
		t.Errorf("unprefixed variables must be ignored")
	}
}

func TestEnvBeatsFiles(t *testing.T) {
	t.Setenv("EOGATE__PROVIDERS__PEPS__PRIORITY", "9")
	base := writeCatalog(t, "base.yaml", baseCatalog)
	user := writeCatalog(t, "user.yaml", userCatalog)

	c, err := Load(base, user)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Providers["peps"].Priority != 9 {
		t.Errorf("environment must win over files, got %d", c.Providers["peps"].Priority)
	}
}

func TestValidateSkipsMalformedProvider(t *testing.T) {
	base := writeCatalog(t, "base.yaml", baseCatalog)
	c, err := Load(base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	malformed := c.Validate()
	if len(malformed) != 1 {
		t.Fatalf("expected 1 malformed provider, got %v", malformed)
	}
	if !errors.As(malformed["broken"], &service.MisconfiguredError{}) {
		t.Errorf("expected MisconfiguredError, got %v", malformed["broken"])
	}
	if _, ok := c.Providers["broken"]; ok {
		t.Errorf("malformed provider must be removed")
	}
	if _, ok := c.Providers["peps"]; !ok {
		t.Errorf("valid providers must survive")
	}
}

func TestProviderHelpers(t *testing.T) {
	base := writeCatalog(t, "base.yaml", baseCatalog)
	c, err := Load(base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	peps := c.Providers["peps"]

	if !peps.SupportsProductType("S2_MSI_L1C") || peps.SupportsProductType("S1_SAR_GRD") {
		t.Errorf("SupportsProductType wrong")
	}
	if peps.NativeProductType("S2_MSI_L1C") != "S2ST" {
		t.Errorf("expected native id S2ST")
	}
	if peps.NativeProductType("S1_SAR_GRD") != "S1_SAR_GRD" {
		t.Errorf("expected canonical fallback")
	}
	if tables := peps.MappingTables("S2_MSI_L1C"); len(tables) != 1 {
		t.Errorf("expected base table only, got %d", len(tables))
	}
	if peps.Search.FirstPageNumber() != 1 {
		t.Errorf("default first page must be 1")
	}
}
