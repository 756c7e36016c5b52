package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/geowatch/eogate/mapping"
	"github.com/geowatch/eogate/service"
	"gopkg.in/yaml.v3"
)

// EnvPrefix of the environment overrides. EOGATE__PROVIDERS__PEPS__PRIORITY=2
// sets providers.peps.priority; the double underscore separates key segments so
// provider names may contain single underscores.
const EnvPrefix = "EOGATE__"

// Duration unmarshals YAML scalars such as "30s" or "20m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Credentials of one provider. Which fields matter depends on the auth and
// download plugin types.
type Credentials struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	APIKey       string `yaml:"apikey"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AWSAccessKey string `yaml:"aws_access_key_id"`
	AWSSecretKey string `yaml:"aws_secret_access_key"`
}

// Empty returns whether no credential field is set.
func (c Credentials) Empty() bool {
	return c == Credentials{}
}

// AuthConfig selects and parameterizes the authentication plugin.
type AuthConfig struct {
	// Type: "", "basic", "apikey" or "token"
	Type string `yaml:"type"`
	// TokenURL is the token endpoint of the "token" type.
	TokenURL string `yaml:"token_url"`
	// Header carrying the api key ("apikey" type), default Authorization.
	Header string `yaml:"header"`
}

// SearchConfig selects and parameterizes the search plugin.
type SearchConfig struct {
	// Type: "querystring" (GET, params in the query string), "postjson"
	// (POST, params as a JSON body) or "stac" (STAC item search).
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
	// Dialect of the response documents: "json" (default) or "xml".
	Dialect string `yaml:"dialect"`
	// ResultsPath locates the record list in a response page.
	ResultsPath string `yaml:"results_path"`
	// TotalPath locates the reported total count, optional.
	TotalPath string `yaml:"total_path"`
	// PageTemplate renders the paging parameters, e.g.
	// "page={page}&maxRecords={pageSize}".
	PageTemplate string `yaml:"page_template"`
	PageSize     int    `yaml:"page_size"`
	// FirstPage is the number of the first page (0 or 1 depending on the
	// provider), default 1.
	FirstPage *int `yaml:"first_page"`
	// MaxPages caps "search all" on providers with unreliable counts.
	MaxPages int `yaml:"max_pages"`
}

// FirstPageNumber returns the configured first page number, default 1.
func (s SearchConfig) FirstPageNumber() int {
	if s.FirstPage != nil {
		return *s.FirstPage
	}
	return 1
}

// DownloadConfig selects and parameterizes the download plugin. The archive
// toggles are named so the zero value is the common behavior: extract, flatten
// a single wrapping directory, delete the archive.
type DownloadConfig struct {
	// Type: "http" (default), "ftp" or "s3"
	Type string `yaml:"type"`
	// OrderTemplate renders the order request for OFFLINE products from the
	// product properties, e.g. "{orderLink}".
	OrderTemplate string `yaml:"order_template"`
	// OrderMethod: "GET" (default) or "POST".
	OrderMethod string `yaml:"order_method"`
	// PollTemplate renders the URL polled while waiting for retrieval; the
	// response goes through the provider mapping to read the storage status.
	PollTemplate string   `yaml:"poll_template"`
	PollInterval Duration `yaml:"poll_interval"`
	PollTimeout  Duration `yaml:"poll_timeout"`
	// MaxRetries bounds the backoff-governed fetch retries.
	MaxRetries int `yaml:"max_retries"`

	SkipExtract bool `yaml:"skip_extract"`
	KeepTopDir  bool `yaml:"keep_top_dir"`
	KeepArchive bool `yaml:"keep_archive"`

	// S3 plugin parameters.
	Region     string `yaml:"region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	Anonymous  bool   `yaml:"anonymous"`
}

// ProductType is one entry of the provider product-type catalog.
type ProductType struct {
	// ID is the provider-native identifier of the canonical product type.
	ID string `yaml:"id"`
	// Metadata overrides entries of the provider base mapping table.
	Metadata mapping.Table `yaml:"metadata"`
}

// ProductTypeInfo describes a canonical product type for guessing.
type ProductTypeInfo struct {
	Title           string   `yaml:"title"`
	Abstract        string   `yaml:"abstract"`
	Platform        string   `yaml:"platform"`
	Instrument      string   `yaml:"instrument"`
	ProcessingLevel string   `yaml:"processing_level"`
	SensorType      string   `yaml:"sensor_type"`
	Keywords        []string `yaml:"keywords"`
}

// ProviderConfig is the declarative description of one provider.
type ProviderConfig struct {
	Priority     int                    `yaml:"priority"`
	Search       SearchConfig           `yaml:"search"`
	Download     DownloadConfig         `yaml:"download"`
	Auth         AuthConfig             `yaml:"auth"`
	Credentials  Credentials            `yaml:"credentials"`
	Metadata     mapping.Table          `yaml:"metadata"`
	ProductTypes map[string]ProductType `yaml:"product_types"`
}

// SupportsProductType returns whether the provider declares the product type.
func (p ProviderConfig) SupportsProductType(productType string) bool {
	_, ok := p.ProductTypes[productType]
	return ok
}

// Config is the full provider catalog.
type Config struct {
	Providers    map[string]ProviderConfig  `yaml:"providers"`
	ProductTypes map[string]ProductTypeInfo `yaml:"product_types"`
	Download     OutputConfig               `yaml:"download"`
}

// OutputConfig holds the process-wide download settings.
type OutputConfig struct {
	OutputDir string `yaml:"output_dir"`
	// Workers bounds the download pool, default 2.
	Workers int `yaml:"workers"`
}

const loadRetries = 2

// Load reads and deep-merges the configuration layers (base first, user
// overrides last), then applies the EOGATE__ environment overrides on top.
// A layer is a local file path or an http(s) URL.
func Load(paths ...string) (*Config, error) {
	merged := map[string]interface{}{}
	for _, path := range paths {
		var raw []byte
		var err error
		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			raw, err = service.GetBodyRetry(path, loadRetries)
		} else {
			raw, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("Load.%w", err)
		}
		layer := map[string]interface{}{}
		if err := yaml.Unmarshal(raw, &layer); err != nil {
			return nil, fmt.Errorf("Load[%s].%w", path, err)
		}
		merged = deepMerge(merged, layer)
	}
	merged = deepMerge(merged, envOverrides(os.Environ()))

	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("Load.%w", err)
	}
	config := &Config{}
	if err := yaml.Unmarshal(out, config); err != nil {
		return nil, fmt.Errorf("Load.%w", err)
	}
	if config.Download.Workers == 0 {
		config.Download.Workers = 2
	}
	return config, nil
}

// deepMerge merges override into base without mutating either. Maps merge
// recursively, everything else (lists included) is replaced.
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		overrideMap, okOverride := v.(map[string]interface{})
		baseMap, okBase := merged[k].(map[string]interface{})
		if okOverride && okBase {
			merged[k] = deepMerge(baseMap, overrideMap)
		} else {
			merged[k] = v
		}
	}
	return merged
}

// envOverrides builds a nested override map from EOGATE__-prefixed variables.
// Values are parsed as YAML scalars so numbers and booleans keep their type.
func envOverrides(environ []string) map[string]interface{} {
	overrides := map[string]interface{}{}
	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		segments := strings.Split(strings.TrimPrefix(key, EnvPrefix), "__")
		node := overrides
		for i, segment := range segments {
			segment = strings.ToLower(segment)
			if i == len(segments)-1 {
				var parsed interface{}
				if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
					parsed = value
				}
				node[segment] = parsed
				break
			}
			child, ok := node[segment].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[segment] = child
			}
			node = child
		}
	}
	return overrides
}

// Validate checks each provider and removes the malformed ones, returning
// their errors keyed by provider name. A malformed provider is never fatal
// for the catalog.
func (c *Config) Validate() map[string]error {
	malformed := map[string]error{}
	for name, provider := range c.Providers {
		if err := validateProvider(provider); err != nil {
			malformed[name] = service.MisconfiguredError{Provider: name, Reason: err.Error()}
			delete(c.Providers, name)
		}
	}
	return malformed
}

func validateProvider(p ProviderConfig) error {
	switch p.Search.Type {
	case "", "querystring", "postjson", "stac":
	default:
		return fmt.Errorf("unknown search plugin type %q", p.Search.Type)
	}
	if p.Search.Endpoint == "" {
		return fmt.Errorf("missing search endpoint")
	}
	if _, err := mapping.DialectString(p.Search.Dialect); err != nil {
		return err
	}
	if p.Search.ResultsPath == "" {
		return fmt.Errorf("missing search results_path")
	}
	switch p.Download.Type {
	case "", "http", "ftp", "s3":
	default:
		return fmt.Errorf("unknown download plugin type %q", p.Download.Type)
	}
	switch p.Auth.Type {
	case "", "basic", "apikey", "token":
	default:
		return fmt.Errorf("unknown auth plugin type %q", p.Auth.Type)
	}
	if p.Auth.Type == "token" && p.Auth.TokenURL == "" {
		return fmt.Errorf("auth type token requires token_url")
	}
	if len(p.ProductTypes) == 0 {
		return fmt.Errorf("no product types declared")
	}
	if len(p.Metadata) == 0 {
		return fmt.Errorf("empty metadata mapping")
	}
	return nil
}

// MappingTables returns the mapping layers of a provider product type: the
// base table plus the per-type override when declared.
func (p ProviderConfig) MappingTables(productType string) []mapping.Table {
	tables := []mapping.Table{p.Metadata}
	if pt, ok := p.ProductTypes[productType]; ok && len(pt.Metadata) > 0 {
		tables = append(tables, pt.Metadata)
	}
	return tables
}

// NativeProductType translates a canonical product type to the provider
// vocabulary, falling back to the canonical name.
func (p ProviderConfig) NativeProductType(productType string) string {
	if pt, ok := p.ProductTypes[productType]; ok && pt.ID != "" {
		return pt.ID
	}
	return productType
}
