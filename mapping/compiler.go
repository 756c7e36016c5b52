package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/service"
	"gopkg.in/yaml.v3"
)

// Entry is the declarative mapping of one canonical field.
// Either side may be absent: a query-only field has no Path, a response-only
// field has no Query.
//
// YAML forms:
//
//	field: "$.properties.title"                      response-only
//	field: ["producttype={productType}", "$.type"]   query + response
//	field: {query: ..., path: ..., required: true, all: true, formatters: [...]}
type Entry struct {
	Query      string
	Path       string
	Required   bool
	All        bool
	Formatters []FormatterSpec
}

// FormatterSpec names a registered formatter and its arguments.
type FormatterSpec struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// UnmarshalYAML accepts the scalar, list and map forms.
func (e *Entry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&e.Path)
	case yaml.SequenceNode:
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("mapping entry list form expects [query, path], got %d elements", len(pair))
		}
		e.Query, e.Path = pair[0], pair[1]
		return nil
	case yaml.MappingNode:
		full := struct {
			Query      string          `yaml:"query"`
			Path       string          `yaml:"path"`
			Required   bool            `yaml:"required"`
			All        bool            `yaml:"all"`
			Formatters []FormatterSpec `yaml:"formatters"`
		}{}
		if err := node.Decode(&full); err != nil {
			return err
		}
		*e = Entry(full)
		return nil
	}
	return fmt.Errorf("unsupported mapping entry node kind %d", node.Kind)
}

// Table is a provider mapping table: canonical field name to entry.
type Table map[string]Entry

// Merge returns a copy of the table with the override entries applied on top.
func (t Table) Merge(override Table) Table {
	merged := make(Table, len(t)+len(override))
	for k, v := range t {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

type compiledField struct {
	name       string
	tmpl       *Template
	path       CompiledPath
	formatters []formatterRef
	required   bool
	all        bool
}

// Compiled is the bidirectional translator of one provider/product-type pair.
// Compilation happens once at configuration-load time; requests never re-parse
// the mapping table.
type Compiled struct {
	provider string
	dialect  Dialect
	registry *Registry
	fields   map[string]*compiledField
}

// Compile builds the translator from the merged mapping tables (base first,
// per-product-type overrides last). Malformed templates or paths fail here.
func Compile(provider string, dialect Dialect, registry *Registry, tables ...Table) (*Compiled, error) {
	merged := Table{}
	for _, t := range tables {
		merged = merged.Merge(t)
	}

	c := &Compiled{provider: provider, dialect: dialect, registry: registry, fields: make(map[string]*compiledField, len(merged))}
	for name, entry := range merged {
		field := &compiledField{name: name, required: entry.Required, all: entry.All}
		if entry.Query != "" {
			tmpl, err := ParseTemplate(entry.Query)
			if err != nil {
				return nil, fmt.Errorf("Compile[%s.%s].%w", provider, name, err)
			}
			if err := tmpl.Check(registry); err != nil {
				return nil, fmt.Errorf("Compile[%s.%s]: %w", provider, name, err)
			}
			field.tmpl = tmpl
		}
		if entry.Path != "" {
			path := entry.Path
			if i := strings.IndexByte(path, '#'); i != -1 {
				ref, err := parseFormatterRef(path[i+1:])
				if err != nil {
					return nil, fmt.Errorf("Compile[%s.%s].%w", provider, name, service.MalformedPathError{Path: path, Reason: err.Error()})
				}
				field.formatters = append(field.formatters, *ref)
				path = path[:i]
			}
			compiled, err := CompilePath(dialect, path)
			if err != nil {
				return nil, fmt.Errorf("Compile[%s.%s].%w", provider, name, err)
			}
			field.path = compiled
		}
		for _, spec := range entry.Formatters {
			field.formatters = append(field.formatters, formatterRef{name: spec.Name, args: spec.Args})
		}
		// Fail on unknown formatters or malformed arguments at compile time,
		// not per request.
		for _, ref := range field.formatters {
			if err := registry.Check(ref.name, ref.args); err != nil {
				return nil, fmt.Errorf("Compile[%s.%s]: %w", provider, name, err)
			}
		}
		c.fields[name] = field
	}
	return c, nil
}

// QueryableFields returns the canonical fields that can appear in a query.
func (c *Compiled) QueryableFields() []string {
	var names []string
	for name, f := range c.fields {
		if f.tmpl != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// BuildQuery renders the outbound request parameters for the bound canonical
// fields. Fields without a binding are not requested; a template referencing
// an unbound mandatory placeholder fails with MissingBindingError.
func (c *Compiled) BuildQuery(bindings map[string]interface{}) (url.Values, error) {
	params := url.Values{}
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := c.fields[name]
		if !ok || field.tmpl == nil {
			continue
		}
		rendered, err := field.tmpl.Build(bindings, c.registry)
		if err != nil {
			return nil, fmt.Errorf("BuildQuery[%s.%s].%w", c.provider, name, err)
		}
		if k, v, found := strings.Cut(rendered, "="); found {
			params.Add(k, v)
		} else {
			params.Add(name, rendered)
		}
	}
	return params, nil
}

// DecodeDocument decodes a raw provider response into the tree shape the
// dialect resolves against.
func (c *Compiled) DecodeDocument(raw []byte) (interface{}, error) {
	switch c.dialect {
	case DialectXML:
		doc, err := xmlquery.Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("DecodeDocument: %w", err)
		}
		return doc, nil
	default:
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("DecodeDocument: %w", err)
		}
		return doc, nil
	}
}

// ParseResult extracts the canonical properties from one record document.
// Field-level failures are isolated: the field is omitted and the rest of the
// record is kept. Only a missing required field fails the record.
func (c *Compiled) ParseResult(doc interface{}) (map[string]interface{}, error) {
	properties := make(map[string]interface{}, len(c.fields))
	for name, field := range c.fields {
		if field.path == nil {
			continue
		}
		value, ok := c.resolve(field, doc)
		if !ok {
			if field.required {
				return nil, fmt.Errorf("ParseResult[%s]: missing required field %s", c.provider, name)
			}
			continue
		}
		properties[name] = value
	}
	return c.canonicalize(properties), nil
}

func (c *Compiled) resolve(field *compiledField, doc interface{}) (interface{}, bool) {
	var value interface{}
	if field.all {
		values := field.path.All(doc)
		if len(values) == 0 {
			return nil, false
		}
		value = values
	} else {
		first, ok := field.path.First(doc)
		if !ok {
			return nil, false
		}
		value = first
	}

	for _, ref := range field.formatters {
		formatted, err := c.registry.Apply(ref.name, ref.args, value)
		if err != nil {
			return nil, false
		}
		value = formatted
	}
	if value == common.NotAvailable {
		return nil, false
	}
	return value, true
}

// canonicalize forces extracted values into the canonical shapes: one date
// representation, the tri-state storage status and one geometry representation.
func (c *Compiled) canonicalize(properties map[string]interface{}) map[string]interface{} {
	for _, name := range []string{common.PropertyStartTime, common.PropertyEndTime, "publicationDate", "modificationDate"} {
		if raw, ok := properties[name]; ok {
			if formatted, err := toISOUTCDatetime(nil, raw); err == nil {
				properties[name] = formatted
			}
		}
	}
	if raw, ok := properties[common.PropertyStorageStatus]; ok {
		properties[common.PropertyStorageStatus] = CanonicalStorageStatus(raw).String()
	}
	if raw, ok := properties[common.PropertyGeometry]; ok {
		if g, err := asGeometry("geometry", raw); err == nil {
			properties[common.PropertyGeometry] = g
		} else {
			delete(properties, common.PropertyGeometry)
		}
	}
	return properties
}

// CanonicalStorageStatus maps a raw provider status to the tri-state enum.
// Unknown raw values never fail: products are assumed fetchable until the
// provider proves otherwise.
func CanonicalStorageStatus(raw interface{}) common.StorageStatus {
	s, ok := raw.(string)
	if !ok {
		return common.StorageONLINE
	}
	status, err := common.StorageStatusString(s)
	if err != nil {
		return common.StorageONLINE
	}
	return status
}

// Cache holds compiled translators per provider/product-type pair.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Compiled
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[string]*Compiled{}}
}

func cacheKey(provider, productType string) string {
	return provider + "\x00" + productType
}

// Get returns the cached translator for the pair, if any.
func (c *Cache) Get(provider, productType string) (*Compiled, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	compiled, ok := c.entries[cacheKey(provider, productType)]
	return compiled, ok
}

// Put caches the translator for the pair.
func (c *Cache) Put(provider, productType string, compiled *Compiled) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(provider, productType)] = compiled
}

// Clear drops every cached translator. Called on configuration rebuild.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*Compiled{}
}
