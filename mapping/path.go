package mapping

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/geowatch/eogate/service"
	"github.com/ohler55/ojg/jp"
)

// Dialect of the path expressions of a provider response.
type Dialect int

const (
	// DialectJSON documents are decoded JSON trees, paths are JSONPath ($.properties.title).
	DialectJSON Dialect = iota
	// DialectXML documents are XML trees, paths are XPath (/entry/str[@name='uuid']).
	DialectXML
)

// DialectString parses a provider-declared dialect name.
func DialectString(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return DialectJSON, nil
	case "xml":
		return DialectXML, nil
	}
	return DialectJSON, fmt.Errorf("unknown result dialect: %s", s)
}

// CompiledPath extracts values from a decoded document.
// First returns the first match, All every match as scalar values, Split every
// match as a subdocument usable with further path resolution (record lists).
type CompiledPath interface {
	First(doc interface{}) (interface{}, bool)
	All(doc interface{}) []interface{}
	Split(doc interface{}) []interface{}
}

// CompilePath compiles a path expression for the given dialect.
// Malformed expressions fail here, never at request time.
func CompilePath(dialect Dialect, path string) (CompiledPath, error) {
	switch dialect {
	case DialectXML:
		expr, err := xpath.Compile(path)
		if err != nil {
			return nil, service.MalformedPathError{Path: path, Reason: err.Error()}
		}
		return &xmlPath{expr: expr}, nil
	default:
		expr, err := jp.ParseString(path)
		if err != nil {
			return nil, service.MalformedPathError{Path: path, Reason: err.Error()}
		}
		return &jsonPath{expr: expr}, nil
	}
}

type jsonPath struct {
	expr jp.Expr
}

func (p *jsonPath) First(doc interface{}) (interface{}, bool) {
	values := p.expr.Get(doc)
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

func (p *jsonPath) All(doc interface{}) []interface{} {
	return p.expr.Get(doc)
}

func (p *jsonPath) Split(doc interface{}) []interface{} {
	return p.expr.Get(doc)
}

type xmlPath struct {
	expr *xpath.Expr
}

func (p *xmlPath) node(doc interface{}) *xmlquery.Node {
	n, _ := doc.(*xmlquery.Node)
	return n
}

func (p *xmlPath) First(doc interface{}) (interface{}, bool) {
	n := p.node(doc)
	if n == nil {
		return nil, false
	}
	found := xmlquery.QuerySelector(n, p.expr)
	if found == nil {
		return nil, false
	}
	return found.InnerText(), true
}

func (p *xmlPath) All(doc interface{}) []interface{} {
	n := p.node(doc)
	if n == nil {
		return nil
	}
	nodes := xmlquery.QuerySelectorAll(n, p.expr)
	values := make([]interface{}, len(nodes))
	for i, node := range nodes {
		values[i] = node.InnerText()
	}
	return values
}

func (p *xmlPath) Split(doc interface{}) []interface{} {
	n := p.node(doc)
	if n == nil {
		return nil
	}
	nodes := xmlquery.QuerySelectorAll(n, p.expr)
	values := make([]interface{}, len(nodes))
	for i, node := range nodes {
		values[i] = node
	}
	return values
}
