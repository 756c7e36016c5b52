// Package crunch holds the post-search filtering passes. Filters are pure
// functions over the normalized product list, independent of network state.
package crunch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/geowatch/eogate/common"
	"github.com/go-spatial/geom"
)

// FilterDate keeps the products sensed within [start, end]. A zero bound is
// open.
type FilterDate struct {
	Start time.Time
	End   time.Time
}

func (f FilterDate) Proceed(products []*common.Product) []*common.Product {
	var kept []*common.Product
	for _, product := range products {
		date, ok := productDate(product)
		if !ok {
			continue
		}
		if !f.Start.IsZero() && date.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && date.After(f.End) {
			continue
		}
		kept = append(kept, product)
	}
	return kept
}

func productDate(product *common.Product) (time.Time, bool) {
	raw, ok := product.Properties[common.PropertyStartTime].(string)
	if !ok {
		return time.Time{}, false
	}
	date, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// FilterOverlap keeps the products whose footprint covers at least MinOverlap
// (fraction in [0,1]) of the search extent.
type FilterOverlap struct {
	Extent     geom.Extent
	MinOverlap float64
}

func (f FilterOverlap) Proceed(products []*common.Product) []*common.Product {
	searchArea := f.Extent.Area()
	if searchArea <= 0 {
		return products
	}
	var kept []*common.Product
	for _, product := range products {
		if product.Geometry == nil {
			continue
		}
		extent, err := geom.NewExtentFromGeometry(product.Geometry)
		if err != nil {
			continue
		}
		intersection, intersects := f.Extent.Intersect(extent)
		if !intersects {
			continue
		}
		if intersection.Area()/searchArea >= f.MinOverlap {
			kept = append(kept, product)
		}
	}
	return kept
}

// FilterLatestByName keeps, per name key extracted by the pattern's named
// groups, only the most recently published product. It reduces stacks of
// reprocessed scenes to their newest version.
type FilterLatestByName struct {
	// NamePattern has named groups forming the grouping key, applied to the
	// product title, e.g. `(?P<tileid>T\d{2}[A-Z]{3})_(?P<date>\d{8})`.
	NamePattern string
}

func (f FilterLatestByName) Proceed(products []*common.Product) []*common.Product {
	re, err := regexp.Compile(f.NamePattern)
	if err != nil {
		return products
	}
	latest := map[string]*common.Product{}
	var order []string
	for _, product := range products {
		title, _ := product.Properties[common.PropertyTitle].(string)
		if title == "" {
			title = product.ID
		}
		match := re.FindStringSubmatch(title)
		if match == nil {
			continue
		}
		var key []string
		for i, name := range re.SubexpNames() {
			if i > 0 && name != "" {
				key = append(key, match[i])
			}
		}
		k := strings.Join(key, "\x00")
		current, ok := latest[k]
		if !ok {
			latest[k] = product
			order = append(order, k)
			continue
		}
		if newerThan(product, current) {
			latest[k] = product
		}
	}
	kept := make([]*common.Product, 0, len(order))
	for _, k := range order {
		kept = append(kept, latest[k])
	}
	return kept
}

func newerThan(a, b *common.Product) bool {
	da, oka := publicationDate(a)
	db, okb := publicationDate(b)
	if !oka || !okb {
		return false
	}
	return da.After(db)
}

func publicationDate(product *common.Product) (time.Time, bool) {
	for _, key := range []string{"publicationDate", "modificationDate", common.PropertyStartTime} {
		if raw, ok := product.Properties[key].(string); ok {
			if date, err := dateparse.ParseAny(raw); err == nil {
				return date, true
			}
		}
	}
	return time.Time{}, false
}

// FilterProperty keeps the products whose property satisfies the operator.
// Operators: "=", "!=", "<", ">", "contains".
type FilterProperty struct {
	Key      string
	Operator string
	Value    string
}

func (f FilterProperty) Proceed(products []*common.Product) []*common.Product {
	var kept []*common.Product
	for _, product := range products {
		value, ok := product.Properties[f.Key]
		if !ok {
			continue
		}
		if f.matches(value) {
			kept = append(kept, product)
		}
	}
	return kept
}

func (f FilterProperty) matches(value interface{}) bool {
	s := fmt.Sprintf("%v", value)
	switch f.Operator {
	case "", "=":
		return s == f.Value
	case "!=":
		return s != f.Value
	case "contains":
		return strings.Contains(s, f.Value)
	case "<", ">":
		a, err1 := strconv.ParseFloat(s, 64)
		b, err2 := strconv.ParseFloat(f.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if f.Operator == "<" {
			return a < b
		}
		return a > b
	}
	return false
}
