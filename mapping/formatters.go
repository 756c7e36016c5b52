package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/service"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkt"
)

// WKTPrecision is the number of decimals kept by the geometry formatters.
const WKTPrecision = 6

// Formatter is a deterministic, side-effect-free value transform. It runs both
// when building queries and when parsing responses.
type Formatter func(args []string, value interface{}) (interface{}, error)

// ArgCheck statically validates formatter arguments, without a value.
type ArgCheck func(args []string) error

// Registry holds the named formatters usable in mapping pipelines.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	checks     map[string]ArgCheck
}

// NewRegistry creates a registry seeded with the builtin formatters and their
// static argument checks.
func NewRegistry() *Registry {
	r := &Registry{formatters: map[string]Formatter{}, checks: map[string]ArgCheck{}}
	r.Register("to_iso_utc_datetime", toISOUTCDatetime)
	r.Register("to_iso_date", toISODate)
	r.Register("to_timestamp_ms", toTimestampMs)
	r.Register("to_rounded_wkt", toRoundedWKT)
	r.Register("to_bounds", toBounds)
	r.Register("to_geojson", toGeoJSON)
	r.Register("get_group_name", getGroupName)
	r.Register("replace_str", replaceStr)
	r.Register("slice_str", sliceStr)
	r.Register("remove_extension", removeExtension)
	r.Register("csv_list", csvList)
	r.Register("clamp", clamp)

	noArgs := func(name string) ArgCheck {
		return func(args []string) error { return expectArgs(name, args, 0) }
	}
	for _, name := range []string{"to_iso_utc_datetime", "to_iso_date", "to_timestamp_ms",
		"to_rounded_wkt", "to_bounds", "to_geojson", "remove_extension", "csv_list"} {
		r.RegisterCheck(name, noArgs(name))
	}
	r.RegisterCheck("get_group_name", checkGroupName)
	r.RegisterCheck("replace_str", func(args []string) error { return expectArgs("replace_str", args, 2) })
	r.RegisterCheck("slice_str", checkSliceStr)
	r.RegisterCheck("clamp", checkClamp)
	return r
}

// Register adds or replaces a named formatter.
func (r *Registry) Register(name string, f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[name] = f
}

// RegisterCheck adds or replaces the static argument check of a formatter.
func (r *Registry) RegisterCheck(name string, check ArgCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Check validates a formatter reference: the name must be registered and the
// arguments must parse. Mapping compilation runs it so malformed references
// never reach request time.
func (r *Registry) Check(name string, args []string) error {
	r.mu.RLock()
	_, ok := r.formatters[name]
	check := r.checks[name]
	r.mu.RUnlock()
	if !ok {
		return service.UnknownFormatterError{Name: name}
	}
	if check == nil {
		return nil
	}
	return check(args)
}

// Apply runs the named formatter on the value.
func (r *Registry) Apply(name string, args []string, value interface{}) (interface{}, error) {
	r.mu.RLock()
	f, ok := r.formatters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, service.UnknownFormatterError{Name: name}
	}
	return f(args, value)
}

func argErr(name, format string, a ...interface{}) error {
	return service.FormatterArgumentError{Name: name, Reason: fmt.Sprintf(format, a...)}
}

func expectArgs(name string, args []string, n int) error {
	if len(args) != n {
		return argErr(name, "expects %d argument(s), got %d", n, len(args))
	}
	return nil
}

// stringify renders a value the way it is written into a query string.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format("2006-01-02T15:04:05.000Z")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asTime(name string, value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := dateparse.ParseAny(v)
		if err != nil {
			return time.Time{}, argErr(name, "unparseable date %q: %v", v, err)
		}
		return t, nil
	case float64:
		// Unix milliseconds
		return time.UnixMilli(int64(v)), nil
	default:
		return time.Time{}, argErr(name, "cannot interpret %T as a date", value)
	}
}

func asFloat(name string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, argErr(name, "cannot interpret %q as a number", v)
		}
		return f, nil
	default:
		return 0, argErr(name, "cannot interpret %T as a number", value)
	}
}

func asGeometry(name string, value interface{}) (geom.Geometry, error) {
	switch v := value.(type) {
	case geom.Geometry:
		return v, nil
	case string:
		if g, err := wkt.DecodeString(v); err == nil {
			return g, nil
		}
		var g geojson.Geometry
		if err := g.UnmarshalJSON([]byte(v)); err != nil {
			return nil, argErr(name, "cannot interpret %q as a geometry", v)
		}
		return g.Geometry, nil
	case map[string]interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, argErr(name, "cannot re-encode geometry: %v", err)
		}
		var g geojson.Geometry
		if err := g.UnmarshalJSON(b); err != nil {
			return nil, argErr(name, "cannot interpret document node as a geometry: %v", err)
		}
		return g.Geometry, nil
	default:
		return nil, argErr(name, "cannot interpret %T as a geometry", value)
	}
}

func toISOUTCDatetime(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("to_iso_utc_datetime", args, 0); err != nil {
		return nil, err
	}
	t, err := asTime("to_iso_utc_datetime", value)
	if err != nil {
		return nil, err
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
}

func toISODate(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("to_iso_date", args, 0); err != nil {
		return nil, err
	}
	t, err := asTime("to_iso_date", value)
	if err != nil {
		return nil, err
	}
	return t.UTC().Format("2006-01-02"), nil
}

func toTimestampMs(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("to_timestamp_ms", args, 0); err != nil {
		return nil, err
	}
	t, err := asTime("to_timestamp_ms", value)
	if err != nil {
		return nil, err
	}
	return float64(t.UnixMilli()), nil
}

func toRoundedWKT(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("to_rounded_wkt", args, 0); err != nil {
		return nil, err
	}
	g, err := asGeometry("to_rounded_wkt", value)
	if err != nil {
		return nil, err
	}
	rounded, err := roundGeometry(g, WKTPrecision)
	if err != nil {
		return nil, argErr("to_rounded_wkt", "%v", err)
	}
	return wkt.MustEncode(rounded), nil
}

func toBounds(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("to_bounds", args, 0); err != nil {
		return nil, err
	}
	g, err := asGeometry("to_bounds", value)
	if err != nil {
		return nil, err
	}
	extent, err := geom.NewExtentFromGeometry(g)
	if err != nil {
		return nil, argErr("to_bounds", "extent: %v", err)
	}
	return []interface{}{extent[0], extent[1], extent[2], extent[3]}, nil
}

func toGeoJSON(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("to_geojson", args, 0); err != nil {
		return nil, err
	}
	g, err := asGeometry("to_geojson", value)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(geojson.Geometry{Geometry: g})
	if err != nil {
		return nil, argErr("to_geojson", "encode: %v", err)
	}
	return string(b), nil
}

// getGroupName matches the value against a regex and returns the name of the
// first named group that captured. It is the canonical way to reduce provider
// status vocabularies to {ONLINE, STAGING, OFFLINE}.
// Unmatched values yield the NotAvailable sentinel, never an error.
func getGroupName(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("get_group_name", args, 1); err != nil {
		return nil, err
	}
	re, err := groupNameRegexp(args[0])
	if err != nil {
		return nil, err
	}
	match := re.FindStringSubmatch(stringify(value))
	if match == nil {
		return common.NotAvailable, nil
	}
	for i, name := range re.SubexpNames() {
		if i > 0 && name != "" && match[i] != "" {
			return name, nil
		}
	}
	return common.NotAvailable, nil
}

// compiled patterns of get_group_name, shared between the compile-time check
// and request-time applications
var groupNameRegexps sync.Map

func groupNameRegexp(pattern string) (*regexp.Regexp, error) {
	if cached, ok := groupNameRegexps.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, argErr("get_group_name", "bad pattern %q: %v", pattern, err)
	}
	groupNameRegexps.Store(pattern, re)
	return re, nil
}

func checkGroupName(args []string) error {
	if err := expectArgs("get_group_name", args, 1); err != nil {
		return err
	}
	_, err := groupNameRegexp(args[0])
	return err
}

func checkSliceStr(args []string) error {
	if err := expectArgs("slice_str", args, 2); err != nil {
		return err
	}
	_, _, err := sliceBounds(args)
	return err
}

func checkClamp(args []string) error {
	if err := expectArgs("clamp", args, 2); err != nil {
		return err
	}
	_, _, err := clampBounds(args)
	return err
}

func replaceStr(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("replace_str", args, 2); err != nil {
		return nil, err
	}
	return strings.ReplaceAll(stringify(value), args[0], args[1]), nil
}

func sliceBounds(args []string) (int, int, error) {
	start, err1 := strconv.Atoi(args[0])
	end, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return 0, 0, argErr("slice_str", "bounds must be integers: %v %v", args[0], args[1])
	}
	return start, end, nil
}

func sliceStr(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("slice_str", args, 2); err != nil {
		return nil, err
	}
	start, end, err := sliceBounds(args)
	if err != nil {
		return nil, err
	}
	s := stringify(value)
	if start < 0 || end > len(s) || start > end {
		return nil, argErr("slice_str", "bounds [%d:%d] out of range for %q", start, end, s)
	}
	return s[start:end], nil
}

func removeExtension(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("remove_extension", args, 0); err != nil {
		return nil, err
	}
	s := stringify(value)
	return strings.TrimSuffix(s, filepath.Ext(s)), nil
}

func csvList(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("csv_list", args, 0); err != nil {
		return nil, err
	}
	if list, ok := value.([]interface{}); ok {
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ","), nil
	}
	return stringify(value), nil
}

func clampBounds(args []string) (float64, float64, error) {
	min, err1 := strconv.ParseFloat(args[0], 64)
	max, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, argErr("clamp", "bounds must be numbers: %v %v", args[0], args[1])
	}
	return min, max, nil
}

func clamp(args []string, value interface{}) (interface{}, error) {
	if err := expectArgs("clamp", args, 2); err != nil {
		return nil, err
	}
	min, max, err := clampBounds(args)
	if err != nil {
		return nil, err
	}
	v, err := asFloat("clamp", value)
	if err != nil {
		return nil, err
	}
	return math.Min(max, math.Max(min, v)), nil
}

// roundGeometry rounds every coordinate to the given number of decimals.
func roundGeometry(g geom.Geometry, decimals int) (geom.Geometry, error) {
	factor := math.Pow10(decimals)
	round := func(v float64) float64 { return math.Round(v*factor) / factor }
	roundPt := func(pt [2]float64) [2]float64 { return [2]float64{round(pt[0]), round(pt[1])} }
	roundLine := func(line [][2]float64) [][2]float64 {
		out := make([][2]float64, len(line))
		for i, pt := range line {
			out[i] = roundPt(pt)
		}
		return out
	}
	roundLines := func(lines [][][2]float64) [][][2]float64 {
		out := make([][][2]float64, len(lines))
		for i, line := range lines {
			out[i] = roundLine(line)
		}
		return out
	}

	switch g := g.(type) {
	case geom.Point:
		return geom.Point(roundPt(g)), nil
	case geom.MultiPoint:
		return geom.MultiPoint(roundLine(g)), nil
	case geom.LineString:
		return geom.LineString(roundLine(g)), nil
	case geom.MultiLineString:
		return geom.MultiLineString(roundLines(g)), nil
	case geom.Polygon:
		return geom.Polygon(roundLines(g)), nil
	case geom.MultiPolygon:
		out := make(geom.MultiPolygon, len(g))
		for i, poly := range g {
			out[i] = roundLines(poly)
		}
		return out, nil
	case geom.Extent:
		return geom.Extent{round(g[0]), round(g[1]), round(g[2]), round(g[3])}, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
}
