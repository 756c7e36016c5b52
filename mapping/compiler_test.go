package mapping

import (
	"strings"
	"testing"

	"github.com/geowatch/eogate/common"
	"gopkg.in/yaml.v3"
)

func parseTable(t *testing.T, raw string) Table {
	t.Helper()
	var table Table
	if err := yaml.Unmarshal([]byte(raw), &table); err != nil {
		t.Fatalf("unmarshal table: %v", err)
	}
	return table
}

func TestEntryForms(t *testing.T) {
	table := parseTable(t, `
title: "$.properties.title"
productType: ["producttype={productType}", "$.type"]
storageStatus:
  path: "$.properties.status#get_group_name((?P<ONLINE>available)|(?P<OFFLINE>archived))"
  required: true
`)
	if e := table["title"]; e.Query != "" || e.Path != "$.properties.title" {
		t.Errorf("scalar form: %+v", e)
	}
	if e := table["productType"]; e.Query != "producttype={productType}" || e.Path != "$.type" {
		t.Errorf("list form: %+v", e)
	}
	if e := table["storageStatus"]; !e.Required || !strings.Contains(e.Path, "get_group_name") {
		t.Errorf("map form: %+v", e)
	}
}

func TestBuildQueryAndParseRoundTrip(t *testing.T) {
	table := parseTable(t, `
productType: ["producttype={productType}", "$.type"]
id: "$.id"
`)
	compiled, err := Compile("peps", DialectJSON, NewRegistry(), table)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	params, err := compiled.BuildQuery(map[string]interface{}{"productType": "S2_MSI_L1C"})
	if err != nil {
		t.Fatalf("build query: %v", err)
	}
	if params.Get("producttype") != "S2_MSI_L1C" {
		t.Errorf("expected producttype=S2_MSI_L1C, got %s", params.Encode())
	}

	doc, err := compiled.DecodeDocument([]byte(`{"id":"uuid-1","type":"S2_MSI_L1C"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	properties, err := compiled.ParseResult(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if properties["productType"] != "S2_MSI_L1C" || properties["id"] != "uuid-1" {
		t.Errorf("round trip lost fields: %v", properties)
	}
}

func TestParseResultStorageStatus(t *testing.T) {
	table := parseTable(t, `
storageStatus: "$.properties.status#get_group_name((?P<ONLINE>available|online)|(?P<OFFLINE>archived))"
`)
	compiled, err := Compile("peps", DialectJSON, NewRegistry(), table)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	for raw, expected := range map[string]string{
		"archived":  "OFFLINE",
		"available": "ONLINE",
		"online":    "ONLINE",
	} {
		properties, err := compiled.ParseResult(jsonDoc(t, `{"properties":{"status":"`+raw+`"}}`))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if properties[common.PropertyStorageStatus] != expected {
			t.Errorf("status %s: expected %s, got %v", raw, expected, properties[common.PropertyStorageStatus])
		}
	}

	// unmatched raw status: the formatter yields NotAvailable, the field is
	// dropped and the product later defaults to ONLINE
	properties, err := compiled.ParseResult(jsonDoc(t, `{"properties":{"status":"weird"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := properties[common.PropertyStorageStatus]; ok {
		t.Errorf("expected unmatched status to be dropped, got %v", properties[common.PropertyStorageStatus])
	}
	if s := CanonicalStorageStatus(properties[common.PropertyStorageStatus]); s != common.StorageONLINE {
		t.Errorf("expected default ONLINE, got %s", s)
	}
}

func TestParseResultRequiredAndIsolation(t *testing.T) {
	table := parseTable(t, `
id:
  path: "$.id"
  required: true
startTimeFromAscendingNode: "$.start#to_iso_utc_datetime"
title: "$.title"
`)
	compiled, err := Compile("onda", DialectJSON, NewRegistry(), table)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// a field-level failure (unparseable date) drops the field, not the record
	properties, err := compiled.ParseResult(jsonDoc(t, `{"id":"a","start":"not a date","title":"T"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := properties["startTimeFromAscendingNode"]; ok {
		t.Errorf("expected malformed date field to be dropped")
	}
	if properties["title"] != "T" {
		t.Errorf("expected surviving fields, got %v", properties)
	}

	// a missing required field drops the record
	if _, err = compiled.ParseResult(jsonDoc(t, `{"title":"T"}`)); err == nil {
		t.Errorf("expected error on missing required field")
	}
}

func TestParseResultAll(t *testing.T) {
	table := parseTable(t, `
links:
  path: "$.links[*].href"
  all: true
`)
	compiled, err := Compile("stac", DialectJSON, NewRegistry(), table)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	properties, err := compiled.ParseResult(jsonDoc(t, `{"links":[{"href":"a"},{"href":"b"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	links, ok := properties["links"].([]interface{})
	if !ok || len(links) != 2 {
		t.Errorf("expected 2 links, got %v", properties["links"])
	}
}

func TestCompileFailsOnUnknownFormatter(t *testing.T) {
	table := parseTable(t, `
id: "$.id#no_such_formatter"
`)
	if _, err := Compile("peps", DialectJSON, NewRegistry(), table); err == nil {
		t.Errorf("expected compile-time error on unknown formatter")
	}
}

func TestCompileFailsOnMalformedFormatterArgs(t *testing.T) {
	// a bad regex fails when the mapping is compiled, not when a record is parsed
	table := parseTable(t, `
storageStatus: "$.status#get_group_name((?P<bad)"
`)
	if _, err := Compile("peps", DialectJSON, NewRegistry(), table); err == nil {
		t.Errorf("expected compile-time error on a malformed pattern")
	}

	table = parseTable(t, `
short:
  path: "$.id"
  formatters: [{name: slice_str, args: ["0", "x"]}]
`)
	if _, err := Compile("peps", DialectJSON, NewRegistry(), table); err == nil {
		t.Errorf("expected compile-time error on non-integer slice bounds")
	}

	// formatter references inside query templates are checked too
	table = parseTable(t, `
startTimeFromAscendingNode: ["start={startTimeFromAscendingNode#to_iso_date(spurious)}", "$.start"]
`)
	if _, err := Compile("peps", DialectJSON, NewRegistry(), table); err == nil {
		t.Errorf("expected compile-time error on a template formatter arity mismatch")
	}
}

func TestQueryableFields(t *testing.T) {
	table := parseTable(t, `
productType: ["producttype={productType}", "$.type"]
cloudCover: ["cloudCover=[0,{cloudCover}]", ""]
id: "$.id"
`)
	compiled, err := Compile("peps", DialectJSON, NewRegistry(), table)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	fields := compiled.QueryableFields()
	if len(fields) != 2 || fields[0] != "cloudCover" || fields[1] != "productType" {
		t.Errorf("expected the query-bound fields only, got %v", fields)
	}
}

func TestTableMergeOverride(t *testing.T) {
	base := parseTable(t, `
id: "$.id"
title: "$.title"
`)
	override := parseTable(t, `
title: "$.properties.name"
`)
	merged := base.Merge(override)
	if merged["title"].Path != "$.properties.name" {
		t.Errorf("expected override to win, got %+v", merged["title"])
	}
	if merged["id"].Path != "$.id" {
		t.Errorf("expected base entry to survive, got %+v", merged["id"])
	}
	if base["title"].Path != "$.title" {
		t.Errorf("merge must not mutate the base table")
	}
}

func TestCanonicalStorageStatusTotal(t *testing.T) {
	for _, raw := range []interface{}{"ONLINE", "offline", "Staging", "nonsense", 42, nil} {
		s := CanonicalStorageStatus(raw)
		if !s.IsAStorageStatus() {
			t.Errorf("status for %v is not canonical: %v", raw, s)
		}
	}
	if CanonicalStorageStatus("offline") != common.StorageOFFLINE {
		t.Errorf("case-insensitive parse failed")
	}
	if CanonicalStorageStatus("nonsense") != common.StorageONLINE {
		t.Errorf("unknown raw status must default to ONLINE")
	}
}
