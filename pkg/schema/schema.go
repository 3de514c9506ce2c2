// Package schema infers a column model for an arbitrary collection from a
// sample record.
//
// Inference runs once per view, on the first page of results. A column's
// kind is never re-inferred per row, so a field that happens to be null in
// the sample is a string for the whole view.
package schema

import (
	"encoding/json"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/service"
)

// ReservedPrefix marks internal fields that are never rendered.
const ReservedPrefix = "_"

var identityFields = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
}

// dateLayouts are tried in order when deciding whether a string is a
// calendar date or time.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

// IsReserved reports whether a field is internal (reserved prefix) or an
// identity/timestamp field.
func IsReserved(name string) bool {
	if strings.HasPrefix(name, ReservedPrefix) {
		return true
	}

	_, ok := identityFields[name]

	return ok
}

// InferKind derives the kind of a single value. It never panics and always
// returns one of the seven kinds.
func InferKind(v any) service.FieldKind {
	switch val := v.(type) {
	case nil:
		return service.KindString
	case bool:
		return service.KindBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return service.KindInteger
	case float32:
		return numberKind(float64(val))
	case float64:
		return numberKind(val)
	case json.Number:
		return jsonNumberKind(val.String())
	case string:
		return stringKind(val)
	case []byte:
		return stringKind(string(val))
	case time.Time:
		return service.KindDatetime
	case []any:
		return service.KindArray
	case map[string]any:
		return service.KindJSON
	}

	return reflectKind(v)
}

func numberKind(f float64) service.FieldKind {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return service.KindDecimal
	}

	if f == math.Trunc(f) {
		return service.KindInteger
	}

	return service.KindDecimal
}

func jsonNumberKind(s string) service.FieldKind {
	var f float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return service.KindString
	}

	return numberKind(f)
}

func stringKind(s string) service.FieldKind {
	if IsDate(s) {
		return service.KindDatetime
	}

	if IsStructuredJSON(s) {
		return service.KindJSON
	}

	return service.KindString
}

func reflectKind(v any) service.FieldKind {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return service.KindString
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return service.KindArray
	case reflect.Map, reflect.Struct:
		return service.KindJSON
	case reflect.Bool:
		return service.KindBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return service.KindInteger
	case reflect.Float32, reflect.Float64:
		return numberKind(rv.Float())
	case reflect.String:
		return stringKind(rv.String())
	default:
		return service.KindString
	}
}

// IsDate reports whether s parses as a calendar date or date-time.
func IsDate(s string) bool {
	_, ok := ParseDate(s)

	return ok
}

// ParseDate parses s with the known date layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02") {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// IsStructuredJSON reports whether s is a JSON object or array.
func IsStructuredJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}

	return gojson.Valid([]byte(s))
}

// Derive builds a schema from a sample record, walking keys in the given
// order. A nil or empty sample yields an empty schema.
func Derive(keys []string, sample service.Record) service.Schema {
	if len(sample) == 0 {
		return service.Schema{}
	}

	if len(keys) == 0 {
		keys = SortedKeys(sample)
	}

	fields := make([]service.Field, 0, len(keys))
	for _, k := range keys {
		if IsReserved(k) {
			continue
		}

		v, ok := sample[k]
		if !ok {
			continue
		}

		fields = append(fields, service.Field{Name: k, Kind: InferKind(v)})
	}

	return service.Schema{Fields: fields}
}

// DeriveSchema derives a schema from an ordered sample record.
func DeriveSchema(sample *service.OrderedRecord) service.Schema {
	if sample == nil {
		return service.Schema{}
	}

	return Derive(sample.Keys, sample.Values)
}

// DeriveFromPage derives a schema from the first row of a page only.
func DeriveFromPage(page *service.Page) service.Schema {
	if page == nil || len(page.Rows) == 0 {
		return service.Schema{}
	}

	return Derive(page.Keys, page.Rows[0])
}

// DeriveFromRows derives a schema from rows[0] of an unordered result.
func DeriveFromRows(rows []service.Record) service.Schema {
	if len(rows) == 0 {
		return service.Schema{}
	}

	return Derive(nil, rows[0])
}

// SortedKeys is the fallback order for records whose store does not report
// key order; maps in Go have no natural iteration order.
func SortedKeys(r service.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// Searchable reports whether a field of this kind takes part in free text
// search. Structured kinds never do.
func Searchable(k service.FieldKind) bool {
	switch k {
	case service.KindString, service.KindInteger:
		return true
	case service.KindDecimal, service.KindBoolean, service.KindDatetime, service.KindJSON, service.KindArray:
		return false
	}

	return false
}

// Sortable reports whether a column of this kind offers the sort control.
func Sortable(k service.FieldKind) bool {
	switch k {
	case service.KindString, service.KindInteger, service.KindDecimal, service.KindBoolean, service.KindDatetime:
		return true
	case service.KindJSON, service.KindArray:
		return false
	}

	return false
}

// SearchFields returns the searchable fields of s, optionally restricted to
// the configured names. Configured names that are not searchable by kind
// are dropped.
func SearchFields(s service.Schema, configured []string) []service.Field {
	allowed := map[string]bool{}
	for _, c := range configured {
		allowed[c] = true
	}

	var out []service.Field
	for _, f := range s.Fields {
		if len(allowed) > 0 && !allowed[f.Name] {
			continue
		}

		if Searchable(f.Kind) {
			out = append(out, f)
		}
	}

	return out
}

// Static builds a schema from a configured name->kind mapping in the given
// order. Unknown kinds fall back to string; reserved names are dropped.
func Static(order []string, kinds map[string]string) service.Schema {
	fields := make([]service.Field, 0, len(order))
	for _, name := range order {
		if IsReserved(name) {
			continue
		}

		k, err := service.ParseFieldKind(kinds[name])
		if err != nil {
			k = service.KindString
		}

		fields = append(fields, service.Field{Name: name, Kind: k})
	}

	return service.Schema{Fields: fields}
}
