package form

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/schema"
	"github.com/alris/cms-backend/pkg/service"
)

// Coerce converts a value received over the JSON API into the value written
// to the store for a field of the given kind. Numbers that fail to parse
// become 0; structured values pass through.
func Coerce(kind service.FieldKind, raw any) (any, error) {
	switch kind {
	case service.KindBoolean:
		return coerceBool(raw)
	case service.KindDatetime:
		return coerceDatetime(raw)
	case service.KindDecimal:
		return toFloat(raw), nil
	case service.KindInteger:
		return toInt(raw), nil
	case service.KindJSON:
		return coerceObject(raw)
	case service.KindArray:
		return coerceArray(raw)
	case service.KindString:
		return raw, nil
	}

	return raw, nil
}

// CoerceForm converts the text of an HTML form post for a field.
func CoerceForm(kind service.FieldKind, s string) (any, error) {
	switch kind {
	case service.KindBoolean:
		b, _ := parseBool(s)
		return b, nil
	case service.KindDatetime:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return coerceDatetime(s)
	case service.KindDecimal:
		return toFloat(s), nil
	case service.KindInteger:
		return toInt(s), nil
	case service.KindJSON:
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		return coerceObject(s)
	case service.KindArray:
		if strings.TrimSpace(s) == "" {
			return []any{}, nil
		}
		return coerceArray(s)
	case service.KindString:
		return s, nil
	}

	return s, nil
}

// CoerceRecord coerces every field of in that the schema knows. Reserved
// fields are dropped. Fields unknown to the schema pass through unchanged,
// which lets the first record of an empty collection be written.
func CoerceRecord(s service.Schema, in service.Record) (service.Record, error) {
	const op errs.Op = "form.CoerceRecord"

	out := service.Record{}
	fe := FieldErrors{}

	for k, v := range in {
		if schema.IsReserved(k) {
			continue
		}

		f, ok := s.Lookup(k)
		if !ok {
			out[k] = v
			continue
		}

		c, err := Coerce(f.Kind, v)
		if err != nil {
			fe[k] = err.Error()
			continue
		}

		out[k] = c
	}

	if len(fe) > 0 {
		return nil, errs.E(errs.Validation, op, fe)
	}

	return out, nil
}

// CoerceValues reads a posted HTML form. Toggles that are absent from the
// post are unchecked and coerce to false.
func CoerceValues(s service.Schema, values url.Values) (service.Record, FieldErrors) {
	out := service.Record{}
	fe := FieldErrors{}

	for _, f := range s.Fields {
		if !values.Has(f.Name) && f.Kind != service.KindBoolean {
			continue
		}

		v, err := CoerceForm(f.Kind, values.Get(f.Name))
		if err != nil {
			fe[f.Name] = err.Error()
			continue
		}

		out[f.Name] = v
	}

	return out, fe
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes":
		return true, true
	case "off", "false", "0", "no", "":
		return false, true
	}

	return false, false
}

func coerceBool(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, ok := parseBool(v)
		if !ok {
			return nil, fmt.Errorf("must be true or false")
		}
		return b, nil
	case float64:
		return v != 0, nil
	}

	return nil, fmt.Errorf("must be true or false")
}

func coerceDatetime(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		t, ok := schema.ParseDate(v)
		if !ok {
			return nil, fmt.Errorf("must be a valid date")
		}
		return t.UTC().Format(time.RFC3339), nil
	}

	return nil, fmt.Errorf("must be a valid date")
}

// coerceObject accepts any structured JSON value. A json column may hold an
// object or a list, for example a text column whose sample was "[...]".
func coerceObject(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		var out any
		if err := gojson.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("must be valid JSON")
		}
		if !structured(out) {
			return nil, fmt.Errorf("must be a JSON object or list")
		}
		return out, nil
	}

	return raw, nil
}

func structured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}

	return false
}

func coerceArray(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		var out any
		if err := gojson.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("must be valid JSON")
		}
		if _, ok := out.([]any); !ok {
			return nil, fmt.Errorf("must be a list")
		}
		return out, nil
	}

	return raw, nil
}

func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}

	return 0
}

func toInt(raw any) int64 {
	switch v := raw.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(math.Trunc(v))
	case json.Number:
		return leadingInt(v.String())
	case string:
		return leadingInt(v)
	}

	return 0
}

// leadingInt parses the optionally signed run of digits at the start of s,
// so "12px" is 12 and "3.9" is 3.
func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)

	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}

	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	if end == digits {
		return 0
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}

	return n
}
