package form

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/alris/cms-backend/pkg/service"
)

// FieldErrors maps a field name to the message shown next to its input.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "no field errors"
	}

	names := make([]string, 0, len(fe))
	for name := range fe {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, fe[name])
	}

	return strings.Join(parts, "; ")
}

func (fe FieldErrors) FieldErrors() map[string]string {
	return fe
}

// Validate checks a coerced record against the schema before it is sent to
// the store. In edit mode, json fields that were objects must stay objects
// with the same top-level key set. Lists are not key-locked.
func Validate(s service.Schema, record, original service.Record, mode Mode) FieldErrors {
	fe := FieldErrors{}

	for _, f := range s.Fields {
		v, ok := record[f.Name]
		if !ok || v == nil {
			continue
		}

		if msg := checkKind(f.Kind, v); msg != "" {
			fe[f.Name] = msg
			continue
		}

		if mode != ModeEdit || f.Kind != service.KindJSON || original == nil {
			continue
		}

		before, ok := jsonObject(original[f.Name])
		if !ok {
			continue
		}

		after, _ := v.(map[string]any)
		if !sameKeys(before, after) {
			fe[f.Name] = ErrKeysChanged.Error()
		}
	}

	return fe
}

func checkKind(kind service.FieldKind, v any) string {
	switch kind {
	case service.KindBoolean:
		if _, ok := v.(bool); !ok {
			return "must be true or false"
		}
	case service.KindInteger:
		switch n := v.(type) {
		case int, int64, int32:
		case float64:
			if n != float64(int64(n)) {
				return "must be a whole number"
			}
		default:
			return "must be a whole number"
		}
	case service.KindDecimal:
		switch v.(type) {
		case float64, float32, int, int64:
		default:
			return "must be a number"
		}
	case service.KindJSON:
		if !structured(v) {
			return "must be a JSON object or list"
		}
	case service.KindArray:
		if _, ok := v.([]any); !ok {
			return "must be a list"
		}
	case service.KindDatetime, service.KindString:
		if _, ok := v.(string); !ok {
			return "must be text"
		}
	}

	return ""
}

func sameKeys(a, b map[string]any) bool {
	return slices.Equal(sortedKeys(a), sortedKeys(b))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}
