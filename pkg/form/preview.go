package form

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alris/cms-backend/pkg/service"
)

const maxPreview = 80

// CellPreview is the one-line summary of a value shown in a list cell.
// Objects list each top-level entry; lists show their first item and a count.
func CellPreview(kind service.FieldKind, v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case map[string]any:
		return truncate(objectPreview(val))
	case []any:
		return truncate(listPreview(val))
	case string:
		if val == "" {
			return "-"
		}
		if kind.Structured() {
			return truncate(val)
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	}

	return scalarText(v)
}

func objectPreview(obj map[string]any) string {
	if len(obj) == 0 {
		return "{}"
	}

	parts := make([]string, 0, len(obj))
	for _, k := range sortedKeys(obj) {
		label := Label(k)

		switch val := obj[k].(type) {
		case []any:
			parts = append(parts, label+": "+listPreview(val))
		case map[string]any:
			parts = append(parts, label+": "+nestedPreview(val))
		default:
			parts = append(parts, fmt.Sprintf("%s: %s", label, scalarText(val)))
		}
	}

	return strings.Join(parts, " | ")
}

func nestedPreview(obj map[string]any) string {
	if len(obj) == 0 {
		return "{}"
	}

	first := sortedKeys(obj)[0]
	switch obj[first].(type) {
	case map[string]any, []any:
		return "View details"
	}

	return fmt.Sprintf("%s - %s", Label(first), scalarText(obj[first]))
}

func listPreview(list []any) string {
	if len(list) == 0 {
		return "No items"
	}

	switch list[0].(type) {
	case map[string]any, []any:
		return fmt.Sprintf("%d items", len(list))
	}

	first := scalarText(list[0])
	if len(list) == 1 {
		return first
	}

	return fmt.Sprintf("%s and %d more", first, len(list)-1)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxPreview {
		return s
	}

	return string(r[:maxPreview-3]) + "..."
}
