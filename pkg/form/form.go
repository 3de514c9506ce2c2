// Package form turns a schema and a record into typed input widgets and
// coerces posted values back into record values.
package form

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/schema"
	"github.com/alris/cms-backend/pkg/service"
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
	ModeView   Mode = "view"
)

// ParseMode accepts the route names as well, so "add" is create.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "create", "add", "":
		return ModeCreate, nil
	case "edit":
		return ModeEdit, nil
	case "view":
		return ModeView, nil
	}

	return "", fmt.Errorf("unknown form mode %q", s)
}

type Control string

const (
	ControlToggle     Control = "toggle"
	ControlDatetime   Control = "datetime"
	ControlNumber     Control = "number"
	ControlStructured Control = "structured"
	ControlText       Control = "text"
)

// DatetimeLocalLayout is the value format of an HTML datetime-local input.
const DatetimeLocalLayout = "2006-01-02T15:04"

// Widget describes the input control for one field.
type Widget struct {
	Name        string            `json:"name"`
	Label       string            `json:"label"`
	Kind        service.FieldKind `json:"kind"`
	Control     Control           `json:"control"`
	InputType   string            `json:"inputType"`
	Step        string            `json:"step,omitempty"`
	Placeholder string            `json:"placeholder,omitempty"`
	ReadOnly    bool              `json:"readOnly"`
	KeyLocked   bool              `json:"keyLocked,omitempty"`
	Checked     bool              `json:"checked,omitempty"`
	Value       any               `json:"value"`
	InputValue  string            `json:"inputValue"`
	Preview     string            `json:"preview,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Render selects the widget for a field. View mode is always read-only.
func Render(field service.Field, value any, mode Mode) Widget {
	label := Label(field.Name)

	w := Widget{
		Name:     field.Name,
		Label:    label,
		Kind:     field.Kind,
		ReadOnly: mode == ModeView,
		Value:    value,
	}

	switch field.Kind {
	case service.KindBoolean:
		w.Control = ControlToggle
		w.InputType = "checkbox"
		w.Checked = truthy(value)
		w.InputValue = strconv.FormatBool(w.Checked)
	case service.KindDatetime:
		w.Control = ControlDatetime
		w.InputType = "datetime-local"
		w.InputValue = datetimeLocal(value)
	case service.KindDecimal:
		w.Control = ControlNumber
		w.InputType = "number"
		w.Step = "0.01"
		w.Placeholder = "Enter " + label
		w.InputValue = scalarText(value)
	case service.KindInteger:
		w.Control = ControlNumber
		w.InputType = "number"
		w.Step = "1"
		w.Placeholder = "Enter " + label
		w.InputValue = scalarText(value)
	case service.KindJSON, service.KindArray:
		w.Control = ControlStructured
		w.InputType = "hidden"
		w.InputValue = compactJSON(value)
		w.Preview = CellPreview(field.Kind, value)
		_, isObject := jsonObject(value)
		w.KeyLocked = mode == ModeEdit && field.Kind == service.KindJSON && isObject
	case service.KindString:
		w.Control = ControlText
		w.InputType = "text"
		w.Placeholder = "Enter " + label
		w.InputValue = scalarText(value)
	default:
		w.Control = ControlText
		w.InputType = "text"
		w.InputValue = scalarText(value)
	}

	return w
}

// RenderForm renders every schema field in schema order. Values missing from
// the record render empty.
func RenderForm(s service.Schema, record service.Record, mode Mode) []Widget {
	widgets := make([]Widget, 0, len(s.Fields))
	for _, f := range s.Fields {
		var v any
		if record != nil {
			v = record[f.Name]
		}

		widgets = append(widgets, Render(f, v, mode))
	}

	return widgets
}

// WithErrors attaches inline field errors to the widgets they concern.
func WithErrors(widgets []Widget, fe FieldErrors) []Widget {
	for i := range widgets {
		if msg, ok := fe[widgets[i].Name]; ok {
			widgets[i].Error = msg
		}
	}

	return widgets
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := parseBool(b)
		return parsed
	}

	return false
}

func datetimeLocal(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(DatetimeLocalLayout)
	case string:
		parsed, ok := schema.ParseDate(t)
		if !ok {
			return ""
		}
		return parsed.UTC().Format(DatetimeLocalLayout)
	}

	return ""
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		return compactJSON(val)
	}

	return fmt.Sprint(v)
}

func compactJSON(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}

	return string(b)
}
