package form

import (
	"errors"
	"net/url"
	"slices"

	"github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/service"
)

var (
	ErrKeysChanged = errors.New("top-level keys cannot be added or removed")
	ErrInvalidJSON = errors.New("content is not valid JSON")
)

// Editor guards a structured value while it is edited in the tree editor.
// An existing object is key-locked: its top-level key set may not change.
type Editor struct {
	locked  bool
	keys    []string
	value   any
	notices []string
}

// NewEditor starts an editing session on the stored value of a field. Objects
// are key-locked, arrays are not.
func NewEditor(initial any) *Editor {
	e := &Editor{value: initial}

	if obj, ok := initial.(map[string]any); ok {
		e.locked = true
		e.keys = sortedKeys(obj)
	}

	return e
}

// NewCreateEditor starts a session on a value that is not stored yet, so
// keys may be added freely.
func NewCreateEditor(initial any) *Editor {
	return &Editor{value: initial}
}

func (e *Editor) Locked() bool {
	return e.locked
}

// Apply offers a new value from the tree editor. A candidate that breaks the
// key set is rejected and the last valid value is kept.
func (e *Editor) Apply(candidate any) error {
	if s, ok := candidate.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			e.notices = append(e.notices, ErrInvalidJSON.Error())
			return ErrInvalidJSON
		}
		candidate = parsed
	}

	if e.locked {
		obj, ok := candidate.(map[string]any)
		if !ok || !slices.Equal(e.keys, sortedKeys(obj)) {
			e.notices = append(e.notices, "You cannot add or remove keys in this field")
			return ErrKeysChanged
		}
	}

	e.value = candidate

	return nil
}

// Value is the last value that passed the guard.
func (e *Editor) Value() any {
	return e.value
}

// Notices are the rejection messages recorded during the session.
func (e *Editor) Notices() []string {
	return slices.Clone(e.notices)
}

// GuardEdits runs the posted text of every key-locked json field of a stored
// record through an Editor. A rejected field is put back to its stored value
// in rec and reported with the editor's notice.
func GuardEdits(sch service.Schema, stored, rec service.Record, posted url.Values) FieldErrors {
	rejected := FieldErrors{}

	for _, f := range sch.Fields {
		if f.Kind != service.KindJSON || !posted.Has(f.Name) {
			continue
		}

		initial, ok := jsonObject(stored[f.Name])
		if !ok {
			continue
		}

		e := NewEditor(initial)
		if err := e.Apply(posted.Get(f.Name)); err != nil {
			notices := e.Notices()
			rejected[f.Name] = notices[len(notices)-1]

			if rec != nil {
				rec[f.Name] = stored[f.Name]
			}
		}
	}

	return rejected
}

// jsonObject returns v as an object, decoding text columns that hold one.
func jsonObject(v any) (map[string]any, bool) {
	if text, ok := v.(string); ok {
		var parsed map[string]any
		if json.Unmarshal([]byte(text), &parsed) != nil || parsed == nil {
			return nil, false
		}

		return parsed, true
	}

	obj, ok := v.(map[string]any)

	return obj, ok
}
