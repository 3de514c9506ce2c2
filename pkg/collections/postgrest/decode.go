package postgrest

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/service"
)

// decodeRows decodes a JSON array of rows, returning the key order of the
// first row alongside the rows themselves.
func decodeRows(body []byte) ([]string, []service.Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, err
	}

	var rows []service.Record
	for _, r := range raw {
		var rec service.Record
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, nil, err
		}

		rows = append(rows, rec)
	}

	if len(raw) == 0 {
		return nil, rows, nil
	}

	keys, err := objectKeys(raw[0])
	if err != nil {
		return nil, nil, err
	}

	return keys, rows, nil
}

// objectKeys lists the top-level keys of a JSON object in document order.
func objectKeys(data []byte) ([]string, error) {
	dec := stdjson.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if d, ok := tok.(stdjson.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected an object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key, got %v", tok)
		}
		keys = append(keys, key)

		var skip stdjson.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}

	return keys, nil
}
