package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/service"
)

// scanRecords reads all rows into records, keeping the column order of the
// result set.
func scanRecords(rows *sql.Rows) ([]string, []service.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}

	var records []service.Record

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		rec := make(service.Record, len(cols))
		for i, c := range cols {
			rec[c] = decodeValue(types[i].DatabaseTypeName(), values[i])
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return cols, records, nil
}

// decodeValue turns a driver value into the dynamic value the console works
// with, using the declared column type where the driver returns raw text.
func decodeValue(dbType string, v any) any {
	dbType = strings.ToUpper(dbType)

	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return decodeText(dbType, string(val))
	case string:
		return decodeText(dbType, val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int64:
		if isBoolType(dbType) {
			return val != 0
		}
		return val
	}

	return v
}

func decodeText(dbType, s string) any {
	switch {
	case dbType == "JSON" || dbType == "JSONB":
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return s
		}
		return out
	case dbType == "NUMERIC" || dbType == "DECIMAL" || dbType == "MONEY":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return s
		}
		return f
	}

	return s
}

func isBoolType(dbType string) bool {
	return dbType == "BOOLEAN" || dbType == "BOOL" || dbType == "BIT"
}

// encodeValue prepares a record value as a bind argument. Objects and lists
// are stored as JSON text.
func encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case float64:
		if val == float64(int64(val)) {
			return int64(val), nil
		}
		return val, nil
	}

	return v, nil
}
