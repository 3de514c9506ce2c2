package service

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// FieldKind is the semantic data type inferred for a column. It drives both
// how a value is rendered in a list and which input widget edits it.
type FieldKind string

const (
	KindString   FieldKind = "string"
	KindInteger  FieldKind = "integer"
	KindDecimal  FieldKind = "decimal"
	KindBoolean  FieldKind = "boolean"
	KindDatetime FieldKind = "datetime"
	KindJSON     FieldKind = "json"
	KindArray    FieldKind = "array"
)

// AllKinds lists every FieldKind, in declaration order.
var AllKinds = []FieldKind{
	KindString,
	KindInteger,
	KindDecimal,
	KindBoolean,
	KindDatetime,
	KindJSON,
	KindArray,
}

func (k FieldKind) Valid() bool {
	switch k {
	case KindString, KindInteger, KindDecimal, KindBoolean, KindDatetime, KindJSON, KindArray:
		return true
	}

	return false
}

// Structured reports whether values of this kind are edited with the
// structured (tree) editor rather than a scalar input.
func (k FieldKind) Structured() bool {
	switch k {
	case KindJSON, KindArray:
		return true
	case KindString, KindInteger, KindDecimal, KindBoolean, KindDatetime:
		return false
	}

	return false
}

// ParseFieldKind parses the lower-case name of a kind.
func ParseFieldKind(s string) (FieldKind, error) {
	k := FieldKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown field kind %q", s)
	}

	return k, nil
}

// Field describes a single column of a collection.
type Field struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// Schema is the ordered set of editable fields of a collection. The order is
// the key order of the sample the schema was derived from and never changes
// afterwards.
type Schema struct {
	Fields []Field `json:"fields"`
}

func NewSchema(fields ...Field) Schema {
	out := make([]Field, len(fields))
	copy(out, fields)

	return Schema{Fields: out}
}

// Empty means no columns are known yet; it is not an error.
func (s Schema) Empty() bool {
	return len(s.Fields) == 0
}

func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}

	return names
}

// Record is one row or document of a collection. Values are dynamically
// typed: string, number, bool, nil, map[string]any or []any.
type Record map[string]any

// ID returns the identity of the record as a string, or "" if it has none.
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}

	return fmt.Sprint(v)
}

// OrderedRecord is a record that remembers the order its keys arrived in,
// so schemas derived from it follow the natural column order of the store.
type OrderedRecord struct {
	Keys   []string
	Values Record
}

// QueryState fully determines the next page fetch of a list view.
type QueryState struct {
	PageIndex     int    `json:"pageIndex"`
	PageSize      int    `json:"pageSize"`
	Search        string `json:"search"`
	SortField     string `json:"sortField,omitempty"`
	SortAscending bool   `json:"sortAscending"`
}

func (q QueryState) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.PageIndex, validation.Min(0)),
		validation.Field(&q.PageSize, validation.Required, validation.Min(1), validation.Max(MaxPageSize)),
	)
}

func (q QueryState) Offset() int {
	return q.PageIndex * q.PageSize
}

// MaxPageSize bounds a single page request.
const MaxPageSize = 1000

// Page is the result of one page fetch.
type Page struct {
	Rows []Record `json:"rows"`
	// Keys holds the key order of the first row, when the store knows it.
	Keys  []string `json:"-"`
	Total int      `json:"total"`
}

// PageCount is the number of pages needed to show total rows.
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}

	return (total + pageSize - 1) / pageSize
}

// ExpectedRows is the number of rows a page at pageIndex holds when the
// collection has total rows.
func ExpectedRows(pageIndex, pageSize, total int) int {
	offset := pageIndex * pageSize
	if offset >= total {
		return 0
	}

	return min(pageSize, total-offset)
}

// Filter is the store-level query derived from a QueryState and a Schema.
type Filter struct {
	Search       string
	SearchFields []Field
	SortField    string
	Ascending    bool
	Offset       int
	Limit        int
}

// CollectionStorage is the external data store the console passes every
// data operation through.
type CollectionStorage interface {
	Select(ctx context.Context, collection string, filter Filter) (*Page, error)
	Get(ctx context.Context, collection, id string) (*OrderedRecord, error)
	Insert(ctx context.Context, collection string, record Record) (Record, error)
	Update(ctx context.Context, collection, id string, record Record) (Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// CollectionPolicy is the per-collection configuration of the console.
type CollectionPolicy struct {
	Deletable    bool
	StaticSchema Schema
	SearchFields []string
	SlugFrom     string
}

type CollectionService interface {
	List(ctx context.Context, collection string, q QueryState) (*ListResult, error)
	Get(ctx context.Context, collection, id string) (*RecordResult, error)
	Create(ctx context.Context, collection string, in Record) (Record, error)
	Update(ctx context.Context, collection, id string, in Record) (Record, error)
	Delete(ctx context.Context, collection, id string) error
	Schema(ctx context.Context, collection string) (Schema, error)
	Policy(collection string) CollectionPolicy
}

// ListResult is a page of rows together with the schema used to render it.
type ListResult struct {
	Collection string     `json:"collection"`
	Query      QueryState `json:"query"`
	Schema     Schema     `json:"schema"`
	Rows       []Record   `json:"rows"`
	Total      int        `json:"total"`
	PageCount  int        `json:"pageCount"`
	Deletable  bool       `json:"deletable"`
}

type RecordResult struct {
	Collection string `json:"collection"`
	Schema     Schema `json:"schema"`
	Record     Record `json:"record"`
}
