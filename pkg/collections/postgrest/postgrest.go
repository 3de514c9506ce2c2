// Package postgrest is a client for the PostgREST query interface of a
// managed Postgres service, e.g. https://<project>.supabase.co/rest/v1.
package postgrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

const (
	APIKeyHeader = "apikey"
	RestPath     = "/rest/v1"
)

var _ service.CollectionStorage = &Client{}

// TokenFunc returns the bearer token of the signed in user, if any, so row
// level security applies to their requests.
type TokenFunc func(ctx context.Context) string

type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	schema  string
	idField string
	token   TokenFunc
}

type Option func(*Client)

func WithTokenFunc(fn TokenFunc) Option {
	return func(c *Client) {
		c.token = fn
	}
}

// WithSchema selects a Postgres schema other than the exposed default.
func WithSchema(schema string) Option {
	return func(c *Client) {
		c.schema = schema
	}
}

func WithIDField(name string) Option {
	return func(c *Client) {
		c.idField = name
	}
}

func New(baseURL, apiKey string, client *http.Client, opts ...Option) *Client {
	c := &Client{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		idField: "id",
		token:   func(context.Context) string { return "" },
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is the error document PostgREST answers with.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest: %d %s: %s", e.Status, e.Code, e.Message)
	}

	return fmt.Sprintf("postgrest: %d: %s", e.Status, e.Message)
}

func (c *Client) Select(ctx context.Context, collection string, filter service.Filter) (*service.Page, error) {
	const op errs.Op = "postgrest.Select"

	params := url.Values{}
	params.Set("select", "*")

	or, ok := searchFilter(filter)
	if !ok {
		return &service.Page{}, nil
	}

	if or != "" {
		params.Set("or", or)
	}

	if filter.SortField != "" {
		direction := "desc"
		if filter.Ascending {
			direction = "asc"
		}
		params.Set("order", filter.SortField+"."+direction)
	}

	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
		params.Set("offset", strconv.Itoa(filter.Offset))
	}

	res, body, err := c.do(ctx, http.MethodGet, collection, params, nil, "count=exact")
	if err != nil {
		// An offset past the last row is answered with 416 and a
		// "*/<total>" range. That is an empty page, not a failure.
		if res != nil && res.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			total, _ := contentRangeTotal(res.Header.Get("Content-Range"))
			return &service.Page{Total: total}, nil
		}

		return nil, errs.E(op, err)
	}

	keys, rows, err := decodeRows(body)
	if err != nil {
		return nil, errs.E(errs.IO, op, fmt.Errorf("decoding rows: %w", err))
	}

	total, ok := contentRangeTotal(res.Header.Get("Content-Range"))
	if !ok {
		total = filter.Offset + len(rows)
	}

	return &service.Page{
		Rows:  rows,
		Keys:  keys,
		Total: total,
	}, nil
}

// searchFilter renders the or=(...) filter. Text columns are matched with
// ilike. PostgREST cannot pattern match integer columns, so those are
// compared for equality when the term is a number. ok is false when no
// column can match the term.
func searchFilter(filter service.Filter) (string, bool) {
	if filter.Search == "" {
		return "", true
	}

	term := quoteValue("*" + strings.ReplaceAll(filter.Search, "*", "") + "*")
	number, numErr := strconv.ParseInt(strings.TrimSpace(filter.Search), 10, 64)

	var conds []string
	for _, f := range filter.SearchFields {
		switch f.Kind {
		case service.KindString:
			conds = append(conds, f.Name+".ilike."+term)
		case service.KindInteger:
			if numErr == nil {
				conds = append(conds, f.Name+".eq."+strconv.FormatInt(number, 10))
			}
		case service.KindDecimal, service.KindBoolean, service.KindDatetime, service.KindJSON, service.KindArray:
		}
	}

	if len(conds) == 0 {
		return "", false
	}

	return "(" + strings.Join(conds, ",") + ")", true
}

// quoteValue wraps a filter value in double quotes when it contains
// characters that are reserved in PostgREST's logical filter syntax.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, `,.:()"\ `) {
		return v
	}

	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)

	return `"` + r.Replace(v) + `"`
}

func (c *Client) Get(ctx context.Context, collection, id string) (*service.OrderedRecord, error) {
	const op errs.Op = "postgrest.Get"

	params := url.Values{}
	params.Set("select", "*")
	params.Set(c.idField, "eq."+id)

	_, body, err := c.do(ctx, http.MethodGet, collection, params, nil, "")
	if err != nil {
		return nil, errs.E(op, err)
	}

	keys, rows, err := decodeRows(body)
	if err != nil {
		return nil, errs.E(errs.IO, op, fmt.Errorf("decoding rows: %w", err))
	}

	if len(rows) == 0 {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s not found", collection, id))
	}

	return &service.OrderedRecord{Keys: keys, Values: rows[0]}, nil
}

func (c *Client) Insert(ctx context.Context, collection string, record service.Record) (service.Record, error) {
	const op errs.Op = "postgrest.Insert"

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, errs.E(errs.Invalid, op, err)
	}

	_, body, err := c.do(ctx, http.MethodPost, collection, nil, payload, "return=representation")
	if err != nil {
		return nil, errs.E(op, err)
	}

	return firstRow(op, body, collection, "")
}

func (c *Client) Update(ctx context.Context, collection, id string, record service.Record) (service.Record, error) {
	const op errs.Op = "postgrest.Update"

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, errs.E(errs.Invalid, op, err)
	}

	params := url.Values{}
	params.Set(c.idField, "eq."+id)

	_, body, err := c.do(ctx, http.MethodPatch, collection, params, payload, "return=representation")
	if err != nil {
		return nil, errs.E(op, err)
	}

	return firstRow(op, body, collection, id)
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	const op errs.Op = "postgrest.Delete"

	params := url.Values{}
	params.Set(c.idField, "eq."+id)

	_, body, err := c.do(ctx, http.MethodDelete, collection, params, nil, "return=representation")
	if err != nil {
		return errs.E(op, err)
	}

	_, err = firstRow(op, body, collection, id)

	return err
}

func firstRow(op errs.Op, body []byte, collection, id string) (service.Record, error) {
	_, rows, err := decodeRows(body)
	if err != nil {
		return nil, errs.E(errs.IO, op, fmt.Errorf("decoding rows: %w", err))
	}

	if len(rows) == 0 {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s not found", collection, id))
	}

	return rows[0], nil
}

func (c *Client) do(ctx context.Context, method, collection string, params url.Values, payload []byte, prefer string) (*http.Response, []byte, error) {
	if !database.ValidIdentifier(collection) {
		return nil, nil, errs.E(errs.InvalidRequest, errs.Parameter("collection"), fmt.Errorf("invalid collection name %q", collection))
	}

	u := c.baseURL + RestPath + "/" + collection
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, errs.E(errs.Internal, fmt.Errorf("creating request: %w", err))
	}

	c.setHeaders(ctx, req, method, prefer)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, nil, errs.E(errs.IO, fmt.Errorf("sending request: %w", err))
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, errs.E(errs.IO, fmt.Errorf("reading response: %w", err))
	}

	if res.StatusCode >= http.StatusBadRequest {
		return res, nil, classify(res.StatusCode, data)
	}

	return res, data, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, method, prefer string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	bearer := c.token(ctx)
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	if c.schema != "" {
		if method == http.MethodGet || method == http.MethodHead {
			req.Header.Set("Accept-Profile", c.schema)
		} else {
			req.Header.Set("Content-Profile", c.schema)
		}
	}
}

func classify(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusConflict || apiErr.Code == "23505":
		return errs.E(errs.Exist, apiErr)
	case status == http.StatusUnauthorized:
		return errs.E(errs.Unauthenticated, apiErr)
	case status == http.StatusForbidden:
		return errs.E(errs.Unauthorized, apiErr)
	case status == http.StatusNotFound || apiErr.Code == "42P01":
		return errs.E(errs.NotExist, apiErr)
	case status == http.StatusRequestedRangeNotSatisfiable:
		return errs.E(errs.InvalidRequest, errs.Parameter("page"), apiErr)
	case status < http.StatusInternalServerError:
		return errs.E(errs.InvalidRequest, apiErr)
	default:
		return errs.E(errs.IO, apiErr)
	}
}

// IsAPIError reports whether err carries a PostgREST error document.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)

	return apiErr, ok
}

// contentRangeTotal reads the total from a "0-9/23" or "*/23" Content-Range
// header.
func contentRangeTotal(h string) (int, bool) {
	i := strings.LastIndex(h, "/")
	if i < 0 {
		return 0, false
	}

	n, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0, false
	}

	return n, true
}
