package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/form"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core/transport"
)

// ListDefaults fill in the query parameters a list request leaves out.
type ListDefaults struct {
	PageSize      int
	SortField     string
	SortAscending bool
}

type CollectionHandler struct {
	service  service.CollectionService
	defaults ListDefaults
}

type FormResponse struct {
	Collection string         `json:"collection"`
	Mode       form.Mode      `json:"mode"`
	Title      string         `json:"title"`
	Widgets    []form.Widget  `json:"widgets"`
	Record     service.Record `json:"record,omitempty"`
}

func (h *CollectionHandler) List(ctx context.Context, r *http.Request, _ any) (*service.ListResult, error) {
	const op errs.Op = "CollectionHandler.List"

	q, err := ParseQueryState(r, h.defaults)
	if err != nil {
		return nil, errs.E(op, err)
	}

	return h.service.List(ctx, chi.URLParamFromCtx(ctx, "collection"), q)
}

func (h *CollectionHandler) Get(ctx context.Context, _ *http.Request, _ any) (*service.RecordResult, error) {
	return h.service.Get(ctx, chi.URLParamFromCtx(ctx, "collection"), chi.URLParamFromCtx(ctx, "id"))
}

func (h *CollectionHandler) Create(ctx context.Context, _ *http.Request, in service.Record) (*transport.Created, error) {
	rec, err := h.service.Create(ctx, chi.URLParamFromCtx(ctx, "collection"), in)
	if err != nil {
		return nil, err
	}

	return transport.NewCreated(rec), nil
}

func (h *CollectionHandler) Update(ctx context.Context, _ *http.Request, in service.Record) (service.Record, error) {
	return h.service.Update(ctx, chi.URLParamFromCtx(ctx, "collection"), chi.URLParamFromCtx(ctx, "id"), in)
}

func (h *CollectionHandler) Delete(ctx context.Context, _ *http.Request, _ any) (*transport.Empty, error) {
	err := h.service.Delete(ctx, chi.URLParamFromCtx(ctx, "collection"), chi.URLParamFromCtx(ctx, "id"))
	if err != nil {
		return nil, err
	}

	return &transport.Empty{}, nil
}

// Form renders the widgets of the add, edit or view form of a collection.
func (h *CollectionHandler) Form(ctx context.Context, r *http.Request, _ any) (*FormResponse, error) {
	const op errs.Op = "CollectionHandler.Form"

	collection := chi.URLParamFromCtx(ctx, "collection")

	mode, err := form.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("mode"), err)
	}

	id := r.URL.Query().Get("id")
	if mode != form.ModeCreate && id == "" {
		return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("id"), errs.Str("id is required to edit or view a record"))
	}

	resp := &FormResponse{
		Collection: collection,
		Mode:       mode,
		Title:      form.PageTitle(collection, mode),
	}

	if mode == form.ModeCreate {
		sch, err := h.service.Schema(ctx, collection)
		if err != nil {
			return nil, errs.E(op, err)
		}

		resp.Widgets = form.RenderForm(sch, nil, mode)

		return resp, nil
	}

	res, err := h.service.Get(ctx, collection, id)
	if err != nil {
		return nil, errs.E(op, err)
	}

	resp.Widgets = form.RenderForm(res.Schema, res.Record, mode)
	resp.Record = res.Record

	return resp, nil
}

// ParseQueryState reads page, size, search, sort and asc from the query
// string.
func ParseQueryState(r *http.Request, d ListDefaults) (service.QueryState, error) {
	const op errs.Op = "handlers.ParseQueryState"

	values := r.URL.Query()

	q := service.QueryState{
		PageSize:      d.PageSize,
		Search:        values.Get("search"),
		SortField:     d.SortField,
		SortAscending: d.SortAscending,
	}

	if v := values.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, errs.E(errs.InvalidRequest, op, errs.Parameter("page"), errs.Str("page must be a number"))
		}
		q.PageIndex = n
	}

	if v := values.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, errs.E(errs.InvalidRequest, op, errs.Parameter("size"), errs.Str("size must be a number"))
		}
		q.PageSize = n
	}

	if values.Has("sort") {
		q.SortField = values.Get("sort")
		q.SortAscending = false
	}

	if v := values.Get("asc"); v != "" {
		asc, err := strconv.ParseBool(v)
		if err != nil {
			return q, errs.E(errs.InvalidRequest, op, errs.Parameter("asc"), errs.Str("asc must be true or false"))
		}
		q.SortAscending = asc
	}

	if err := q.Validate(); err != nil {
		return q, errs.E(errs.InvalidRequest, op, err)
	}

	return q, nil
}

func NewCollectionHandler(s service.CollectionService, defaults ListDefaults) *CollectionHandler {
	return &CollectionHandler{
		service:  s,
		defaults: defaults,
	}
}
