package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service/core"
	"github.com/alris/cms-backend/pkg/service/core/transport"
	"github.com/alris/cms-backend/pkg/table"
)

type ViewResponse struct {
	ID string `json:"id"`
	table.Snapshot
}

type CollectionDto struct {
	Collection string `json:"collection"`
}

func (d CollectionDto) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Collection, validation.Required),
	)
}

type PageDto struct {
	Page int `json:"page"`
}

type PageSizeDto struct {
	Size int `json:"size"`
}

// SortDto sorts by Field. Without Ascending the direction toggles on the
// current field and starts ascending on a new one.
type SortDto struct {
	Field     string `json:"field"`
	Ascending *bool  `json:"ascending"`
}

type SearchDto struct {
	Search string `json:"search"`
}

type DeleteDto struct {
	ID string `json:"id"`
}

type ViewHandler struct {
	views *core.Views
}

func (h *ViewHandler) Open(ctx context.Context, _ *http.Request, in CollectionDto) (*transport.Created, error) {
	id, snap, err := h.views.Open(ctx, owner(ctx), in.Collection)
	if err != nil {
		return nil, err
	}

	return transport.NewCreated(&ViewResponse{ID: id, Snapshot: snap}), nil
}

func (h *ViewHandler) Get(ctx context.Context, _ *http.Request, _ any) (*ViewResponse, error) {
	return h.apply(ctx, func(*table.Controller) error { return nil })
}

func (h *ViewHandler) SetPage(ctx context.Context, _ *http.Request, in PageDto) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error { return c.SetPage(in.Page) })
}

func (h *ViewHandler) SetPageSize(ctx context.Context, _ *http.Request, in PageSizeDto) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error { return c.SetPageSize(in.Size) })
}

func (h *ViewHandler) SetSort(ctx context.Context, _ *http.Request, in SortDto) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error {
		if in.Ascending == nil {
			return c.SetSort(in.Field)
		}

		return c.SetSortOrder(in.Field, *in.Ascending)
	})
}

func (h *ViewHandler) SetSearch(ctx context.Context, _ *http.Request, in SearchDto) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error {
		c.SetSearch(in.Search)
		return nil
	})
}

func (h *ViewHandler) Refresh(ctx context.Context, _ *http.Request, _ any) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error {
		c.Refresh()
		return nil
	})
}

func (h *ViewHandler) SetCollection(ctx context.Context, _ *http.Request, in CollectionDto) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error {
		c.SetCollection(in.Collection)
		return nil
	})
}

func (h *ViewHandler) RequestDelete(ctx context.Context, _ *http.Request, in DeleteDto) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error { return c.RequestDelete(in.ID) })
}

func (h *ViewHandler) ConfirmDelete(ctx context.Context, _ *http.Request, _ any) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error { return c.ConfirmDelete(ctx) })
}

func (h *ViewHandler) CancelDelete(ctx context.Context, _ *http.Request, _ any) (*ViewResponse, error) {
	return h.apply(ctx, func(c *table.Controller) error {
		c.CancelDelete()
		return nil
	})
}

func (h *ViewHandler) Close(ctx context.Context, _ *http.Request, _ any) (*transport.Empty, error) {
	if err := h.views.Close(owner(ctx), chi.URLParamFromCtx(ctx, "id")); err != nil {
		return nil, err
	}

	return &transport.Empty{}, nil
}

func (h *ViewHandler) apply(ctx context.Context, fn func(*table.Controller) error) (*ViewResponse, error) {
	const op errs.Op = "ViewHandler.apply"

	id := chi.URLParamFromCtx(ctx, "id")

	ctrl, err := h.views.Get(owner(ctx), id)
	if err != nil {
		return nil, errs.E(op, err)
	}

	if err := fn(ctrl); err != nil {
		return nil, errs.E(op, err)
	}

	return &ViewResponse{ID: id, Snapshot: ctrl.Snapshot()}, nil
}

func owner(ctx context.Context) string {
	if user := auth.GetUser(ctx); user != nil {
		return user.ID
	}

	return ""
}

func NewViewHandler(views *core.Views) *ViewHandler {
	return &ViewHandler{views: views}
}
