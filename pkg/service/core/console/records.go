package console

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/form"
	"github.com/alris/cms-backend/pkg/service"
)

type formPage struct {
	Collection string
	Mode       form.Mode
	Action     string
	Widgets    []form.Widget
	Editable   bool
	Submit     string
	EditURL    string
}

func newFormPage(collection, id string, mode form.Mode, widgets []form.Widget) *formPage {
	p := &formPage{
		Collection: collection,
		Mode:       mode,
		Widgets:    widgets,
		Editable:   mode != form.ModeView,
	}

	switch mode {
	case form.ModeCreate:
		p.Action = "/" + collection + "/add"
		p.Submit = "Create"
	case form.ModeEdit:
		p.Action = "/" + collection + "/edit/" + id
		p.Submit = "Update"
	case form.ModeView:
		p.EditURL = "/" + collection + "/edit/" + id
	}

	return p
}

func (c *Console) Add(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	title := form.PageTitle(collection, form.ModeCreate)

	sch, err := c.collections.Schema(r.Context(), collection)
	if err != nil {
		c.fail(w, r, "form", title, newFormPage(collection, "", form.ModeCreate, nil), err)
		return
	}

	if r.Method == http.MethodGet {
		c.render(w, r, http.StatusOK, "form", title, newFormPage(collection, "", form.ModeCreate, form.RenderForm(sch, nil, form.ModeCreate)), nil)
		return
	}

	rec, err := c.posted(r, sch)
	if err == nil {
		_, err = c.collections.Create(r.Context(), collection, rec)
	}

	if err != nil {
		widgets := form.WithErrors(form.RenderForm(sch, rec, form.ModeCreate), fieldErrors(err))
		c.fail(w, r, "form", title, newFormPage(collection, "", form.ModeCreate, widgets), err)

		return
	}

	c.redirectWithFlash(w, r, "/"+collection, auth.FlashSuccess, "Record created successfully.")
}

func (c *Console) Edit(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	title := form.PageTitle(collection, form.ModeEdit)

	res, err := c.collections.Get(r.Context(), collection, id)
	if err != nil {
		c.fail(w, r, "form", title, newFormPage(collection, id, form.ModeEdit, nil), err)
		return
	}

	if r.Method == http.MethodGet {
		c.render(w, r, http.StatusOK, "form", title, newFormPage(collection, id, form.ModeEdit, form.RenderForm(res.Schema, res.Record, form.ModeEdit)), nil)
		return
	}

	rec, err := c.posted(r, res.Schema)

	if rejected := form.GuardEdits(res.Schema, res.Record, rec, r.PostForm); len(rejected) > 0 {
		fe := fieldErrors(err)
		if fe == nil {
			fe = form.FieldErrors{}
		}
		for name, notice := range rejected {
			fe[name] = notice
		}

		err = errs.E(errs.Validation, errs.Op("Console.Edit"), fe)
	}

	if err == nil {
		_, err = c.collections.Update(r.Context(), collection, id, rec)
	}

	if err != nil {
		// Show what was posted, falling back to the stored values for
		// fields that could not be read or were rejected.
		shown := service.Record{}
		for k, v := range res.Record {
			shown[k] = v
		}
		for k, v := range rec {
			shown[k] = v
		}

		widgets := form.WithErrors(form.RenderForm(res.Schema, shown, form.ModeEdit), fieldErrors(err))
		c.fail(w, r, "form", title, newFormPage(collection, id, form.ModeEdit, widgets), err)

		return
	}

	c.redirectWithFlash(w, r, "/"+collection, auth.FlashSuccess, "Record updated successfully.")
}

// View shows a record read-only. The schema comes from configuration or is
// inferred from the record itself.
func (c *Console) View(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	title := form.PageTitle(collection, form.ModeView)

	res, err := c.collections.Get(r.Context(), collection, id)
	if err != nil {
		c.fail(w, r, "form", title, newFormPage(collection, id, form.ModeView, nil), err)
		return
	}

	c.render(w, r, http.StatusOK, "form", title, newFormPage(collection, id, form.ModeView, form.RenderForm(res.Schema, res.Record, form.ModeView)), nil)
}

type deletePage struct {
	Collection string
	ID         string
}

func (c *Console) Delete(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	title := "Delete " + form.PathName(collection)

	if !c.collections.Policy(collection).Deletable {
		c.redirectWithFlash(w, r, "/"+collection, auth.FlashError, "Records in this collection cannot be deleted.")
		return
	}

	if r.Method == http.MethodGet {
		c.render(w, r, http.StatusOK, "delete", title, &deletePage{Collection: collection, ID: id}, nil)
		return
	}

	if err := c.collections.Delete(r.Context(), collection, id); err != nil {
		if errs.KindIs(errs.Unauthenticated, err) {
			c.fail(w, r, "delete", title, nil, err)
			return
		}

		c.redirectWithFlash(w, r, "/"+collection, auth.FlashError, "Error deleting record: "+errs.UserMessage(err))

		return
	}

	c.redirectWithFlash(w, r, "/"+collection, auth.FlashSuccess, "Record deleted successfully.")
}

func (c *Console) posted(r *http.Request, sch service.Schema) (service.Record, error) {
	const op errs.Op = "Console.posted"

	if err := r.ParseForm(); err != nil {
		return nil, errs.E(errs.InvalidRequest, op, errs.Str("form could not be read"))
	}

	rec, fe := form.CoerceValues(sch, r.PostForm)
	if len(fe) > 0 {
		return rec, errs.E(errs.Validation, op, fe)
	}

	return rec, nil
}

func fieldErrors(err error) form.FieldErrors {
	var fe form.FieldErrors
	if errors.As(err, &fe) {
		return fe
	}

	return nil
}
