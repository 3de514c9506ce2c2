// Package console serves the server rendered pages of the admin console:
// collection lists, record forms and the authentication pages.
package console

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/config"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/form"
	"github.com/alris/cms-backend/pkg/schema"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core/handlers"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = []string{
	"list",
	"form",
	"delete",
	"login",
	"register",
	"forgot-password",
	"reset-password",
	"not-found",
}

type Console struct {
	collections service.CollectionService
	auth        service.AuthService
	cookies     *auth.Cookies
	cfg         config.Console
	templates   map[string]*template.Template
	log         zerolog.Logger
}

func New(
	collections service.CollectionService,
	authService service.AuthService,
	cookies *auth.Cookies,
	cfg config.Console,
	log zerolog.Logger,
) (*Console, error) {
	templates := make(map[string]*template.Template, len(pages))

	for _, p := range pages {
		t, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+p+".html")
		if err != nil {
			return nil, err
		}

		templates[p] = t
	}

	return &Console{
		collections: collections,
		auth:        authService,
		cookies:     cookies,
		cfg:         cfg,
		templates:   templates,
		log:         log,
	}, nil
}

type pageData struct {
	Title string
	User  *service.User
	Flash *auth.Flash
	Error string
	Data  any
}

func (c *Console) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any, pageErr error) {
	pd := pageData{
		Title: title,
		User:  auth.GetUser(r.Context()),
		Flash: c.cookies.TakeFlash(w, r),
		Data:  data,
	}

	if pageErr != nil {
		pd.Error = errs.UserMessage(pageErr)
	}

	var buf bytes.Buffer
	if err := c.templates[name].ExecuteTemplate(&buf, "layout", pd); err != nil {
		c.log.Error().Err(err).Str("page", name).Msg("rendering page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// fail redirects to the login page when the session is gone and renders
// the page with the error otherwise.
func (c *Console) fail(w http.ResponseWriter, r *http.Request, name, title string, data any, err error) {
	if errs.KindIs(errs.Unauthenticated, err) {
		c.cookies.ClearSession(w)
		http.Redirect(w, r, auth.LoginRedirect(r.URL.RequestURI()), http.StatusFound)

		return
	}

	c.render(w, r, errs.StatusCode(err), name, title, data, err)
}

func (c *Console) redirectWithFlash(w http.ResponseWriter, r *http.Request, to string, kind auth.FlashKind, message string) {
	c.cookies.SetFlash(w, kind, message)
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (c *Console) Home(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/"+c.cfg.DefaultCollection, http.StatusFound)
}

func (c *Console) NotFound(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, http.StatusNotFound, "not-found", "Page Not Found", nil, nil)
}

type column struct {
	Label     string
	SortURL   string
	Sorted    bool
	Ascending bool
}

type row struct {
	ID     string
	Serial int
	Cells  []string
}

type listPage struct {
	Collection string
	Name       string
	Query      service.QueryState
	Columns    []column
	Rows       []row
	Deletable  bool
	Total      int
	PageNumber int
	PageCount  int
	PrevURL    string
	NextURL    string
	PageSizes  []int
}

func (c *Console) List(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	title := form.ListTitle(collection)

	data := &listPage{
		Collection: collection,
		Name:       form.PathName(collection),
		PageSizes:  c.cfg.PageSizeOptions,
		PageNumber: 1,
		PageCount:  1,
	}

	q, err := handlers.ParseQueryState(r, c.listDefaults())
	if err != nil {
		c.fail(w, r, "list", title, data, err)
		return
	}
	data.Query = q

	res, err := c.collections.List(r.Context(), collection, q)
	if err != nil {
		c.fail(w, r, "list", title, data, err)
		return
	}

	data.Deletable = res.Deletable
	data.Total = res.Total
	data.PageNumber = q.PageIndex + 1
	data.PageCount = max(res.PageCount, 1)

	for _, f := range res.Schema.Fields {
		col := column{Label: form.Label(f.Name)}
		if schema.Sortable(f.Kind) {
			asc := true
			if q.SortField == f.Name {
				col.Sorted = true
				col.Ascending = q.SortAscending
				asc = !q.SortAscending
			}
			col.SortURL = listURL(collection, service.QueryState{
				PageSize:      q.PageSize,
				Search:        q.Search,
				SortField:     f.Name,
				SortAscending: asc,
			})
		}
		data.Columns = append(data.Columns, col)
	}

	for i, rec := range res.Rows {
		rw := row{ID: rec.ID(), Serial: q.Offset() + i + 1}
		for _, f := range res.Schema.Fields {
			rw.Cells = append(rw.Cells, form.CellPreview(f.Kind, rec[f.Name]))
		}
		data.Rows = append(data.Rows, rw)
	}

	if q.PageIndex > 0 {
		prev := q
		prev.PageIndex--
		data.PrevURL = listURL(collection, prev)
	}

	if q.PageIndex+1 < res.PageCount {
		next := q
		next.PageIndex++
		data.NextURL = listURL(collection, next)
	}

	c.render(w, r, http.StatusOK, "list", title, data, nil)
}

func (c *Console) listDefaults() handlers.ListDefaults {
	return handlers.ListDefaults{
		PageSize:      c.cfg.DefaultPageSize,
		SortField:     c.cfg.DefaultSort.Field,
		SortAscending: c.cfg.DefaultSort.Ascending,
	}
}

func listURL(collection string, q service.QueryState) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.PageIndex))
	v.Set("size", strconv.Itoa(q.PageSize))

	if q.Search != "" {
		v.Set("search", q.Search)
	}

	if q.SortField != "" {
		v.Set("sort", q.SortField)
		v.Set("asc", strconv.FormatBool(q.SortAscending))
	}

	return "/" + collection + "?" + v.Encode()
}
