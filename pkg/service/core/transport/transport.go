// Package transport provides a generic HTTP transport layer for services.
//
// Inspired by:
// - https://www.willem.dev/articles/generic-http-handlers/ - for use of generics
// - https://github.com/go-kit/kit - for StatusCoder interface
package transport

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/errs"
)

type StatusCoder interface {
	StatusCode() int
}

type Encoder interface {
	Encode(w http.ResponseWriter) error
}

// Validator is implemented by request bodies that can check themselves
// before the target is invoked.
type Validator interface {
	Validate() error
}

// ErrorObserver is told about every request that failed on the server side.
type ErrorObserver interface {
	Error(err error)
}

type buildOptions struct {
	observer ErrorObserver
}

type BuildOption func(*buildOptions)

func WithErrorObserver(o ErrorObserver) BuildOption {
	return func(b *buildOptions) {
		b.observer = o
	}
}

// DecoderFunc is a function that decodes a request into a struct
type DecoderFunc[In any] func(r *http.Request) (In, error)

// TargetFunc is a function that handles the request and returns a response, ideally
// we shouldn't have to use the http.Request, but sometimes we need it to fetch
// query parameters, headers, or similar
type TargetFunc[In any, Out any] func(context.Context, *http.Request, In) (Out, error)

type Transport[In any, Out any] struct {
	decoderFn DecoderFunc[In]
	targetFn  TargetFunc[In, Out]
}

func For[In any, Out any](target TargetFunc[In, Out]) *Transport[In, Out] {
	return &Transport[In, Out]{
		targetFn: target,
	}
}

func (h *Transport[In, Out]) RequestFromJSON() *Transport[In, Out] {
	h.decoderFn = func(r *http.Request) (In, error) {
		var in In

		err := json.NewDecoder(r.Body).Decode(&in)
		if err != nil {
			return in, err
		}

		return in, nil
	}

	return h
}

func (h *Transport[In, Out]) encode(w http.ResponseWriter, out Out) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	// If the output implements the StatusCoder interface, use the status code from it
	code := http.StatusOK
	if sc, ok := any(out).(StatusCoder); ok {
		code = sc.StatusCode()
	}

	w.WriteHeader(code)
	if code == http.StatusNoContent {
		return nil
	}

	err := json.NewEncoder(w).Encode(out)
	if err != nil {
		return err
	}

	return nil
}

func (h *Transport[In, Out]) Build(logger zerolog.Logger, opts ...BuildOption) http.HandlerFunc {
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}

	fail := func(w http.ResponseWriter, err error) {
		if o.observer != nil && errs.StatusCode(err) >= http.StatusInternalServerError {
			o.observer.Error(err)
		}

		errs.HTTPErrorResponse(w, logger, err)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		var err error

		if h.decoderFn != nil {
			in, err = h.decoderFn(r)
			if err != nil {
				fail(w, errs.E(errs.InvalidRequest, errs.Str("request body is not valid JSON")))
				return
			}

			if v, ok := any(in).(Validator); ok {
				if err := v.Validate(); err != nil {
					fail(w, errs.E(errs.Validation, err))
					return
				}
			}
		}

		out, err := h.targetFn(r.Context(), r, in)
		if err != nil {
			fail(w, err)
			return
		}

		// If the output implements the Encoder interface, use it
		if v, ok := any(out).(Encoder); ok {
			err := v.Encode(w)
			if err != nil {
				fail(w, errs.E(errs.Internal, err))
				return
			}

			return
		}

		// By default, we always encode the response as JSON, you can use
		// the Encoder or StatusCoder interfaces to customize the response
		err = h.encode(w, out)
		if err != nil {
			fail(w, errs.E(errs.Internal, err))
			return
		}
	}
}

type Redirect struct {
	newURL string
	r      *http.Request
}

func (r *Redirect) Encode(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "")
	http.Redirect(w, r.r, r.newURL, http.StatusSeeOther)
	return nil
}

func NewRedirect(newURL string, r *http.Request) *Redirect {
	return &Redirect{
		newURL: newURL,
		r:      r,
	}
}

// Empty provides a convenience struct for returning an empty response
type Empty struct{}

func (e *Empty) StatusCode() int {
	return http.StatusNoContent
}

// Created writes value as JSON with status 201
type Created struct {
	value any
}

func (c *Created) Encode(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)

	return json.NewEncoder(w).Encode(c.value)
}

func NewCreated(value any) *Created {
	return &Created{value: value}
}
