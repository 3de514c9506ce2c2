package errs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

// ConflictMessage is shown to users instead of the raw backend text when a
// write collides with an existing unique key.
const ConflictMessage = "A record with the same unique key already exists."

// FieldErrorer is implemented by validation errors that concern individual
// fields, so they can be surfaced inline next to the offending input.
type FieldErrorer interface {
	FieldErrors() map[string]string
}

// ErrResponse is used as the Response Body
type ErrResponse struct {
	Error ServiceError `json:"error"`
}

// ServiceError has fields for Service errors. All fields with no data will
// be omitted
type ServiceError struct {
	Kind      string            `json:"kind,omitempty"`
	Code      string            `json:"code,omitempty"`
	Param     string            `json:"param,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// HTTPErrorResponse takes a writer, error and a logger, performs a
// type switch to determine if the type is an Error (which meets
// the Error interface as defined in this package), then sends the
// Error as a response to the client. If the type does not meet the
// Error interface as defined in this package, then a proper error
// is still formed and sent to the client, however, the Kind and
// Code will be Unanticipated.
func HTTPErrorResponse(w http.ResponseWriter, lgr zerolog.Logger, err error) {
	if err == nil {
		nilErrorResponse(w, lgr)
		return
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case Unauthenticated:
			unauthenticatedErrorResponse(w, lgr, e)
			return
		case Unauthorized:
			unauthorizedErrorResponse(w, lgr, e)
			return
		default:
			typicalErrorResponse(w, lgr, e)
			return
		}
	}

	unknownErrorResponse(w, lgr, err)
}

// StatusCode maps the kind of err to the HTTP status used to report it.
func StatusCode(err error) int {
	switch KindOf(err) {
	case Invalid, Validation, InvalidRequest:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Unauthorized:
		return http.StatusForbidden
	case NotExist:
		return http.StatusNotFound
	case Exist:
		return http.StatusConflict
	case IO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the text that is safe to show an end user for err.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong, please try again."
	}

	switch KindOf(err) {
	case Exist:
		return ConflictMessage
	case Unauthenticated:
		return "Your session has expired, please log in again."
	case Unauthorized:
		return "You are not allowed to perform this action."
	case NotExist:
		return "The requested item was not found."
	case Validation, InvalidRequest, Invalid:
		return innermost(err).Error()
	case IO:
		return "The data service could not be reached."
	default:
		return "Something went wrong, please try again."
	}
}

func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typicalErrorResponse(w http.ResponseWriter, lgr zerolog.Logger, e *Error) {
	const op Op = "errs.typicalErrorResponse"

	httpStatusCode := StatusCode(e)

	if e.Kind == Internal || e.Kind == Database || e.Kind == Other || e.Kind == IO {
		lgr.Error().Stack().Err(e).
			Int("http_statuscode", httpStatusCode).
			Str("Kind", e.Kind.String()).
			Strs("OpStack", OpStack(e)).
			Msg("Error Response Sent")
	} else {
		lgr.Info().Err(e).
			Int("http_statuscode", httpStatusCode).
			Str("Kind", e.Kind.String()).
			Str("Parameter", string(e.Param)).
			Str("Code", string(e.Code)).
			Msg("Error Response Sent")
	}

	er := ErrResponse{
		Error: ServiceError{
			Kind:    e.Kind.String(),
			Code:    string(e.Code),
			Param:   string(e.Param),
			Message: UserMessage(e),
		},
	}

	var fe FieldErrorer
	if errors.As(e, &fe) {
		er.Error.Fields = fe.FieldErrors()
	}

	errJSON, _ := json.Marshal(er)
	ej := string(errJSON)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	w.WriteHeader(httpStatusCode)

	_, err := w.Write([]byte(ej))
	if err != nil {
		lgr.Error().Err(err).Str("op", string(op)).Msg("writing error response")
	}
}

func nilErrorResponse(w http.ResponseWriter, lgr zerolog.Logger) {
	lgr.Error().Stack().Int("HTTP Error StatusCode", http.StatusInternalServerError).
		Msg("nil error - no response body sent")

	w.WriteHeader(http.StatusInternalServerError)
}

func unauthenticatedErrorResponse(w http.ResponseWriter, lgr zerolog.Logger, err *Error) {
	lgr.Error().Stack().Err(err.Err).
		Int("http_statuscode", http.StatusUnauthorized).
		Str("realm", "cms").
		Msg("Unauthenticated Request")

	w.Header().Set("WWW-Authenticate", `Bearer realm="cms"`)
	w.WriteHeader(http.StatusUnauthorized)
}

func unauthorizedErrorResponse(w http.ResponseWriter, lgr zerolog.Logger, err *Error) {
	lgr.Error().Stack().Err(err.Err).
		Int("http_statuscode", http.StatusForbidden).
		Str("user", string(err.User)).
		Msg("Unauthorized Request")

	w.WriteHeader(http.StatusForbidden)
}

func unknownErrorResponse(w http.ResponseWriter, lgr zerolog.Logger, err error) {
	er := ErrResponse{
		Error: ServiceError{
			Kind:    Other.String(),
			Message: UserMessage(err),
		},
	}

	lgr.Error().Err(err).Msg("Unknown Error")

	errJSON, _ := json.Marshal(er)
	ej := string(errJSON)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusInternalServerError)

	_, _ = w.Write([]byte(ej))
}
