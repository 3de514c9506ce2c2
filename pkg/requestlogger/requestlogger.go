package requestlogger

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/mileusna/useragent"
	"github.com/rs/zerolog"
)

// Middleware logs one line per request, except for paths in pathFilters.
// A filter ending in * matches every path with that prefix. Put it after
// chi's RequestID middleware so lines carry the request id.
func Middleware(logger zerolog.Logger, pathFilters ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if filtered(r.URL.Path, pathFilters) {
				next.ServeHTTP(w, r)
				return
			}

			requestID := middleware.GetReqID(r.Context())
			if requestID == "" {
				requestID = "n/a"
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				bytesIn, err := strconv.Atoi(r.Header.Get("Content-Length"))
				if err != nil {
					bytesIn = 0
				}

				event := levelFor(logger, status).
					Timestamp().
					Str("request_id", requestID).
					Str("remote_ip", r.RemoteAddr).
					Str("request", fmt.Sprintf("%s %s (response_code: %d)", r.Method, r.URL.Path, status)).
					Str("proto", r.Proto).
					Str("browser", browser(r.Header.Get("User-Agent"))).
					Float64("latency_ms", float64(time.Since(start).Nanoseconds())/1e6).
					Int("bytes_in", bytesIn).
					Int("bytes_out", ww.BytesWritten())

				// chi fills in the matched route while serving the request.
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						event = event.Str("route", pattern)
					}

					if collection := rctx.URLParam("collection"); collection != "" {
						event = event.Str("collection", collection)
					}
				}

				event.Msg("incoming_request")
			}()

			next.ServeHTTP(ww, r)
		}

		return http.HandlerFunc(fn)
	}
}

func filtered(path string, filters []string) bool {
	for _, f := range filters {
		if prefix, ok := strings.CutSuffix(f, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}

			continue
		}

		if f == path {
			return true
		}
	}

	return false
}

func levelFor(logger zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return logger.Error()
	case status >= http.StatusBadRequest:
		return logger.Warn()
	default:
		return logger.Info()
	}
}

func browser(userAgent string) string {
	if userAgent == "" {
		return "unknown"
	}

	ua := useragent.Parse(userAgent)
	if ua.Name == "" {
		return "unknown"
	}

	if ua.OS == "" {
		return ua.Name
	}

	return fmt.Sprintf("%s (%s)", ua.Name, ua.OS)
}
