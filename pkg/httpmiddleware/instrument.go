package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RouteFinder resolves the route pattern that serves a request.
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder matches requests against the routes of mux without
// serving them, so that middlewares outside the router see the pattern.
func MakeRouteFinder(mux *chi.Mux) RouteFinder {
	return func(r *http.Request) (string, bool) {
		rctx := chi.NewRouteContext()
		if !mux.Match(rctx, r.Method, r.URL.Path) {
			return "", false
		}
		return rctx.RoutePattern(), true
	}
}

// Instrument traces and measures every request with otelhttp. Spans are
// named after the route pattern to keep cardinality bounded.
func Instrument(service string, find RouteFinder, tp trace.TracerProvider, mp metric.MeterProvider) Middleware {
	return func(next http.Handler) http.Handler {
		labeled := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if find != nil {
				if route, ok := find(r); ok {
					labeler, _ := otelhttp.LabelerFromContext(r.Context())
					labeler.Add(attribute.String("http.route", route))
				}
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(labeled, service,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if find != nil {
					if route, ok := find(r); ok {
						return r.Method + " " + route
					}
				}
				return r.Method
			}),
		)
	}
}
