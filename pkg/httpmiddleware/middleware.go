// Package httpmiddleware provides reusable net/http middleware: panic
// recovery, request IDs, request logging, CORS and rate limiting.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler with additional behaviour.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware becomes the outermost
// layer, so Wrap(h, a, b) serves requests through a, then b, then h.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
