package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type upstreams struct {
	Booking      *url.URL
	Catalog      *url.URL
	Notification *url.URL
}

// registerRoutes maps public path prefixes onto the owning service. Tokens are verified
// again by each service; the gateway only rejects forged ones early.
func registerRoutes(mux *http.ServeMux, up upstreams, transport http.RoundTripper) {
	booking := newProxy(up.Booking, transport)
	catalog := newProxy(up.Catalog, transport)
	notification := newProxy(up.Notification, transport)

	routes := []struct {
		prefix string
		target http.Handler
	}{
		{"/api/v1/public/availability", booking},
		{"/api/v1/public/book", booking},
		{"/api/v1/me/appointments", booking},
		{"/api/v1/admin/appointments", booking},
		{"/api/v1/public/services", catalog},
		{"/api/v1/public/providers", catalog},
		{"/api/v1/admin/services", catalog},
		{"/api/v1/admin/providers", catalog},
		{"/api/v1/notifications", notification},
		{"/api/v1/admin/notifications", notification},
	}
	for _, rt := range routes {
		mux.Handle(rt.prefix, rt.target)
		mux.Handle(rt.prefix+"/", rt.target)
	}
}

func newProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if id := httpx.RequestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(httpx.RequestIDHeader, id)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, _ error) {
			httpx.WriteError(w, http.StatusBadGateway, "upstream unavailable")
		},
	}
}

func defaultTransport() http.RoundTripper {
	return otelhttp.NewTransport(http.DefaultTransport)
}
