package api

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/api/handlers"
	"github.com/marmos91/negotiate/pkg/config"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// DefaultUserHeader carries the authenticated principal to the upstream.
const DefaultUserHeader = "X-Remote-User"

// NewUpstreamProxy returns a reverse proxy to cfg.URL. It must be mounted
// behind the Negotiate middleware: every proxied request carries the
// authenticated principal in the user header, and whatever value the client
// sent for that header is discarded.
func NewUpstreamProxy(cfg config.UpstreamConfig) (http.Handler, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", cfg.URL)
	}

	userHeader := cfg.UserHeader
	if userHeader == "" {
		userHeader = DefaultUserHeader
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			// The Negotiate token is bound to this hop.
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del(userHeader)

			if name, ok := negotiate.FromRequest(pr.In).Client(); ok {
				pr.Out.Header.Set(userHeader, name)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WarnCtx(r.Context(), "Upstream request failed",
				logger.KeyPath, r.URL.Path,
				logger.KeyError, err)
			handlers.BadGateway(w, "upstream unavailable")
		},
	}

	logger.Info("Upstream proxy enabled", "upstream", target.String(), "user_header", userHeader)
	return proxy, nil
}
