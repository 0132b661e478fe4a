// Package server assembles the Negotiate HTTP service from configuration
// and runs it next to the metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/negotiate/internal/auth/ntlm"
	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/pkg/accounts"
	"github.com/marmos91/negotiate/pkg/api"
	"github.com/marmos91/negotiate/pkg/api/handlers"
	"github.com/marmos91/negotiate/pkg/auth/kerberos"
	"github.com/marmos91/negotiate/pkg/config"
	"github.com/marmos91/negotiate/pkg/metrics"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// Server owns every long-lived component of a running service.
type Server struct {
	http       *api.Server
	metrics    *metrics.Server
	middleware *negotiate.Middleware
	provider   *kerberos.Provider
	directory  *accounts.Directory
}

// New builds the mechanisms, the middleware and the servers described by
// cfg. cfg must already be validated. On error everything opened so far is
// released.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{}
	if err := s.build(cfg); err != nil {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("Error releasing resources", logger.KeyError, cerr)
		}
		return nil, err
	}
	return s, nil
}

// build wires the components into s. Whatever it opened before failing is
// left on s for Close.
func (s *Server) build(cfg *config.Config) error {
	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		promReg := metrics.InitRegistry()
		reg = promReg
		s.metrics = metrics.NewServer(cfg.Metrics.Port, promReg)
	}

	selector := &negotiate.PrefixSelector{}
	var checks []handlers.Check

	if cfg.Negotiate.NTLM.Enabled {
		dir, err := accounts.NewDirectory(&cfg.Accounts)
		if err != nil {
			return fmt.Errorf("open account directory: %w", err)
		}
		s.directory = dir
		ntlmAcc, err := ntlm.NewAcceptor(s.directory, ntlmConfig(cfg.Negotiate.NTLM))
		if err != nil {
			return fmt.Errorf("create NTLM acceptor: %w", err)
		}
		selector.NTLM = ntlmAcc.NewContext
		checks = append(checks, handlers.Check{Name: "accounts", Type: "ntlm", Probe: s.directory.Healthcheck})
	}

	if cfg.Negotiate.Kerberos.Enabled {
		provider, err := kerberos.NewProvider(&cfg.Negotiate.Kerberos)
		if err != nil {
			return fmt.Errorf("create Kerberos provider: %w", err)
		}
		s.provider = provider
		opts := []kerberos.AcceptorOption{
			kerberos.WithMapper(kerberos.NewStaticMapper(&cfg.Negotiate.Kerberos.IdentityMapping, s.provider.DefaultRealm())),
		}
		if selector.NTLM != nil {
			opts = append(opts, kerberos.WithNTLM(selector.NTLM))
		}
		krbAcc := kerberos.NewAcceptor(kerberos.NewKrb5Verifier(s.provider), opts...)
		selector.Kerberos = krbAcc.NewContext
		checks = append(checks, handlers.Check{Name: "keytab", Type: "kerberos", Probe: s.provider.Healthcheck})
	}

	if selector.Kerberos == nil && selector.NTLM == nil {
		return errors.New("no authentication mechanism enabled")
	}

	s.middleware = negotiate.New(cfg.Negotiate.ServicePrincipal, selector,
		negotiate.WithMetrics(negotiate.NewMetrics(reg)))

	opts := api.RouterOptions{
		Negotiate:      s.middleware,
		Checks:         checks,
		RequestTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Upstream.URL != "" {
		upstream, err := api.NewUpstreamProxy(cfg.Upstream)
		if err != nil {
			return err
		}
		opts.Upstream = upstream
	}

	s.http = api.NewServer(cfg.Server, api.NewRouter(opts), s.middleware)

	logger.Info("Negotiate configured",
		logger.KeySPN, cfg.Negotiate.ServicePrincipal,
		"kerberos", selector.Kerberos != nil,
		"ntlm", selector.NTLM != nil,
		"upstream", cfg.Upstream.URL)

	return nil
}

func ntlmConfig(c config.NTLMConfig) ntlm.Config {
	return ntlm.Config{
		Domain:        c.Domain,
		Computer:      c.Computer,
		DNSDomain:     c.DNSDomain,
		DNSComputer:   c.DNSComputer,
		MaxClockSkew:  c.MaxClockSkew,
		LookupTimeout: c.LookupTimeout,
	}
}

// Middleware returns the Negotiate middleware the HTTP server runs.
func (s *Server) Middleware() *negotiate.Middleware {
	return s.middleware
}

// Serve runs the HTTP server and, when enabled, the metrics server until
// ctx is cancelled or one of them fails. Resources are released on return.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("Error releasing resources", logger.KeyError, err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.http.Start(gctx) })
	if s.metrics != nil {
		logger.Info("Metrics enabled", "port", s.metrics.Port())
		g.Go(func() error { return s.metrics.Start(gctx) })
	} else {
		logger.Info("Metrics collection disabled")
	}

	return g.Wait()
}

// Close stops the keytab watcher and closes the account database.
func (s *Server) Close() error {
	var errs []error
	if s.provider != nil {
		errs = append(errs, s.provider.Close())
		s.provider = nil
	}
	if s.directory != nil {
		errs = append(errs, s.directory.Close())
		s.directory = nil
	}
	return errors.Join(errs...)
}
