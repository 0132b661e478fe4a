package negotiate

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/internal/telemetry"
)

// Middleware authenticates connections with the HTTP Negotiate scheme.
//
// The handshake state lives in the ConnState bound to the request's
// connection (see ConnContext and Listener). Once a connection is
// authenticated every further request on it is forwarded without touching
// the security mechanism again.
type Middleware struct {
	spn      string
	selector Selector
	metrics  *Metrics
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithMetrics enables Prometheus collection.
func WithMetrics(m *Metrics) Option {
	return func(mw *Middleware) { mw.metrics = m }
}

// New creates a Middleware that builds security contexts for spn through
// selector.
func New(spn string, selector Selector, opts ...Option) *Middleware {
	m := &Middleware{spn: spn, selector: selector}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SPN returns the service principal name contexts are created for.
func (m *Middleware) SPN() string { return m.spn }

type stepKind int

const (
	stepContinue stepKind = iota
	stepFinished
	stepFailed
	stepCreateFailed
	stepAlreadyAuthenticated
)

func (k stepKind) String() string {
	switch k {
	case stepContinue:
		return "continue"
	case stepFinished:
		return "finished"
	case stepFailed:
		return "failure"
	case stepCreateFailed:
		return "create_failure"
	default:
		return "authenticated"
	}
}

type stepResult struct {
	kind      stepKind
	mechanism Mechanism
	token     []byte
	identity  *Identity
	err       error
}

// Handler wraps next with Negotiate authentication.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs, ok := ConnStateFromContext(r.Context())
		if !ok {
			logger.ErrorCtx(r.Context(), "Negotiate request without connection binding; set http.Server.ConnContext or use negotiate.Listener",
				logger.KeyError, ErrMissingConnectionBinding,
				logger.KeyPath, r.URL.Path)
			writeInternalError(w)
			return
		}

		r = r.WithContext(m.logContext(r, cs))
		ctx := r.Context()

		if cs.IsAuthenticated() {
			m.metrics.recordFastPath()
			next.ServeHTTP(w, withAuthenticated(r, cs))
			return
		}

		token, err := extractToken(r.Header)
		if err != nil {
			if errors.Is(err, ErrMalformedToken) {
				logger.DebugCtx(ctx, "Rejecting malformed Negotiate token", logger.KeyError, err)
				m.metrics.recordChallenge("malformed")
				writeBadRequest(w)
				return
			}
			logger.DebugCtx(ctx, "Sending Negotiate challenge", logger.KeyPhase, cs.Phase().String())
			m.metrics.recordChallenge("missing")
			writeChallenge(w, r, nil, "")
			return
		}

		res := m.advance(ctx, cs, token)

		switch res.kind {
		case stepAlreadyAuthenticated:
			m.metrics.recordFastPath()
			next.ServeHTTP(w, withAuthenticated(r, cs))

		case stepContinue:
			writeChallenge(w, r, res.token, "")

		case stepFinished:
			if len(res.token) > 0 {
				w.Header().Add(headerWWWAuthenticate, negotiateHeader(res.token))
			}
			if lc := logger.FromContext(ctx); lc != nil {
				r = r.WithContext(logger.WithContext(ctx, lc.WithPrincipal(res.identity.Principal)))
			}
			next.ServeHTTP(w, withAuthenticated(r, cs))

		case stepCreateFailed:
			writeInternalError(w)

		default:
			writeChallenge(w, r, nil, bodyAuthorizationFailed)
		}
	})
}

// advance runs one handshake step under the connection's exclusive lock.
// Whatever happens inside, including a panicking adapter, the lock is
// released with the state decided here; the zero decision is Unauthorized.
func (m *Middleware) advance(ctx context.Context, cs *ConnState, token []byte) (res stepResult) {
	prev := cs.takeExclusive()
	next := unauthorized()
	defer func() { cs.install(next) }()

	step := cs.stepCount()

	var hctx Context
	switch prev.phase {
	case PhaseAuthenticated:
		// Another request on this connection finished the handshake while
		// this one waited for the lock.
		next = prev
		return stepResult{kind: stepAlreadyAuthenticated, mechanism: prev.identity.Mechanism, identity: prev.identity}

	case PhasePending:
		hctx = prev.pending

	default:
		c, err := m.selector.NewContext(m.spn, token)
		if err != nil {
			mech := DetectMechanism(token)
			if errors.Is(err, ErrMechanismUnsupported) {
				logger.ErrorCtx(ctx, "No handshake adapter configured for mechanism",
					logger.KeyMechanism, mech.String(), logger.KeySPN, m.spn, logger.KeyError, err)
			} else {
				logger.ErrorCtx(ctx, "Failed to create security context",
					logger.KeyMechanism, mech.String(), logger.KeySPN, m.spn, logger.KeyError, err)
			}
			m.metrics.recordStep(mech, stepCreateFailed.String(), 0)
			return stepResult{kind: stepCreateFailed, mechanism: mech, err: err}
		}
		hctx = c
	}

	mech := hctx.Mechanism()
	spanCtx, span := telemetry.StartStepSpan(ctx, mech.String(), step, len(token),
		telemetry.SPN(m.spn), telemetry.AuthConnID(cs.ID()))
	defer span.End()

	var outcome *Outcome
	var err error
	start := time.Now()
	telemetry.ProfileStep(spanCtx, mech.String(), func(context.Context) {
		outcome, err = hctx.Step(token)
	})
	elapsed := time.Since(start)

	if err == nil && outcome == nil {
		err = errors.New("adapter returned neither outcome nor error")
	}
	if err == nil && !outcome.Done() && outcome.Next() == nil {
		err = errors.New("adapter continued without a continuation context")
	}

	switch {
	case err != nil:
		err = wrapStepError(err)
		telemetry.RecordError(spanCtx, err)
		logger.WarnCtx(ctx, "Negotiate handshake step failed",
			logger.KeyMechanism, mech.String(),
			logger.KeyStep, step,
			logger.KeyTokenLen, len(token),
			logger.KeyError, err)
		m.metrics.recordStep(mech, stepFailed.String(), elapsed)
		return stepResult{kind: stepFailed, mechanism: mech, err: err}

	case outcome.Done():
		id := outcome.Identity()
		if id.Mechanism == MechanismUnknown {
			id.Mechanism = mech
		}
		next = authenticated(id)
		logger.InfoCtx(ctx, "Connection authenticated",
			logger.KeyMechanism, mech.String(),
			logger.KeyPrincipal, id.Principal,
			logger.KeyStep, step,
			logger.KeyDurationMs, logger.Duration(start))
		span.SetAttributes(telemetry.AuthOutcome(stepFinished.String()), telemetry.AuthPrincipal(id.Principal))
		m.metrics.recordStep(mech, stepFinished.String(), elapsed)
		m.metrics.recordAuthenticated(mech)
		return stepResult{kind: stepFinished, mechanism: mech, token: outcome.Token(), identity: id}

	default:
		next = pending(outcome.Next())
		logger.DebugCtx(ctx, "Negotiate handshake continues",
			logger.KeyMechanism, mech.String(),
			logger.KeyStep, step,
			logger.KeyTokenLen, len(token),
			logger.KeyReplyLen, len(outcome.Token()))
		span.SetAttributes(telemetry.AuthOutcome(stepContinue.String()), telemetry.AuthReplyLen(len(outcome.Token())))
		m.metrics.recordStep(mech, stepContinue.String(), elapsed)
		return stepResult{kind: stepContinue, mechanism: mech, token: outcome.Token()}
	}
}

func wrapStepError(err error) error {
	if errors.Is(err, ErrProtocolStepFailure) {
		return err
	}
	return errors.Join(ErrProtocolStepFailure, err)
}

// logContext attaches the connection to the request's LogContext, creating
// one when no outer middleware did.
func (m *Middleware) logContext(r *http.Request, cs *ConnState) context.Context {
	lc := logger.FromContext(r.Context())
	if lc == nil {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		lc = logger.NewLogContext(host)
	}
	lc = lc.WithConnection(cs.ID())
	if id, ok := cs.Identity(); ok {
		lc = lc.WithMechanism(id.Mechanism.String()).WithPrincipal(id.Principal)
	}
	return logger.WithContext(r.Context(), lc)
}

// TrackConn is meant for http.Server.ConnState. It maintains the active
// connection gauge and logs how far connections accepted by a Listener got
// when they close.
func (m *Middleware) TrackConn(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		m.metrics.connOpened()
	case http.StateClosed, http.StateHijacked:
		m.metrics.connClosed()
		if nc := unwrapConn(c); nc != nil {
			logger.Debug("Connection closed",
				logger.KeyConnectionID, nc.state.ID(),
				logger.KeyRemoteAddr, nc.state.RemoteAddr(),
				logger.KeyPhase, nc.state.Phase().String())
		}
	}
}
