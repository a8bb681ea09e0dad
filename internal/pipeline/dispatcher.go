package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/constants"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/metrics"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/pkg/logger"
)

// Resolver returns the policy for a request path and method.
type Resolver interface {
	Resolve(path, method string) models.EndpointConfig
}

// SecuredHandler receives requests the pipeline authorized, together with
// their security context.
type SecuredHandler interface {
	ServeSecured(w http.ResponseWriter, r *http.Request, sc *models.SecurityContext)
}

// SecuredHandlerFunc adapts a function to SecuredHandler.
type SecuredHandlerFunc func(w http.ResponseWriter, r *http.Request, sc *models.SecurityContext)

// ServeSecured calls f(w, r, sc).
func (f SecuredHandlerFunc) ServeSecured(w http.ResponseWriter, r *http.Request, sc *models.SecurityContext) {
	f(w, r, sc)
}

type securityContextKey struct{}

// FromContext returns the security context the dispatcher attached to the
// request context, or nil outside an authorized request.
func FromContext(ctx context.Context) *models.SecurityContext {
	sc, _ := ctx.Value(securityContextKey{}).(*models.SecurityContext)
	return sc
}

// Dispatcher resolves the endpoint policy of each request and runs the chain
// for its security type.
type Dispatcher struct {
	resolver Resolver
	chains   Chains
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(resolver Resolver, chains Chains, logger *logrus.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		chains:   chains,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Decide runs the pipeline for r and returns its security context in a
// terminal state. It writes nothing.
func (d *Dispatcher) Decide(r *http.Request) *models.SecurityContext {
	start := time.Now()

	sc := models.NewSecurityContext(requestID(r), clientIP(r))
	sc.EndpointConfig = d.resolver.Resolve(r.URL.Path, r.Method)

	stages, ok := d.chains[sc.EndpointConfig.SecurityType]
	if !ok {
		sc.Fail(models.StateUnavailable,
			fmt.Errorf("%w: no chain for security type %q", models.ErrConfiguration, sc.EndpointConfig.SecurityType))
	}

	for _, stage := range stages {
		if stage.Apply(r, sc) != Halt {
			continue
		}
		if !sc.State.IsTerminal() {
			sc.Fail(models.StateUnavailable,
				fmt.Errorf("%w: stage %T halted without a decision", models.ErrConfiguration, stage))
		}
		break
	}

	if !sc.State.IsTerminal() {
		sc.Authorize()
	}

	d.metrics.ObserveDecision(string(sc.State), string(sc.EndpointConfig.SecurityType), time.Since(start))
	d.logDecision(r, sc)
	return sc
}

// Wrap returns a handler that runs the pipeline and calls next only for
// authorized requests. Rejections are answered with a JSON error.
func (d *Dispatcher) Wrap(next SecuredHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := d.Decide(r)
		d.setRateLimitHeaders(w, sc)

		if sc.State != models.StateAuthorized {
			d.writeError(w, sc)
			return
		}

		ctx := context.WithValue(r.Context(), securityContextKey{}, sc)
		next.ServeSecured(w, r.WithContext(ctx), sc)
	})
}

// Middleware adapts Wrap for routers that chain plain handlers. The security
// context is available to next through FromContext.
func (d *Dispatcher) Middleware(next http.Handler) http.Handler {
	return d.Wrap(SecuredHandlerFunc(func(w http.ResponseWriter, r *http.Request, _ *models.SecurityContext) {
		next.ServeHTTP(w, r)
	}))
}

func (d *Dispatcher) setRateLimitHeaders(w http.ResponseWriter, sc *models.SecurityContext) {
	if !sc.RateLimit.Applied {
		return
	}
	h := w.Header()
	h.Set(constants.HeaderRateLimitLimit, strconv.Itoa(sc.RateLimit.Limit))
	h.Set(constants.HeaderRateLimitRemaining, strconv.Itoa(sc.RateLimit.Remaining))
	h.Set(constants.HeaderRateLimitReset, strconv.FormatInt(sc.RateLimit.ResetAt.Unix(), 10))

	if sc.State == models.StateRateLimited {
		retry := int(math.Ceil(sc.RateLimit.ResetAt.Sub(d.now()).Seconds()))
		if retry < 1 {
			retry = 1
		}
		h.Set(constants.HeaderRetryAfter, strconv.Itoa(retry))
	}
}

func (d *Dispatcher) writeError(w http.ResponseWriter, sc *models.SecurityContext) {
	authErr := models.ErrorForState(sc.State, sc.Cause).WithRequestID(sc.RequestID)

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.Header().Set(constants.HeaderXRequestID, sc.RequestID)
	w.WriteHeader(authErr.StatusCode)

	if err := json.NewEncoder(w).Encode(authErr); err != nil {
		d.logger.WithError(err).Error("Failed to encode authorization error response")
	}
}

func (d *Dispatcher) logDecision(r *http.Request, sc *models.SecurityContext) {
	entry := logger.WithCorrelationID(r.Context(), d.logger).WithFields(logrus.Fields{
		"request_id":    sc.RequestID,
		"method":        r.Method,
		"path":          r.URL.Path,
		"endpoint_id":   sc.EndpointConfig.ID,
		"security_type": sc.EndpointConfig.SecurityType,
		"state":         sc.State,
		"client_ip":     sc.ClientIP,
	})
	if sc.UserID != "" {
		entry = entry.WithField("user_id", sc.UserID)
	}

	switch sc.State {
	case models.StateAuthorized:
		entry.Debug("Request authorized")
	case models.StateUnavailable:
		entry.WithError(sc.Cause).Error("Request rejected, authorization backend unavailable")
	default:
		entry.WithError(sc.Cause).Info("Request rejected")
	}
}

// requestID reuses the correlation ID set by the request logger, then a
// well-formed inbound X-Request-ID, and otherwise generates one.
func requestID(r *http.Request) string {
	if id := logger.CorrelationID(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get(constants.HeaderXRequestID); logger.ValidCorrelationID(id) {
		return id
	}
	return uuid.NewString()
}

// clientIP is the peer address of the connection. Forwarding headers are
// ignored because the trusted-header path keys on this value.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
