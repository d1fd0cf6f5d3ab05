package saml

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/samlgate/pkg/config"
	"github.com/platinummonkey/samlgate/pkg/observability"
)

// Correlation cookies tying a callback to the login that started it.
const (
	relayStateCookie = "SAMLGATE_RELAY_STATE"
	requestIDCookie  = "SAMLGATE_REQUEST_ID"

	// correlationMaxAge bounds how long a login may stay in flight.
	correlationMaxAge = 5 * 60
)

// Handlers exposes the SAML authentication endpoints
type Handlers struct {
	cfg           *config.Config
	builder       *RequestBuilder
	authenticator *Authenticator
	mapper        *Mapper
	reporter      *StatusReporter
	resolver      *Resolver
	metrics       *observability.Metrics
	log           *logrus.Logger
}

// NewHandlers creates the SAML handler set
func NewHandlers(cfg *config.Config, builder *RequestBuilder, authenticator *Authenticator, mapper *Mapper, reporter *StatusReporter, metrics *observability.Metrics, log *logrus.Logger) *Handlers {
	return &Handlers{
		cfg:           cfg,
		builder:       builder,
		authenticator: authenticator,
		mapper:        mapper,
		reporter:      reporter,
		resolver:      authenticator.Resolver,
		metrics:       metrics,
		log:           log,
	}
}

// RegisterRoutes registers the SAML routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/saml/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/saml/callback", h.handleCallback).Methods("POST")
	router.HandleFunc("/auth/saml/validation", h.handleValidation).Methods("POST")
	router.HandleFunc("/auth/saml/metadata", h.getMetadata).Methods("GET")
	router.HandleFunc("/auth/saml/provider", h.getProvider).Methods("GET")
}

// getProvider handles GET /auth/saml/provider. Login pages use it to
// decide whether to show the SAML button and what to label it.
func (h *Handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	s := h.cfg.Settings()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"key":     "saml",
		"name":    s.ProviderName,
		"enabled": s.Enabled,
	})
}

// callbackURL is the externally visible assertion consumer location.
func (h *Handlers) callbackURL() string {
	base := strings.TrimSuffix(h.cfg.Server.BaseURL, "/")
	return base + h.cfg.Server.ContextPath + "/auth/saml/callback"
}

// initiateLogin handles GET /auth/saml/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	relayState := uuid.NewString()

	redirect, err := h.builder.BuildRedirect(h.callbackURL(), relayState)
	if err != nil {
		h.log.WithError(err).Error("failed to build login redirect")
		http.Error(w, "SAML login is not available", http.StatusInternalServerError)
		return
	}

	secure := strings.HasPrefix(h.cfg.Server.BaseURL, "https://")
	http.SetCookie(w, correlationCookie(relayStateCookie, relayState, secure))
	http.SetCookie(w, correlationCookie(requestIDCookie, redirect.RequestID, secure))

	h.metrics.LoginsInitiatedTotal.Inc()
	h.log.WithField("request_id", redirect.RequestID).Info("login initiated")
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// handleCallback handles POST /auth/saml/callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	expectedRelay, expectedRequestID := h.consumeCorrelation(w, r)

	if err := r.ParseForm(); err != nil {
		h.rejectCallback(w, http.StatusBadRequest, "unreadable form body", nil)
		return
	}
	if expectedRelay != "" && r.FormValue("RelayState") != expectedRelay {
		h.rejectCallback(w, http.StatusForbidden, "RelayState does not match the login that started this flow", nil)
		return
	}

	principal, err := h.authenticator.Authenticate(r.Context(), r, h.callbackURL(), expectedRequestID)
	if err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			if authErr.HasCode(CodeReplay) {
				h.metrics.ReplayRejectionsTotal.Inc()
			}
			h.rejectCallback(w, http.StatusUnauthorized, "authentication failed", authErr)
			return
		}
		var formatErr *FormatError
		if errors.As(err, &formatErr) {
			h.rejectCallback(w, http.StatusBadRequest, formatErr.Error(), nil)
			return
		}
		h.log.WithError(err).Error("callback processing failed")
		h.rejectCallback(w, http.StatusInternalServerError, "authentication failed", nil)
		return
	}

	identity, err := h.mapper.Map(principal)
	if err != nil {
		h.rejectCallback(w, http.StatusUnauthorized, err.Error(), nil)
		return
	}

	h.metrics.CallbacksTotal.WithLabelValues("success").Inc()
	h.log.WithField("login", identity.Login).Info("authentication succeeded")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(identity)
}

func (h *Handlers) rejectCallback(w http.ResponseWriter, status int, message string, authErr *AuthenticationError) {
	h.metrics.CallbacksTotal.WithLabelValues("failure").Inc()

	body := map[string]interface{}{"error": message}
	if authErr != nil {
		body["details"] = authErr.Messages()
		h.log.WithField("errors", authErr.Messages()).Warn("authentication rejected")
	} else {
		h.log.WithField("reason", message).Warn("callback rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleValidation handles POST /auth/saml/validation. It runs the same
// pipeline as the callback but always renders a diagnostic page; nothing
// here ends in a bare error response.
func (h *Handlers) handleValidation(w http.ResponseWriter, r *http.Request) {
	status := h.runValidation(r)

	h.metrics.ValidationRunsTotal.WithLabelValues(status.Status).Inc()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderStatusPage(w, h.cfg.Server.ContextPath, status); err != nil {
		h.log.WithError(err).Error("failed to render validation page")
	}
}

func (h *Handlers) runValidation(r *http.Request) *Status {
	_, expectedRequestID := h.consumeCorrelation(nil, r)

	if err := r.ParseForm(); err != nil {
		return h.reporter.BuildErrorStatus("unreadable form body")
	}
	raw := r.FormValue("SAMLResponse")
	if raw == "" {
		return h.reporter.BuildErrorStatus("missing SAMLResponse parameter")
	}

	principal, err := h.authenticator.AuthenticateResponse(r.Context(), raw, h.callbackURL(), expectedRequestID)
	if err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			return h.reporter.BuildErrorStatus(authErr.Messages()...)
		}
		return h.reporter.BuildErrorStatus(err.Error())
	}

	return h.reporter.BuildStatus(principal)
}

// getMetadata handles GET /auth/saml/metadata
func (h *Handlers) getMetadata(w http.ResponseWriter, r *http.Request) {
	reg, err := h.resolver.Resolve(h.callbackURL())
	if err != nil {
		http.Error(w, fmt.Sprintf("SAML is not configured: %v", err), http.StatusServiceUnavailable)
		return
	}

	out, err := BuildSPMetadata(reg)
	if err != nil {
		h.log.WithError(err).Error("failed to build metadata")
		http.Error(w, "failed to build metadata", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(out)
}

// consumeCorrelation reads and expires the login correlation cookies. The
// response writer may be nil when expiry is not wanted.
func (h *Handlers) consumeCorrelation(w http.ResponseWriter, r *http.Request) (relayState, requestID string) {
	if c, err := r.Cookie(relayStateCookie); err == nil {
		relayState = c.Value
	}
	if c, err := r.Cookie(requestIDCookie); err == nil {
		requestID = c.Value
	}
	if w != nil {
		secure := strings.HasPrefix(h.cfg.Server.BaseURL, "https://")
		for _, name := range []string{relayStateCookie, requestIDCookie} {
			expired := correlationCookie(name, "", secure)
			expired.MaxAge = -1
			http.SetCookie(w, expired)
		}
	}
	return relayState, requestID
}

func correlationCookie(name, value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   correlationMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
