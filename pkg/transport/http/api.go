// Package httptransport serves the credential operations over JSON/HTTP.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/porthorian/hashpolicy"
	oerrors "github.com/porthorian/hashpolicy/pkg/errors"
)

const maxBodyBytes = 64 << 10

// CredentialService is the part of *hashpolicy.Client the API needs.
type CredentialService interface {
	SetPassword(ctx context.Context, input hashpolicy.SetPasswordInput) (hashpolicy.Result, error)
	Authenticate(ctx context.Context, input hashpolicy.PasswordInput) (hashpolicy.Result, error)
	CheckPolicy(ctx context.Context, subject string, realm string) (bool, error)
}

type Config struct {
	Service        CredentialService
	MetricsHandler http.Handler
	Logger         logr.Logger
	RequestTimeout time.Duration
}

type API struct {
	service        CredentialService
	metricsHandler http.Handler
	logger         logr.Logger
	requestTimeout time.Duration
}

func NewAPI(config Config) *API {
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &API{
		service:        config.Service,
		metricsHandler: config.MetricsHandler,
		logger:         logger,
		requestTimeout: timeout,
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.requestTimeout))

	a.RegisterRoutes(r)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}
	return r
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)
	r.Route("/v1/subjects/{subject}", func(r chi.Router) {
		r.Put("/password", a.handleSetPassword)
		r.Post("/verify", a.handleVerify)
		r.Get("/policy", a.handleCheckPolicy)
	})
}

type passwordRequest struct {
	Password string `json:"password"`
	Realm    string `json:"realm,omitempty"`
}

type credentialResponse struct {
	CredentialID string    `json:"credential_id"`
	Subject      string    `json:"subject"`
	Algorithm    string    `json:"algorithm"`
	Cost         int       `json:"cost"`
	Rehashed     bool      `json:"rehashed"`
	At           time.Time `json:"at"`
}

type policyResponse struct {
	Subject   string `json:"subject"`
	Realm     string `json:"realm"`
	Compliant bool   `json:"compliant"`
}

type errorResponse struct {
	Code  oerrors.Code `json:"code"`
	Error string       `json:"error"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	body, ok := a.decodePasswordRequest(w, r)
	if !ok {
		return
	}

	result, err := a.service.SetPassword(r.Context(), hashpolicy.SetPasswordInput{
		Subject:  chi.URLParam(r, "subject"),
		Realm:    body.Realm,
		Password: body.Password,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentialResponse(result))
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, ok := a.decodePasswordRequest(w, r)
	if !ok {
		return
	}

	result, err := a.service.Authenticate(r.Context(), hashpolicy.PasswordInput{
		Subject:  chi.URLParam(r, "subject"),
		Realm:    body.Realm,
		Password: body.Password,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentialResponse(result))
}

func (a *API) handleCheckPolicy(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	realm := strings.TrimSpace(r.URL.Query().Get("realm"))

	compliant, err := a.service.CheckPolicy(r.Context(), subject, realm)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{
		Subject:   strings.TrimSpace(subject),
		Realm:     realm,
		Compliant: compliant,
	})
}

func (a *API) decodePasswordRequest(w http.ResponseWriter, r *http.Request) (passwordRequest, bool) {
	var body passwordRequest

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:  oerrors.CodeInvalidInput,
			Error: "invalid request body",
		})
		return passwordRequest{}, false
	}
	return body, true
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := oerrors.CodeOf(err)
	status := statusFor(code)

	message := err.Error()
	var typed *oerrors.Error
	if errors.As(err, &typed) && typed.Message != "" {
		message = typed.Message
	}
	if oerrors.IsInternalCode(err) || status == http.StatusInternalServerError {
		a.logger.Error(err, "request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		message = "internal error"
	}

	writeJSON(w, status, errorResponse{Code: code, Error: message})
}

func statusFor(code oerrors.Code) int {
	switch code {
	case oerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case oerrors.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case oerrors.CodeNotFound:
		return http.StatusNotFound
	case oerrors.CodeConflict:
		return http.StatusConflict
	case oerrors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toCredentialResponse(result hashpolicy.Result) credentialResponse {
	return credentialResponse{
		CredentialID: result.CredentialID,
		Subject:      result.Subject,
		Algorithm:    result.Algorithm,
		Cost:         result.Cost,
		Rehashed:     result.Rehashed,
		At:           result.At,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
