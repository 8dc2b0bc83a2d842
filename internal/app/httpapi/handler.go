// Package httpapi exposes the application services as JSON RPC calls under
// /rpc/<method>. Every call runs on behalf of the bearer token's actor.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/agentbank/internal/app"
	"github.com/R3E-Network/agentbank/internal/app/metrics"
	"github.com/R3E-Network/agentbank/internal/app/services/actors"
	apperrors "github.com/R3E-Network/agentbank/internal/errors"
	"github.com/R3E-Network/agentbank/internal/httputil"
	"github.com/R3E-Network/agentbank/internal/logging"
	"github.com/R3E-Network/agentbank/internal/middleware"
	"github.com/R3E-Network/agentbank/pkg/logger"
)

// Paths served without a bearer token.
const (
	PathHealth  = "/health"
	PathMetrics = "/metrics"
	PathLogin   = "/auth/login"
)

// Config carries the HTTP collaborators. Issuer is required.
type Config struct {
	Issuer      *middleware.TokenIssuer
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Audit       *AuditLog
	Log         *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	issuer *middleware.TokenIssuer
	audit  *AuditLog
	log    *logger.Logger
}

type rpcRoute struct {
	method string
	fn     http.HandlerFunc
}

// NewHandler returns the router with the full middleware chain applied.
func NewHandler(application *app.Application, cfg Config) (http.Handler, error) {
	if application == nil {
		return nil, errors.New("httpapi: application is required")
	}
	if cfg.Issuer == nil {
		return nil, errors.New("httpapi: token issuer is required")
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("httpapi")
	}
	if cfg.Audit == nil {
		cfg.Audit = NewAuditLog(0, nil)
	}
	h := &handler{app: application, issuer: cfg.Issuer, audit: cfg.Audit, log: cfg.Log}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, apperrors.NotFound("route", r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorBody{
			Status:  httputil.StatusError,
			Code:    "METHOD_NOT_ALLOWED",
			Message: r.Method + " not allowed on " + r.URL.Path,
		})
	})

	router.Use(
		middleware.NewTracingMiddleware(cfg.Log.WithComponent("http")).Handler,
		middleware.MetricsMiddleware,
		middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler,
		middleware.NewAuthMiddleware(cfg.Issuer, cfg.Log.WithComponent("auth"), []string{PathHealth, PathMetrics, PathLogin}).Handler,
	)
	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.Handler)
	}
	router.Use(cfg.Audit.Middleware)

	router.HandleFunc(PathHealth, h.health).Methods(http.MethodGet)
	router.Handle(PathMetrics, metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc(PathLogin, h.login).Methods(http.MethodPost, http.MethodOptions)

	rpc := router.PathPrefix("/rpc").Subrouter()
	for _, route := range h.routes() {
		rpc.HandleFunc("/"+route.method, route.fn).Methods(http.MethodPost, http.MethodOptions)
	}
	return router, nil
}

func (h *handler) routes() []rpcRoute {
	return []rpcRoute{
		// identity
		{"get_user", h.getUser},
		{"list_users", h.listUsers},
		{"provision_user", h.provisionUser},
		{"set_user_active", h.setUserActive},
		{"create_agency", h.createAgency},
		{"list_agencies", h.listAgencies},

		// operations
		{"create_operation_type", h.createOperationType},
		{"list_operation_types", h.listOperationTypes},
		{"create_operation", h.createOperation},
		{"get_operation", h.getOperation},
		{"list_operations", h.listOperations},
		{"cancel_operation", h.cancelOperation},
		{"settle_operation", h.settleOperation},
		{"recharge", h.recharge},
		{"list_ledger", h.listLedger},
		{"verify_balance", h.verifyBalance},

		// validation queue
		{"claim_next_operation", h.claimNextOperation},
		{"claim_operation", h.claimOperation},
		{"release_operation", h.releaseOperation},
		{"list_pending_operations", h.listPendingOperations},
		{"get_validation_queue_stats", h.queueStats},

		// commissions
		{"set_commission_rule", h.setCommissionRule},
		{"list_commission_rules", h.listCommissionRules},
		{"list_commission_records", h.listCommissionRecords},
		{"get_commission_summary", h.commissionSummary},
		{"pay_commission", h.payCommission},
		{"list_commission_transfers", h.listCommissionTransfers},

		// tickets
		{"open_ticket", h.openTicket},
		{"get_ticket", h.getTicket},
		{"list_tickets", h.listTickets},
		{"resolve_ticket", h.resolveTicket},
		{"cancel_ticket", h.cancelTicket},
		{"add_ticket_comment", h.addTicketComment},
		{"list_ticket_comments", h.listTicketComments},

		{"list_audit_log", h.listAuditLog},
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteOK(w, map[string]any{
		"services": h.app.Services(),
		"time":     time.Now().UTC(),
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.app.Provisioning.Authenticate(r.Context(), payload.Identifier, payload.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, expires, err := h.issuer.Issue(user.ID, string(user.Role))
	if err != nil {
		h.fail(w, r, apperrors.Internal("issue token", err))
		return
	}
	httputil.WriteOK(w, map[string]any{
		"token":      token,
		"expires_at": expires,
		"user":       user,
	})
}

func (h *handler) listAuditLog(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Limit int `json:"limit"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := actors.Administrator(r.Context(), h.app.Store(), logging.ActorID(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"entries": h.audit.List(payload.Limit)})
}

// fail writes the error envelope. Internal failures are logged at Error,
// everything else at Warn.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	entry := h.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path)
	if apperrors.IsKind(err, apperrors.KindInternal) {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	httputil.WriteError(w, err)
}

// decode reads the body and returns the caller id. It writes the failure
// itself and reports false when the handler should stop.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) (string, bool) {
	if err := httputil.DecodeJSON(r, v); err != nil {
		h.fail(w, r, err)
		return "", false
	}
	actor := logging.ActorID(r.Context())
	if actor == "" {
		h.fail(w, r, apperrors.Unauthorized(""))
		return "", false
	}
	return actor, true
}
