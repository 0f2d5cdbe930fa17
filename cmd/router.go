package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	aegisgate "github.com/AegisGate/aegis-gate"
	"github.com/AegisGate/aegis-gate/internal/authn"
	"github.com/AegisGate/aegis-gate/internal/authz"
	"github.com/AegisGate/aegis-gate/internal/metrics"
	"github.com/AegisGate/aegis-gate/models"
)

const adminRequestsPerMinute = 60

// newRouter wires the HTTP surface: the decision endpoints, the
// authentication flows, the administrative operations and the metrics
// scrape endpoint.
func newRouter(gate *aegisgate.Gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	h := &handlers{gate: gate}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/check", h.check)
		r.Post("/access", h.access)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.Post("/logout", h.logout)
			r.Get("/verify", h.verify)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(httprate.LimitByIP(adminRequestsPerMinute, time.Minute))

			r.Get("/blocks", h.listBlocks)
			r.Post("/blocks", h.block)
			r.Delete("/blocks", h.unblock)
			r.Get("/blocks/export", h.exportBlocklist)
			r.Post("/blocks/import", h.importBlocklist)

			r.Get("/rules", h.listRules)
			r.Post("/rules", h.addRule)
			r.Delete("/rules/{id}", h.removeRule)

			r.Get("/permissions", h.listPermissions)
			r.Post("/permissions", h.registerPermission)

			r.Post("/roles", h.createRole)
			r.Put("/roles/{id}", h.updateRole)
			r.Delete("/roles/{id}", h.deleteRole)
			r.Post("/roles/{id}/assign", h.assignRole)

			r.Get("/policies", h.listPolicies)
			r.Post("/policies", h.createPolicy)
			r.Delete("/policies/{id}", h.deletePolicy)

			r.Get("/activities", h.listActivities)
			r.Post("/activities/{id}/resolve", h.resolveActivity)
			r.Get("/attacks", h.listAttacks)
			r.Get("/audit", h.listAudit)

			r.Post("/keys/rotate", h.rotateKeys)
			r.Post("/keys/export", h.exportKeys)
			r.Post("/keys/import", h.importKeys)
		})
	})

	return r
}

type handlers struct {
	gate *aegisgate.Gateway
}

func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	var descriptor models.RequestDescriptor
	if !decodeBody(w, r, &descriptor) {
		return
	}
	if descriptor.SourceIP == "" {
		descriptor.SourceIP = clientIP(r)
	}
	writeJSON(w, http.StatusOK, h.gate.CheckRequest(r.Context(), descriptor))
}

func (h *handlers) access(w http.ResponseWriter, r *http.Request) {
	var req models.AccessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.gate.CheckAccess(r.Context(), req))
}

type credentialsBody struct {
	Identity         string `json:"identity"`
	Credential       string `json:"credential"`
	SecondFactorCode string `json:"second_factor_code,omitempty"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}

	principal, err := h.gate.Auth().Register(r.Context(), body.Identity, body.Credential)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, principal)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}

	pair, err := h.gate.Auth().Login(r.Context(), authn.LoginInput{
		Identity:         body.Identity,
		Credential:       body.Credential,
		SecondFactorCode: body.SecondFactorCode,
		SourceIP:         clientIP(r),
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !decodeBody(w, r, &body) {
		return
	}

	pair, err := h.gate.Auth().Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !decodeBody(w, r, &body) {
		return
	}

	_ = h.gate.Auth().Logout(r.Context(), body.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	principal, err := h.gate.Auth().Verify(r.Context(), token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": principal,
		"roles":     h.gate.Authz().PrincipalRoles(principal.ID),
	})
}

type blockBody struct {
	Type     models.BlockType `json:"type"`
	Value    string           `json:"value"`
	Reason   string           `json:"reason,omitempty"`
	Duration time.Duration    `json:"duration,omitempty"`
}

func (h *handlers) listBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Guard().BlockedEntities())
}

func (h *handlers) block(w http.ResponseWriter, r *http.Request) {
	var body blockBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	entity := models.BlockedEntity{
		Type:     body.Type,
		Value:    body.Value,
		Reason:   body.Reason,
		Severity: models.BlockPermanent,
	}
	if body.Duration > 0 {
		expiresAt := time.Now().UTC().Add(body.Duration)
		entity.Severity = models.BlockTemporary
		entity.ExpiresAt = &expiresAt
	}

	h.gate.Guard().BlockEntity(r.Context(), entity)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) unblock(w http.ResponseWriter, r *http.Request) {
	var body blockBody
	if !decodeBody(w, r, &body) {
		return
	}
	if !h.gate.Guard().UnblockEntity(r.Context(), body.Type, body.Value) {
		writeError(w, http.StatusNotFound, "no such block entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) exportBlocklist(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.gate.Guard().ExportBlocklist()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(snapshot)
}

func (h *handlers) importBlocklist(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	imported, err := h.gate.Guard().ImportBlocklist(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

func (h *handlers) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Guard().Rules())
}

func (h *handlers) addRule(w http.ResponseWriter, r *http.Request) {
	var rule models.RateLimitRule
	if !decodeBody(w, r, &rule) {
		return
	}
	id := h.gate.Guard().AddRule(rule)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) removeRule(w http.ResponseWriter, r *http.Request) {
	if !h.gate.Guard().RemoveRule(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "no such rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Authz().Permissions())
}

func (h *handlers) registerPermission(w http.ResponseWriter, r *http.Request) {
	var permission models.Permission
	if !decodeBody(w, r, &permission) {
		return
	}
	registered, err := h.gate.Authz().RegisterPermission(permission)
	if err != nil {
		writeAuthzError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registered)
}

func (h *handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var role models.Role
	if !decodeBody(w, r, &role) {
		return
	}
	if err := h.gate.Authz().CreateRole(role); err != nil {
		writeAuthzError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (h *handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	var role models.Role
	if !decodeBody(w, r, &role) {
		return
	}
	role.ID = chi.URLParam(r, "id")
	if err := h.gate.Authz().UpdateRole(role); err != nil {
		writeAuthzError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Authz().DeleteRole(chi.URLParam(r, "id")); err != nil {
		writeAuthzError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignBody struct {
	PrincipalID string `json:"principal_id"`
}

func (h *handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.gate.Authz().AssignRole(body.PrincipalID, chi.URLParam(r, "id")); err != nil {
		writeAuthzError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Authz().Policies())
}

func (h *handlers) createPolicy(w http.ResponseWriter, r *http.Request) {
	var policy models.AccessPolicy
	if !decodeBody(w, r, &policy) {
		return
	}
	created, err := h.gate.Authz().CreatePolicy(policy)
	if err != nil {
		writeAuthzError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) deletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Authz().DeletePolicy(chi.URLParam(r, "id")); err != nil {
		writeAuthzError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listActivities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Guard().RecentActivities(100))
}

func (h *handlers) resolveActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Guard().ResolveActivity(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listAttacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Monitor().Attacks())
}

func (h *handlers) listAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.AuditTrail().Recent(100))
}

func (h *handlers) rotateKeys(w http.ResponseWriter, r *http.Request) {
	keyID, err := h.gate.Vault().RotateKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_key_id": keyID})
}

type keyExportBody struct {
	MasterSecret string `json:"master_secret"`
	Payload      string `json:"payload,omitempty"`
}

func (h *handlers) exportKeys(w http.ResponseWriter, r *http.Request) {
	var body keyExportBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.MasterSecret == "" {
		writeError(w, http.StatusBadRequest, "master_secret is required")
		return
	}

	sealed, err := h.gate.Vault().ExportKeys(body.MasterSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payload": string(sealed)})
}

func (h *handlers) importKeys(w http.ResponseWriter, r *http.Request) {
	var body keyExportBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.MasterSecret == "" || body.Payload == "" {
		writeError(w, http.StatusBadRequest, "master_secret and payload are required")
		return
	}

	if err := h.gate.Vault().ImportKeys([]byte(body.Payload), body.MasterSecret); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAuthError maps authentication errors to HTTP statuses without
// leaking more than the sentinel itself reveals.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authn.ErrDuplicateIdentity):
		writeError(w, http.StatusConflict, "identity already registered")
	case errors.Is(err, authn.ErrWeakCredential):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authn.ErrAccountLocked):
		writeError(w, http.StatusForbidden, "account locked")
	case errors.Is(err, authn.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account disabled")
	case errors.Is(err, authn.ErrSecondFactorRequired):
		writeError(w, http.StatusUnauthorized, "second factor required")
	case errors.Is(err, authn.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, authn.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "token invalid")
	case errors.Is(err, authn.ErrUnknownPrincipal):
		writeError(w, http.StatusNotFound, "unknown principal")
	default:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	}
}

func writeAuthzError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrRoleNotFound), errors.Is(err, authz.ErrPolicyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, authz.ErrRoleExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrSystemRole):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return host
}
