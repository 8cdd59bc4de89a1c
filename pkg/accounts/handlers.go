package accounts

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/phoenixkit/phoenixkit/pkg/auth"
	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

// Handlers provides HTTP handlers for account and role operations
type Handlers struct {
	store      *Store
	tokens     *auth.TokenStore
	log        *observability.Logger
	bcryptCost int
}

// NewHandlers creates account handlers
func NewHandlers(store *Store, tokens *auth.TokenStore, log *observability.Logger, bcryptCost int) *Handlers {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		store:      store,
		tokens:     tokens,
		log:        log,
		bcryptCost: bcryptCost,
	}
}

// RegisterRoutes registers all account routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Use(h.requestIDMiddleware)

	// Registration and sessions
	router.HandleFunc("/phoenixkit/register", h.Register).Methods("POST")
	router.HandleFunc("/phoenixkit/login", h.Login).Methods("POST")
	router.HandleFunc("/phoenixkit/logout", h.Logout).Methods("POST")

	// Account management
	router.HandleFunc("/phoenixkit/accounts/{id}", h.GetAccount).Methods("GET")
	router.HandleFunc("/phoenixkit/accounts/{id}/deactivate", h.DeactivateAccount).Methods("POST")
	router.HandleFunc("/phoenixkit/accounts/{id}/activate", h.ActivateAccount).Methods("POST")
	router.HandleFunc("/phoenixkit/accounts/{id}/role", h.SetPrimaryRole).Methods("PUT")
	router.HandleFunc("/phoenixkit/accounts/{id}/secondary_role", h.SetSecondaryRole).Methods("PUT")

	// Role assignments
	router.HandleFunc("/phoenixkit/accounts/{id}/roles", h.ListAssignments).Methods("GET")
	router.HandleFunc("/phoenixkit/accounts/{id}/roles", h.AssignRole).Methods("POST")
	router.HandleFunc("/phoenixkit/accounts/{id}/roles/{name}", h.RevokeRole).Methods("DELETE")

	// Role catalog
	router.HandleFunc("/phoenixkit/roles", h.ListRoles).Methods("GET")
}

// requestIDMiddleware tags every request with an ID carried through the
// request context and the response headers.
func (h *Handlers) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = observability.WithLogger(ctx, h.log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// mapStoreError translates store errors to HTTP responses
func mapStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrRoleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrOwnerInvariant):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func accountID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// Register creates a new account
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	hashed, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.store.Register(ctx, req.Email, hashed)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("registration failed")
		mapStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Login verifies credentials and issues a session token
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.store.GetAccountByEmail(ctx, req.Email)
	if err != nil || !account.IsActive || !auth.VerifyPassword(account.HashedPassword, req.Password) {
		// identical response whether the email or the password is wrong
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := h.tokens.CreateSession(ctx, account.ID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to create session")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"account": account,
	})
}

// Logout invalidates the presented session token
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing bearer token")
		return
	}

	if err := h.tokens.DeleteSession(r.Context(), token); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAccount returns one account by ID
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// DeactivateAccount disables an account, subject to owner protection
func (h *Handlers) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	if err := h.store.DeactivateAccount(r.Context(), id); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateAccount re-enables an account
func (h *Handlers) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	if err := h.store.ActivateAccount(r.Context(), id); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPrimaryRole updates the account's coarse role
func (h *Handlers) SetPrimaryRole(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req struct {
		Role PrimaryRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.store.SetPrimaryRole(r.Context(), id, req.Role); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetSecondaryRole updates the account's secondary tier
func (h *Handlers) SetSecondaryRole(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req struct {
		Role SecondaryRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.store.SetSecondaryRole(r.Context(), id, req.Role); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAssignments returns all role assignments for an account
func (h *Handlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	assignments, err := h.store.ListAssignments(r.Context(), id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

// AssignRole grants a role to an account
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req struct {
		Role       string `json:"role"`
		AssignedBy *int64 `json:"assigned_by,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.store.AssignRole(r.Context(), id, req.Role, req.AssignedBy); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeRole removes a role from an account. With ?soft=true the
// assignment is deactivated instead of deleted.
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	roleName := mux.Vars(r)["name"]

	var err error
	if r.URL.Query().Get("soft") == "true" {
		err = h.store.DeactivateAssignment(r.Context(), id, roleName)
	} else {
		err = h.store.RevokeRole(r.Context(), id, roleName)
	}
	if err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRoles returns the role catalog
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}
