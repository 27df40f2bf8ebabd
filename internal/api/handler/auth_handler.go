package handler

import (
	"encoding/json"
	"net/http"

	"consentido_auth/internal/api/middleware"
	"consentido_auth/internal/app/service"
	"consentido_auth/internal/common"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
)

const maxBodyBytes = 1 << 20

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Get("/verify", h.verify)
	r.With(middleware.RequireAuth(h.authService)).Get("/me", h.me)
}

type verifyFailure struct {
	Valid   bool   `json:"valid"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	resp, err := h.authService.Register(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, resp)
}

// verify accepts the token as ?token= or, failing that, as a bearer header.
func (h *AuthHandler) verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = jwtauth.TokenFromHeader(r)
	}

	resp, err := h.authService.Verify(r.Context(), token)
	if err != nil {
		status := common.HTTPStatusFromError(err)
		common.RespondWithJSON(w, status, verifyFailure{
			Valid:   false,
			Error:   common.KindOf(err).Error(),
			Message: common.MessageOf(err),
		})
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Authorization token required")
		return
	}
	common.RespondWithJSON(w, http.StatusOK, profile)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}
