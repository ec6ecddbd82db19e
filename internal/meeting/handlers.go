package meeting

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meshconf/conference-relay/internal/auth"
)

// Handler serves the account and meeting-history API.
type Handler struct {
	store  *Store
	tokens *auth.TokenManager
	log    *slog.Logger

	// now is swapped out by tests.
	now func() time.Time
}

func NewHandler(store *Store, tokens *auth.TokenManager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:  store,
		tokens: tokens,
		log:    log.With("component", "meeting"),
		now:    time.Now,
	}
}

// RegisterRoutes mounts the API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/users/register", h.handleRegister)
	mux.HandleFunc("POST /api/v1/users/login", h.handleLogin)
	mux.Handle("POST /api/v1/meetings/add", h.authenticated(h.handleAddMeeting))
	mux.Handle("GET /api/v1/meetings/history", h.authenticated(h.handleHistory))
	mux.Handle("POST /api/v1/meetings/{code}/end", h.authenticated(h.handleEndMeeting))
	mux.Handle("DELETE /api/v1/meetings/{code}", h.authenticated(h.handleDeleteMeeting))
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type meetingRequest struct {
	Code string `json:"code"`
}

type meetingResponse struct {
	Code      string    `json:"code"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("hash password", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	u := &User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		PasswordHash: hash,
		CreatedAt:    h.now(),
	}
	if err := h.store.CreateUser(u); err != nil {
		if errors.Is(err, ErrUserExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		h.log.Error("create user", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.log.Info("user registered", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": u.ID})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.store.FindUserByEmail(strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("find user", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !auth.VerifyPassword(req.Password, u.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := h.tokens.Issue(u.ID, u.Name)
	if err != nil {
		h.log.Error("issue token", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) handleAddMeeting(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req meetingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	m := &Meeting{
		ID:        uuid.NewString(),
		UserID:    claims.UserID,
		Code:      req.Code,
		Status:    StatusActive,
		CreatedAt: h.now(),
	}
	if err := h.store.AddMeeting(m); err != nil {
		h.log.Error("add meeting", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": m.ID})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	meetings, err := h.store.MeetingsByUser(claims.UserID)
	if err != nil {
		h.log.Error("list meetings", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]meetingResponse, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, meetingResponse{Code: m.Code, Status: m.Status, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) handleEndMeeting(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	code := r.PathValue("code")
	if err := h.store.EndMeeting(claims.UserID, code); err != nil {
		if errors.Is(err, ErrMeetingNotFound) {
			writeError(w, http.StatusNotFound, "meeting not found")
			return
		}
		h.log.Error("end meeting", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusEnded})
}

func (h *Handler) handleDeleteMeeting(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	code := r.PathValue("code")
	if err := h.store.DeleteMeeting(claims.UserID, code); err != nil {
		if errors.Is(err, ErrMeetingNotFound) {
			writeError(w, http.StatusNotFound, "meeting not found")
			return
		}
		h.log.Error("delete meeting", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type authedHandlerFunc func(http.ResponseWriter, *http.Request, *auth.Claims)

// authenticated verifies the Bearer token and passes the claims through.
func (h *Handler) authenticated(next authedHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, claims)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
