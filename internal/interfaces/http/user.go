package http

import (
	"context"
	"errors"
	"log"
	"net/http"

	"finmirror/internal/domain/user"
	"finmirror/internal/shared/auth"
	"finmirror/internal/shared/middleware"
)

// UserService is the account logic behind the user endpoints.
type UserService interface {
	Register(ctx context.Context, username, password string) (*user.User, error)
	Authenticate(ctx context.Context, userID, password string) (*user.User, error)
	Get(ctx context.Context, userID string) (*user.User, error)
	List(ctx context.Context) ([]*user.Summary, error)
	Delete(ctx context.Context, userID string) error
}

type UserHandler struct {
	users        UserService
	jwt          *auth.JWT
	secureCookie bool
}

func NewUserHandler(users UserService, jwt *auth.JWT, secureCookie bool) *UserHandler {
	return &UserHandler{users: users, jwt: jwt, secureCookie: secureCookie}
}

// bcrypt ignores input past 72 bytes
type createUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type signInRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userInfoResponse struct {
	UserInfo user.Summary `json:"userInfo"`
}

func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Printf("Error creating user %q: %v", req.Username, err)
		writeError(w, http.StatusBadRequest, "User creation failed")
		return
	}

	if err := h.startSession(w, u.ID); err != nil {
		log.Printf("User %s: created but session could not be issued: %v", u.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	log.Printf("User %s: created", u.ID)
	writeJSON(w, http.StatusCreated, user.Summary{ID: u.ID, Username: u.Username})
}

func (h *UserHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.users.Authenticate(r.Context(), req.UserID, req.Password)
	if errors.Is(err, user.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid user ID or password")
		return
	}
	if err != nil {
		log.Printf("Error signing in user %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	if err := h.startSession(w, u.ID); err != nil {
		log.Printf("User %s: session could not be issued: %v", u.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"signedIn": true})
}

func (h *UserHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	h.clearSession(w)
	writeJSON(w, http.StatusOK, map[string]bool{"signedOut": true})
}

func (h *UserHandler) HandleGetMyInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	u, err := h.users.Get(r.Context(), userID)
	if errors.Is(err, user.ErrUserNotFound) {
		h.clearSession(w)
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		log.Printf("User %s: error loading profile: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, userInfoResponse{UserInfo: user.Summary{ID: u.ID, Username: u.Username}})
}

// HandleList returns ids and usernames only; sign-in is by user id.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		log.Printf("Error listing users: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	if users == nil {
		users = []*user.Summary{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	err := h.users.Delete(r.Context(), userID)
	if errors.Is(err, user.ErrUserNotFound) {
		h.clearSession(w)
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		log.Printf("User %s: error deleting account: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "There was an error deleting your account.")
		return
	}

	h.clearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deleted successfully."})
}

func (h *UserHandler) startSession(w http.ResponseWriter, userID string) error {
	token, err := h.jwt.Generate(userID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.jwt.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (h *UserHandler) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
