package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// SignupRequest represents the signup request payload
type SignupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned on successful signup or login.
type SessionResponse struct {
	UserID uuid.UUID  `json:"user_id"`
	Email  string     `json:"email"`
	Name   string     `json:"name"`
	Role   string     `json:"role"`
	OrgID  *uuid.UUID `json:"org_id,omitempty"`
}

// HandleSignup processes user registration via POST /api/v1/auth/signup
func HandleSignup(pool *pgxpool.Pool, auditor *audit.Writer, jwtSecret string, sessionDays int, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		req.Email = strings.TrimSpace(req.Email)
		req.Name = strings.TrimSpace(req.Name)

		if !isValidEmail(req.Email) {
			apperrors.WriteBadRequest(w, r, "Invalid email address")
			return
		}
		if len(req.Password) < 8 {
			apperrors.WriteBadRequest(w, r, "Password must be at least 8 characters")
			return
		}

		passwordHash, err := HashPassword(req.Password)
		if err != nil {
			log.Error().Err(err).Msg("Failed to hash password")
			apperrors.WriteInternalError(w, r, "Failed to create account")
			return
		}

		var userID uuid.UUID
		err = pool.QueryRow(r.Context(), `
			INSERT INTO users (email, name, password_hash)
			VALUES ($1, $2, $3)
			RETURNING id
		`, req.Email, req.Name, passwordHash).Scan(&userID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
				apperrors.WriteConflict(w, r, "Email address already registered")
				return
			}

			log.Error().Err(err).Str("email", req.Email).Msg("Failed to insert user")
			apperrors.WriteInternalError(w, r, "Failed to create account")
			return
		}

		if err := auditor.LogUserSignup(r.Context(), userID, req.Email); err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to log audit event")
		}

		token, err := CreateToken(userID, req.Email, "MEMBER", nil, jwtSecret, sessionDays)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create token")
			apperrors.WriteInternalError(w, r, "Failed to create session")
			return
		}

		SetSessionCookie(w, token, sessionDays, isProduction)
		issueCSRFCookie(w, isProduction)

		log.Info().
			Str("user_id", userID.String()).
			Str("email", req.Email).
			Msg("User signed up")

		apperrors.WriteSuccess(w, r, http.StatusCreated, SessionResponse{
			UserID: userID,
			Email:  req.Email,
			Name:   req.Name,
			Role:   "MEMBER",
		})
	}
}

// HandleLogin processes authentication via POST /api/v1/auth/login
func HandleLogin(pool *pgxpool.Pool, auditor *audit.Writer, jwtSecret string, sessionDays int, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			apperrors.WriteBadRequest(w, r, "Email and password are required")
			return
		}

		var (
			userID       uuid.UUID
			name         string
			passwordHash string
			role         string
			currentOrgID *uuid.UUID
		)
		err := pool.QueryRow(r.Context(), `
			SELECT id, name, password_hash, role, current_org_id
			FROM users
			WHERE email = $1
		`, req.Email).Scan(&userID, &name, &passwordHash, &role, &currentOrgID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logFailedLogin(r, auditor, req.Email)
				apperrors.WriteUnauthorized(w, r, "Invalid email or password")
				return
			}
			log.Error().Err(err).Msg("Failed to load user")
			apperrors.WriteInternalError(w, r, "Failed to log in")
			return
		}

		if err := VerifyPassword(passwordHash, req.Password); err != nil {
			logFailedLogin(r, auditor, req.Email)
			apperrors.WriteUnauthorized(w, r, "Invalid email or password")
			return
		}

		// Role and org in the token are a snapshot for client rendering only;
		// they are never trusted for authorization.
		token, err := CreateToken(userID, req.Email, role, currentOrgID, jwtSecret, sessionDays)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create token")
			apperrors.WriteInternalError(w, r, "Failed to create session")
			return
		}

		SetSessionCookie(w, token, sessionDays, isProduction)
		issueCSRFCookie(w, isProduction)

		log.Info().Str("user_id", userID.String()).Msg("User logged in")

		apperrors.WriteSuccess(w, r, http.StatusOK, SessionResponse{
			UserID: userID,
			Email:  req.Email,
			Name:   name,
			Role:   role,
			OrgID:  currentOrgID,
		})
	}
}

// HandleLogout clears the session via POST /api/v1/auth/logout
func HandleLogout(isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ClearSessionCookie(w)
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"logged_out": true,
		})
	}
}

func logFailedLogin(r *http.Request, auditor *audit.Writer, email string) {
	if err := auditor.LogLoginFailed(r.Context(), email, r.RemoteAddr); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}
}

func issueCSRFCookie(w http.ResponseWriter, isProduction bool) {
	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate CSRF token")
		return
	}
	SetCSRFCookie(w, csrfToken, isProduction)
}

func isValidEmail(email string) bool {
	if email == "" || len(email) > 320 {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
