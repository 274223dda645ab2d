package users

import (
	"errors"
	"net/http"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// HandleMe handles GET /api/v1/me
func HandleMe(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		service := NewService(pool)
		profile, err := service.GetProfile(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				apperrors.WriteUnauthorized(w, r, "Account no longer exists")
				return
			}
			log.Error().Err(err).Msg("Failed to load profile")
			apperrors.WriteInternalError(w, r, "Failed to load profile")
			return
		}

		request, err := service.PendingRequest(ctx, userID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load join request for profile")
			apperrors.WriteInternalError(w, r, "Failed to load profile")
			return
		}

		resp := map[string]any{
			"user": profile,
		}
		if request != nil {
			resp["latest_request"] = map[string]any{
				"id":           request.ID,
				"org_id":       request.OrgID,
				"status":       request.Status,
				"requested_at": request.RequestedAt,
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, resp)
	}
}
