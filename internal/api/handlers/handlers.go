package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/isdelr/leadboard-be/internal/api/respond"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// decodeJSON reads the request body into v. Fields v does not declare are
// ignored, which is what keeps server-assigned fields out of the payloads.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return &common.ValidationError{Field: "body", Reason: "is too large"}
		case errors.Is(err, io.EOF):
			return &common.ValidationError{Field: "body", Reason: "is required"}
		default:
			return &common.ValidationError{Field: "body", Reason: "is not valid JSON"}
		}
	}
	return nil
}

// identity returns the caller resolved by the auth middleware.
func identity(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		log.Error().Str("path", r.URL.Path).Msg("Authenticated route reached without identity in context")
		respond.Error(w, common.ErrMissingCredential)
		return models.User{}, false
	}
	return user, true
}

// fail writes err and logs it. Client errors are logged at debug level.
func fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if respond.Status(err) >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg(msg)
	} else {
		log.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg(msg)
	}
	respond.Error(w, err)
}
