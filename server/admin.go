package server

import (
	"context"
	"errors"
	"net/http"
	"news-summariser/auth"
	"news-summariser/pipeline"
	"news-summariser/pkg/digest"
	"news-summariser/storage"
	"time"
)

type adminKey struct{}

// requireAdmin rejects requests without a valid session cookie.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.auth.FromRequest(r)
		if !ok {
			s.writeJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, user)))
	}
}

func adminFrom(ctx context.Context) digest.AdminUser {
	u, _ := ctx.Value(adminKey{}).(digest.AdminUser)
	return u
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, err := s.auth.Login(r.Context(), body.Email, body.Password)
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		s.writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	case err != nil:
		s.writeFailure(w, r, "Login failed", err)
		return
	}

	http.SetCookie(w, auth.SessionCookie(sess))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    sess.User,
	})
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	user, ok := s.auth.FromRequest(r)
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, auth.ClearCookie())
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, found, err := s.drafts.Latest(r.Context())
	if err != nil {
		s.writeFailure(w, r, "Failed to load draft", err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusOK, map[string]any{"summary": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"summary": draft})
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SummaryText *string `json:"summaryText"`
	}
	if err := decodeJSON(w, r, &body); err != nil || body.SummaryText == nil {
		s.writeError(w, http.StatusBadRequest, "summaryText is required")
		return
	}

	draft, err := s.drafts.UpdateText(r.Context(), *body.SummaryText, time.Now())
	switch {
	case errors.Is(err, storage.ErrEmptySummary):
		s.writeError(w, http.StatusBadRequest, "summaryText is required")
		return
	case storage.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, "No draft summary")
		return
	case err != nil:
		s.writeFailure(w, r, "Failed to update draft", err)
		return
	}

	s.logger.Info("Draft edited", "admin", adminFrom(r.Context()).Email)
	s.writeJSON(w, http.StatusOK, map[string]any{"summary": draft})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	// An optional body publishes the given summary instead of the draft.
	var override *digest.Summary
	if r.ContentLength != 0 {
		var body digest.Summary
		if err := decodeJSON(w, r, &body); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if body.SummaryText != "" {
			override = &body
		}
	}

	key, _, err := s.publisher.Publish(r.Context(), override)
	if errors.Is(err, pipeline.ErrNoDraft) {
		s.writeError(w, http.StatusNotFound, "No draft summary to publish")
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Publish failed", err)
		return
	}

	s.logger.Info("Summary publish requested", "admin", adminFrom(r.Context()).Email, "key", key)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"key":     key,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	summary, found, err := s.published.Latest(r.Context())
	if err != nil {
		s.writeFailure(w, r, "Failed to load summary", err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "No summary published yet")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	s.writeJSON(w, http.StatusOK, summary)
}
