package server

import (
	"errors"
	"net/http"
	"news-summariser/config"
	"news-summariser/metrics"
	"news-summariser/subscription"
)

const (
	msgVerificationSent = "Verification email sent. Please confirm to activate your subscription."
	msgInvalidLink      = "Invalid or expired verification link"
)

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email *string `json:"email"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Email == nil || *body.Email == "" {
		s.writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	err := s.subscriptions.Request(r.Context(), *body.Email)
	if errors.Is(err, subscription.ErrInvalidEmail) {
		s.writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Subscription request failed", err)
		return
	}

	metrics.RecordSubscription("requested")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"message": msgVerificationSent})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		s.writeError(w, http.StatusBadRequest, msgInvalidLink)
		return
	}

	outcome, err := s.subscriptions.Verify(r.Context(), tok)
	if errors.Is(err, subscription.ErrInvalidToken) {
		s.writeError(w, http.StatusBadRequest, msgInvalidLink)
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Subscription verification failed", err)
		return
	}

	if outcome == subscription.Activated {
		metrics.RecordSubscription("activated")
	} else {
		metrics.RecordSubscription("already_verified")
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": outcome.Message()})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		s.renderPage(w, http.StatusBadRequest, "Unsubscribe", "Missing unsubscribe token.")
		return
	}

	_, err := s.subscriptions.Unsubscribe(r.Context(), tok)
	switch {
	case errors.Is(err, subscription.ErrInvalidToken):
		s.renderPage(w, http.StatusBadRequest, "Unsubscribe", "Unsubscribe link is invalid or expired.")
	case config.IsMissing(err):
		s.logger.Error("Unsubscribe failed", "request_id", requestID(r.Context()), "error", err)
		s.renderPage(w, http.StatusInternalServerError, "Unsubscribe", "Server configuration error.")
	case err != nil:
		s.logger.Error("Unsubscribe failed", "request_id", requestID(r.Context()), "error", err)
		s.renderPage(w, http.StatusInternalServerError, "Unsubscribe", "Something went wrong unsubscribing you. Please try again later.")
	default:
		metrics.RecordSubscription("unsubscribed")
		s.renderPage(w, http.StatusOK, "Unsubscribed", "You have been unsubscribed. You will no longer receive daily summaries.")
	}
}
