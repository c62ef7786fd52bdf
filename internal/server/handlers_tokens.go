package server

import (
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rubenvitt/r-gone-sub007/internal/tokens"
	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var input tokens.GenerateTokenInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}
	input.OwnerID = actorID(r)

	grant, err := s.tokens.GenerateToken(r.Context(), input)
	if err != nil {
		s.metrics.TokenOperations.WithLabelValues("generate", "error").Inc()
		writeError(w, err)
		return
	}

	s.metrics.TokenOperations.WithLabelValues("generate", "success").Inc()
	writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := access.TokenFilter{
		OwnerID:    query.Get("owner_id"),
		ContactID:  query.Get("contact_id"),
		ActiveOnly: query.Get("active") == "true",
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	list, err := s.tokens.ListTokens(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokens.GetToken(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

type bearerRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleActivateToken(w http.ResponseWriter, r *http.Request) {
	var req bearerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.tokens.ActivateToken(r.Context(), mux.Vars(r)["id"], req.Secret)
	if err != nil {
		s.metrics.TokenOperations.WithLabelValues("activate", "error").Inc()
		writeError(w, err)
		return
	}

	s.metrics.TokenOperations.WithLabelValues("activate", "success").Inc()
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleConsumeToken(w http.ResponseWriter, r *http.Request) {
	var req bearerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.tokens.ConsumeToken(r.Context(), mux.Vars(r)["id"], req.Secret, clientIP(r))
	if err != nil {
		s.metrics.TokenOperations.WithLabelValues("consume", "error").Inc()
		writeError(w, err)
		return
	}

	s.metrics.TokenOperations.WithLabelValues("consume", "success").Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req bearerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	grant, err := s.tokens.RefreshToken(r.Context(), mux.Vars(r)["id"], req.Secret)
	if err != nil {
		s.metrics.TokenOperations.WithLabelValues("refresh", "error").Inc()
		writeError(w, err)
		return
	}

	s.metrics.TokenOperations.WithLabelValues("refresh", "success").Inc()
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.tokens.RevokeToken(r.Context(), mux.Vars(r)["id"], actorID(r), req.Reason)
	if err != nil {
		s.metrics.TokenOperations.WithLabelValues("revoke", "error").Inc()
		writeError(w, err)
		return
	}

	s.metrics.TokenOperations.WithLabelValues("revoke", "success").Inc()
	writeJSON(w, http.StatusOK, token)
}

// clientIP resolves the caller's address, preferring the forwarded header
// set by the upstream proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
