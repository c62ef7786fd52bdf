package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rubenvitt/r-gone-sub007/internal/grants"
	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var input grants.CreateGrantInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}
	input.GrantedBy = actorID(r)

	grant, err := s.grants.CreateGrant(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := access.GrantFilter{
		MatrixID:      query.Get("matrix_id"),
		BeneficiaryID: query.Get("beneficiary_id"),
		ActiveOnly:    query.Get("active") == "true",
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	list, err := s.grants.ListGrants(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetGrant(w http.ResponseWriter, r *http.Request) {
	grant, err := s.grants.GetGrant(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	grant, err := s.grants.RevokeGrant(r.Context(), mux.Vars(r)["id"], actorID(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}
