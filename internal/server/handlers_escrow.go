package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rubenvitt/r-gone-sub007/internal/escrow"
	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

func (s *Server) handleRequestRecovery(w http.ResponseWriter, r *http.Request) {
	var input escrow.RecoveryInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}
	input.RequesterID = actorID(r)

	request, err := s.escrow.RequestKeyRecovery(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.EscrowTransitions.WithLabelValues(string(request.Status)).Inc()
	writeJSON(w, http.StatusCreated, request)
}

func (s *Server) handleListRecoveryRequests(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := access.EscrowFilter{
		RequesterID: query.Get("requester_id"),
		TrusteeID:   query.Get("trustee_id"),
		Status:      access.EscrowStatus(query.Get("status")),
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	list, err := s.escrow.ListRequests(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.escrow.GetRequestStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type trusteeDecisionRequest struct {
	Vote   string `json:"vote"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleTrusteeDecision(w http.ResponseWriter, r *http.Request) {
	var req trusteeDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	request, err := s.escrow.ProcessTrusteeDecision(r.Context(), mux.Vars(r)["id"], actorID(r), access.TrusteeVote(req.Vote), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.EscrowTransitions.WithLabelValues(string(request.Status)).Inc()
	writeJSON(w, http.StatusOK, request)
}

type trusteeShareRequest struct {
	EncryptedShare string `json:"encrypted_share"`
}

func (s *Server) handleTrusteeShare(w http.ResponseWriter, r *http.Request) {
	var req trusteeShareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	request, err := s.escrow.ProvideTrusteeShare(r.Context(), mux.Vars(r)["id"], actorID(r), req.EncryptedShare)
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.EscrowTransitions.WithLabelValues(string(request.Status)).Inc()
	writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleCompleteRecovery(w http.ResponseWriter, r *http.Request) {
	request, err := s.escrow.CompleteRecovery(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.EscrowTransitions.WithLabelValues(string(request.Status)).Inc()
	writeJSON(w, http.StatusOK, request)
}
