package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rubenvitt/r-gone-sub007/internal/accesscontrol"
	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

// actorID extracts the already-resolved acting identity from the request.
// Session handling lives upstream; this service trusts the resolved header.
func actorID(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}

type createMatrixRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateMatrix(w http.ResponseWriter, r *http.Request) {
	var req createMatrixRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	matrix, err := s.matrices.CreateMatrix(r.Context(), actorID(r), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, matrix)
}

func (s *Server) handleListMatrices(w http.ResponseWriter, r *http.Request) {
	matrices, err := s.matrices.ListMatrices(r.Context(), actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matrices)
}

func (s *Server) handleGetMatrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := s.matrices.GetMatrix(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}

func (s *Server) handleDeleteMatrix(w http.ResponseWriter, r *http.Request) {
	if err := s.matrices.DeleteMatrix(r.Context(), mux.Vars(r)["id"], actorID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule access.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.matrices.AddRule(r.Context(), mux.Vars(r)["id"], actorID(r), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule access.Rule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, err)
		return
	}

	vars := mux.Vars(r)
	updated, err := s.matrices.UpdateRule(r.Context(), vars["id"], actorID(r), vars["ruleId"], rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.matrices.DeleteRule(r.Context(), vars["id"], actorID(r), vars["ruleId"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req accesscontrol.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.evaluation.EvaluateAccess(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.DisclosureDecisions.WithLabelValues(string(result.Decision)).Inc()
	writeJSON(w, http.StatusOK, result)
}
