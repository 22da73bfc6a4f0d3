// Copyright 2025 Quintet
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"quintet/platform/governance"
)

type skillSetRequest struct {
	Skills []string `json:"skills"`
}

type createTeamRequest struct {
	TeamID string `json:"team_id"`
}

type createSystemRequest struct {
	SystemID string `json:"system_id"`
}

type createLinkageRequest struct {
	SubTeamID      string `json:"sub_team_id"`
	OriginSystemID string `json:"origin_system_id"`
	ParentTeamID   string `json:"parent_team_id"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.org.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"registry": stats,
	})
}

// checkHandler is the executor-facing decision endpoint. It always
// answers 200; the decision, allow or structured deny, is the body.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dec := s.gate.CanExecuteSkill(r.Context(), vars["system_id"], vars["skill"])
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) listEnvelopeHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	skills, err := s.envelopes.ListAllowedSkills(r.Context(), vars["team_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"team_id": vars["team_id"],
		"skills":  skills,
	})
}

func (s *Server) addEnvelopeSkillHandler(w http.ResponseWriter, r *http.Request, actor string) {
	vars := mux.Vars(r)
	if err := s.envelopes.AddAllowedSkill(r.Context(), actor, vars["team_id"], vars["skill"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) removeEnvelopeSkillHandler(w http.ResponseWriter, r *http.Request, actor string) {
	vars := mux.Vars(r)
	revoked, err := s.envelopes.RemoveAllowedSkill(r.Context(), actor, vars["team_id"], vars["skill"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"revoked_count": revoked,
	})
}

func (s *Server) setEnvelopeHandler(w http.ResponseWriter, r *http.Request, actor string) {
	vars := mux.Vars(r)
	var req skillSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	revoked, err := s.envelopes.SetAllowedSkills(r.Context(), actor, vars["team_id"], req.Skills)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"revoked_count": revoked,
	})
}

func (s *Server) listGrantsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	skills, err := s.grants.ListGrantedSkills(r.Context(), vars["system_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"system_id": vars["system_id"],
		"skills":    skills,
	})
}

func (s *Server) addGrantHandler(w http.ResponseWriter, r *http.Request, actor string) {
	vars := mux.Vars(r)
	deny, err := s.grants.AddSkillGrant(r.Context(), actor, vars["system_id"], vars["skill"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if deny != nil {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"deny": deny})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) removeGrantHandler(w http.ResponseWriter, r *http.Request, actor string) {
	vars := mux.Vars(r)
	if err := s.grants.RemoveSkillGrant(r.Context(), actor, vars["system_id"], vars["skill"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) setGrantsHandler(w http.ResponseWriter, r *http.Request, actor string) {
	vars := mux.Vars(r)
	var req skillSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	deny, err := s.grants.SetSkillGrants(r.Context(), actor, vars["system_id"], req.Skills)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if deny != nil {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"deny": deny})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createTeamHandler(w http.ResponseWriter, r *http.Request, actor string) {
	var req createTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TeamID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "team_id is required"})
		return
	}
	team, err := s.org.CreateTeam(req.TeamID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info(actor, requestID(r), "Team created", map[string]interface{}{"team_id": team.ID})
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) createSystemHandler(w http.ResponseWriter, r *http.Request, actor string) {
	vars := mux.Vars(r)
	var req createSystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SystemID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "system_id is required"})
		return
	}
	sys, err := s.org.AddSystem(req.SystemID, vars["team_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info(actor, requestID(r), "System created", map[string]interface{}{
		"system_id": sys.ID,
		"team_id":   sys.TeamID,
	})
	writeJSON(w, http.StatusCreated, sys)
}

func (s *Server) resolveLinkageHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	link, err := s.resolver.Resolve(r.Context(), vars["team_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if link == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "team is not a recursion product"})
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) createLinkageHandler(w http.ResponseWriter, r *http.Request, actor string) {
	var req createLinkageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.SubTeamID == "" || req.OriginSystemID == "" || req.ParentTeamID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "sub_team_id, origin_system_id and parent_team_id are required",
		})
		return
	}
	err := s.resolver.Link(r.Context(), actor, req.SubTeamID, req.OriginSystemID, req.ParentTeamID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, governance.ErrTeamNotFound),
		errors.Is(err, governance.ErrSystemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, governance.ErrTeamExists),
		errors.Is(err, governance.ErrSystemExists),
		errors.Is(err, governance.ErrRootTeamExists),
		errors.Is(err, governance.ErrLinkageExists):
		status = http.StatusConflict
	case errors.Is(err, governance.ErrTeamFull),
		errors.Is(err, governance.ErrEmptySkillName),
		errors.Is(err, governance.ErrLinkageOrigin),
		errors.Is(err, governance.ErrLinkageCycle),
		errors.Is(err, governance.ErrLinkageChain):
		status = http.StatusBadRequest
	case errors.Is(err, governance.ErrStoreUnavailable),
		errors.Is(err, governance.ErrAuditUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.log.ErrorWithCode("", requestID(r), "Request failed", status, err, map[string]interface{}{
			"path": r.URL.Path,
		})
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}
