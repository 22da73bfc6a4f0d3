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

// Package server exposes the governance core over HTTP: envelope and
// grant CRUD for the policy-role actor, the execution check for the
// skill executor, and team/system/linkage creation for the bootstrap
// flow. The package holds no policy logic of its own.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"quintet/platform/config"
	"quintet/platform/governance"
	"quintet/platform/shared/logger"
)

// Server is the governance HTTP API
type Server struct {
	cfg       *config.Config
	org       *governance.Registry
	envelopes *governance.EnvelopeService
	grants    *governance.GrantService
	resolver  *governance.RecursionResolver
	gate      *governance.Gate
	log       *logger.Logger
	httpSrv   *http.Server
}

// New wires the API around the governance components
func New(cfg *config.Config, org *governance.Registry, envelopes *governance.EnvelopeService,
	grants *governance.GrantService, resolver *governance.RecursionResolver, gate *governance.Gate) *Server {
	s := &Server{
		cfg:       cfg,
		org:       org,
		envelopes: envelopes,
		grants:    grants,
		resolver:  resolver,
		gate:      gate,
		log:       logger.New("governor-api"),
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health and metrics
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Execution check (skill executor hot path, no auth: the executor
	// is inside the trust boundary and the check itself never mutates)
	r.HandleFunc("/api/v1/systems/{system_id}/check/{skill}", s.checkHandler).Methods("GET")

	// Envelope surface
	r.HandleFunc("/api/v1/teams/{team_id}/envelope", s.listEnvelopeHandler).Methods("GET")
	r.HandleFunc("/api/v1/teams/{team_id}/envelope", s.requireActor(s.setEnvelopeHandler)).Methods("PUT")
	r.HandleFunc("/api/v1/teams/{team_id}/envelope/{skill}", s.requireActor(s.addEnvelopeSkillHandler)).Methods("POST")
	r.HandleFunc("/api/v1/teams/{team_id}/envelope/{skill}", s.requireActor(s.removeEnvelopeSkillHandler)).Methods("DELETE")

	// Grant surface
	r.HandleFunc("/api/v1/systems/{system_id}/grants", s.listGrantsHandler).Methods("GET")
	r.HandleFunc("/api/v1/systems/{system_id}/grants", s.requireActor(s.setGrantsHandler)).Methods("PUT")
	r.HandleFunc("/api/v1/systems/{system_id}/grants/{skill}", s.requireActor(s.addGrantHandler)).Methods("POST")
	r.HandleFunc("/api/v1/systems/{system_id}/grants/{skill}", s.requireActor(s.removeGrantHandler)).Methods("DELETE")

	// Bootstrap/recursion surface
	r.HandleFunc("/api/v1/teams", s.requireActor(s.createTeamHandler)).Methods("POST")
	r.HandleFunc("/api/v1/teams/{team_id}/systems", s.requireActor(s.createSystemHandler)).Methods("POST")
	r.HandleFunc("/api/v1/teams/{team_id}/linkage", s.resolveLinkageHandler).Methods("GET")
	r.HandleFunc("/api/v1/linkages", s.requireActor(s.createLinkageHandler)).Methods("POST")

	return c.Handler(r)
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.log.Info("", "", "Governor API listening", map[string]interface{}{
		"addr": s.cfg.ListenAddr,
	})
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
