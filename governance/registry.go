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

package governance

import (
	"sort"
	"sync"
	"time"
)

// Team is an organizational unit owning systems and an envelope of
// grantable skills. Exactly one team is the root.
type Team struct {
	ID     string `json:"id"`
	IsRoot bool   `json:"is_root"`
}

// System is a role-typed agent instance belonging to exactly one team
type System struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
}

// Registry is the in-memory team/system directory with thread-safe
// access. Teams and systems are created by the bootstrap/recursion flow;
// the governance services only read it.
type Registry struct {
	mu      sync.RWMutex
	teams   map[string]*Team
	systems map[string]*System
	members map[string][]string // team_id -> system_ids, insertion order
	rootID  string
	created time.Time
}

// RegistryStats provides statistics about the registry
type RegistryStats struct {
	TeamCount   int       `json:"team_count"`
	SystemCount int       `json:"system_count"`
	RootTeamID  string    `json:"root_team_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		teams:   make(map[string]*Team),
		systems: make(map[string]*System),
		members: make(map[string][]string),
		created: time.Now().UTC(),
	}
}

// CreateRootTeam creates the single root team. It can succeed at most
// once for the lifetime of the registry; the is_root flag is permanent.
func (r *Registry) CreateRootTeam(teamID string) (*Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rootID != "" {
		return nil, ErrRootTeamExists
	}
	if _, exists := r.teams[teamID]; exists {
		return nil, ErrTeamExists
	}

	team := &Team{ID: teamID, IsRoot: true}
	r.teams[teamID] = team
	r.rootID = teamID
	return team, nil
}

// CreateTeam creates a non-root team
func (r *Registry) CreateTeam(teamID string) (*Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.teams[teamID]; exists {
		return nil, ErrTeamExists
	}

	team := &Team{ID: teamID}
	r.teams[teamID] = team
	return team, nil
}

// AddSystem adds a system to an existing team, capped at MaxTeamSystems
func (r *Registry) AddSystem(systemID, teamID string) (*System, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.teams[teamID]; !exists {
		return nil, ErrTeamNotFound
	}
	if _, exists := r.systems[systemID]; exists {
		return nil, ErrSystemExists
	}
	if len(r.members[teamID]) >= MaxTeamSystems {
		return nil, ErrTeamFull
	}

	sys := &System{ID: systemID, TeamID: teamID}
	r.systems[systemID] = sys
	r.members[teamID] = append(r.members[teamID], systemID)
	return sys, nil
}

// Team looks up a team by ID
func (r *Registry) Team(teamID string) (*Team, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[teamID]
	return t, ok
}

// System looks up a system by ID
func (r *Registry) System(systemID string) (*System, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.systems[systemID]
	return s, ok
}

// TeamOf resolves the owning team of a system
func (r *Registry) TeamOf(systemID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.systems[systemID]
	if !ok {
		return "", ErrSystemNotFound
	}
	return s.TeamID, nil
}

// IsRoot reports whether the team is the root team
func (r *Registry) IsRoot(teamID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return teamID != "" && teamID == r.rootID
}

// RootTeamID returns the root team's ID, or empty before bootstrap
func (r *Registry) RootTeamID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rootID
}

// SystemsOf returns the IDs of the systems owned by a team, sorted for
// stable lock acquisition order during cascades
func (r *Registry) SystemsOf(teamID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.members[teamID]))
	copy(ids, r.members[teamID])
	sort.Strings(ids)
	return ids
}

// Stats returns registry statistics for health reporting
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RegistryStats{
		TeamCount:   len(r.teams),
		SystemCount: len(r.systems),
		RootTeamID:  r.rootID,
		CreatedAt:   r.created,
	}
}
