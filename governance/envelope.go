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
	"context"
	"sort"

	"quintet/platform/shared/logger"
)

// EnvelopeService owns the team-level "what may be granted" rules. It is
// the one place cross-layer consistency is enforced proactively: removing
// an envelope entry cascades into every dependent grant in the same
// atomic operation.
type EnvelopeService struct {
	store Store
	org   *Registry
	locks *OrgLocks
	log   *logger.Logger
}

// NewEnvelopeService creates the service. locks must be the same
// instance the GrantService uses.
func NewEnvelopeService(store Store, org *Registry, locks *OrgLocks) *EnvelopeService {
	return &EnvelopeService{
		store: store,
		org:   org,
		locks: locks,
		log:   logger.New("envelope-service"),
	}
}

// ListAllowedSkills returns a team's envelope, sorted. An unknown team
// yields an empty set, not an error: absence of entries is valid state.
func (s *EnvelopeService) ListAllowedSkills(ctx context.Context, teamID string) ([]string, error) {
	set, err := s.store.EnvelopeSkills(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return sortedSkills(set), nil
}

// AddAllowedSkill adds a skill to a team's envelope. Adding an
// already-present skill is a no-op success with no audit record (zero
// logical changes).
func (s *EnvelopeService) AddAllowedSkill(ctx context.Context, actor, teamID, skill string) error {
	if skill == "" {
		return ErrEmptySkillName
	}
	if _, ok := s.org.Team(teamID); !ok {
		return ErrTeamNotFound
	}

	mu := s.locks.Team(teamID)
	mu.Lock()
	defer mu.Unlock()

	return s.addLocked(ctx, actor, teamID, skill, "envelope")
}

// RemoveAllowedSkill removes a skill from a team's envelope and
// cascade-revokes every grant in the team referencing it, atomically.
// Returns how many grants were revoked. Removing an absent skill is a
// no-op success.
func (s *EnvelopeService) RemoveAllowedSkill(ctx context.Context, actor, teamID, skill string) (int, error) {
	if skill == "" {
		return 0, ErrEmptySkillName
	}
	if _, ok := s.org.Team(teamID); !ok {
		return 0, ErrTeamNotFound
	}

	mu := s.locks.Team(teamID)
	mu.Lock()
	defer mu.Unlock()

	return s.removeLocked(ctx, actor, teamID, skill, "envelope")
}

// SetAllowedSkills replaces a team's envelope with the given set. Skills
// removed by the replacement cascade exactly as RemoveAllowedSkill, one
// skill at a time, so cascade counts and audit entries stay per-skill
// and explainable. Returns the total number of cascade-revoked grants.
func (s *EnvelopeService) SetAllowedSkills(ctx context.Context, actor, teamID string, skills []string) (int, error) {
	if _, ok := s.org.Team(teamID); !ok {
		return 0, ErrTeamNotFound
	}
	desired := make(map[string]bool, len(skills))
	for _, skill := range skills {
		if skill == "" {
			return 0, ErrEmptySkillName
		}
		desired[skill] = true
	}

	mu := s.locks.Team(teamID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.store.EnvelopeSkills(ctx, teamID)
	if err != nil {
		return 0, err
	}

	var adds, removes []string
	for skill := range desired {
		if !current[skill] {
			adds = append(adds, skill)
		}
	}
	for skill := range current {
		if !desired[skill] {
			removes = append(removes, skill)
		}
	}
	sort.Strings(adds)
	sort.Strings(removes)

	revoked := 0
	for _, skill := range removes {
		n, err := s.removeLocked(ctx, actor, teamID, skill, "set-allowed-skills")
		if err != nil {
			return revoked, err
		}
		revoked += n
	}
	for _, skill := range adds {
		if err := s.addLocked(ctx, actor, teamID, skill, "set-allowed-skills"); err != nil {
			return revoked, err
		}
	}

	s.log.Info(actor, "", "Envelope replaced", map[string]interface{}{
		"team_id":          teamID,
		"skills":           len(desired),
		"added":            len(adds),
		"removed":          len(removes),
		"cascaded_revokes": revoked,
	})
	return revoked, nil
}

// addLocked inserts one envelope entry; caller holds the team lock
func (s *EnvelopeService) addLocked(ctx context.Context, actor, teamID, skill, detail string) error {
	present, err := s.store.HasEnvelopeSkill(ctx, teamID, skill)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	rec := newAuditRecord(actor, ActionGrant, teamID, "", skill, OutcomeOK)
	rec.Detail = detail
	if err := s.store.AddEnvelopeSkill(ctx, teamID, skill, []AuditRecord{rec}); err != nil {
		promPolicyMutations.WithLabelValues(string(ActionGrant), "error").Inc()
		return err
	}
	promPolicyMutations.WithLabelValues(string(ActionGrant), OutcomeOK).Inc()

	s.log.Info(actor, "", "Envelope skill added", map[string]interface{}{
		"team_id": teamID,
		"skill":   skill,
	})
	return nil
}

// removeLocked removes one envelope entry with its cascade; caller holds
// the team lock. The affected systems' grant locks are taken in sorted
// order for the duration of the cascade.
func (s *EnvelopeService) removeLocked(ctx context.Context, actor, teamID, skill, detail string) (int, error) {
	present, err := s.store.HasEnvelopeSkill(ctx, teamID, skill)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, nil
	}

	systems := s.org.SystemsOf(teamID)
	unlock := s.locks.LockSystems(systems)
	defer unlock()

	var cascade []GrantRef
	for _, systemID := range systems {
		held, err := s.store.HasGrant(ctx, systemID, skill)
		if err != nil {
			return 0, err
		}
		if held {
			cascade = append(cascade, GrantRef{SystemID: systemID, SkillName: skill})
		}
	}

	recs := make([]AuditRecord, 0, len(cascade)+1)
	rec := newAuditRecord(actor, ActionRevoke, teamID, "", skill, OutcomeOK)
	rec.Detail = detail
	recs = append(recs, rec)
	for _, ref := range cascade {
		cascadeRec := newAuditRecord(actor, ActionRevoke, teamID, ref.SystemID, skill, OutcomeOK)
		cascadeRec.Detail = "envelope-cascade"
		recs = append(recs, cascadeRec)
	}

	if err := s.store.RemoveEnvelopeSkill(ctx, teamID, skill, cascade, recs); err != nil {
		promPolicyMutations.WithLabelValues(string(ActionRevoke), "error").Inc()
		return 0, err
	}
	promPolicyMutations.WithLabelValues(string(ActionRevoke), OutcomeOK).Inc()
	promCascadeRevocations.Add(float64(len(cascade)))

	s.log.Info(actor, "", "Envelope skill removed", map[string]interface{}{
		"team_id":          teamID,
		"skill":            skill,
		"cascaded_revokes": len(cascade),
	})
	return len(cascade), nil
}

func sortedSkills(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for skill := range set {
		out = append(out, skill)
	}
	sort.Strings(out)
	return out
}
