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

// GrantService owns the system-level "what is actually usable" rules.
// Grant creation enforces envelope containment (root team exempt) and
// the per-system cap; the cap is a creation-time gate only and is never
// re-checked retroactively.
type GrantService struct {
	store Store
	org   *Registry
	locks *OrgLocks
	log   *logger.Logger
}

// NewGrantService creates the service. locks must be the same instance
// the EnvelopeService uses.
func NewGrantService(store Store, org *Registry, locks *OrgLocks) *GrantService {
	return &GrantService{
		store: store,
		org:   org,
		locks: locks,
		log:   logger.New("grant-service"),
	}
}

// ListGrantedSkills returns a system's grants, sorted. An unknown system
// yields an empty set.
func (s *GrantService) ListGrantedSkills(ctx context.Context, systemID string) ([]string, error) {
	set, err := s.store.GrantedSkills(ctx, systemID)
	if err != nil {
		return nil, err
	}
	return sortedSkills(set), nil
}

// AddSkillGrant grants a skill to a system. Returns a non-nil Deny when
// the skill is outside the owning team's envelope (and the team is not
// root) or the system already holds MaxSkillGrants grants. Granting an
// already-held skill is a no-op success.
func (s *GrantService) AddSkillGrant(ctx context.Context, actor, systemID, skill string) (*Deny, error) {
	if skill == "" {
		return nil, ErrEmptySkillName
	}
	sys, ok := s.org.System(systemID)
	if !ok {
		return nil, ErrSystemNotFound
	}

	mu := s.locks.System(systemID)
	mu.Lock()
	defer mu.Unlock()

	held, err := s.store.HasGrant(ctx, systemID, skill)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, nil
	}

	// Envelope containment comes first: a team that was never allowed
	// the skill is the more fundamental refusal.
	if !s.org.IsRoot(sys.TeamID) {
		inEnvelope, err := s.store.HasEnvelopeSkill(ctx, sys.TeamID, skill)
		if err != nil {
			return nil, err
		}
		if !inEnvelope {
			deny := &Deny{
				TeamID:             sys.TeamID,
				SystemID:           systemID,
				SkillName:          skill,
				FailedRuleCategory: DenyTeamEnvelope,
			}
			s.recordRejected(ctx, actor, ActionGrant, deny)
			return deny, nil
		}
	}

	grants, err := s.store.GrantedSkills(ctx, systemID)
	if err != nil {
		return nil, err
	}
	if len(grants) >= MaxSkillGrants {
		deny := &Deny{
			TeamID:             sys.TeamID,
			SystemID:           systemID,
			SkillName:          skill,
			FailedRuleCategory: DenySystemSkillLimit,
		}
		s.recordRejected(ctx, actor, ActionGrant, deny)
		return deny, nil
	}

	rec := newAuditRecord(actor, ActionGrant, sys.TeamID, systemID, skill, OutcomeOK)
	if err := s.store.AddGrant(ctx, systemID, skill, []AuditRecord{rec}); err != nil {
		promPolicyMutations.WithLabelValues(string(ActionGrant), "error").Inc()
		return nil, err
	}
	promPolicyMutations.WithLabelValues(string(ActionGrant), OutcomeOK).Inc()

	s.log.Info(actor, "", "Skill granted", map[string]interface{}{
		"system_id": systemID,
		"team_id":   sys.TeamID,
		"skill":     skill,
	})
	return nil, nil
}

// RemoveSkillGrant revokes a skill grant. Removing an absent grant is a
// no-op success.
func (s *GrantService) RemoveSkillGrant(ctx context.Context, actor, systemID, skill string) error {
	if skill == "" {
		return ErrEmptySkillName
	}
	sys, ok := s.org.System(systemID)
	if !ok {
		return ErrSystemNotFound
	}

	mu := s.locks.System(systemID)
	mu.Lock()
	defer mu.Unlock()

	held, err := s.store.HasGrant(ctx, systemID, skill)
	if err != nil {
		return err
	}
	if !held {
		return nil
	}

	rec := newAuditRecord(actor, ActionRevoke, sys.TeamID, systemID, skill, OutcomeOK)
	if err := s.store.RemoveGrant(ctx, systemID, skill, []AuditRecord{rec}); err != nil {
		promPolicyMutations.WithLabelValues(string(ActionRevoke), "error").Inc()
		return err
	}
	promPolicyMutations.WithLabelValues(string(ActionRevoke), OutcomeOK).Inc()

	s.log.Info(actor, "", "Skill grant revoked", map[string]interface{}{
		"system_id": systemID,
		"team_id":   sys.TeamID,
		"skill":     skill,
	})
	return nil
}

// SetSkillGrants replaces a system's grant set. A set larger than
// MaxSkillGrants is rejected outright with no partial application;
// otherwise the diff is applied remove-first, each change audited
// individually. Adds are validated against the envelope before any
// change is applied.
func (s *GrantService) SetSkillGrants(ctx context.Context, actor, systemID string, skills []string) (*Deny, error) {
	sys, ok := s.org.System(systemID)
	if !ok {
		return nil, ErrSystemNotFound
	}
	desired := make(map[string]bool, len(skills))
	for _, skill := range skills {
		if skill == "" {
			return nil, ErrEmptySkillName
		}
		desired[skill] = true
	}

	if len(desired) > MaxSkillGrants {
		deny := &Deny{
			TeamID:             sys.TeamID,
			SystemID:           systemID,
			FailedRuleCategory: DenySystemSkillLimit,
		}
		s.recordRejected(ctx, actor, ActionSet, deny)
		return deny, nil
	}

	mu := s.locks.System(systemID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.store.GrantedSkills(ctx, systemID)
	if err != nil {
		return nil, err
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

	// Validate every add before touching state so an envelope violation
	// rejects the replacement without a half-applied diff.
	if !s.org.IsRoot(sys.TeamID) {
		for _, skill := range adds {
			inEnvelope, err := s.store.HasEnvelopeSkill(ctx, sys.TeamID, skill)
			if err != nil {
				return nil, err
			}
			if !inEnvelope {
				deny := &Deny{
					TeamID:             sys.TeamID,
					SystemID:           systemID,
					SkillName:          skill,
					FailedRuleCategory: DenyTeamEnvelope,
				}
				s.recordRejected(ctx, actor, ActionSet, deny)
				return deny, nil
			}
		}
	}

	for _, skill := range removes {
		rec := newAuditRecord(actor, ActionRevoke, sys.TeamID, systemID, skill, OutcomeOK)
		rec.Detail = "set-skill-grants"
		if err := s.store.RemoveGrant(ctx, systemID, skill, []AuditRecord{rec}); err != nil {
			promPolicyMutations.WithLabelValues(string(ActionSet), "error").Inc()
			return nil, err
		}
		promPolicyMutations.WithLabelValues(string(ActionRevoke), OutcomeOK).Inc()
	}
	for _, skill := range adds {
		rec := newAuditRecord(actor, ActionGrant, sys.TeamID, systemID, skill, OutcomeOK)
		rec.Detail = "set-skill-grants"
		if err := s.store.AddGrant(ctx, systemID, skill, []AuditRecord{rec}); err != nil {
			promPolicyMutations.WithLabelValues(string(ActionSet), "error").Inc()
			return nil, err
		}
		promPolicyMutations.WithLabelValues(string(ActionGrant), OutcomeOK).Inc()
	}

	s.log.Info(actor, "", "Skill grants replaced", map[string]interface{}{
		"system_id": systemID,
		"team_id":   sys.TeamID,
		"skills":    len(desired),
		"added":     len(adds),
		"removed":   len(removes),
	})
	return nil, nil
}

// CanExecuteSkill is the Grant Service's half of the authorization
// algorithm: envelope containment plus direct grant, no recursion. The
// Gate layers the recursion chain walk on top of this check and is what
// the skill executor must call.
func (s *GrantService) CanExecuteSkill(ctx context.Context, systemID, skill string) Decision {
	teamID, err := s.org.TeamOf(systemID)
	if err != nil {
		return Denied(&Deny{
			SystemID:           systemID,
			SkillName:          skill,
			FailedRuleCategory: DenyTeamEnvelope,
		})
	}
	if deny := evaluateSkillAtLevel(ctx, s.store, s.org, systemID, teamID, skill); deny != nil {
		return Denied(deny)
	}
	return Allow()
}

// recordRejected appends a best-effort audit record for a refused
// mutation. The mutation itself did not happen, so a trail failure here
// is logged rather than escalated.
func (s *GrantService) recordRejected(ctx context.Context, actor string, action AuditAction, deny *Deny) {
	promPolicyMutations.WithLabelValues(string(action), OutcomeDenied).Inc()

	rec := newAuditRecord(actor, action, deny.TeamID, deny.SystemID, deny.SkillName, OutcomeDenied)
	rec.ReasonCategory = deny.FailedRuleCategory
	if err := s.store.AppendAudit(ctx, []AuditRecord{rec}); err != nil {
		s.log.Warn(actor, "", "Failed to audit rejected mutation", map[string]interface{}{
			"error":     err.Error(),
			"system_id": deny.SystemID,
			"skill":     deny.SkillName,
			"category":  string(deny.FailedRuleCategory),
		})
	}
}
