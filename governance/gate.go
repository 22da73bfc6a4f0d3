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
	"time"

	"quintet/platform/shared/logger"
)

// Gate is the single synchronous authorization entry point the skill
// executor calls before running any skill. Decisions are pure functions
// of current policy state: nothing is cached across calls, so a revoke
// takes effect on the very next check.
//
// The gate is a bounded-latency read path. Its store must be the
// in-memory layer (or a write-through composition reading from memory);
// if policy state is unavailable it fails closed with an
// infrastructure-annotated team_envelope deny rather than hanging or
// defaulting to allow.
type Gate struct {
	store     Store
	org       *Registry
	decisions AuditRecorder
	log       *logger.Logger
}

// NewGate creates the gate. decisions receives one record per call,
// allow or deny; pass an AsyncAuditRecorder so the hot path never blocks
// on audit I/O.
func NewGate(store Store, org *Registry, decisions AuditRecorder) *Gate {
	return &Gate{
		store:     store,
		org:       org,
		decisions: decisions,
		log:       logger.New("gate"),
	}
}

// CanExecuteSkill decides whether a system may execute a skill right
// now. The check order is fixed: envelope, direct grant, then the
// recursion chain walked link by link to the root, every ancestor level
// re-evaluated with the same envelope-then-grant rule. A single broken
// link anywhere in the ancestry denies execution with the category
// produced at the failing level.
func (g *Gate) CanExecuteSkill(ctx context.Context, systemID, skill string) Decision {
	start := time.Now()
	dec := g.evaluate(ctx, systemID, skill)
	promGateLatency.Observe(time.Since(start).Seconds())

	if dec.Allowed {
		promGateDecisions.WithLabelValues("allow", "").Inc()
	} else {
		promGateDecisions.WithLabelValues("deny", string(dec.Deny.FailedRuleCategory)).Inc()
	}

	g.recordDecision(ctx, systemID, skill, dec)
	return dec
}

func (g *Gate) evaluate(ctx context.Context, systemID, skill string) Decision {
	if skill == "" {
		return Denied(&Deny{
			SystemID:           systemID,
			SkillName:          skill,
			FailedRuleCategory: DenySystemGrant,
		})
	}

	teamID, err := g.org.TeamOf(systemID)
	if err != nil {
		// A system the directory does not know cannot hold grants;
		// the most fundamental category applies.
		return Denied(&Deny{
			SystemID:           systemID,
			SkillName:          skill,
			FailedRuleCategory: DenyTeamEnvelope,
		})
	}

	curSystem, curTeam := systemID, teamID
	for depth := 0; depth <= maxChainDepth; depth++ {
		if deny := evaluateSkillAtLevel(ctx, g.store, g.org, curSystem, curTeam, skill); deny != nil {
			return Denied(deny)
		}

		link, err := g.store.Linkage(ctx, curTeam)
		if err != nil {
			return Denied(g.failClosed(curTeam, systemID, skill, err))
		}
		if link == nil {
			// Chain complete: this team is not a recursion product.
			return Allow()
		}
		curSystem = link.OriginSystemID
		curTeam = link.ParentTeamID
	}

	// Link() bounds chain depth at creation time, so an overlong chain
	// means the linkage graph itself is corrupt. Fail closed.
	g.log.Error(systemID, "", "Recursion chain exceeded depth bound", map[string]interface{}{
		"team_id": teamID,
		"skill":   skill,
		"error":   ErrInvariantViolation.Error(),
	})
	return Denied(&Deny{
		TeamID:             teamID,
		SystemID:           systemID,
		SkillName:          skill,
		FailedRuleCategory: DenyTeamEnvelope,
		Infrastructure:     true,
	})
}

func (g *Gate) failClosed(teamID, systemID, skill string, err error) *Deny {
	g.log.Error(systemID, "", "Policy state unavailable, failing closed", map[string]interface{}{
		"team_id": teamID,
		"skill":   skill,
		"error":   err.Error(),
	})
	return &Deny{
		TeamID:             teamID,
		SystemID:           systemID,
		SkillName:          skill,
		FailedRuleCategory: DenyTeamEnvelope,
		Infrastructure:     true,
	}
}

func (g *Gate) recordDecision(ctx context.Context, systemID, skill string, dec Decision) {
	if g.decisions == nil {
		return
	}

	var rec AuditRecord
	if dec.Allowed {
		teamID, _ := g.org.TeamOf(systemID)
		rec = newAuditRecord(systemID, ActionExecuteAllow, teamID, systemID, skill, OutcomeOK)
	} else {
		rec = newAuditRecord(systemID, ActionExecuteDeny, dec.Deny.TeamID, systemID, skill, OutcomeDenied)
		rec.ReasonCategory = dec.Deny.FailedRuleCategory
		if dec.Deny.Infrastructure {
			rec.Detail = "infrastructure"
		}
	}

	// Best-effort on the read path: the decision stands even when the
	// trail write fails.
	if err := g.decisions.Record(ctx, rec); err != nil {
		g.log.Warn(systemID, "", "Failed to record gate decision", map[string]interface{}{
			"error": err.Error(),
			"skill": skill,
		})
	}
}

// evaluateSkillAtLevel applies the envelope-then-grant rule for one
// level of the hierarchy. Envelope failure takes precedence over grant
// failure; the root team bypasses the envelope check unconditionally.
// Store errors surface as infrastructure-annotated team_envelope denies.
func evaluateSkillAtLevel(ctx context.Context, store Store, org *Registry, systemID, teamID, skill string) *Deny {
	if !org.IsRoot(teamID) {
		inEnvelope, err := store.HasEnvelopeSkill(ctx, teamID, skill)
		if err != nil {
			return &Deny{
				TeamID:             teamID,
				SystemID:           systemID,
				SkillName:          skill,
				FailedRuleCategory: DenyTeamEnvelope,
				Infrastructure:     true,
			}
		}
		if !inEnvelope {
			return &Deny{
				TeamID:             teamID,
				SystemID:           systemID,
				SkillName:          skill,
				FailedRuleCategory: DenyTeamEnvelope,
			}
		}
	}

	held, err := store.HasGrant(ctx, systemID, skill)
	if err != nil {
		return &Deny{
			TeamID:             teamID,
			SystemID:           systemID,
			SkillName:          skill,
			FailedRuleCategory: DenyTeamEnvelope,
			Infrastructure:     true,
		}
	}
	if !held {
		return &Deny{
			TeamID:             teamID,
			SystemID:           systemID,
			SkillName:          skill,
			FailedRuleCategory: DenySystemGrant,
		}
	}
	return nil
}
