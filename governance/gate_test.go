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
	"testing"
)

func TestGate_EnvelopeAndGrantRequired(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-1", "web-search"); err != nil {
		t.Fatalf("AddAllowedSkill failed: %v", err)
	}
	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-1", "code-exec"); err != nil {
		t.Fatalf("AddAllowedSkill failed: %v", err)
	}
	if deny, err := e.grants.AddSkillGrant(ctx, "admin", "sys1-a", "web-search"); err != nil || deny != nil {
		t.Fatalf("AddSkillGrant = %+v, %v", deny, err)
	}

	tests := []struct {
		name         string
		systemID     string
		skill        string
		allowed      bool
		wantCategory DenyCategory
	}{
		{"envelope and grant", "sys1-a", "web-search", true, ""},
		{"envelope without grant", "sys1-a", "code-exec", false, DenySystemGrant},
		{"outside envelope", "sys1-a", "file-write", false, DenyTeamEnvelope},
		{"other system ungranted", "sys1-b", "web-search", false, DenySystemGrant},
		{"unknown system", "sys-missing", "web-search", false, DenyTeamEnvelope},
		{"empty skill", "sys1-a", "", false, DenySystemGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := e.gate.CanExecuteSkill(ctx, tt.systemID, tt.skill)
			if dec.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v (deny: %+v)", dec.Allowed, tt.allowed, dec.Deny)
			}
			if !tt.allowed {
				if dec.Deny == nil {
					t.Fatal("deny decision carries no payload")
				}
				if dec.Deny.FailedRuleCategory != tt.wantCategory {
					t.Errorf("category = %s, want %s", dec.Deny.FailedRuleCategory, tt.wantCategory)
				}
				if dec.Deny.Infrastructure {
					t.Error("policy deny marked as infrastructure")
				}
			}
		})
	}
}

func TestGate_RootSystemNeverDeniedByEnvelope(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.allowSkill(t, "team-root", "sys0-a", "anything")
	if dec := e.gate.CanExecuteSkill(ctx, "sys0-a", "anything"); !dec.Allowed {
		t.Fatalf("root system denied: %+v", dec.Deny)
	}

	// An ungranted skill on a root system fails on the grant, never on
	// the envelope
	dec := e.gate.CanExecuteSkill(ctx, "sys0-a", "ungranted")
	if dec.Allowed || dec.Deny.FailedRuleCategory != DenySystemGrant {
		t.Errorf("decision = %+v, want system_grant deny", dec)
	}
}

func TestGate_RevokeTakesImmediateEffect(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	if dec := e.gate.CanExecuteSkill(ctx, "sys1-a", "web-search"); !dec.Allowed {
		t.Fatalf("initial check denied: %+v", dec.Deny)
	}

	if err := e.grants.RemoveSkillGrant(ctx, "admin", "sys1-a", "web-search"); err != nil {
		t.Fatalf("RemoveSkillGrant failed: %v", err)
	}
	dec := e.gate.CanExecuteSkill(ctx, "sys1-a", "web-search")
	if dec.Allowed || dec.Deny.FailedRuleCategory != DenySystemGrant {
		t.Errorf("post-revoke decision = %+v, want system_grant deny", dec)
	}
}

func TestGate_RecursionChainWalked(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Full chain: team-root's sys0-a recursed into team-1, whose sys1-a
	// is recursed into team-sub. Every level holds web-search.
	e.allowSkill(t, "team-root", "sys0-a", "web-search")
	if err := e.resolver.Link(ctx, "runtime", "team-1", "sys0-a", "team-root"); err != nil {
		t.Fatalf("Link(team-1) failed: %v", err)
	}
	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	e.linkTeam(t, "team-sub", "sys1-a", "team-1")
	if _, err := e.org.AddSystem("sys-sub-a", "team-sub"); err != nil {
		t.Fatalf("AddSystem failed: %v", err)
	}
	e.allowSkill(t, "team-sub", "sys-sub-a", "web-search")

	if dec := e.gate.CanExecuteSkill(ctx, "sys-sub-a", "web-search"); !dec.Allowed {
		t.Fatalf("chained check denied: %+v", dec.Deny)
	}

	// Revoking the origin system's grant breaks the chain one level up;
	// the ancestor's category is what surfaces.
	if err := e.grants.RemoveSkillGrant(ctx, "admin", "sys1-a", "web-search"); err != nil {
		t.Fatalf("RemoveSkillGrant failed: %v", err)
	}
	dec := e.gate.CanExecuteSkill(ctx, "sys-sub-a", "web-search")
	if dec.Allowed {
		t.Fatal("chain with revoked origin still allowed")
	}
	if dec.Deny.FailedRuleCategory != DenySystemGrant {
		t.Errorf("category = %s, want system_grant from the parent level", dec.Deny.FailedRuleCategory)
	}
	if dec.Deny.SystemID != "sys1-a" || dec.Deny.TeamID != "team-1" {
		t.Errorf("deny identifies %s/%s, want the failing ancestor sys1-a/team-1", dec.Deny.SystemID, dec.Deny.TeamID)
	}
}

func TestGate_AncestorEnvelopeDenySurfaces(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.allowSkill(t, "team-root", "sys0-a", "web-search")
	if err := e.resolver.Link(ctx, "runtime", "team-1", "sys0-a", "team-root"); err != nil {
		t.Fatalf("Link(team-1) failed: %v", err)
	}
	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	e.linkTeam(t, "team-sub", "sys1-a", "team-1")
	if _, err := e.org.AddSystem("sys-sub-a", "team-sub"); err != nil {
		t.Fatalf("AddSystem failed: %v", err)
	}
	e.allowSkill(t, "team-sub", "sys-sub-a", "web-search")

	// Envelope removal at the parent cascades sys1-a's grant away, so
	// the chain now fails the parent's envelope check.
	if _, err := e.envelope.RemoveAllowedSkill(ctx, "admin", "team-1", "web-search"); err != nil {
		t.Fatalf("RemoveAllowedSkill failed: %v", err)
	}

	dec := e.gate.CanExecuteSkill(ctx, "sys-sub-a", "web-search")
	if dec.Allowed {
		t.Fatal("chain with revoked ancestor envelope still allowed")
	}
	if dec.Deny.FailedRuleCategory != DenyTeamEnvelope || dec.Deny.TeamID != "team-1" {
		t.Errorf("deny = %+v, want team_envelope at team-1", dec.Deny)
	}
}

func TestGate_ChainToRootViaRootBypass(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Root system recursed directly into a sub-team: the walk ends at
	// the root level where only the grant check applies.
	e.allowSkill(t, "team-root", "sys0-a", "web-search")
	e.linkTeam(t, "team-sub", "sys0-a", "team-root")
	if _, err := e.org.AddSystem("sys-sub-a", "team-sub"); err != nil {
		t.Fatalf("AddSystem failed: %v", err)
	}
	e.allowSkill(t, "team-sub", "sys-sub-a", "web-search")

	if dec := e.gate.CanExecuteSkill(ctx, "sys-sub-a", "web-search"); !dec.Allowed {
		t.Fatalf("chain to root denied: %+v", dec.Deny)
	}
}

func TestGate_DecisionsAreAudited(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	e.gate.CanExecuteSkill(ctx, "sys1-a", "web-search")
	e.gate.CanExecuteSkill(ctx, "sys1-a", "code-exec")

	recs := e.decisions.Records()
	if len(recs) != 2 {
		t.Fatalf("decision trail has %d records, want 2", len(recs))
	}
	if recs[0].Action != ActionExecuteAllow || recs[0].Outcome != OutcomeOK {
		t.Errorf("allow record = %+v", recs[0])
	}
	if recs[1].Action != ActionExecuteDeny || recs[1].ReasonCategory != DenyTeamEnvelope {
		t.Errorf("deny record = %+v", recs[1])
	}
}

func TestGate_ChecksDoNotMutateState(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	factsBefore := len(e.trail.Records())

	for i := 0; i < 50; i++ {
		e.gate.CanExecuteSkill(ctx, "sys1-a", "web-search")
		e.gate.CanExecuteSkill(ctx, "sys1-a", "denied-skill")
	}

	// Policy facts are untouched; only the decision trail grew
	if got := len(e.trail.Records()); got != factsBefore {
		t.Errorf("checks wrote %d policy audit records", got-factsBefore)
	}
	skills, err := e.grants.ListGrantedSkills(ctx, "sys1-a")
	if err != nil || len(skills) != 1 {
		t.Errorf("grants after checks = %v, %v", skills, err)
	}
}

// faultStore wraps a Store and fails reads, for fail-closed coverage
type faultStore struct {
	Store
	err error
}

func (f *faultStore) HasEnvelopeSkill(ctx context.Context, teamID, skill string) (bool, error) {
	return false, f.err
}

func (f *faultStore) HasGrant(ctx context.Context, systemID, skill string) (bool, error) {
	return false, f.err
}

func (f *faultStore) Linkage(ctx context.Context, subTeamID string) (*Linkage, error) {
	return nil, f.err
}

func TestGate_FailsClosedOnStoreError(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	broken := &faultStore{Store: e.store, err: ErrStoreUnavailable}
	gate := NewGate(broken, e.org, e.decisions)

	dec := gate.CanExecuteSkill(ctx, "sys1-a", "web-search")
	if dec.Allowed {
		t.Fatal("store failure produced an allow")
	}
	if dec.Deny.FailedRuleCategory != DenyTeamEnvelope {
		t.Errorf("category = %s, want team_envelope", dec.Deny.FailedRuleCategory)
	}
	if !dec.Deny.Infrastructure {
		t.Error("fail-closed deny not annotated as infrastructure")
	}

	// The decision record carries the infrastructure marker too
	recs := e.decisions.Records()
	last := recs[len(recs)-1]
	if last.Action != ActionExecuteDeny || last.Detail != "infrastructure" {
		t.Errorf("fail-closed decision record = %+v", last)
	}
}
