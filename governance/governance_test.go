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

// testEnv wires the in-memory stack the way cmd/governor does in
// memory mode: one MemoryStore, one shared lock table, one trail.
type testEnv struct {
	org       *Registry
	store     *MemoryStore
	trail     *MemoryAuditRecorder
	decisions *MemoryAuditRecorder
	envelope  *EnvelopeService
	grants    *GrantService
	gate      *Gate
	resolver  *RecursionResolver
}

// newTestEnv builds a root team with one system and team-1 with two
// systems, the smallest org that exercises both the root bypass and
// cascade fan-out.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	org := NewRegistry()
	if _, err := org.CreateRootTeam("team-root"); err != nil {
		t.Fatalf("CreateRootTeam failed: %v", err)
	}
	if _, err := org.AddSystem("sys0-a", "team-root"); err != nil {
		t.Fatalf("AddSystem(sys0-a) failed: %v", err)
	}
	if _, err := org.CreateTeam("team-1"); err != nil {
		t.Fatalf("CreateTeam(team-1) failed: %v", err)
	}
	for _, id := range []string{"sys1-a", "sys1-b"} {
		if _, err := org.AddSystem(id, "team-1"); err != nil {
			t.Fatalf("AddSystem(%s) failed: %v", id, err)
		}
	}

	trail := NewMemoryAuditRecorder()
	decisions := NewMemoryAuditRecorder()
	store := NewMemoryStore(trail)
	locks := NewOrgLocks()

	return &testEnv{
		org:       org,
		store:     store,
		trail:     trail,
		decisions: decisions,
		envelope:  NewEnvelopeService(store, org, locks),
		grants:    NewGrantService(store, org, locks),
		gate:      NewGate(store, org, decisions),
		resolver:  NewRecursionResolver(store, org),
	}
}

// allowSkill puts a skill in the envelope and grants it, failing the
// test on any refusal.
func (e *testEnv) allowSkill(t *testing.T, teamID, systemID, skill string) {
	t.Helper()
	ctx := context.Background()

	if !e.org.IsRoot(teamID) {
		if err := e.envelope.AddAllowedSkill(ctx, "test-admin", teamID, skill); err != nil {
			t.Fatalf("AddAllowedSkill(%s, %s) failed: %v", teamID, skill, err)
		}
	}
	deny, err := e.grants.AddSkillGrant(ctx, "test-admin", systemID, skill)
	if err != nil {
		t.Fatalf("AddSkillGrant(%s, %s) failed: %v", systemID, skill, err)
	}
	if deny != nil {
		t.Fatalf("AddSkillGrant(%s, %s) denied: %+v", systemID, skill, deny)
	}
}

// countActions tallies trail records by action
func countActions(recs []AuditRecord) map[AuditAction]int {
	out := make(map[AuditAction]int)
	for _, rec := range recs {
		out[rec.Action]++
	}
	return out
}
