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
	"errors"
	"reflect"
	"testing"
)

func TestEnvelope_AddAndList(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-1", "web-search"); err != nil {
		t.Fatalf("AddAllowedSkill failed: %v", err)
	}
	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-1", "code-exec"); err != nil {
		t.Fatalf("AddAllowedSkill failed: %v", err)
	}

	skills, err := e.envelope.ListAllowedSkills(ctx, "team-1")
	if err != nil {
		t.Fatalf("ListAllowedSkills failed: %v", err)
	}
	want := []string{"code-exec", "web-search"}
	if !reflect.DeepEqual(skills, want) {
		t.Errorf("ListAllowedSkills = %v, want %v", skills, want)
	}

	// Unknown team reads as an empty envelope, not an error
	skills, err = e.envelope.ListAllowedSkills(ctx, "team-never-created")
	if err != nil {
		t.Fatalf("ListAllowedSkills(unknown) failed: %v", err)
	}
	if len(skills) != 0 {
		t.Errorf("unknown team envelope = %v, want empty", skills)
	}
}

func TestEnvelope_AddIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-1", "web-search"); err != nil {
		t.Fatalf("AddAllowedSkill failed: %v", err)
	}
	before := len(e.trail.Records())

	// Re-adding is a no-op success and writes no audit record
	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-1", "web-search"); err != nil {
		t.Fatalf("repeat AddAllowedSkill failed: %v", err)
	}
	if got := len(e.trail.Records()); got != before {
		t.Errorf("no-op add wrote %d audit records", got-before)
	}
}

func TestEnvelope_AddValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-1", ""); !errors.Is(err, ErrEmptySkillName) {
		t.Errorf("empty skill error = %v, want ErrEmptySkillName", err)
	}
	if err := e.envelope.AddAllowedSkill(ctx, "admin", "team-missing", "web-search"); !errors.Is(err, ErrTeamNotFound) {
		t.Errorf("unknown team error = %v, want ErrTeamNotFound", err)
	}
}

func TestEnvelope_RemoveCascadesGrants(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Both systems of team-1 hold web-search
	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	if deny, err := e.grants.AddSkillGrant(ctx, "admin", "sys1-b", "web-search"); err != nil || deny != nil {
		t.Fatalf("AddSkillGrant(sys1-b) = %+v, %v", deny, err)
	}

	revoked, err := e.envelope.RemoveAllowedSkill(ctx, "admin", "team-1", "web-search")
	if err != nil {
		t.Fatalf("RemoveAllowedSkill failed: %v", err)
	}
	if revoked != 2 {
		t.Errorf("revoked = %d, want 2", revoked)
	}

	for _, systemID := range []string{"sys1-a", "sys1-b"} {
		held, err := e.store.HasGrant(ctx, systemID, "web-search")
		if err != nil {
			t.Fatalf("HasGrant failed: %v", err)
		}
		if held {
			t.Errorf("grant on %s survived the cascade", systemID)
		}
	}

	// Execution flips to a deny on the very next check
	dec := e.gate.CanExecuteSkill(ctx, "sys1-a", "web-search")
	if dec.Allowed {
		t.Fatal("execution still allowed after envelope removal")
	}
	if dec.Deny.FailedRuleCategory != DenyTeamEnvelope {
		t.Errorf("deny category = %s, want team_envelope", dec.Deny.FailedRuleCategory)
	}
}

func TestEnvelope_RemoveAuditsEachRevokedGrant(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	if deny, err := e.grants.AddSkillGrant(ctx, "admin", "sys1-b", "web-search"); err != nil || deny != nil {
		t.Fatalf("AddSkillGrant(sys1-b) = %+v, %v", deny, err)
	}
	start := len(e.trail.Records())

	if _, err := e.envelope.RemoveAllowedSkill(ctx, "admin", "team-1", "web-search"); err != nil {
		t.Fatalf("RemoveAllowedSkill failed: %v", err)
	}

	// One record for the envelope removal, one per cascaded grant
	recs := e.trail.Records()[start:]
	if len(recs) != 3 {
		t.Fatalf("removal wrote %d records, want 3", len(recs))
	}
	cascaded := 0
	for _, rec := range recs {
		if rec.Action != ActionRevoke {
			t.Errorf("record action = %s, want revoke", rec.Action)
		}
		if rec.Detail == "envelope-cascade" {
			cascaded++
		}
	}
	if cascaded != 2 {
		t.Errorf("cascade records = %d, want 2", cascaded)
	}
}

func TestEnvelope_RemoveAbsentIsNoop(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	revoked, err := e.envelope.RemoveAllowedSkill(ctx, "admin", "team-1", "never-added")
	if err != nil {
		t.Fatalf("RemoveAllowedSkill failed: %v", err)
	}
	if revoked != 0 {
		t.Errorf("revoked = %d, want 0", revoked)
	}
	if n := len(e.trail.Records()); n != 0 {
		t.Errorf("no-op removal wrote %d audit records", n)
	}
}

func TestEnvelope_SetReplacesAndCascades(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.allowSkill(t, "team-1", "sys1-a", "web-search")
	e.allowSkill(t, "team-1", "sys1-a", "code-exec")

	// Replacement drops web-search and introduces file-read
	revoked, err := e.envelope.SetAllowedSkills(ctx, "admin", "team-1", []string{"code-exec", "file-read"})
	if err != nil {
		t.Fatalf("SetAllowedSkills failed: %v", err)
	}
	if revoked != 1 {
		t.Errorf("revoked = %d, want 1", revoked)
	}

	skills, err := e.envelope.ListAllowedSkills(ctx, "team-1")
	if err != nil {
		t.Fatalf("ListAllowedSkills failed: %v", err)
	}
	want := []string{"code-exec", "file-read"}
	if !reflect.DeepEqual(skills, want) {
		t.Errorf("envelope after set = %v, want %v", skills, want)
	}

	// Surviving skill keeps its grant
	if held, _ := e.store.HasGrant(ctx, "sys1-a", "code-exec"); !held {
		t.Error("grant for surviving skill was revoked")
	}
	if held, _ := e.store.HasGrant(ctx, "sys1-a", "web-search"); held {
		t.Error("grant for removed skill survived the set")
	}
}

func TestEnvelope_SetIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.envelope.SetAllowedSkills(ctx, "admin", "team-1", []string{"web-search", "code-exec"}); err != nil {
		t.Fatalf("SetAllowedSkills failed: %v", err)
	}
	before := len(e.trail.Records())

	// Same set again: zero changes, zero cascades, zero new records
	revoked, err := e.envelope.SetAllowedSkills(ctx, "admin", "team-1", []string{"code-exec", "web-search"})
	if err != nil {
		t.Fatalf("repeat SetAllowedSkills failed: %v", err)
	}
	if revoked != 0 {
		t.Errorf("revoked = %d, want 0", revoked)
	}
	if got := len(e.trail.Records()); got != before {
		t.Errorf("idempotent set wrote %d audit records", got-before)
	}
}
