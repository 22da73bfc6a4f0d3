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
	"fmt"
	"time"
)

const (
	// MaxSkillGrants is the per-system grant cap, enforced at grant time
	// only. Lowering it in a future version does not retroactively revoke
	// grants already held.
	MaxSkillGrants = 5

	// MaxTeamSystems caps how many systems a team may own.
	MaxTeamSystems = 5

	// maxChainDepth bounds the recursion linkage walk. A linkage whose
	// parent chain does not reach the root within this many links is
	// rejected at creation time.
	maxChainDepth = 32
)

// DenyCategory identifies which rule blocked an action
type DenyCategory string

const (
	DenyTeamEnvelope     DenyCategory = "team_envelope"
	DenySystemGrant      DenyCategory = "system_grant"
	DenySystemSkillLimit DenyCategory = "system_skill_limit"
)

// Deny is the structured payload returned for blocked actions.
// Infrastructure marks fail-closed denies caused by policy state being
// unavailable rather than by policy itself, so operators can tell
// "legitimately denied" apart from "denied because the store was down".
type Deny struct {
	TeamID             string       `json:"team_id"`
	SystemID           string       `json:"system_id"`
	SkillName          string       `json:"skill_name"`
	FailedRuleCategory DenyCategory `json:"failed_rule_category"`
	Infrastructure     bool         `json:"infrastructure,omitempty"`
}

// Decision is the outcome of a permission check
type Decision struct {
	Allowed bool  `json:"allowed"`
	Deny    *Deny `json:"deny,omitempty"`
}

// Allow returns an allow decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Denied returns a deny decision with the given payload
func Denied(d *Deny) Decision {
	return Decision{Allowed: false, Deny: d}
}

// GrantRef identifies a single grant entry
type GrantRef struct {
	SystemID  string `json:"system_id"`
	SkillName string `json:"skill_name"`
}

// Linkage records that a sub-team originated from a specific system in a
// specific parent team. Immutable once created.
type Linkage struct {
	SubTeamID      string    `json:"sub_team_id"`
	OriginSystemID string    `json:"origin_system_id"`
	ParentTeamID   string    `json:"parent_team_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Canonical key shapes for persisted policy facts. Every backend stores
// facts under these shapes so the data stays migration-safe.

// EnvelopeKey returns the canonical key for an envelope entry
func EnvelopeKey(teamID, skill string) string {
	return fmt.Sprintf("team:%s,skill:%s", teamID, skill)
}

// GrantKey returns the canonical key for a grant entry
func GrantKey(systemID, skill string) string {
	return fmt.Sprintf("system:%s,skill:%s", systemID, skill)
}

// LinkageKey returns the canonical key for a recursion linkage
func LinkageKey(subTeamID string) string {
	return fmt.Sprintf("team:%s", subTeamID)
}
