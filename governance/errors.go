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

import "errors"

// Organizational errors (operator mistakes, not policy denies)
var (
	ErrTeamNotFound   = errors.New("governance: team not found")
	ErrSystemNotFound = errors.New("governance: system not found")
	ErrTeamExists     = errors.New("governance: team already exists")
	ErrSystemExists   = errors.New("governance: system already exists")
	ErrRootTeamExists = errors.New("governance: root team already exists")
	ErrTeamFull       = errors.New("governance: team already owns the maximum number of systems")
	ErrEmptySkillName = errors.New("governance: skill name cannot be empty")
)

// Recursion linkage errors
var (
	ErrLinkageExists = errors.New("governance: sub-team already has a recursion linkage")
	ErrLinkageOrigin = errors.New("governance: origin system does not belong to parent team")
	ErrLinkageCycle  = errors.New("governance: linkage would create a cycle")
	ErrLinkageChain  = errors.New("governance: parent chain does not reach the root team within bounds")
)

// Fatal error classes. These are surfaced distinctly from denies so
// callers can alert on them: an invariant violation means the
// consistency guarantee itself is broken, not that a request was merely
// unauthorized.
var (
	ErrInvariantViolation = errors.New("governance: policy state invariant violated")
	ErrStoreUnavailable   = errors.New("governance: policy store unavailable")
	ErrAuditUnavailable   = errors.New("governance: audit log unavailable")
)
