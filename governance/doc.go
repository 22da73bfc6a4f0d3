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

/*
Package governance implements the skill permission core of the Quintet
multi-agent runtime.

A Quintet organization is a recursive hierarchy: a single root team owns
up to five role-typed systems, and any system may be recursed into a
sub-team of its own, again with up to five systems. Systems invoke
external capabilities ("skills") through a sandboxed executor, and every
invocation must pass the permission gate in this package first.

Authorization is two-layered:

  - A team's envelope is the set of skills the team is permitted to
    grant to its systems.
  - A system's grants are the skills it may actually execute, always a
    subset of its team's envelope (the root team is exempt from the
    envelope check).

The package provides:

  - Registry: the in-memory team/system directory.
  - Store: policy fact storage (MemoryStore for the hot path,
    PostgresStore for durability, WriteThroughStore composing both).
  - EnvelopeService / GrantService: the governance mutation surface,
    including cascade revocation when an envelope entry is removed.
  - RecursionResolver: the immutable sub-team -> origin-system linkage.
  - Gate: the single decision point the skill executor calls before
    running any skill; it walks the recursion chain to the root and
    fails closed when policy state is unavailable.
  - Audit recorders: an append-only trail of every mutation and every
    execution decision.

Denies are ordinary return values, never errors; infrastructure failures
and invariant violations are distinct error types so operators can page
on them separately.
*/
package governance
