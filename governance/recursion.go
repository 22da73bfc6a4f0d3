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

// RecursionResolver maintains the read-only mapping from a recursed
// sub-team back to the originating system and its parent team. The
// linkage is a strictly acyclic parent pointer, created exactly once by
// the recursion flow when a system is promoted into a team, and never
// updated or deleted afterwards: a sub-team's identity as "this system,
// grown into a team" does not change.
type RecursionResolver struct {
	store Store
	org   *Registry
	log   *logger.Logger
}

// NewRecursionResolver creates the resolver
func NewRecursionResolver(store Store, org *Registry) *RecursionResolver {
	return &RecursionResolver{
		store: store,
		org:   org,
		log:   logger.New("recursion-resolver"),
	}
}

// Link records that sub-team subTeamID was created by recursing
// originSystemID, which belongs to parentTeamID. Fails if the sub-team
// already has a linkage, the origin does not belong to the parent team,
// or the resulting parent chain would cycle or fail to reach the root
// within the depth bound.
func (r *RecursionResolver) Link(ctx context.Context, actor, subTeamID, originSystemID, parentTeamID string) error {
	subTeam, ok := r.org.Team(subTeamID)
	if !ok {
		return ErrTeamNotFound
	}
	if subTeam.IsRoot {
		// The root team is never a recursion product.
		return ErrLinkageCycle
	}
	if _, ok := r.org.Team(parentTeamID); !ok {
		return ErrTeamNotFound
	}
	origin, ok := r.org.System(originSystemID)
	if !ok {
		return ErrSystemNotFound
	}
	if origin.TeamID != parentTeamID {
		return ErrLinkageOrigin
	}

	existing, err := r.store.Linkage(ctx, subTeamID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrLinkageExists
	}

	if err := r.checkChain(ctx, subTeamID, parentTeamID); err != nil {
		return err
	}

	link := Linkage{
		SubTeamID:      subTeamID,
		OriginSystemID: originSystemID,
		ParentTeamID:   parentTeamID,
		CreatedAt:      time.Now().UTC(),
	}
	rec := newAuditRecord(actor, ActionLink, subTeamID, originSystemID, "", OutcomeOK)
	rec.Detail = "parent:" + parentTeamID

	if err := r.store.PutLinkage(ctx, link, []AuditRecord{rec}); err != nil {
		promPolicyMutations.WithLabelValues(string(ActionLink), "error").Inc()
		return err
	}
	promPolicyMutations.WithLabelValues(string(ActionLink), OutcomeOK).Inc()

	r.log.Info(actor, "", "Recursion linkage created", map[string]interface{}{
		"sub_team_id":      subTeamID,
		"origin_system_id": originSystemID,
		"parent_team_id":   parentTeamID,
	})
	return nil
}

// Resolve returns the linkage for a team, nil when the team is not a
// recursion product (including the root team, which is never recursed)
func (r *RecursionResolver) Resolve(ctx context.Context, teamID string) (*Linkage, error) {
	return r.store.Linkage(ctx, teamID)
}

// checkChain verifies that walking parent pointers from parentTeamID
// terminates at the root within maxChainDepth without revisiting
// subTeamID or any intermediate team
func (r *RecursionResolver) checkChain(ctx context.Context, subTeamID, parentTeamID string) error {
	visited := map[string]bool{subTeamID: true}
	cur := parentTeamID

	for depth := 0; depth <= maxChainDepth; depth++ {
		if visited[cur] {
			return ErrLinkageCycle
		}
		visited[cur] = true

		if r.org.IsRoot(cur) {
			return nil
		}
		link, err := r.store.Linkage(ctx, cur)
		if err != nil {
			return err
		}
		if link == nil {
			// A non-root team with no linkage cannot sit on a recursion
			// chain; the organization above it is unreachable.
			return ErrLinkageChain
		}
		cur = link.ParentTeamID
	}
	return ErrLinkageChain
}
