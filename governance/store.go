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
	"fmt"
	"sync"

	"quintet/platform/shared/logger"
)

// Store is the policy fact storage the services and the gate are built
// on. It holds no business logic: exact-match lookups and atomic
// compound mutations only. Mutating methods take the audit records for
// the change so backends can commit the trail atomically with the facts;
// a mutation whose audit append fails must not take effect.
//
// The store is an injectable dependency, never a package singleton, so
// every component can be tested against MemoryStore.
type Store interface {
	// Reads. The gate's hot path calls these; implementations used under
	// the gate must not perform network I/O.
	EnvelopeSkills(ctx context.Context, teamID string) (map[string]bool, error)
	HasEnvelopeSkill(ctx context.Context, teamID, skill string) (bool, error)
	GrantedSkills(ctx context.Context, systemID string) (map[string]bool, error)
	HasGrant(ctx context.Context, systemID, skill string) (bool, error)
	Linkage(ctx context.Context, subTeamID string) (*Linkage, error)

	// Mutations. Each call is one atomic unit: concurrent readers see
	// the pre-state or the post-state, never a partial cascade.
	AddEnvelopeSkill(ctx context.Context, teamID, skill string, recs []AuditRecord) error
	RemoveEnvelopeSkill(ctx context.Context, teamID, skill string, cascade []GrantRef, recs []AuditRecord) error
	AddGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error
	RemoveGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error
	PutLinkage(ctx context.Context, link Linkage, recs []AuditRecord) error

	// AppendAudit appends records with no accompanying policy change
	// (execution decisions).
	AppendAudit(ctx context.Context, recs []AuditRecord) error
}

// Snapshot is a full copy of the persisted policy facts, used to seed
// the in-memory store from the durable one at boot
type Snapshot struct {
	Envelopes map[string]map[string]bool
	Grants    map[string]map[string]bool
	Linkages  map[string]Linkage
}

// MemoryStore is the authoritative hot-path store: plain maps behind a
// single RWMutex. Compound mutations (envelope removal plus its grant
// cascade) run inside one write-lock critical section.
type MemoryStore struct {
	mu        sync.RWMutex
	envelopes map[string]map[string]bool // team_id -> skill set
	grants    map[string]map[string]bool // system_id -> skill set
	linkages  map[string]Linkage         // sub_team_id -> linkage
	sink      AuditRecorder              // nil when a durable layer owns the trail
}

// NewMemoryStore creates an empty store. sink receives the audit trail
// in memory-only deployments; pass nil when the store sits behind a
// WriteThroughStore whose durable layer already persists the trail.
func NewMemoryStore(sink AuditRecorder) *MemoryStore {
	return &MemoryStore{
		envelopes: make(map[string]map[string]bool),
		grants:    make(map[string]map[string]bool),
		linkages:  make(map[string]Linkage),
		sink:      sink,
	}
}

// LoadSnapshot replaces the store contents wholesale
func (m *MemoryStore) LoadSnapshot(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.envelopes = make(map[string]map[string]bool, len(snap.Envelopes))
	for teamID, skills := range snap.Envelopes {
		set := make(map[string]bool, len(skills))
		for s := range skills {
			set[s] = true
		}
		m.envelopes[teamID] = set
	}
	m.grants = make(map[string]map[string]bool, len(snap.Grants))
	for systemID, skills := range snap.Grants {
		set := make(map[string]bool, len(skills))
		for s := range skills {
			set[s] = true
		}
		m.grants[systemID] = set
	}
	m.linkages = make(map[string]Linkage, len(snap.Linkages))
	for subTeamID, link := range snap.Linkages {
		m.linkages[subTeamID] = link
	}
}

// EnvelopeSkills returns a copy of a team's envelope set
func (m *MemoryStore) EnvelopeSkills(ctx context.Context, teamID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySet(m.envelopes[teamID]), nil
}

// HasEnvelopeSkill reports whether the envelope entry exists
func (m *MemoryStore) HasEnvelopeSkill(ctx context.Context, teamID, skill string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.envelopes[teamID][skill], nil
}

// GrantedSkills returns a copy of a system's grant set
func (m *MemoryStore) GrantedSkills(ctx context.Context, systemID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySet(m.grants[systemID]), nil
}

// HasGrant reports whether the grant entry exists
func (m *MemoryStore) HasGrant(ctx context.Context, systemID, skill string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grants[systemID][skill], nil
}

// Linkage returns the recursion linkage for a sub-team, nil when the
// team is not a recursion product
func (m *MemoryStore) Linkage(ctx context.Context, subTeamID string) (*Linkage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.linkages[subTeamID]
	if !ok {
		return nil, nil
	}
	out := link
	return &out, nil
}

// AddEnvelopeSkill inserts an envelope entry
func (m *MemoryStore) AddEnvelopeSkill(ctx context.Context, teamID, skill string, recs []AuditRecord) error {
	m.mu.Lock()
	if m.envelopes[teamID] == nil {
		m.envelopes[teamID] = make(map[string]bool)
	}
	m.envelopes[teamID][skill] = true
	m.mu.Unlock()

	if err := m.record(ctx, recs); err != nil {
		m.mu.Lock()
		delete(m.envelopes[teamID], skill)
		m.mu.Unlock()
		return err
	}
	return nil
}

// RemoveEnvelopeSkill removes the envelope entry and every cascaded
// grant in one critical section, so no reader can observe the envelope
// gone while a dependent grant survives
func (m *MemoryStore) RemoveEnvelopeSkill(ctx context.Context, teamID, skill string, cascade []GrantRef, recs []AuditRecord) error {
	m.mu.Lock()
	delete(m.envelopes[teamID], skill)
	for _, ref := range cascade {
		delete(m.grants[ref.SystemID], ref.SkillName)
	}
	m.mu.Unlock()

	if err := m.record(ctx, recs); err != nil {
		m.mu.Lock()
		if m.envelopes[teamID] == nil {
			m.envelopes[teamID] = make(map[string]bool)
		}
		m.envelopes[teamID][skill] = true
		for _, ref := range cascade {
			if m.grants[ref.SystemID] == nil {
				m.grants[ref.SystemID] = make(map[string]bool)
			}
			m.grants[ref.SystemID][ref.SkillName] = true
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// AddGrant inserts a grant entry
func (m *MemoryStore) AddGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error {
	m.mu.Lock()
	if m.grants[systemID] == nil {
		m.grants[systemID] = make(map[string]bool)
	}
	m.grants[systemID][skill] = true
	m.mu.Unlock()

	if err := m.record(ctx, recs); err != nil {
		m.mu.Lock()
		delete(m.grants[systemID], skill)
		m.mu.Unlock()
		return err
	}
	return nil
}

// RemoveGrant removes a grant entry
func (m *MemoryStore) RemoveGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error {
	m.mu.Lock()
	delete(m.grants[systemID], skill)
	m.mu.Unlock()

	if err := m.record(ctx, recs); err != nil {
		m.mu.Lock()
		if m.grants[systemID] == nil {
			m.grants[systemID] = make(map[string]bool)
		}
		m.grants[systemID][skill] = true
		m.mu.Unlock()
		return err
	}
	return nil
}

// PutLinkage stores a recursion linkage
func (m *MemoryStore) PutLinkage(ctx context.Context, link Linkage, recs []AuditRecord) error {
	m.mu.Lock()
	m.linkages[link.SubTeamID] = link
	m.mu.Unlock()

	if err := m.record(ctx, recs); err != nil {
		m.mu.Lock()
		delete(m.linkages, link.SubTeamID)
		m.mu.Unlock()
		return err
	}
	return nil
}

// AppendAudit forwards to the sink when one is configured
func (m *MemoryStore) AppendAudit(ctx context.Context, recs []AuditRecord) error {
	return m.record(ctx, recs)
}

func (m *MemoryStore) record(ctx context.Context, recs []AuditRecord) error {
	if m.sink == nil {
		return nil
	}
	for _, rec := range recs {
		if err := m.sink.Record(ctx, rec); err != nil {
			return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
	}
	return nil
}

func copySet(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for k, v := range set {
		if v {
			out[k] = true
		}
	}
	return out
}

// WriteThroughStore composes a durable store and the in-memory store.
// Reads come from memory so the gate never touches the network; writes
// go to the durable layer first (facts and audit rows in one
// transaction) and are applied to memory only after the durable commit
// succeeds. A failed durable write therefore leaves both layers on the
// pre-mutation state.
type WriteThroughStore struct {
	durable Store
	mem     *MemoryStore
	fanout  AuditRecorder // optional best-effort secondary sink
	log     *logger.Logger
}

// NewWriteThroughStore builds the composition. fanout, when non-nil,
// receives every committed audit record best-effort after the durable
// write succeeds.
func NewWriteThroughStore(durable Store, mem *MemoryStore, fanout AuditRecorder) *WriteThroughStore {
	return &WriteThroughStore{
		durable: durable,
		mem:     mem,
		fanout:  fanout,
		log:     logger.New("policy-store"),
	}
}

func (w *WriteThroughStore) publish(ctx context.Context, recs []AuditRecord) {
	if w.fanout == nil {
		return
	}
	for _, rec := range recs {
		if err := w.fanout.Record(ctx, rec); err != nil {
			w.log.Warn(rec.Actor, "", "Audit fan-out failed", map[string]interface{}{
				"error":     err.Error(),
				"record_id": rec.ID,
			})
		}
	}
}

// EnvelopeSkills reads from memory
func (w *WriteThroughStore) EnvelopeSkills(ctx context.Context, teamID string) (map[string]bool, error) {
	return w.mem.EnvelopeSkills(ctx, teamID)
}

// HasEnvelopeSkill reads from memory
func (w *WriteThroughStore) HasEnvelopeSkill(ctx context.Context, teamID, skill string) (bool, error) {
	return w.mem.HasEnvelopeSkill(ctx, teamID, skill)
}

// GrantedSkills reads from memory
func (w *WriteThroughStore) GrantedSkills(ctx context.Context, systemID string) (map[string]bool, error) {
	return w.mem.GrantedSkills(ctx, systemID)
}

// HasGrant reads from memory
func (w *WriteThroughStore) HasGrant(ctx context.Context, systemID, skill string) (bool, error) {
	return w.mem.HasGrant(ctx, systemID, skill)
}

// Linkage reads from memory
func (w *WriteThroughStore) Linkage(ctx context.Context, subTeamID string) (*Linkage, error) {
	return w.mem.Linkage(ctx, subTeamID)
}

// AddEnvelopeSkill writes durable-first
func (w *WriteThroughStore) AddEnvelopeSkill(ctx context.Context, teamID, skill string, recs []AuditRecord) error {
	if err := w.durable.AddEnvelopeSkill(ctx, teamID, skill, recs); err != nil {
		return err
	}
	if err := w.mem.AddEnvelopeSkill(ctx, teamID, skill, nil); err != nil {
		return err
	}
	w.publish(ctx, recs)
	return nil
}

// RemoveEnvelopeSkill writes durable-first
func (w *WriteThroughStore) RemoveEnvelopeSkill(ctx context.Context, teamID, skill string, cascade []GrantRef, recs []AuditRecord) error {
	if err := w.durable.RemoveEnvelopeSkill(ctx, teamID, skill, cascade, recs); err != nil {
		return err
	}
	if err := w.mem.RemoveEnvelopeSkill(ctx, teamID, skill, cascade, nil); err != nil {
		return err
	}
	w.publish(ctx, recs)
	return nil
}

// AddGrant writes durable-first
func (w *WriteThroughStore) AddGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error {
	if err := w.durable.AddGrant(ctx, systemID, skill, recs); err != nil {
		return err
	}
	if err := w.mem.AddGrant(ctx, systemID, skill, nil); err != nil {
		return err
	}
	w.publish(ctx, recs)
	return nil
}

// RemoveGrant writes durable-first
func (w *WriteThroughStore) RemoveGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error {
	if err := w.durable.RemoveGrant(ctx, systemID, skill, recs); err != nil {
		return err
	}
	if err := w.mem.RemoveGrant(ctx, systemID, skill, nil); err != nil {
		return err
	}
	w.publish(ctx, recs)
	return nil
}

// PutLinkage writes durable-first
func (w *WriteThroughStore) PutLinkage(ctx context.Context, link Linkage, recs []AuditRecord) error {
	if err := w.durable.PutLinkage(ctx, link, recs); err != nil {
		return err
	}
	if err := w.mem.PutLinkage(ctx, link, nil); err != nil {
		return err
	}
	w.publish(ctx, recs)
	return nil
}

// AppendAudit goes to the durable layer; decision records are not
// policy state
func (w *WriteThroughStore) AppendAudit(ctx context.Context, recs []AuditRecord) error {
	if err := w.durable.AppendAudit(ctx, recs); err != nil {
		return err
	}
	w.publish(ctx, recs)
	return nil
}
