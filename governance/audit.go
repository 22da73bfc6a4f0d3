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
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"quintet/platform/shared/logger"
)

// AuditAction is the verb recorded for a policy change or decision
type AuditAction string

const (
	ActionGrant        AuditAction = "grant"
	ActionRevoke       AuditAction = "revoke"
	ActionSet          AuditAction = "set"
	ActionExecuteAllow AuditAction = "execute-allow"
	ActionExecuteDeny  AuditAction = "execute-deny"
	ActionLink         AuditAction = "link"
)

// Audit outcomes
const (
	OutcomeOK       = "ok"
	OutcomeDenied   = "denied"
	OutcomeRejected = "rejected"
)

// AuditRecord is an immutable append-only entry. Records are never
// updated or deleted.
type AuditRecord struct {
	ID             string       `json:"id"`
	Actor          string       `json:"actor"`
	Action         AuditAction  `json:"action"`
	TeamID         string       `json:"team_id,omitempty"`
	SystemID       string       `json:"system_id,omitempty"`
	SkillName      string       `json:"skill_name,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Outcome        string       `json:"outcome"`
	ReasonCategory DenyCategory `json:"reason_category,omitempty"`
	Detail         string       `json:"detail,omitempty"`
}

// newAuditRecord builds a record with a fresh ID and UTC timestamp
func newAuditRecord(actor string, action AuditAction, teamID, systemID, skill, outcome string) AuditRecord {
	return AuditRecord{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    action,
		TeamID:    teamID,
		SystemID:  systemID,
		SkillName: skill,
		Timestamp: time.Now().UTC(),
		Outcome:   outcome,
	}
}

// AuditRecorder appends audit records to a trail
type AuditRecorder interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// MemoryAuditRecorder keeps records in memory. Used in tests and in
// memory-only deployments.
type MemoryAuditRecorder struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemoryAuditRecorder creates an empty in-memory recorder
func NewMemoryAuditRecorder() *MemoryAuditRecorder {
	return &MemoryAuditRecorder{}
}

// Record appends a record
func (m *MemoryAuditRecorder) Record(ctx context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the trail
func (m *MemoryAuditRecorder) Records() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}

// StoreAuditRecorder adapts a Store's append-only audit table to the
// AuditRecorder interface
type StoreAuditRecorder struct {
	store Store
}

// NewStoreAuditRecorder wraps a store as a recorder
func NewStoreAuditRecorder(store Store) *StoreAuditRecorder {
	return &StoreAuditRecorder{store: store}
}

// Record appends one record through the store
func (s *StoreAuditRecorder) Record(ctx context.Context, rec AuditRecord) error {
	return s.store.AppendAudit(ctx, []AuditRecord{rec})
}

// TeeAuditRecorder writes to a primary recorder and fans out to
// best-effort secondaries. The primary's error is the caller's error;
// secondary failures are only logged.
type TeeAuditRecorder struct {
	primary     AuditRecorder
	secondaries []AuditRecorder
	log         *logger.Logger
}

// NewTeeAuditRecorder creates a tee over the given recorders
func NewTeeAuditRecorder(primary AuditRecorder, secondaries ...AuditRecorder) *TeeAuditRecorder {
	return &TeeAuditRecorder{
		primary:     primary,
		secondaries: secondaries,
		log:         logger.New("audit"),
	}
}

// Record writes through to the primary, then to each secondary
func (t *TeeAuditRecorder) Record(ctx context.Context, rec AuditRecord) error {
	err := t.primary.Record(ctx, rec)
	for _, sec := range t.secondaries {
		if secErr := sec.Record(ctx, rec); secErr != nil {
			t.log.Warn(rec.Actor, "", "Secondary audit sink failed", map[string]interface{}{
				"error":  secErr.Error(),
				"action": string(rec.Action),
			})
		}
	}
	return err
}

// AsyncAuditRecorder decouples the permission gate's hot read path from
// audit durability. Records are enqueued without blocking; a background
// worker drains the queue into the sink. When the queue is full or the
// sink fails, the record is logged locally and dropped: availability of
// the gate takes priority over audit completeness for read-only checks.
//
// Mutating operations must NOT use this recorder; their audit writes are
// transactional with the policy change itself.
type AsyncAuditRecorder struct {
	sink      AuditRecorder
	queue     chan AuditRecord
	wg        sync.WaitGroup
	closeOnce sync.Once
	shutdown  chan struct{}
	log       *logger.Logger
}

// NewAsyncAuditRecorder starts the background worker
func NewAsyncAuditRecorder(sink AuditRecorder, queueSize int) *AsyncAuditRecorder {
	if queueSize <= 0 {
		queueSize = 10000
	}
	a := &AsyncAuditRecorder{
		sink:     sink,
		queue:    make(chan AuditRecord, queueSize),
		shutdown: make(chan struct{}),
		log:      logger.New("audit"),
	}
	a.wg.Add(1)
	go a.process()
	return a
}

// Record enqueues without blocking. A full queue drops the record with a
// local log line.
func (a *AsyncAuditRecorder) Record(ctx context.Context, rec AuditRecord) error {
	select {
	case a.queue <- rec:
		return nil
	default:
		log.Printf("[Audit] queue full, dropping decision record %s (%s %s/%s)",
			rec.ID, rec.Action, rec.SystemID, rec.SkillName)
		return nil
	}
}

func (a *AsyncAuditRecorder) process() {
	defer a.wg.Done()
	for {
		select {
		case rec := <-a.queue:
			a.write(rec)
		case <-a.shutdown:
			// Drain what is left before exiting
			for {
				select {
				case rec := <-a.queue:
					a.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncAuditRecorder) write(rec AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.sink.Record(ctx, rec); err != nil {
		a.log.Warn(rec.Actor, "", "Audit sink write failed, record logged locally", map[string]interface{}{
			"error":     err.Error(),
			"record_id": rec.ID,
			"action":    string(rec.Action),
			"system_id": rec.SystemID,
			"skill":     rec.SkillName,
			"outcome":   rec.Outcome,
		})
	}
}

// Close drains the queue and stops the worker
func (a *AsyncAuditRecorder) Close() {
	a.closeOnce.Do(func() {
		close(a.shutdown)
	})
	a.wg.Wait()
}
