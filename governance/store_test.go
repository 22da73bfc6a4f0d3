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
	"sync"
	"testing"
)

func TestMemoryStore_EnvelopeRoundTrip(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if err := store.AddEnvelopeSkill(ctx, "team-1", "web-search", nil); err != nil {
		t.Fatalf("AddEnvelopeSkill failed: %v", err)
	}

	has, err := store.HasEnvelopeSkill(ctx, "team-1", "web-search")
	if err != nil || !has {
		t.Errorf("HasEnvelopeSkill = %v, %v; want true", has, err)
	}
	has, err = store.HasEnvelopeSkill(ctx, "team-1", "other")
	if err != nil || has {
		t.Errorf("HasEnvelopeSkill(other) = %v, %v; want false", has, err)
	}

	set, err := store.EnvelopeSkills(ctx, "team-1")
	if err != nil || len(set) != 1 || !set["web-search"] {
		t.Errorf("EnvelopeSkills = %v, %v", set, err)
	}

	// Returned sets are copies: mutating one must not leak back
	set["injected"] = true
	if has, _ := store.HasEnvelopeSkill(ctx, "team-1", "injected"); has {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryStore_RemoveEnvelopeCascadeIsAtomic(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if err := store.AddEnvelopeSkill(ctx, "team-1", "web-search", nil); err != nil {
		t.Fatalf("AddEnvelopeSkill failed: %v", err)
	}
	for _, systemID := range []string{"sys1-a", "sys1-b"} {
		if err := store.AddGrant(ctx, systemID, "web-search", nil); err != nil {
			t.Fatalf("AddGrant failed: %v", err)
		}
	}
	cascade := []GrantRef{
		{SystemID: "sys1-a", SkillName: "web-search"},
		{SystemID: "sys1-b", SkillName: "web-search"},
	}

	// Concurrent readers must never observe the envelope gone while a
	// cascaded grant survives
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			inEnvelope, _ := store.HasEnvelopeSkill(ctx, "team-1", "web-search")
			if !inEnvelope {
				for _, systemID := range []string{"sys1-a", "sys1-b"} {
					if held, _ := store.HasGrant(ctx, systemID, "web-search"); held {
						t.Errorf("reader saw grant on %s after envelope removal", systemID)
						return
					}
				}
				return
			}
		}
	}()

	if err := store.RemoveEnvelopeSkill(ctx, "team-1", "web-search", cascade, nil); err != nil {
		t.Fatalf("RemoveEnvelopeSkill failed: %v", err)
	}
	close(stop)
	wg.Wait()

	if has, _ := store.HasEnvelopeSkill(ctx, "team-1", "web-search"); has {
		t.Error("envelope entry survived removal")
	}
}

func TestMemoryStore_RevertsWhenAuditSinkFails(t *testing.T) {
	sinkErr := errors.New("sink down")
	sink := &failingRecorder{err: sinkErr}
	store := NewMemoryStore(sink)
	ctx := context.Background()

	rec := newAuditRecord("admin", ActionGrant, "team-1", "", "web-search", OutcomeOK)
	err := store.AddEnvelopeSkill(ctx, "team-1", "web-search", []AuditRecord{rec})
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("error = %v, want ErrAuditUnavailable", err)
	}

	// The mutation did not take effect
	if has, _ := store.HasEnvelopeSkill(ctx, "team-1", "web-search"); has {
		t.Error("envelope entry applied despite audit failure")
	}
}

func TestMemoryStore_CascadeRevertsWhenAuditSinkFails(t *testing.T) {
	sink := &failingRecorder{}
	store := NewMemoryStore(sink)
	ctx := context.Background()

	if err := store.AddEnvelopeSkill(ctx, "team-1", "web-search", nil); err != nil {
		t.Fatalf("AddEnvelopeSkill failed: %v", err)
	}
	if err := store.AddGrant(ctx, "sys1-a", "web-search", nil); err != nil {
		t.Fatalf("AddGrant failed: %v", err)
	}

	sink.err = errors.New("sink down")
	rec := newAuditRecord("admin", ActionRevoke, "team-1", "", "web-search", OutcomeOK)
	cascade := []GrantRef{{SystemID: "sys1-a", SkillName: "web-search"}}
	err := store.RemoveEnvelopeSkill(ctx, "team-1", "web-search", cascade, []AuditRecord{rec})
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("error = %v, want ErrAuditUnavailable", err)
	}

	// Envelope and cascaded grant are both back
	if has, _ := store.HasEnvelopeSkill(ctx, "team-1", "web-search"); !has {
		t.Error("envelope entry lost after reverted removal")
	}
	if held, _ := store.HasGrant(ctx, "sys1-a", "web-search"); !held {
		t.Error("cascaded grant lost after reverted removal")
	}
}

func TestMemoryStore_LoadSnapshot(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if err := store.AddEnvelopeSkill(ctx, "team-old", "stale", nil); err != nil {
		t.Fatalf("AddEnvelopeSkill failed: %v", err)
	}

	store.LoadSnapshot(Snapshot{
		Envelopes: map[string]map[string]bool{
			"team-1": {"web-search": true},
		},
		Grants: map[string]map[string]bool{
			"sys1-a": {"web-search": true},
		},
		Linkages: map[string]Linkage{
			"team-sub": {SubTeamID: "team-sub", OriginSystemID: "sys1-a", ParentTeamID: "team-1"},
		},
	})

	// Pre-snapshot contents are gone, snapshot contents are visible
	if has, _ := store.HasEnvelopeSkill(ctx, "team-old", "stale"); has {
		t.Error("pre-snapshot state survived LoadSnapshot")
	}
	if has, _ := store.HasEnvelopeSkill(ctx, "team-1", "web-search"); !has {
		t.Error("snapshot envelope entry missing")
	}
	if held, _ := store.HasGrant(ctx, "sys1-a", "web-search"); !held {
		t.Error("snapshot grant missing")
	}
	link, err := store.Linkage(ctx, "team-sub")
	if err != nil || link == nil || link.OriginSystemID != "sys1-a" {
		t.Errorf("snapshot linkage = %+v, %v", link, err)
	}
}

func TestMemoryStore_LinkageReturnsCopy(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	orig := Linkage{SubTeamID: "team-sub", OriginSystemID: "sys1-a", ParentTeamID: "team-1"}
	if err := store.PutLinkage(ctx, orig, nil); err != nil {
		t.Fatalf("PutLinkage failed: %v", err)
	}

	link, err := store.Linkage(ctx, "team-sub")
	if err != nil || link == nil {
		t.Fatalf("Linkage = %+v, %v", link, err)
	}
	link.ParentTeamID = "team-hijacked"

	again, _ := store.Linkage(ctx, "team-sub")
	if again.ParentTeamID != "team-1" {
		t.Error("caller mutation leaked into the stored linkage")
	}
}

func TestWriteThroughStore_DurableFirst(t *testing.T) {
	durable := NewMemoryStore(nil)
	mem := NewMemoryStore(nil)
	store := NewWriteThroughStore(durable, mem, nil)
	ctx := context.Background()

	rec := newAuditRecord("admin", ActionGrant, "team-1", "", "web-search", OutcomeOK)
	if err := store.AddEnvelopeSkill(ctx, "team-1", "web-search", []AuditRecord{rec}); err != nil {
		t.Fatalf("AddEnvelopeSkill failed: %v", err)
	}

	// Both layers hold the fact; reads come from memory
	for name, layer := range map[string]Store{"durable": durable, "memory": mem, "composed": store} {
		if has, _ := layer.HasEnvelopeSkill(ctx, "team-1", "web-search"); !has {
			t.Errorf("%s layer missing the envelope entry", name)
		}
	}
}

func TestWriteThroughStore_DurableFailureLeavesMemoryUntouched(t *testing.T) {
	broken := &faultMutator{err: ErrStoreUnavailable}
	mem := NewMemoryStore(nil)
	store := NewWriteThroughStore(broken, mem, nil)
	ctx := context.Background()

	err := store.AddGrant(ctx, "sys1-a", "web-search", nil)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
	if held, _ := mem.HasGrant(ctx, "sys1-a", "web-search"); held {
		t.Error("memory layer mutated despite durable failure")
	}
}

func TestWriteThroughStore_FanoutReceivesCommittedRecords(t *testing.T) {
	durable := NewMemoryStore(nil)
	mem := NewMemoryStore(nil)
	fanout := NewMemoryAuditRecorder()
	store := NewWriteThroughStore(durable, mem, fanout)
	ctx := context.Background()

	rec := newAuditRecord("admin", ActionGrant, "team-1", "sys1-a", "web-search", OutcomeOK)
	if err := store.AddGrant(ctx, "sys1-a", "web-search", []AuditRecord{rec}); err != nil {
		t.Fatalf("AddGrant failed: %v", err)
	}

	recs := fanout.Records()
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Errorf("fan-out records = %+v, want the committed record", recs)
	}
}

// failingRecorder rejects records when err is set
type failingRecorder struct {
	mu  sync.Mutex
	err error
}

func (f *failingRecorder) Record(ctx context.Context, rec AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// faultMutator is a Store whose mutations fail
type faultMutator struct {
	Store
	err error
}

func (f *faultMutator) AddGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error {
	return f.err
}
