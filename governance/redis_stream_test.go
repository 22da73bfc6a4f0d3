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
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestPublisher(t *testing.T, stream string) (*RedisAuditPublisher, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAuditPublisher(client, stream), client
}

func TestRedisAuditPublisher_PublishesToStream(t *testing.T) {
	pub, client := newTestPublisher(t, "")
	ctx := context.Background()

	rec := newAuditRecord("admin", ActionGrant, "team-1", "sys1-a", "web-search", OutcomeOK)
	if err := pub.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := client.XRange(ctx, DefaultAuditStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream holds %d entries, want 1", len(entries))
	}

	payload, ok := entries[0].Values["record"].(string)
	if !ok {
		t.Fatalf("entry values = %+v, want a record field", entries[0].Values)
	}
	var got AuditRecord
	if err := json.Unmarshal([]byte(payload), &got); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if got.ID != rec.ID || got.Action != ActionGrant || got.SkillName != "web-search" {
		t.Errorf("decoded record = %+v", got)
	}
}

func TestRedisAuditPublisher_CustomStream(t *testing.T) {
	pub, client := newTestPublisher(t, "governance:trail")
	ctx := context.Background()

	rec := newAuditRecord("sys1-a", ActionExecuteDeny, "team-1", "sys1-a", "web-search", OutcomeDenied)
	if err := pub.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	n, err := client.XLen(ctx, "governance:trail").Result()
	if err != nil || n != 1 {
		t.Errorf("XLen = %d, %v; want 1", n, err)
	}
}

func TestRedisAuditPublisher_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pub := NewRedisAuditPublisher(client, "")

	mr.Close()
	rec := newAuditRecord("admin", ActionGrant, "team-1", "sys1-a", "web-search", OutcomeOK)
	if err := pub.Record(context.Background(), rec); err == nil {
		t.Error("expected an error after the server went away")
	}
}
