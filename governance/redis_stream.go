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
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultAuditStream is the Redis stream external audit consumers read
const DefaultAuditStream = "quintet:audit"

// RedisAuditPublisher fans audit records out onto a Redis stream for the
// external audit-log consumer. It is a best-effort secondary sink:
// durability lives in the policy store, this stream only feeds live
// consumers, so callers wire it behind a TeeAuditRecorder.
type RedisAuditPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisAuditPublisher creates a publisher on the given stream. An
// empty stream name falls back to DefaultAuditStream.
func NewRedisAuditPublisher(client *redis.Client, stream string) *RedisAuditPublisher {
	if stream == "" {
		stream = DefaultAuditStream
	}
	return &RedisAuditPublisher{client: client, stream: stream}
}

// Record appends the JSON-encoded record to the stream
func (p *RedisAuditPublisher) Record(ctx context.Context, rec AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record %s: %w", rec.ID, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"record": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish audit record %s: %w", rec.ID, err)
	}
	return nil
}
