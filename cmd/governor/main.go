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

// Package main is the entry point for the Quintet governor service.
//
// The governor is the skill permission authority of a Quintet
// deployment: it owns team envelopes, system skill grants, recursion
// linkages and the execution gate every skill invocation passes through.
//
// Usage:
//
//	./governor [-config config.yaml]
//
// Environment Variables:
//
//	QUINTET_LISTEN_ADDR - HTTP bind address (default: :8084)
//	DATABASE_URL        - PostgreSQL connection string (optional; memory-only without it)
//	REDIS_URL           - Redis address for audit stream fan-out (optional)
//	QUINTET_JWT_SECRET  - HMAC secret for governance-actor tokens (optional)
//	QUINTET_ROOT_TEAM_ID - Root team created at bootstrap (default: team-root)
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"quintet/platform/config"
	"quintet/platform/governance"
	"quintet/platform/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Starting Quintet governor...")

	org := governance.NewRegistry()
	if _, err := org.CreateRootTeam(cfg.RootTeamID); err != nil {
		log.Fatalf("Failed to create root team %s: %v", cfg.RootTeamID, err)
	}

	// Optional Redis fan-out for external audit consumers
	var fanout governance.AuditRecorder
	if cfg.RedisURL != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unavailable, audit fan-out disabled: %v", err)
		} else {
			fanout = governance.NewRedisAuditPublisher(client, cfg.AuditStream)
			log.Printf("Audit fan-out enabled on stream %s", cfg.AuditStream)
		}
	}

	// Policy store: durable Postgres behind the in-memory hot path when
	// DATABASE_URL is set, memory-only otherwise
	var store governance.Store
	var decisionSink governance.AuditRecorder
	if cfg.DatabaseURL != "" {
		pg, err := governance.OpenPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open policy store: %v", err)
		}
		defer func() { _ = pg.Close() }()

		snap, err := pg.Load(context.Background())
		if err != nil {
			log.Fatalf("Failed to load policy state: %v", err)
		}
		mem := governance.NewMemoryStore(nil)
		mem.LoadSnapshot(snap)
		store = governance.NewWriteThroughStore(pg, mem, fanout)
		decisionSink = governance.NewStoreAuditRecorder(store)
		log.Println("Policy store connected to database")
	} else {
		trail := governance.NewMemoryAuditRecorder()
		var sink governance.AuditRecorder = trail
		if fanout != nil {
			sink = governance.NewTeeAuditRecorder(trail, fanout)
		}
		store = governance.NewMemoryStore(sink)
		decisionSink = sink
		log.Println("Policy store running memory-only (no DATABASE_URL)")
	}
	decisions := governance.NewAsyncAuditRecorder(decisionSink, cfg.AuditQueueSize)
	defer decisions.Close()

	locks := governance.NewOrgLocks()
	envelopes := governance.NewEnvelopeService(store, org, locks)
	grants := governance.NewGrantService(store, org, locks)
	resolver := governance.NewRecursionResolver(store, org)
	gate := governance.NewGate(store, org, decisions)

	srv := server.New(cfg, org, envelopes, grants, resolver, gate)

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutting down governor...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
