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
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// PostgresStore is the durable policy fact store. Every mutation runs in
// a single transaction that also appends the audit rows for the change,
// so a committed fact always has its trail and a failed mutation leaves
// neither.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to Postgres, verifies the connection and
// ensures the schema exists
func OpenPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping policy database: %w", err)
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing connection and ensures the schema
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.createSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS team_envelopes (
			team_id TEXT NOT NULL,
			skill_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (team_id, skill_name)
		)`,
		`CREATE TABLE IF NOT EXISTS system_grants (
			system_id TEXT NOT NULL,
			skill_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (system_id, skill_name)
		)`,
		`CREATE TABLE IF NOT EXISTS recursion_linkages (
			sub_team_id TEXT PRIMARY KEY,
			origin_system_id TEXT NOT NULL,
			parent_team_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS governance_audit_log (
			id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			team_id TEXT,
			system_id TEXT,
			skill_name TEXT,
			outcome TEXT NOT NULL,
			reason_category TEXT,
			detail TEXT,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON governance_audit_log (recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_system ON governance_audit_log (system_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create governance schema: %w", err)
		}
	}
	return nil
}

// EnvelopeSkills loads a team's envelope set
func (s *PostgresStore) EnvelopeSkills(ctx context.Context, teamID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT skill_name FROM team_envelopes WHERE team_id = $1`, teamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	set := make(map[string]bool)
	for rows.Next() {
		var skill string
		if err := rows.Scan(&skill); err != nil {
			return nil, fmt.Errorf("failed to scan envelope row: %w", err)
		}
		set[skill] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return set, nil
}

// HasEnvelopeSkill checks for a single envelope entry
func (s *PostgresStore) HasEnvelopeSkill(ctx context.Context, teamID, skill string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_envelopes WHERE team_id = $1 AND skill_name = $2)`,
		teamID, skill).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return exists, nil
}

// GrantedSkills loads a system's grant set
func (s *PostgresStore) GrantedSkills(ctx context.Context, systemID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT skill_name FROM system_grants WHERE system_id = $1`, systemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	set := make(map[string]bool)
	for rows.Next() {
		var skill string
		if err := rows.Scan(&skill); err != nil {
			return nil, fmt.Errorf("failed to scan grant row: %w", err)
		}
		set[skill] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return set, nil
}

// HasGrant checks for a single grant entry
func (s *PostgresStore) HasGrant(ctx context.Context, systemID, skill string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM system_grants WHERE system_id = $1 AND skill_name = $2)`,
		systemID, skill).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return exists, nil
}

// Linkage loads the recursion linkage for a sub-team
func (s *PostgresStore) Linkage(ctx context.Context, subTeamID string) (*Linkage, error) {
	link := &Linkage{}
	err := s.db.QueryRowContext(ctx,
		`SELECT sub_team_id, origin_system_id, parent_team_id, created_at
		 FROM recursion_linkages WHERE sub_team_id = $1`, subTeamID).
		Scan(&link.SubTeamID, &link.OriginSystemID, &link.ParentTeamID, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return link, nil
}

// AddEnvelopeSkill inserts the envelope entry and its audit rows in one
// transaction
func (s *PostgresStore) AddEnvelopeSkill(ctx context.Context, teamID, skill string, recs []AuditRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO team_envelopes (team_id, skill_name) VALUES ($1, $2)
			 ON CONFLICT (team_id, skill_name) DO NOTHING`, teamID, skill)
		if err != nil {
			return fmt.Errorf("failed to insert envelope entry %s: %w", EnvelopeKey(teamID, skill), err)
		}
		return s.appendAuditTx(ctx, tx, recs)
	})
}

// RemoveEnvelopeSkill removes the envelope entry, deletes every cascaded
// grant and appends the audit rows, all in one transaction. A timed-out
// or failed cascade rolls back entirely.
func (s *PostgresStore) RemoveEnvelopeSkill(ctx context.Context, teamID, skill string, cascade []GrantRef, recs []AuditRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM team_envelopes WHERE team_id = $1 AND skill_name = $2`, teamID, skill)
		if err != nil {
			return fmt.Errorf("failed to delete envelope entry %s: %w", EnvelopeKey(teamID, skill), err)
		}
		for _, ref := range cascade {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM system_grants WHERE system_id = $1 AND skill_name = $2`,
				ref.SystemID, ref.SkillName)
			if err != nil {
				return fmt.Errorf("failed to cascade grant %s: %w", GrantKey(ref.SystemID, ref.SkillName), err)
			}
		}
		return s.appendAuditTx(ctx, tx, recs)
	})
}

// AddGrant inserts the grant entry and its audit rows in one transaction
func (s *PostgresStore) AddGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO system_grants (system_id, skill_name) VALUES ($1, $2)
			 ON CONFLICT (system_id, skill_name) DO NOTHING`, systemID, skill)
		if err != nil {
			return fmt.Errorf("failed to insert grant entry %s: %w", GrantKey(systemID, skill), err)
		}
		return s.appendAuditTx(ctx, tx, recs)
	})
}

// RemoveGrant deletes the grant entry and its audit rows in one
// transaction
func (s *PostgresStore) RemoveGrant(ctx context.Context, systemID, skill string, recs []AuditRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM system_grants WHERE system_id = $1 AND skill_name = $2`, systemID, skill)
		if err != nil {
			return fmt.Errorf("failed to delete grant entry %s: %w", GrantKey(systemID, skill), err)
		}
		return s.appendAuditTx(ctx, tx, recs)
	})
}

// PutLinkage inserts the linkage and its audit rows in one transaction.
// The primary key makes re-linking a sub-team a hard failure.
func (s *PostgresStore) PutLinkage(ctx context.Context, link Linkage, recs []AuditRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recursion_linkages (sub_team_id, origin_system_id, parent_team_id, created_at)
			 VALUES ($1, $2, $3, $4)`,
			link.SubTeamID, link.OriginSystemID, link.ParentTeamID, link.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert linkage %s: %w", LinkageKey(link.SubTeamID), err)
		}
		return s.appendAuditTx(ctx, tx, recs)
	})
}

// AppendAudit appends decision records outside any policy transaction
func (s *PostgresStore) AppendAudit(ctx context.Context, recs []AuditRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.appendAuditTx(ctx, tx, recs)
	})
}

// Load reads the full policy state for seeding the in-memory store
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Envelopes: make(map[string]map[string]bool),
		Grants:    make(map[string]map[string]bool),
		Linkages:  make(map[string]Linkage),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT team_id, skill_name FROM team_envelopes`)
	if err != nil {
		return snap, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for rows.Next() {
		var teamID, skill string
		if err := rows.Scan(&teamID, &skill); err != nil {
			_ = rows.Close()
			return snap, fmt.Errorf("failed to scan envelope row: %w", err)
		}
		if snap.Envelopes[teamID] == nil {
			snap.Envelopes[teamID] = make(map[string]bool)
		}
		snap.Envelopes[teamID][skill] = true
	}
	if err := rows.Close(); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT system_id, skill_name FROM system_grants`)
	if err != nil {
		return snap, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for rows.Next() {
		var systemID, skill string
		if err := rows.Scan(&systemID, &skill); err != nil {
			_ = rows.Close()
			return snap, fmt.Errorf("failed to scan grant row: %w", err)
		}
		if snap.Grants[systemID] == nil {
			snap.Grants[systemID] = make(map[string]bool)
		}
		snap.Grants[systemID][skill] = true
	}
	if err := rows.Close(); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT sub_team_id, origin_system_id, parent_team_id, created_at FROM recursion_linkages`)
	if err != nil {
		return snap, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for rows.Next() {
		var link Linkage
		if err := rows.Scan(&link.SubTeamID, &link.OriginSystemID, &link.ParentTeamID, &link.CreatedAt); err != nil {
			_ = rows.Close()
			return snap, fmt.Errorf("failed to scan linkage row: %w", err)
		}
		snap.Linkages[link.SubTeamID] = link
	}
	if err := rows.Close(); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Printf("[PolicyStore] loaded %d envelope teams, %d granted systems, %d linkages",
		len(snap.Envelopes), len(snap.Grants), len(snap.Linkages))
	return snap, nil
}

func (s *PostgresStore) appendAuditTx(ctx context.Context, tx *sql.Tx, recs []AuditRecord) error {
	for _, rec := range recs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO governance_audit_log
			 (id, actor, action, team_id, system_id, skill_name, outcome, reason_category, detail, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.Actor, string(rec.Action), rec.TeamID, rec.SystemID, rec.SkillName,
			rec.Outcome, string(rec.ReasonCategory), rec.Detail, rec.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[PolicyStore] rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
