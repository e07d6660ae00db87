// Package store persists license records and the activation ledger in
// SQLite. The ledger's capacity check-then-create runs inside a single
// write transaction backed by a UNIQUE(license_id, site_hash)
// constraint, which gives the per-license atomicity the validation
// pipeline relies on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	apierrors "licensegate/internal/errors"
	"licensegate/internal/license"
)

// Store wraps the SQLite database holding licenses and activations.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single writer; serialized write transactions are what the
	// activation ledger's atomicity depends on.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS licenses (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL UNIQUE,
			customer_email TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			product_id TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'free',
			status TEXT NOT NULL DEFAULT 'active',
			max_activations INTEGER NOT NULL DEFAULT 0,
			policy TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS activations (
			id TEXT PRIMARY KEY,
			license_id TEXT NOT NULL REFERENCES licenses(id),
			site_url TEXT NOT NULL,
			site_hash TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			health TEXT NOT NULL DEFAULT 'healthy',
			last_checked_at TIMESTAMP,
			activated_at TIMESTAMP NOT NULL,
			deactivated_at TIMESTAMP,
			UNIQUE(license_id, site_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activations_license_active
			ON activations(license_id, active)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateLicense inserts a new license record. A key-hash collision
// surfaces as an error so callers can retry key generation.
func (s *Store) CreateLicense(ctx context.Context, lic *license.License) error {
	if lic.ID == "" {
		lic.ID = uuid.New().String()
	}
	if lic.CreatedAt.IsZero() {
		lic.CreatedAt = time.Now().UTC()
	}
	policyJSON, err := json.Marshal(lic.Policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO licenses
			(id, key_hash, customer_email, customer_name, product_id,
			 tier, status, max_activations, policy, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lic.ID, lic.KeyHash, lic.CustomerEmail, lic.CustomerName,
		lic.ProductID, lic.Tier, string(lic.Status), lic.MaxActivations,
		string(policyJSON), lic.CreatedAt, lic.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert license: %w", err)
	}
	return nil
}

// FindByKeyHash fetches a license by its key digest. Missing licenses
// return the engine's ErrInvalidLicenseKey so the pipeline never
// distinguishes "absent" from "unknown".
func (s *Store) FindByKeyHash(ctx context.Context, keyHash string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, customer_email, customer_name, product_id,
		       tier, status, max_activations, policy, created_at, expires_at
		FROM licenses WHERE key_hash = ?`, keyHash)
	return scanLicense(row)
}

// FindByID fetches a license by row ID.
func (s *Store) FindByID(ctx context.Context, id string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, customer_email, customer_name, product_id,
		       tier, status, max_activations, policy, created_at, expires_at
		FROM licenses WHERE id = ?`, id)
	return scanLicense(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLicense(row rowScanner) (*license.License, error) {
	var (
		lic        license.License
		status     string
		policyJSON string
		expiresAt  sql.NullTime
	)
	err := row.Scan(&lic.ID, &lic.KeyHash, &lic.CustomerEmail,
		&lic.CustomerName, &lic.ProductID, &lic.Tier, &status,
		&lic.MaxActivations, &policyJSON, &lic.CreatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.ErrInvalidLicenseKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan license: %w", err)
	}
	lic.Status = license.Status(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		lic.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(policyJSON), &lic.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return &lic, nil
}

// UpdateStatus applies an administrative status transition. The
// validation engine itself never calls this.
func (s *Store) UpdateStatus(ctx context.Context, licenseID string, status license.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET status = ? WHERE id = ?`, string(status), licenseID)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.ErrNotFound
	}
	return nil
}
