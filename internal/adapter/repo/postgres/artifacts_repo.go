package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// ArtifactRepo stores completed artifacts as JSON documents keyed by job id
// and fingerprint. It implements domain.ArtifactRepository.
type ArtifactRepo struct{ Pool PgxPool }

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewArtifactRepo constructs an ArtifactRepo with the given pool.
func NewArtifactRepo(p PgxPool) *ArtifactRepo { return &ArtifactRepo{Pool: p} }

// Save upserts the artifact document for a job. Repeated saves for the same
// job id overwrite, which keeps the worker's fire-and-forget write idempotent.
func (r *ArtifactRepo) Save(ctx context.Context, jobID, userID, fingerprint string, a *domain.Artifact) error {
	tracer := otel.Tracer("repo.artifacts")
	ctx, span := tracer.Start(ctx, "artifacts.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "artifacts"),
	)

	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("op=artifact.save: marshal document: %w", err)
	}
	q := `INSERT INTO artifacts (job_id, user_id, fingerprint, remote_job_id, document, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6)
	      ON CONFLICT (job_id) DO UPDATE SET document = EXCLUDED.document`
	_, err = r.Pool.Exec(ctx, q, jobID, userID, fingerprint, a.RemoteJobID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=artifact.save: %w", err)
	}
	return nil
}

// GetByFingerprint loads the most recent artifact document with the given
// fingerprint, or nil when none exists.
func (r *ArtifactRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Artifact, error) {
	tracer := otel.Tracer("repo.artifacts")
	ctx, span := tracer.Start(ctx, "artifacts.GetByFingerprint")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "artifacts"),
	)

	q := `SELECT document FROM artifacts WHERE fingerprint = $1 ORDER BY created_at DESC LIMIT 1`
	var doc []byte
	if err := r.Pool.QueryRow(ctx, q, fingerprint).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=artifact.get_by_fingerprint: %w", err)
	}
	var a domain.Artifact
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("op=artifact.get_by_fingerprint: unmarshal document: %w", err)
	}
	return &a, nil
}
