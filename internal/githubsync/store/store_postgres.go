package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"merit/internal/githubsync/models"
	id "merit/pkg/domain"
	"merit/pkg/platform/sentinel"
)

// PostgresStore persists sync state on a pgx pool. Sync runs are long-lived
// background work with bursty writes, so it uses the pool directly rather
// than the shared database/sql handle.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) AddTarget(ctx context.Context, t models.TargetRepo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO target_repos (owner, name, kind, active, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner, name, kind) DO UPDATE SET
			active = EXCLUDED.active,
			added_by = EXCLUDED.added_by
	`, t.Repo.Owner, t.Repo.Name, string(t.Kind), t.Active, t.AddedBy, t.AddedAt)
	if err != nil {
		return fmt.Errorf("add target %s/%s: %w", t.Repo, t.Kind, err)
	}
	return nil
}

func (s *PostgresStore) RemoveTarget(ctx context.Context, repo id.RepoKey, kind models.TargetKind) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE target_repos SET active = FALSE
		WHERE owner = $1 AND name = $2 AND kind = $3
	`, repo.Owner, repo.Name, string(kind))
	if err != nil {
		return fmt.Errorf("remove target %s/%s: %w", repo, kind, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTargets(ctx context.Context, kind models.TargetKind) ([]models.TargetRepo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner, name, kind, active, added_by, added_at FROM target_repos
		WHERE kind = $1 AND active
		ORDER BY owner, name
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s targets: %w", kind, err)
	}
	return scanTargets(rows)
}

func (s *PostgresStore) ListAllTargets(ctx context.Context) ([]models.TargetRepo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner, name, kind, active, added_by, added_at FROM target_repos
		ORDER BY owner, name, kind
	`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return scanTargets(rows)
}

func (s *PostgresStore) GetSyncState(ctx context.Context, repo id.RepoKey) (*models.SyncState, error) {
	var st models.SyncState
	err := s.pool.QueryRow(ctx, `
		SELECT epoch, last_sync_at, last_issue_updated_at, issues_synced, etag
		FROM sync_state WHERE repo_owner = $1 AND repo_name = $2
	`, repo.Owner, repo.Name).Scan(&st.Epoch, &st.LastSyncAt, &st.LastIssueUpdatedAt, &st.IssuesSynced, &st.ETag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get sync state %s: %w", repo, err)
	}
	st.Repo = repo
	return &st, nil
}

func (s *PostgresStore) SaveSyncState(ctx context.Context, st models.SyncState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (repo_owner, repo_name, epoch, last_sync_at, last_issue_updated_at, issues_synced, etag)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repo_owner, repo_name) DO UPDATE SET
			epoch = EXCLUDED.epoch,
			last_sync_at = EXCLUDED.last_sync_at,
			last_issue_updated_at = EXCLUDED.last_issue_updated_at,
			issues_synced = EXCLUDED.issues_synced,
			etag = EXCLUDED.etag
	`, st.Repo.Owner, st.Repo.Name, int64(st.Epoch), st.LastSyncAt, st.LastIssueUpdatedAt, st.IssuesSynced, st.ETag)
	if err != nil {
		return fmt.Errorf("save sync state %s: %w", st.Repo, err)
	}
	return nil
}

func (s *PostgresStore) InsertStar(ctx context.Context, star models.Star) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stars (login, repo_owner, repo_name, starred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (login, repo_owner, repo_name) DO NOTHING
	`, star.Login.String(), star.Repo.Owner, star.Repo.Name, star.StarredAt)
	if err != nil {
		return false, fmt.Errorf("insert star %s on %s: %w", star.Login, star.Repo, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanTargets(rows pgx.Rows) ([]models.TargetRepo, error) {
	defer rows.Close()
	var out []models.TargetRepo
	for rows.Next() {
		var (
			t    models.TargetRepo
			kind string
		)
		if err := rows.Scan(&t.Repo.Owner, &t.Repo.Name, &kind, &t.Active, &t.AddedBy, &t.AddedAt); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		t.Kind = models.TargetKind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return out, nil
}
