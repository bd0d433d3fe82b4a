package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/domain"
	"github.com/spec-kit/canvas-sync/internal/persistence"
)

// Postgres tests run only when CANVAS_TEST_DATABASE_URL is set. Each test
// migrates a throwaway schema and drops it afterwards.
const testDatabaseEnv = "CANVAS_TEST_DATABASE_URL"

func pgTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(testDatabaseEnv))
	if dsn == "" {
		t.Skip(testDatabaseEnv + " is not set; skipping Postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	schema := "canvas_test_" + uuid.NewString()[:8]
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := persistence.RunMigrations(ctx, pool, "../../migrations", zap.NewNop())
	require.NoError(t, err)
	require.Positive(t, applied)
	return pool
}

func pgUser(t *testing.T, users UserRepository, email string) *domain.User {
	t.Helper()
	user := &domain.User{Name: "pg", Email: email, PasswordHash: "x"}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func assertRecords(t *testing.T, want, got []json.RawMessage) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.JSONEq(t, string(want[i]), string(got[i]))
	}
}

func TestPostgresMigrationsApplyOnce(t *testing.T) {
	pool := pgTestPool(t)

	again, err := persistence.RunMigrations(context.Background(), pool, "../../migrations", zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestPostgresUsers(t *testing.T) {
	pool := pgTestPool(t)
	users := NewUserRepository(pool)
	ctx := context.Background()

	user := pgUser(t, users, "pg@example.com")
	assert.NotEmpty(t, user.ID)

	err := users.Create(ctx, &domain.User{Email: "pg@example.com", PasswordHash: "y"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	found, err := users.GetByEmail(ctx, "pg@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = users.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	_, err = users.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestPostgresCompareAndSwap(t *testing.T) {
	pool := pgTestPool(t)
	ctx := context.Background()
	owner := pgUser(t, NewUserRepository(pool), "cas@example.com")
	repo := NewCanvasRepository(pool)

	canvas := &domain.Canvas{OwnerID: owner.ID, Name: "c", Nodes: records(`{"id":"a"}`)}
	require.NoError(t, repo.Create(ctx, canvas))
	assert.Equal(t, canvas.UpdatedAt, domain.TruncateTimestamp(canvas.UpdatedAt))

	// Equal timestamp is accepted and moves updatedAt forward.
	same := canvas.UpdatedAt
	accepted, err := repo.CompareAndSwap(ctx, owner.ID, canvas.ID, domain.SyncAttempt{
		Nodes:             records(`{"id":"b"}`),
		Edges:             records(`{"id":"e1","source":"b","target":"b"}`),
		ExpectedUpdatedAt: &same,
	})
	require.NoError(t, err)
	assert.True(t, accepted.UpdatedAt.After(same))
	assertRecords(t, records(`{"id":"b"}`), accepted.Nodes)

	// The pre-save timestamp is now stale: refused, stored state untouched.
	_, err = repo.CompareAndSwap(ctx, owner.ID, canvas.ID, domain.SyncAttempt{
		Nodes:             records(`{"id":"stale"}`),
		ExpectedUpdatedAt: &same,
	})
	var stale *StaleWriteError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, accepted.UpdatedAt, stale.Current.UpdatedAt)
	assertRecords(t, records(`{"id":"b"}`), stale.Current.Nodes)

	stored, err := repo.GetByID(ctx, owner.ID, canvas.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted.UpdatedAt, stored.UpdatedAt)
	assertRecords(t, accepted.Nodes, stored.Nodes)
	assertRecords(t, accepted.Edges, stored.Edges)

	// Unconditional writes still bump the timestamp every time.
	prev := stored.UpdatedAt
	for i := 0; i < 5; i++ {
		next, err := repo.CompareAndSwap(ctx, owner.ID, canvas.ID, domain.SyncAttempt{
			Nodes: records(fmt.Sprintf(`{"id":"n%d"}`, i)),
		})
		require.NoError(t, err)
		assert.True(t, next.UpdatedAt.After(prev), "save %d did not advance updatedAt", i)
		prev = next.UpdatedAt
	}

	// Epoch zero is a real expectation and loses to any stored canvas.
	zero := domain.FromMillis(0)
	_, err = repo.CompareAndSwap(ctx, owner.ID, canvas.ID, domain.SyncAttempt{Nodes: records(), ExpectedUpdatedAt: &zero})
	require.True(t, errors.As(err, &stale))
}

func TestPostgresConcurrentWritersOneWins(t *testing.T) {
	pool := pgTestPool(t)
	ctx := context.Background()
	owner := pgUser(t, NewUserRepository(pool), "race@example.com")
	repo := NewCanvasRepository(pool)

	canvas := &domain.Canvas{OwnerID: owner.ID, Name: "c", Nodes: records()}
	require.NoError(t, repo.Create(ctx, canvas))
	expected := canvas.UpdatedAt

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CompareAndSwap(ctx, owner.ID, canvas.ID, domain.SyncAttempt{
				Nodes:             records(fmt.Sprintf(`{"id":"w%d"}`, i)),
				ExpectedUpdatedAt: &expected,
			})
			var stale *StaleWriteError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &stale):
				refused++
			default:
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, writers-1, refused)
}

func TestPostgresOwnershipAndMissingRows(t *testing.T) {
	pool := pgTestPool(t)
	ctx := context.Background()
	users := NewUserRepository(pool)
	alice := pgUser(t, users, "alice@example.com")
	bob := pgUser(t, users, "bob@example.com")
	repo := NewCanvasRepository(pool)

	canvas := &domain.Canvas{OwnerID: alice.ID, Name: "private", Nodes: records(`{"id":"a"}`)}
	require.NoError(t, repo.Create(ctx, canvas))

	_, err := repo.GetByID(ctx, bob.ID, canvas.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	_, err = repo.CompareAndSwap(ctx, bob.ID, canvas.ID, domain.SyncAttempt{Nodes: records()})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.ErrorIs(t, repo.Delete(ctx, bob.ID, canvas.ID), pgx.ErrNoRows)

	_, err = repo.CompareAndSwap(ctx, alice.ID, uuid.NewString(), domain.SyncAttempt{Nodes: records()})
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	require.NoError(t, repo.Delete(ctx, alice.ID, canvas.ID))
	_, err = repo.GetByID(ctx, alice.ID, canvas.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestPostgresDefaultCanvas(t *testing.T) {
	pool := pgTestPool(t)
	ctx := context.Background()
	owner := pgUser(t, NewUserRepository(pool), "default@example.com")
	repo := NewCanvasRepository(pool)

	_, err := repo.GetDefault(ctx, owner.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	first := &domain.Canvas{OwnerID: owner.ID, Name: domain.FirstCanvasName, Nodes: domain.SeedNodes()}
	created, err := repo.CreateDefault(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.IsDefault)

	second := &domain.Canvas{OwnerID: owner.ID, Name: "other", Nodes: records()}
	created, err = repo.CreateDefault(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.GetDefault(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assertRecords(t, domain.SeedNodes(), got.Nodes)
}

func TestPostgresListOrder(t *testing.T) {
	pool := pgTestPool(t)
	ctx := context.Background()
	owner := pgUser(t, NewUserRepository(pool), "list@example.com")
	repo := NewCanvasRepository(pool)

	older := &domain.Canvas{OwnerID: owner.ID, Name: "older", Nodes: records(`{"id":"a"}`, `{"id":"b"}`)}
	require.NoError(t, repo.Create(ctx, older))
	newer := &domain.Canvas{OwnerID: owner.ID, Name: "newer", Nodes: records()}
	require.NoError(t, repo.Create(ctx, newer))
	_, err := repo.CompareAndSwap(ctx, owner.ID, older.ID, domain.SyncAttempt{Nodes: records(`{"id":"a"}`, `{"id":"b"}`)})
	require.NoError(t, err)

	list, err := repo.ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, 2, list[0].NodeCount)
	assert.Equal(t, newer.ID, list[1].ID)
}
