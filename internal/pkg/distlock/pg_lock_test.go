package distlock

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func lockRow(acquired bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(acquired)
}

func TestPGAdvisoryLock_PinsSessionUntilRelease(t *testing.T) {
	db, mock := setupTestDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WillReturnRows(lockRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	lock := NewPGAdvisoryLock(db, "stats:user:u1")

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("Acquire should succeed")
	}

	// Advisory locks are session-scoped: the holding connection must stay
	// checked out of the pool so lock and unlock run on the same session.
	if in := db.Stats().InUse; in != 1 {
		t.Fatalf("connections in use while holding = %d, want 1 pinned session", in)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if in := db.Stats().InUse; in != 0 {
		t.Fatalf("connections in use after release = %d, want 0", in)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGAdvisoryLock_FailedAcquireReturnsConnection(t *testing.T) {
	db, mock := setupTestDB(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WillReturnRows(lockRow(false))

	lock := NewPGAdvisoryLock(db, "stats:user:u1")
	ok, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatal("Acquire should report the lock as taken")
	}
	if in := db.Stats().InUse; in != 0 {
		t.Fatalf("connections in use after failed acquire = %d, want 0", in)
	}
}

func TestPGAdvisoryLock_DoubleAcquireErrors(t *testing.T) {
	db, mock := setupTestDB(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WillReturnRows(lockRow(true))

	lock := NewPGAdvisoryLock(db, "stats:user:u1")
	if ok, err := lock.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}
	if _, err := lock.Acquire(context.Background()); err == nil {
		t.Fatal("re-acquiring a held lock instance should error")
	}
}

func TestPGAdvisoryLock_ReleaseWithoutHoldIsNoop(t *testing.T) {
	db, _ := setupTestDB(t)

	lock := NewPGAdvisoryLock(db, "stats:user:u1")
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("Release without hold: %v", err)
	}
}

func TestPGAdvisoryLock_ReacquireAfterRelease(t *testing.T) {
	db, mock := setupTestDB(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WillReturnRows(lockRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").WillReturnRows(lockRow(true))

	lock := NewPGAdvisoryLock(db, "stats:user:u1")
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("first Acquire failed")
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("Acquire after release = %v, %v", ok, err)
	}
}
