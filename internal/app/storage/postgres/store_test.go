package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/agentbank/internal/app/domain/identity"
	"github.com/R3E-Network/agentbank/internal/app/domain/operation"
	"github.com/R3E-Network/agentbank/internal/app/storage"
)

var operationRowColumns = []string{
	"id", "reference", "type_id", "initiator_id", "agency_id", "amount", "currency", "status",
	"validator_id", "payload", "failure_reason", "created_at", "assigned_at", "validated_at",
	"completed_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserScansNullableAgency(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "identifier", "display_name", "role", "agency_id", "balance", "active", "created_at", "updated_at"}).
		AddRow("u1", "dkr01.fatou", "Fatou", "agent", "a1", "25000.00", true, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE identifier = \$1`).
		WithArgs("dkr01.fatou").
		WillReturnRows(rows)

	user, err := store.GetUserByIdentifier(context.Background(), "dkr01.fatou")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAgent, user.Role)
	assert.Equal(t, "a1", user.AgencyID)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(25000)))
}

func TestCreateUserDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_identifier_key"})

	_, err := store.CreateUser(context.Background(), identity.User{Identifier: "admin.monel", Role: identity.RoleAdminGeneral})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestClaimNextOperation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(operationRowColumns).
		AddRow("op1", "OP-20260101-abcdef01", "t1", "u1", "a1", "15000.00", "XOF", "assigned",
			"v1", []byte(`{"phone":"771234567"}`), "", now, now, nil, nil, now)
	mock.ExpectQuery(`UPDATE operations(.+)FOR UPDATE SKIP LOCKED(.+)RETURNING`).
		WithArgs("v1", now, "").
		WillReturnRows(rows)

	op, err := store.ClaimNextOperation(context.Background(), storage.ClaimRequest{ValidatorID: "v1", At: now})
	require.NoError(t, err)
	assert.Equal(t, operation.StatusAssigned, op.Status)
	assert.Equal(t, "v1", op.ValidatorID)
	assert.Nil(t, op.CompletedAt)
	assert.JSONEq(t, `{"phone":"771234567"}`, string(op.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextOperationEmptyAndLost(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE operations`).WillReturnRows(sqlmock.NewRows(operationRowColumns))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.ClaimNextOperation(context.Background(), storage.ClaimRequest{ValidatorID: "v1", At: now})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mock.ExpectQuery(`UPDATE operations`).WillReturnRows(sqlmock.NewRows(operationRowColumns))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err = store.ClaimNextOperation(context.Background(), storage.ClaimRequest{ValidatorID: "v1", AgencyID: "a1", At: now})
	assert.ErrorIs(t, err, storage.ErrClaimLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET balance`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.Atomic(context.Background(), func(tx storage.Tx) error {
		if err := tx.UpdateUserBalance(context.Background(), "u1", decimal.NewFromInt(10), time.Now()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicCommits(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE agencies SET chief_id`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Atomic(context.Background(), func(tx storage.Tx) error {
		return tx.SetAgencyChief(context.Background(), "a1", "c1", time.Now())
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueStatsScan(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WithArgs("v1", "a1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d"}).AddRow(4, 1, 6, 0))

	stats, err := store.QueueStats(context.Background(), storage.QueueScope{ValidatorID: "v1", AgencyID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, operation.QueueStats{Unassigned: 4, AssignedToMe: 1, AllActive: 6, Urgent: 0}, stats)
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn, 4, 2)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	now := time.Now().UTC()
	agency, err := store.CreateAgency(ctx, identity.Agency{Code: "it" + now.Format("150405"), Name: "Integration", City: "Dakar", Active: true, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("create agency: %v", err)
	}
	if _, err := store.GetAgencyByCode(ctx, agency.Code); err != nil {
		t.Fatalf("get agency: %v", err)
	}
}
