package bdkeeper_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellpoint/sellpoint-client/pkg/bdkeeper"
	"github.com/sellpoint/sellpoint-client/pkg/models"
)

func setup(t *testing.T) *bdkeeper.Keeper {
	t.Helper()
	keeper, err := bdkeeper.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := keeper.Close(); err != nil {
			t.Logf("error closing database: %v", err)
		}
	})
	return keeper
}

func sampleOp(id string) models.SyncOperation {
	return models.SyncOperation{
		ID:        id,
		Table:     models.TableProducts,
		Kind:      models.OpCreate,
		Payload:   map[string]string{"id": "p1", "name": "Coffee", "price": "3.50"},
		OriginID:  "client-1",
		CreatedAt: time.Now().UTC(),
	}
}

func TestRecordLifecycle(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	err := keeper.CreateRecord(ctx, models.TableProducts, map[string]string{
		"id": "p1", "name": "Coffee", "price": "3.50", "stock": "10",
	})
	require.NoError(t, err)

	rec, err := keeper.GetRecord(ctx, models.TableProducts, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Coffee", rec["name"])

	err = keeper.UpdateRecord(ctx, models.TableProducts, "p1", map[string]string{"stock": "7"})
	require.NoError(t, err)

	rec, err = keeper.GetRecord(ctx, models.TableProducts, "p1")
	require.NoError(t, err)
	assert.Equal(t, "7", rec["stock"])
	assert.Equal(t, "Coffee", rec["name"], "unspecified columns must survive an update")

	err = keeper.DeleteRecord(ctx, models.TableProducts, "p1")
	require.NoError(t, err)

	_, err = keeper.GetRecord(ctx, models.TableProducts, "p1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateRecordIdempotentByID(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	rec := map[string]string{"id": "c1", "name": "Ada"}
	require.NoError(t, keeper.CreateRecord(ctx, models.TableCustomers, rec))
	require.NoError(t, keeper.CreateRecord(ctx, models.TableCustomers, rec))

	n, err := keeper.CountRecords(ctx, models.TableCustomers)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRejectsUnknownTable(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	err := keeper.CreateRecord(ctx, "users; DROP TABLE products", map[string]string{"id": "x"})
	assert.Error(t, err)

	_, err = keeper.AllRecords(ctx, "nope")
	assert.Error(t, err)
}

func TestQueueAppendAndPendingOrder(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-1")))
	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-2")))
	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-3")))

	ops, err := keeper.PendingSyncOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "op-1", ops[0].ID)
	assert.Equal(t, "op-2", ops[1].ID)
	assert.Equal(t, "op-3", ops[2].ID)
	assert.Equal(t, models.OpCreate, ops[0].Kind)
	assert.Equal(t, "Coffee", ops[0].Payload["name"])
}

func TestQueueDuplicateIDRejected(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-1")))
	assert.Error(t, keeper.AppendSyncOperation(ctx, sampleOp("op-1")))
}

func TestMarkDeliveredAndCompact(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-1")))
	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-2")))

	require.NoError(t, keeper.MarkDelivered(ctx, "op-1"))
	// Second delivery mark is a no-op, not an error.
	require.NoError(t, keeper.MarkDelivered(ctx, "op-1"))

	ops, err := keeper.PendingSyncOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-2", ops[0].ID)

	require.NoError(t, keeper.CompactQueue(ctx))

	pending, dead, err := keeper.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, dead)
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	ctx := context.Background()

	keeper, err := bdkeeper.Open(path)
	require.NoError(t, err)
	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-1")))
	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-2")))
	require.NoError(t, keeper.Close())

	reopened, err := bdkeeper.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	ops, err := reopened.PendingSyncOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2, "undelivered operations must survive restart without duplication")
	assert.Equal(t, "op-1", ops[0].ID)
}

func TestRecordRejectionDeadLetters(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-1")))

	for i := 0; i < 2; i++ {
		require.NoError(t, keeper.RecordRejection(ctx, "op-1", 3))
	}
	ops, err := keeper.PendingSyncOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1, "operation stays pending below the rejection limit")
	assert.Equal(t, 2, ops[0].Attempts)

	require.NoError(t, keeper.RecordRejection(ctx, "op-1", 3))

	ops, err = keeper.PendingSyncOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops, "dead-lettered operation is no longer pending")

	_, dead, err := keeper.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
}

func TestMergeSettings(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	require.NoError(t, keeper.MergeSettings(ctx, map[string]string{"currency": "USD", "tax": "0.2"}))
	require.NoError(t, keeper.MergeSettings(ctx, map[string]string{"currency": "EUR"}))

	settings, err := keeper.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EUR", settings["currency"])
	assert.Equal(t, "0.2", settings["tax"], "unspecified keys must never be deleted")
}

func TestPendingPayloads(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	require.NoError(t, keeper.SavePendingPayload(ctx, "backup", []byte(`{"a":1}`)))
	require.NoError(t, keeper.SavePendingPayload(ctx, "ticket", []byte(`{"b":2}`)))

	backups, err := keeper.PendingPayloads(ctx, "backup")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.JSONEq(t, `{"a":1}`, string(backups[0].Body))

	require.NoError(t, keeper.DeletePendingPayload(ctx, backups[0].ID))

	backups, err = keeper.PendingPayloads(ctx, "backup")
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestResetAllAndSeedDefaults(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	require.NoError(t, keeper.CreateRecord(ctx, models.TableProducts, map[string]string{"id": "p1", "name": "Tea"}))
	require.NoError(t, keeper.MergeSettings(ctx, map[string]string{"currency": "GBP"}))
	require.NoError(t, keeper.AppendSyncOperation(ctx, sampleOp("op-1")))

	require.NoError(t, keeper.ResetAll(ctx))

	empty, err := keeper.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	settings, err := keeper.Settings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)

	ops, err := keeper.PendingSyncOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1, "reset must not drop queued operations")

	require.NoError(t, keeper.SeedDefaults(ctx))

	n, err := keeper.CountRecords(ctx, models.TableCategories)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	settings, err = keeper.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "USD", settings["currency"])
}

func TestInTransactionIsAtomic(t *testing.T) {
	keeper := setup(t)
	ctx := context.Background()

	boom := errors.New("append refused")
	err := keeper.InTransaction(ctx, func(ctx context.Context) error {
		if err := keeper.CreateRecord(ctx, models.TableProducts, map[string]string{"id": "p1", "name": "Tea"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = keeper.GetRecord(ctx, models.TableProducts, "p1")
	assert.ErrorIs(t, err, sql.ErrNoRows, "rolled-back record must not exist")

	err = keeper.InTransaction(ctx, func(ctx context.Context) error {
		if err := keeper.CreateRecord(ctx, models.TableProducts, map[string]string{"id": "p2", "name": "Mate"}); err != nil {
			return err
		}
		return keeper.AppendSyncOperation(ctx, sampleOp("op-tx"))
	})
	require.NoError(t, err)

	rec, err := keeper.GetRecord(ctx, models.TableProducts, "p2")
	require.NoError(t, err)
	assert.Equal(t, "Mate", rec["name"])

	ops, err := keeper.PendingSyncOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-tx", ops[0].ID)
}
