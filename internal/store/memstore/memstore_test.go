package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/store/memstore"
)

func employee(tenant, key string) *core.Employee {
	return &core.Employee{ID: uuid.New(), TenantID: tenant, EmployeeID: key, FirstName: "F", LastName: "L", Email: key + "@example.com"}
}

func TestInTxDiscardsFailedTransaction(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx core.Tx) error {
		require.NoError(t, tx.InsertEmployee(ctx, employee("acme", "E1")))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, s.Employees("acme"))

	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		return tx.InsertEmployee(ctx, employee("acme", "E1"))
	}))
	require.Len(t, s.Employees("acme"), 1)
}

func TestInTxHonorsCancelledContext(t *testing.T) {
	s := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.InTx(ctx, func(core.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestSavepointUndoesOnlyItsWrites(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		require.NoError(t, tx.InsertEmployee(ctx, employee("acme", "E1")))
		err := tx.Savepoint(ctx, func(sp core.Tx) error {
			require.NoError(t, sp.InsertEmployee(ctx, employee("acme", "E2")))
			return boom
		})
		require.ErrorIs(t, err, boom)
		return tx.InsertEmployee(ctx, employee("acme", "E3"))
	}))

	emps := s.Employees("acme")
	require.Len(t, emps, 2)
	require.Equal(t, "E1", emps[0].EmployeeID)
	require.Equal(t, "E3", emps[1].EmployeeID)
}

func TestEmployeeKeyIsUniquePerTenant(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		require.NoError(t, tx.InsertEmployee(ctx, employee("acme", "E1")))
		require.NoError(t, tx.InsertEmployee(ctx, employee("globex", "E1")))
		err := tx.InsertEmployee(ctx, employee("acme", "E1"))
		require.ErrorIs(t, err, core.ErrConflict)

		_, err = tx.GetEmployeeByKey(ctx, "initech", "E1")
		require.ErrorIs(t, err, core.ErrNotFound)
		return nil
	}))
}

func TestReplaceRowsRejectsDuplicateRowNumbers(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	jobID := uuid.New()
	row := func(n int) core.ImportRow {
		return core.ImportRow{ID: uuid.New(), JobID: jobID, RowNumber: n, Status: core.RowValid}
	}

	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		return tx.ReplaceRows(ctx, jobID, []core.ImportRow{row(2), row(1)})
	}))

	err := s.InTx(ctx, func(tx core.Tx) error {
		return tx.ReplaceRows(ctx, jobID, []core.ImportRow{row(1), row(2), row(1)})
	})
	require.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		rows, err := tx.ListRows(ctx, jobID)
		require.Len(t, rows, 2, "failed replace leaves the previous rows")
		require.Equal(t, 1, rows[0].RowNumber)
		return err
	}))
}

func TestInjectFault(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.InjectFault(func(op, key string) error {
		if op == "InsertEmployee" && key == "E2" {
			return core.ErrConstraint
		}
		return nil
	})

	err := s.InTx(ctx, func(tx core.Tx) error {
		require.NoError(t, tx.InsertEmployee(ctx, employee("acme", "E1")))
		return tx.InsertEmployee(ctx, employee("acme", "E2"))
	})
	require.ErrorIs(t, err, core.ErrConstraint)
	require.Empty(t, s.Employees("acme"))

	s.InjectFault(nil)
	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		return tx.InsertEmployee(ctx, employee("acme", "E2"))
	}))
}

func TestSnapshotsNewestFirstAndExpiry(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	job := &core.ImportJob{ID: uuid.New(), TenantID: "acme", Status: core.StatusCompleted, RollbackToken: "tok", RollbackExpires: &expires}

	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		require.NoError(t, tx.CreateJob(ctx, job))
		for seq := int64(1); seq <= 3; seq++ {
			require.NoError(t, tx.InsertSnapshot(ctx, &core.ImportRollbackEntity{
				ID:            uuid.New(),
				JobID:         job.ID,
				RollbackToken: "tok",
				EntityID:      uuid.New(),
				Action:        core.ActionCreated,
				Status:        core.SnapshotApplied,
				Sequence:      seq,
			}))
		}
		return nil
	}))

	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		snaps, err := tx.ListSnapshots(ctx, "tok")
		require.NoError(t, err)
		require.Len(t, snaps, 3)
		require.Equal(t, []int64{3, 2, 1}, []int64{snaps[0].Sequence, snaps[1].Sequence, snaps[2].Sequence})

		n, err := tx.ExpireSnapshots(ctx, now)
		require.NoError(t, err)
		require.Zero(t, n, "window still open")

		n, err = tx.ExpireSnapshots(ctx, expires)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
		return nil
	}))
}

func TestActiveRuleConflict(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	rule := func() *core.FieldMappingRule {
		return &core.FieldMappingRule{ID: uuid.New(), TenantID: "acme", SourceColumn: "Dept", TargetField: "department", IsActive: true}
	}

	first := rule()
	require.NoError(t, s.InTx(ctx, func(tx core.Tx) error {
		require.NoError(t, tx.InsertRule(ctx, first))
		require.ErrorIs(t, tx.InsertRule(ctx, rule()), core.ErrConflict)

		inactive := rule()
		inactive.IsActive = false
		require.NoError(t, tx.InsertRule(ctx, inactive))

		active, err := tx.ListRules(ctx, "acme", true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		all, err := tx.ListRules(ctx, "acme", false)
		require.NoError(t, err)
		require.Len(t, all, 2)
		return nil
	}))
}
