package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, cfg config.MaintenanceConfig) (*MaintenanceCoordinator, *sql.DB, string) {
	t.Helper()

	sqlDB, dbPath := openTestDB(t, "WAL")
	_, err := sqlDB.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value BLOB)`)
	require.NoError(t, err)

	return newMaintenanceCoordinator(dbPath, sqlDB, cfg, logger.NewNopLogger()), sqlDB, dbPath
}

func fill(t *testing.T, sqlDB *sql.DB, n int) {
	t.Helper()

	for i := range n {
		_, err := sqlDB.Exec(`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`,
			fmt.Sprintf("entity|Account|%d", i), []byte("value"))
		require.NoError(t, err)
	}
}

func TestNewMaintenanceCoordinator_NilConfig(t *testing.T) {
	sqlDB, dbPath := openTestDB(t, "WAL")

	m := NewMaintenanceCoordinator(dbPath, sqlDB, nil, logger.NewNopLogger())
	require.IsType(t, disabledMaintenance{}, m)
	require.NoError(t, m.Start(t.Context()))
	m.AcquireOperationLock()()

	report, err := m.RunMaintenance(t.Context())
	require.NoError(t, err)
	require.Zero(t, report)
	require.NoError(t, m.Stop())
}

func TestMaintenanceCoordinator_RunMaintenance(t *testing.T) {
	t.Run("wal", func(t *testing.T) {
		coordinator, sqlDB, dbPath := newTestCoordinator(t, config.MaintenanceConfig{WALCheckpointMode: "TRUNCATE"})
		fill(t, sqlDB, 500)

		walInfo, err := os.Stat(dbPath + "-wal")
		require.NoError(t, err)
		require.Positive(t, walInfo.Size())

		report, err := coordinator.RunMaintenance(t.Context())
		require.NoError(t, err)
		require.NotNil(t, report.Checkpoint)
		require.Equal(t, "TRUNCATE", report.Checkpoint.Mode)
		require.Zero(t, report.Checkpoint.Busy)
		require.Positive(t, report.SizeBefore)

		last, runs := coordinator.LastReport()
		require.Equal(t, uint64(1), runs)
		require.Equal(t, report.At, last.At)
		require.NoError(t, last.Err)

		if after, err := os.Stat(dbPath + "-wal"); err == nil {
			require.LessOrEqual(t, after.Size(), walInfo.Size())
		}
	})

	t.Run("rollback journal skips the checkpoint", func(t *testing.T) {
		sqlDB, dbPath := openTestDB(t, "TRUNCATE")
		coordinator := newMaintenanceCoordinator(dbPath, sqlDB, config.MaintenanceConfig{WALCheckpointMode: "PASSIVE"},
			logger.NewNopLogger())

		report, err := coordinator.RunMaintenance(t.Context())
		require.NoError(t, err)
		require.Nil(t, report.Checkpoint)
	})
}

func TestReport_Reclaimed(t *testing.T) {
	require.Equal(t, uint64(100), Report{SizeBefore: 300, SizeAfter: 200}.Reclaimed())
	require.Zero(t, Report{SizeBefore: 200, SizeAfter: 300}.Reclaimed())
	require.Zero(t, Report{}.Reclaimed())
}

func TestMaintenanceCoordinator_BlocksOperations(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, config.MaintenanceConfig{WALCheckpointMode: "PASSIVE"})

	unlock := coordinator.AcquireOperationLock()

	var finished atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := coordinator.RunMaintenance(context.Background())
		require.NoError(t, err)
		finished.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	require.False(t, finished.Load(), "maintenance must wait for in-flight operations")

	unlock()
	<-done
	require.True(t, finished.Load())
}

func TestMaintenanceCoordinator_Background(t *testing.T) {
	coordinator, sqlDB, _ := newTestCoordinator(t, config.MaintenanceConfig{
		Enabled:           true,
		CheckInterval:     common.NewDuration(50 * time.Millisecond),
		VacuumOnStartup:   true,
		WALCheckpointMode: "PASSIVE",
	})

	require.NoError(t, coordinator.Start(t.Context()))
	_, runs := coordinator.LastReport()
	require.Equal(t, uint64(1), runs, "startup maintenance should run")

	fill(t, sqlDB, 50)

	require.Eventually(t, func() bool {
		_, runs := coordinator.LastReport()
		return runs > 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, coordinator.Stop())
}

func TestMaintenanceCoordinator_Disabled(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, config.MaintenanceConfig{
		CheckInterval:     common.NewDuration(10 * time.Millisecond),
		WALCheckpointMode: "TRUNCATE",
	})

	require.NoError(t, coordinator.Start(t.Context()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, coordinator.Stop())

	_, runs := coordinator.LastReport()
	require.Zero(t, runs)
}

func TestMaintenanceCoordinator_ContextCancellation(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, config.MaintenanceConfig{WALCheckpointMode: "TRUNCATE"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coordinator.RunMaintenance(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMaintenanceCoordinator_ConcurrentOperations(t *testing.T) {
	coordinator, sqlDB, _ := newTestCoordinator(t, config.MaintenanceConfig{WALCheckpointMode: "PASSIVE"})

	const workers, perWorker = 20, 5
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)

	for w := range workers {
		wg.Go(func() {
			for j := range perWorker {
				unlock := coordinator.AcquireOperationLock()
				_, err := sqlDB.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)`,
					fmt.Sprintf("entity|Account|%d-%d", w, j), []byte{1})
				unlock()
				if err == nil {
					succeeded.Add(1)
				}
			}
		})
	}

	wg.Go(func() {
		for range 3 {
			_, err := coordinator.RunMaintenance(context.Background())
			require.NoError(t, err)
		}
	})

	wg.Wait()

	require.Equal(t, int32(workers*perWorker), succeeded.Load())
	_, runs := coordinator.LastReport()
	require.Equal(t, uint64(3), runs)
}
