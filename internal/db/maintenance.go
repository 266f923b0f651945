package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/EntityIndexor/internal/common"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	"github.com/goran-ethernal/EntityIndexor/pkg/config"
	"go.uber.org/multierr"
)

// Maintenance guards the SQLite key/value database. Store transactions share
// the operation lock; checkpoints and VACUUM take it exclusively, so they
// never run in the middle of a flush or a rollback.
type Maintenance interface {
	Start(ctx context.Context) error
	Stop() error
	// AcquireOperationLock blocks while maintenance runs and returns the
	// matching unlock function.
	AcquireOperationLock() func()
	RunMaintenance(ctx context.Context) (Report, error)
	// LastReport returns the latest report and the number of runs so far.
	LastReport() (Report, uint64)
}

// Checkpoint is the result row of PRAGMA wal_checkpoint.
type Checkpoint struct {
	Mode         string
	Busy         int
	LogFrames    int
	Checkpointed int
}

// Report describes one maintenance run.
type Report struct {
	At       time.Time
	Duration time.Duration
	// Checkpoint is nil when the database is not in WAL mode.
	Checkpoint *Checkpoint
	SizeBefore int64
	SizeAfter  int64
	Err        error
}

// Reclaimed returns the bytes the run freed on disk.
func (r Report) Reclaimed() uint64 {
	if r.SizeBefore <= r.SizeAfter {
		return 0
	}
	return uint64(r.SizeBefore - r.SizeAfter)
}

// NewMaintenanceCoordinator returns the maintenance of the database at dbPath.
// Without a configuration nothing runs and the operation lock is free.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return disabledMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log)
}

type disabledMaintenance struct{}

func (disabledMaintenance) Start(context.Context) error { return nil }
func (disabledMaintenance) Stop() error { return nil }
func (disabledMaintenance) AcquireOperationLock() func() { return func() {} }
func (disabledMaintenance) RunMaintenance(context.Context) (Report, error) { return Report{}, nil }
func (disabledMaintenance) LastReport() (Report, uint64) { return Report{}, 0 }

// MaintenanceCoordinator runs WAL checkpoints and VACUUM on a schedule.
type MaintenanceCoordinator struct {
	db   *sql.DB
	cfg  config.MaintenanceConfig
	path string
	log  *logger.Logger

	// readers are store operations, the writer is a maintenance run
	opLock sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	last Report
	runs uint64
}

func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:   db,
		cfg:  cfg,
		path: dbPath,
		log:  log.WithComponent(common.ComponentMaintenance),
	}
}

// Start runs the startup pass if configured and schedules the periodic one.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Debug("background maintenance disabled")
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	if m.cfg.VacuumOnStartup {
		m.runLogged(ctx, "startup")
	}

	go m.loop(ctx, m.cfg.CheckInterval.Duration)

	m.log.Infow("background maintenance started",
		"interval", m.cfg.CheckInterval.Duration, "checkpoint_mode", m.cfg.WALCheckpointMode)

	return nil
}

// Stop cancels the schedule and waits for a running pass to finish.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	<-m.done
	m.cancel = nil
	m.log.Debug("background maintenance stopped")

	return nil
}

func (m *MaintenanceCoordinator) loop(ctx context.Context, interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runLogged(ctx, "periodic")
		}
	}
}

func (m *MaintenanceCoordinator) runLogged(ctx context.Context, trigger string) {
	report, err := m.RunMaintenance(ctx)
	if err != nil {
		m.log.Warnw("maintenance failed", "trigger", trigger, "error", err)
		return
	}
	m.log.Infow("maintenance done", "trigger", trigger,
		"duration", report.Duration, "reclaimed_mb", common.BytesToMB(report.Reclaimed()))
}

// RunMaintenance waits for in-flight operations, then checkpoints the WAL and
// vacuums the database while holding off new ones.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) (Report, error) {
	maintenanceRunsInc()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{At: time.Now().UTC()}

	size, err := DBTotalSize(m.path)
	if err != nil {
		m.log.Debugf("failed to size database before maintenance: %v", err)
	}
	report.SizeBefore = size

	report.Checkpoint, err = m.walCheckpoint()
	if err != nil {
		report.Err = fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	if err := Vacuum(m.db); err != nil {
		report.Err = multierr.Append(report.Err, fmt.Errorf("VACUUM failed: %w", err))
	} else {
		vacuumRunsInc()
	}

	if report.SizeAfter, err = DBTotalSize(m.path); err != nil {
		m.log.Debugf("failed to size database after maintenance: %v", err)
	}
	report.Duration = time.Since(report.At)

	m.record(report)

	if report.Err != nil {
		maintenanceErrorInc()
		return report, report.Err
	}

	maintenanceSuccessInc()
	maintenanceSpaceReclaimedLog(report.Reclaimed())
	dbSizeLog(report.SizeAfter)

	return report, nil
}

func (m *MaintenanceCoordinator) record(report Report) {
	maintenanceDurationLog(report.Duration)
	maintenanceLastRunLog()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = report
	m.runs++
}

func (m *MaintenanceCoordinator) walCheckpoint() (*Checkpoint, error) {
	var journal string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
		return nil, fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(journal, "wal") {
		return nil, nil
	}

	cp := &Checkpoint{Mode: m.cfg.WALCheckpointMode}
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", cp.Mode)
	if err := m.db.QueryRow(query).Scan(&cp.Busy, &cp.LogFrames, &cp.Checkpointed); err != nil {
		return nil, err
	}

	walCheckpointInc(strings.ToLower(cp.Mode))
	if cp.Busy > 0 {
		m.log.Warnw("WAL checkpoint left busy pages", "busy", cp.Busy, "log_frames", cp.LogFrames)
	}

	return cp, nil
}

// AcquireOperationLock implements Maintenance.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// LastReport implements Maintenance.
func (m *MaintenanceCoordinator) LastReport() (Report, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.last, m.runs
}
