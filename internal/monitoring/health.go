package monitoring

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/scheduler"
)

// QueueDepther reports the depth of the push delivery queue.
type QueueDepther interface {
	Depth() int
}

// Snapshot is one point-in-time health report.
type Snapshot struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	Database       string `json:"database"`
	PushEnabled    bool   `json:"push_enabled"`
	PushQueueDepth int    `json:"push_queue_depth"`

	Jobs []scheduler.JobState `json:"jobs"`
}

// Collector aggregates component health for the operational endpoint.
type Collector struct {
	db          *gorm.DB
	worker      QueueDepther
	sched       *scheduler.Scheduler
	pushEnabled bool
}

// NewCollector constructs a Collector. The scheduler may be nil when jobs
// are disabled.
func NewCollector(db *gorm.DB, worker QueueDepther, sched *scheduler.Scheduler, pushEnabled bool) (*Collector, error) {
	if db == nil {
		return nil, errors.New("health collector: db is required")
	}
	if worker == nil {
		return nil, errors.New("health collector: worker is required")
	}
	return &Collector{
		db:          db,
		worker:      worker,
		sched:       sched,
		pushEnabled: pushEnabled,
	}, nil
}

// Collect probes each component. The overall status is degraded rather
// than down when only optional pieces are unavailable.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:         "ok",
		Timestamp:      time.Now(),
		Database:       "ok",
		PushEnabled:    c.pushEnabled,
		PushQueueDepth: c.worker.Depth(),
	}

	if err := c.pingDatabase(ctx); err != nil {
		snap.Database = "unreachable"
		snap.Status = "down"
	}

	if !c.pushEnabled && snap.Status == "ok" {
		snap.Status = "degraded"
	}

	if c.sched != nil {
		snap.Jobs = c.sched.JobStates()
		for _, job := range snap.Jobs {
			if job.LastError != "" && snap.Status == "ok" {
				snap.Status = "degraded"
				break
			}
		}
	}

	return snap
}

func (c *Collector) pingDatabase(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
