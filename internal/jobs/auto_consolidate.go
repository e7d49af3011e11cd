package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"courier-backend/internal/consolidation"

	"go.uber.org/zap"
)

type Consolidator interface {
	AutoConsolidate(ctx context.Context, branchID, userID uint) (*consolidation.AutoResult, error)
}

// AutoConsolidateJob packs loose shipments of the configured branches on a schedule.
type AutoConsolidateJob struct {
	consolidator Consolidator
	schedule     string
	branches     []uint
	userID       uint
	log          *zap.Logger
	busy         atomic.Bool
}

func NewAutoConsolidateJob(c Consolidator, schedule string, branches []uint, userID uint, log *zap.Logger) *AutoConsolidateJob {
	return &AutoConsolidateJob{consolidator: c, schedule: schedule, branches: branches, userID: userID, log: log}
}

func (j *AutoConsolidateJob) Name() string     { return "auto-consolidate" }
func (j *AutoConsolidateJob) Schedule() string { return j.schedule }

func (j *AutoConsolidateJob) Ready(time.Time) bool {
	return !j.busy.Load()
}

func (j *AutoConsolidateJob) Execute(ctx context.Context) {
	if !j.busy.CompareAndSwap(false, true) {
		return
	}
	defer j.busy.Store(false)

	j.log.Info("auto consolidation run started", zap.Int("branches", len(j.branches)))
	for _, branchID := range j.branches {
		if ctx.Err() != nil {
			j.log.Warn("auto consolidation run cancelled")
			return
		}
		res, err := j.consolidator.AutoConsolidate(ctx, branchID, j.userID)
		if err != nil {
			// bir şubedeki hata diğerlerini durdurmaz
			j.log.Error("auto consolidation failed", zap.Uint("branch_id", branchID), zap.Error(err))
			continue
		}
		j.log.Info("branch consolidated",
			zap.Uint("branch_id", branchID),
			zap.Int("consolidated", res.Consolidated),
			zap.Int("created", res.Created),
			zap.Int("failed", len(res.Failures)))
	}
}
