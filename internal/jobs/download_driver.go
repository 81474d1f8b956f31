package jobs

import (
	"context"
	"fmt"

	"github.com/crateseek/crateseek/internal/constants"
	"github.com/crateseek/crateseek/internal/downloader"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/scheduler"
)

// DownloadDriver is the acquisition tick: it turns unprocessed wishlist
// entries into pending tasks, revives retry-eligible failures, advances
// every live task one state-machine step, and runs the organize hook
// over finished ones.
type DownloadDriver struct {
	engine *downloader.Engine
	log    *logger.Logger
}

func NewDownloadDriver(engine *downloader.Engine, log *logger.Logger) *DownloadDriver {
	return &DownloadDriver{
		engine: engine,
		log:    log.WithJob(constants.JobDownloadDriver),
	}
}

func (j *DownloadDriver) Run(ctx context.Context, run scheduler.Run) error {
	created, err := j.engine.EnsureTasks(ctx)
	if err != nil {
		return fmt.Errorf("ensure tasks: %w", err)
	}
	if run.Aborted() {
		return nil
	}

	revived, err := j.engine.ReviveFailed(ctx)
	if err != nil {
		return fmt.Errorf("revive failed tasks: %w", err)
	}
	if run.Aborted() {
		return nil
	}

	if err := j.engine.Advance(ctx); err != nil {
		return fmt.Errorf("advance tasks: %w", err)
	}
	if run.Aborted() {
		return nil
	}

	organized, err := j.engine.OrganizeCompleted(ctx)
	if err != nil {
		return fmt.Errorf("organize completed tasks: %w", err)
	}

	if created+revived+organized > 0 {
		j.log.Debug("Driver pass finished",
			"created", created, "revived", revived, "organized", organized)
	}
	return nil
}
