package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/trustfetch/app/sources"
)

// DefaultCuratedLimit bounds how many stored items take part in each merge.
const DefaultCuratedLimit = 1000

type IngestTask struct {
	Task
	catalog      *sources.Catalog
	runner       Runner
	store        ItemStore
	curatedLimit int
	done         func()
}

func NewIngestTask(catalog *sources.Catalog, runner Runner, store ItemStore) *IngestTask {
	return &IngestTask{
		Task:         NewTask(TaskTypeIngest),
		catalog:      catalog,
		runner:       runner,
		store:        store,
		curatedLimit: DefaultCuratedLimit,
	}
}

func (t *IngestTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	curated, err := t.store.GetItems(ctx, t.curatedLimit)
	if err != nil {
		return fmt.Errorf("failed to load curated items: %w", err)
	}

	result, err := t.runner.Run(ctx, t.catalog.All(), curated)
	if err != nil {
		return fmt.Errorf("failed to run ingestion: %w", err)
	}

	if err := t.store.SaveRun(ctx, result.Items, result.Stats); err != nil {
		return fmt.Errorf("failed to save ingestion run: %w", err)
	}

	slog.Info("Task completed",
		"type", string(t.Type),
		"id", t.ID,
		"total", result.Stats.Total,
		"rss", result.Stats.RSS,
		"community", result.Stats.Community,
		"duration", t.GetDuration())

	return nil
}

// finish runs once the task will not be retried again.
func (t *IngestTask) finish() {
	if t.done != nil {
		t.done()
	}
}
