package tasks

import (
	"context"

	"github.com/lysyi3m/trustfetch/app/ingest"
	"github.com/lysyi3m/trustfetch/app/item"
	"github.com/lysyi3m/trustfetch/app/sources"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to manage background ingestion.
// Example usage:
//
//	scheduler := NewScheduler(catalog, engine, itemRepo, interval, workers)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueIngest()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueIngest() (string, error)
}

// Runner merges fresh source results into the curated dataset.
type Runner interface {
	Run(ctx context.Context, descriptors []sources.Descriptor, curated []item.NormalizedItem) (ingest.Result, error)
}

// ItemStore provides the curated dataset and persists each run.
type ItemStore interface {
	ingest.Sink
	GetItems(ctx context.Context, limit int) ([]item.NormalizedItem, error)
}
