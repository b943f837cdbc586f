// Package batch validates many documents with a bounded worker pool.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/sealtrust/engine"
	"github.com/georgepadayatti/sealtrust/hybrid"
)

// Status is the processing state of one document.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
	StatusCancelled  Status = "CANCELLED"
)

// ValidateFunc validates one document.
type ValidateFunc func(ctx context.Context, path string) (*engine.Report, error)

// Task is one document of a batch.
type Task struct {
	ID       string         `json:"id"`
	Path     string         `json:"path"`
	Status   Status         `json:"status"`
	Report   *engine.Report `json:"report,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Compliant reports whether the document passed hybrid validation.
func (t *Task) Compliant() bool {
	return t.Report != nil && t.Report.Hybrid != nil && t.Report.Hybrid.OverallValid
}

// Progress is reported after each document finishes.
type Progress struct {
	BatchID   string
	Completed int
	Total     int
	Task      *Task
}

// Result summarizes a batch. Tasks keep the input order.
type Result struct {
	ID         string        `json:"id"`
	Tasks      []*Task       `json:"tasks"`
	Total      int           `json:"total"`
	Processed  int           `json:"processed"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Cancelled  int           `json:"cancelled"`
	Compliant  int           `json:"compliant"`
	Duration   time.Duration `json:"duration"`
}

// Processor runs a ValidateFunc over many documents.
type Processor struct {
	Workers  int
	Validate ValidateFunc
	Clock    clockwork.Clock
	Progress func(Progress)
	Logger   *zap.Logger
}

// NewProcessor creates a processor validating with e and seal verdicts.
func NewProcessor(e *engine.Engine, seals hybrid.SealVerdicts, workers int, logger *zap.Logger) *Processor {
	return &Processor{
		Workers: workers,
		Validate: func(ctx context.Context, path string) (*engine.Report, error) {
			return e.ValidateFile(ctx, path, seals.Lookup(path))
		},
		Logger: logger,
	}
}

// Run validates paths. Cancelling ctx stops launching documents; the ones
// already running finish and the rest are reported as CANCELLED. Errors of
// individual documents never stop the batch.
func (p *Processor) Run(ctx context.Context, paths []string) *Result {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	res := &Result{ID: uuid.NewString(), Total: len(paths), Tasks: make([]*Task, len(paths))}
	for i, path := range paths {
		res.Tasks[i] = &Task{ID: uuid.NewString(), Path: path, Status: StatusPending}
	}
	logger.Info("Batch started", zap.String("batch_id", res.ID), zap.Int("documents", len(paths)), zap.Int("workers", workers))
	start := clock.Now()

	var (
		mu        sync.Mutex
		completed int
	)
	finish := func(task *Task) {
		mu.Lock()
		completed++
		n := completed
		mu.Unlock()
		if p.Progress != nil {
			p.Progress(Progress{BatchID: res.ID, Completed: n, Total: res.Total, Task: task})
		}
	}

	// in-flight documents run to completion even when ctx is cancelled
	work := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, task := range res.Tasks {
		if ctx.Err() != nil {
			break
		}
		task := task
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p.process(work, clock, logger, task)
			finish(task)
			return nil
		})
	}
	_ = g.Wait()

	for _, task := range res.Tasks {
		switch task.Status {
		case StatusPending:
			task.Status = StatusCancelled
			res.Cancelled++
		case StatusComplete:
			res.Processed++
			res.Successful++
			if task.Compliant() {
				res.Compliant++
			}
		case StatusError:
			res.Processed++
			res.Failed++
		}
	}
	res.Duration = clock.Since(start)

	logger.Info("Batch finished",
		zap.String("batch_id", res.ID),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int("cancelled", res.Cancelled),
		zap.Int("compliant", res.Compliant),
		zap.Duration("duration", res.Duration))
	return res
}

func (p *Processor) process(ctx context.Context, clock clockwork.Clock, logger *zap.Logger, task *Task) {
	task.Status = StatusProcessing
	start := clock.Now()
	report, err := p.validate(ctx, task.Path)
	task.Duration = clock.Since(start)
	if err != nil {
		task.Status = StatusError
		task.Error = err.Error()
		logger.Warn("Document validation failed", zap.String("file", task.Path), zap.Error(err))
		return
	}
	task.Report = report
	task.Status = StatusComplete
}

// validate calls Validate, turning a panic on a malformed document into an
// error for that document alone.
func (p *Processor) validate(ctx context.Context, path string) (report *engine.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			report, err = nil, fmt.Errorf("validation panicked: %v", r)
		}
	}()
	return p.Validate(ctx, path)
}
