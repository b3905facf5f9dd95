// Package history records pipeline runs in the database and lists them back.
package history

import (
	"context"
	"embed"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/database"
	"github.com/kbukum/batchpredict/database/migration"
	"github.com/kbukum/batchpredict/database/query"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Run is one recorded pipeline run.
type Run struct {
	RunID      string    `gorm:"column:run_id;primaryKey" json:"run_id"`
	Pipeline   string    `gorm:"column:pipeline" json:"pipeline"`
	Status     string    `gorm:"column:status" json:"status"`
	FailedStep string    `gorm:"column:failed_step" json:"failed_step,omitempty"`
	ErrorCode  string    `gorm:"column:error_code" json:"error_code,omitempty"`
	Error      string    `gorm:"column:error" json:"error,omitempty"`
	StartedAt  time.Time `gorm:"column:started_at" json:"started_at"`
	DurationMS int64     `gorm:"column:duration_ms" json:"duration_ms"`
	Steps      []Step    `gorm:"foreignKey:RunID;references:RunID" json:"steps,omitempty"`
}

// TableName implements gorm's tabler.
func (Run) TableName() string { return "pipeline_runs" }

// Step is the outcome of one step of a recorded run.
type Step struct {
	ID         uint   `gorm:"column:id;primaryKey" json:"-"`
	RunID      string `gorm:"column:run_id" json:"-"`
	Step       string `gorm:"column:step" json:"step"`
	Status     string `gorm:"column:status" json:"status"`
	DurationMS int64  `gorm:"column:duration_ms" json:"duration_ms"`
	Error      string `gorm:"column:error" json:"error,omitempty"`
}

// TableName implements gorm's tabler.
func (Step) TableName() string { return "run_steps" }

// ListConfig is what List accepts for filtering and sorting.
var ListConfig = query.Config{
	SearchFields:      []string{"pipeline", "error"},
	AllowedSortFields: []string{"started_at", "duration_ms", "status"},
	AllowedFilters:    []string{"pipeline", "status", "failed_step", "error_code"},
	DefaultSort:       "started_at DESC",
	FacetFields:       []string{"status"},
}

// Store persists runs.
type Store struct {
	db  *database.DB
	log *logger.Logger
}

// NewStore applies pending migrations and returns a Store on db.
func NewStore(ctx context.Context, db *database.DB, log *logger.Logger) (*Store, error) {
	log = log.WithComponent("history")
	schema, err := migration.New(db.WithContext(ctx), migration.Source{FS: migrations, Dir: "migrations"}, migration.SQLite).Up()
	if err != nil {
		return nil, errors.Internal(err).WithDetail("operation", "migrate")
	}
	log.Debug("history schema ready", logger.Fields("version", schema))
	return &Store{db: db, log: log}, nil
}

// FromResult converts an engine result into a Run. Steps are sorted by name.
func FromResult(res *dag.RunResult) Run {
	run := Run{
		RunID:      res.RunID,
		Pipeline:   res.Pipeline,
		Status:     string(res.Status),
		FailedStep: res.FailedStep,
		StartedAt:  res.StartedAt.UTC(),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
		run.ErrorCode = rootCode(res.Err)
	}
	for name, sr := range res.Steps {
		step := Step{RunID: res.RunID, Step: name, Status: string(sr.Status), DurationMS: sr.Duration.Milliseconds()}
		if sr.Error != nil {
			step.Error = sr.Error.Error()
		}
		run.Steps = append(run.Steps, step)
	}
	sort.Slice(run.Steps, func(i, j int) bool { return run.Steps[i].Step < run.Steps[j].Step })
	return run
}

// rootCode returns the innermost code in the AppError chain other than STEP_FAILED.
func rootCode(err error) string {
	code := ""
	for err != nil {
		appErr, ok := errors.AsAppError(err)
		if !ok {
			break
		}
		if appErr.Code != errors.ErrCodeStepFailed {
			code = string(appErr.Code)
		}
		err = appErr.Cause
	}
	return code
}

// Record stores the outcome of a run.
func (s *Store) Record(ctx context.Context, res *dag.RunResult) error {
	run := FromResult(res)
	err := s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&run).Error
	})
	if err != nil {
		return database.FromDatabase(err, "run")
	}
	s.log.WithContext(ctx).Debug("run recorded", logger.Fields(
		logger.FieldRunID, run.RunID,
		"status", run.Status,
		"steps", len(run.Steps),
	))
	return nil
}

// Get returns a run with its steps.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step") }).
		First(&run, "run_id = ?", runID).Error
	if err != nil {
		return nil, database.FromDatabase(err, "run").WithDetail("run_id", runID)
	}
	return &run, nil
}

// List returns runs matching opts, newest first unless sorted otherwise.
func (s *Store) List(ctx context.Context, opts query.Options) (*query.Result[Run], error) {
	params, err := query.Parse(opts, ListConfig)
	if err != nil {
		return nil, err
	}
	res, err := query.ApplyToGorm[Run](s.db.WithContext(ctx).Model(&Run{}), params, ListConfig)
	if err != nil {
		return nil, database.FromDatabase(err, "run")
	}
	return res, nil
}
