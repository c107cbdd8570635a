package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/obralens/obralens-backend/internal/logger"
	pkgerrors "github.com/obralens/obralens-backend/internal/pkg/errors"
	"github.com/obralens/obralens-backend/internal/types"
)

// PartialResult is the sub-result persisted together with a transition.
// Each stage owns exactly one column, so writes never clobber earlier
// sub-results.
type PartialResult struct {
	Column  string
	Payload datatypes.JSON
}

const (
	ResultColumnDiff       = "diff_result"
	ResultColumnCubicacion = "cubicacion_result"
	ResultColumnImpactos   = "impactos_result"
)

type ComparisonJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.ComparisonJob) (*types.ComparisonJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ComparisonJob, error)
	// Transition advances the job from fromStatus to toStatus, optionally
	// persisting one sub-result in the same write. The status check and the
	// update are a single conditional UPDATE: if the stored status no longer
	// equals fromStatus the write is rejected with ErrStaleTransition and
	// the document is left unchanged.
	Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatus, toStatus types.JobStatus, partial *PartialResult) error
	// Fail moves any non-terminal job to error with the given message.
	// Calling it on a job already in error is a no-op; a completed job is
	// never demoted.
	Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, message string) error
}

type comparisonJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewComparisonJobRepo(db *gorm.DB, baseLog *logger.Logger) ComparisonJobRepo {
	return &comparisonJobRepo{
		db:  db,
		log: baseLog.With("repo", "ComparisonJobRepo"),
	}
}

func (r *comparisonJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.ComparisonJob) (*types.ComparisonJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, errors.New("job required")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusPendingUpload
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *comparisonJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ComparisonJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	var job types.ComparisonJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, pkgerrors.ErrNotFound
	}
	return &job, nil
}

func (r *comparisonJobRepo) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatus, toStatus types.JobStatus, partial *PartialResult) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return pkgerrors.ErrNotFound
	}
	if !fromStatus.CanTransitionTo(toStatus) {
		return pkgerrors.ErrInvalidState
	}

	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": time.Now(),
	}
	if partial != nil {
		updates[partial.Column] = partial.Payload
	}

	res := transaction.WithContext(ctx).
		Model(&types.ComparisonJob{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish an absent job from a lost compare-and-swap.
		if _, err := r.GetByID(ctx, transaction, id); errors.Is(err, pkgerrors.ErrNotFound) {
			return pkgerrors.ErrNotFound
		}
		r.log.Debug("Transition rejected by status guard",
			"job_id", id,
			"from", fromStatus,
			"to", toStatus,
		)
		return pkgerrors.ErrStaleTransition
	}
	return nil
}

func (r *comparisonJobRepo) Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, message string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return pkgerrors.ErrNotFound
	}
	if message == "" {
		message = "unknown error"
	}
	// Terminal states are never rewritten; repeating Fail on an errored job
	// keeps the first message.
	return transaction.WithContext(ctx).
		Model(&types.ComparisonJob{}).
		Where("id = ? AND status NOT IN ?", id, []types.JobStatus{types.JobStatusCompleted, types.JobStatusError}).
		Updates(map[string]interface{}{
			"status":        types.JobStatusError,
			"error_message": message,
			"updated_at":    time.Now(),
		}).Error
}
