package services

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/obralens/obralens-backend/internal/logger"
	pkgerrors "github.com/obralens/obralens-backend/internal/pkg/errors"
	"github.com/obralens/obralens-backend/internal/repos"
	"github.com/obralens/obralens-backend/internal/requestdata"
	"github.com/obralens/obralens-backend/internal/types"
)

// ComparisonService is the request-facing surface over comparison jobs:
// create, status lookup and re-analysis. Caller identity comes from the
// request context set by the auth middleware; access is gated on the job's
// company.
type ComparisonService interface {
	Create(ctx context.Context, fileAKey, fileBKey string) (*types.ComparisonJob, error)
	GetStatus(ctx context.Context, jobID uuid.UUID) (*types.ComparisonJob, error)
	Reanalyze(ctx context.Context, jobID uuid.UUID) (*types.ComparisonJob, error)
}

type comparisonService struct {
	db       *gorm.DB
	log      *logger.Logger
	jobRepo  repos.ComparisonJobRepo
	bucket   BucketService
	pipeline ComparisonPipeline
	// dispatch runs the pipeline for a job that just became uploaded. It is
	// a field so tests can run it synchronously.
	dispatch func(jobID uuid.UUID)
}

func NewComparisonService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobRepo repos.ComparisonJobRepo,
	bucket BucketService,
	pipeline ComparisonPipeline,
) ComparisonService {
	s := &comparisonService{
		db:       db,
		log:      baseLog.With("service", "ComparisonService"),
		jobRepo:  jobRepo,
		bucket:   bucket,
		pipeline: pipeline,
	}
	s.dispatch = func(jobID uuid.UUID) {
		go func() {
			// Detached from the request: the pipeline outlives the HTTP call.
			if err := s.pipeline.Run(context.Background(), jobID); err != nil {
				s.log.Warn("Pipeline run ended with error", "job_id", jobID, "error", err)
			}
		}()
	}
	return s
}

func callerFromContext(ctx context.Context) (*requestdata.RequestData, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil || rd.CompanyID == uuid.Nil {
		return nil, pkgerrors.ErrForbidden
	}
	return rd, nil
}

func (s *comparisonService) Create(ctx context.Context, fileAKey, fileBKey string) (*types.ComparisonJob, error) {
	rd, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if fileAKey == "" || fileBKey == "" {
		return nil, fmt.Errorf("both plan file keys are required")
	}

	// Both uploads must exist before the job may leave pending-upload.
	for _, key := range []string{fileAKey, fileBKey} {
		if _, err := s.bucket.GetObjectAttrs(ctx, key); err != nil {
			return nil, err
		}
	}

	job, err := s.jobRepo.Create(ctx, nil, &types.ComparisonJob{
		ID:        uuid.New(),
		OwnerID:   rd.UserID,
		CompanyID: rd.CompanyID,
		Status:    types.JobStatusPendingUpload,
		FileAKey:  fileAKey,
		FileBKey:  fileBKey,
	})
	if err != nil {
		return nil, err
	}
	if err := s.jobRepo.Transition(ctx, nil, job.ID, types.JobStatusPendingUpload, types.JobStatusUploaded, nil); err != nil {
		return nil, err
	}
	job.Status = types.JobStatusUploaded

	s.log.Info("Comparison job created", "job_id", job.ID, "company_id", rd.CompanyID)
	s.dispatch(job.ID)
	return job, nil
}

func (s *comparisonService) GetStatus(ctx context.Context, jobID uuid.UUID) (*types.ComparisonJob, error) {
	rd, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	job, err := s.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job.CompanyID != rd.CompanyID {
		return nil, pkgerrors.ErrForbidden
	}
	return job, nil
}

// Reanalyze clones a job's inputs into fresh blob keys under a brand-new
// job id and restarts the pipeline. The old job document is never touched;
// fresh copies keep a later cleanup of either job from mutating the other.
func (s *comparisonService) Reanalyze(ctx context.Context, jobID uuid.UUID) (*types.ComparisonJob, error) {
	rd, err := callerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	old, err := s.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if old.CompanyID != rd.CompanyID {
		return nil, pkgerrors.ErrForbidden
	}

	newID := uuid.New()
	newAKey := planKey(newID, "plan-a", old.FileAKey)
	newBKey := planKey(newID, "plan-b", old.FileBKey)
	if err := s.bucket.CopyObject(ctx, old.FileAKey, newAKey); err != nil {
		return nil, err
	}
	if err := s.bucket.CopyObject(ctx, old.FileBKey, newBKey); err != nil {
		return nil, err
	}

	job, err := s.jobRepo.Create(ctx, nil, &types.ComparisonJob{
		ID:        newID,
		OwnerID:   rd.UserID,
		CompanyID: rd.CompanyID,
		Status:    types.JobStatusUploaded,
		FileAKey:  newAKey,
		FileBKey:  newBKey,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Comparison job re-analysis started", "old_job_id", old.ID, "job_id", job.ID)
	s.dispatch(job.ID)
	return job, nil
}

func planKey(jobID uuid.UUID, slot, sourceKey string) string {
	ext := path.Ext(sourceKey)
	return fmt.Sprintf("comparisons/%s/%s%s", jobID, slot, ext)
}
