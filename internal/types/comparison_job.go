package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusPendingUpload       JobStatus = "pending-upload"
	JobStatusUploaded            JobStatus = "uploaded"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusAnalyzingDiff       JobStatus = "analyzing-diff"
	JobStatusAnalyzingCubicacion JobStatus = "analyzing-cubicacion"
	JobStatusGeneratingImpactos  JobStatus = "generating-impactos"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusError               JobStatus = "error"
)

// jobTransitions is the forward-only edge set. completed and error have no
// outgoing edges; every non-terminal status may fall to error.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPendingUpload:       {JobStatusUploaded, JobStatusError},
	JobStatusUploaded:            {JobStatusProcessing, JobStatusError},
	JobStatusProcessing:          {JobStatusAnalyzingDiff, JobStatusError},
	JobStatusAnalyzingDiff:       {JobStatusAnalyzingCubicacion, JobStatusError},
	JobStatusAnalyzingCubicacion: {JobStatusGeneratingImpactos, JobStatusError},
	JobStatusGeneratingImpactos:  {JobStatusCompleted, JobStatusError},
	JobStatusCompleted:           {},
	JobStatusError:               {},
}

func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ComparisonJob is one attempt to compare two uploaded construction plan
// files end-to-end. Mutated exclusively through ComparisonJobRepo.
type ComparisonJob struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	CompanyID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"company_id"`
	Status           JobStatus      `gorm:"column:status;not null;index" json:"status"`
	FileAKey         string         `gorm:"column:file_a_key;not null" json:"file_a_key"`
	FileBKey         string         `gorm:"column:file_b_key;not null" json:"file_b_key"`
	DiffResult       datatypes.JSON `gorm:"type:jsonb;column:diff_result" json:"diff_result,omitempty"`
	CubicacionResult datatypes.JSON `gorm:"type:jsonb;column:cubicacion_result" json:"cubicacion_result,omitempty"`
	ImpactosResult   datatypes.JSON `gorm:"type:jsonb;column:impactos_result" json:"impactos_result,omitempty"`
	ErrorMessage     string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ComparisonJob) TableName() string { return "comparison_job" }
