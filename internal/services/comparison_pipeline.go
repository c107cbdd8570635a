package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/obralens/obralens-backend/internal/logger"
	pkgerrors "github.com/obralens/obralens-backend/internal/pkg/errors"
	"github.com/obralens/obralens-backend/internal/repos"
	"github.com/obralens/obralens-backend/internal/types"
)

// ComparisonPipeline drives one job from uploaded to completed or error,
// calling the AI client three times with accumulating context. Each stage's
// sub-result is durably persisted (with a compare-and-swap status advance)
// before the next stage's call is issued, so status reads always reflect
// exactly how far the job got.
type ComparisonPipeline interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

type comparisonPipeline struct {
	db      *gorm.DB
	log     *logger.Logger
	jobRepo repos.ComparisonJobRepo
	bucket  BucketService
	ai      AIClient
	notify  JobNotifier
}

func NewComparisonPipeline(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobRepo repos.ComparisonJobRepo,
	bucket BucketService,
	ai AIClient,
	notify JobNotifier,
) ComparisonPipeline {
	return &comparisonPipeline{
		db:      db,
		log:     baseLog.With("service", "ComparisonPipeline"),
		jobRepo: jobRepo,
		bucket:  bucket,
		ai:      ai,
		notify:  notify,
	}
}

// stageInput accumulates what each stage may consume: the two plan images
// plus every prior stage's typed result.
type stageInput struct {
	job        *types.ComparisonJob
	images     []ImageInput
	diff       *types.DiffResult
	cubicacion *types.CubicacionResult
}

// pipelineStage is one ordered step: run produces the stage payload from the
// accumulated input, and the payload is persisted into column together with
// the from->to status advance. Swapping the AI backend or adding a per-stage
// retry policy only touches run, never the orchestration loop.
type pipelineStage struct {
	name   string
	from   types.JobStatus
	to     types.JobStatus
	column string
	run    func(ctx context.Context, in *stageInput) (any, error)
}

func (p *comparisonPipeline) stages() []pipelineStage {
	return []pipelineStage{
		{
			name:   "diff",
			from:   types.JobStatusProcessing,
			to:     types.JobStatusAnalyzingDiff,
			column: repos.ResultColumnDiff,
			run: func(ctx context.Context, in *stageInput) (any, error) {
				obj, err := p.ai.GenerateJSONWithImages(ctx, diffSystemPrompt, diffUserPrompt(), in.images, "plan_diff", diffSchema)
				if err != nil {
					return nil, err
				}
				var out types.DiffResult
				if err := decodeStagePayload(obj, &out); err != nil {
					return nil, err
				}
				in.diff = &out
				return &out, nil
			},
		},
		{
			name:   "cubicacion",
			from:   types.JobStatusAnalyzingDiff,
			to:     types.JobStatusAnalyzingCubicacion,
			column: repos.ResultColumnCubicacion,
			run: func(ctx context.Context, in *stageInput) (any, error) {
				obj, err := p.ai.GenerateJSONWithImages(ctx, cubicacionSystemPrompt, cubicacionUserPrompt(in.diff.Summary), in.images, "plan_cubicacion", cubicacionSchema)
				if err != nil {
					return nil, err
				}
				var out types.CubicacionResult
				if err := decodeStagePayload(obj, &out); err != nil {
					return nil, err
				}
				in.cubicacion = &out
				return &out, nil
			},
		},
		{
			name:   "impactos",
			from:   types.JobStatusAnalyzingCubicacion,
			to:     types.JobStatusGeneratingImpactos,
			column: repos.ResultColumnImpactos,
			run: func(ctx context.Context, in *stageInput) (any, error) {
				obj, err := p.ai.GenerateJSONWithImages(ctx, impactosSystemPrompt, impactosUserPrompt(in.diff.Summary, in.cubicacion.Summary), in.images, "plan_impactos", impactosSchema)
				if err != nil {
					return nil, err
				}
				var out types.ImpactosResult
				if err := decodeStagePayload(obj, &out); err != nil {
					return nil, err
				}
				if err := out.Validate(); err != nil {
					return nil, &pkgerrors.AIServiceError{Message: err.Error()}
				}
				return &out, nil
			},
		},
	}
}

func (p *comparisonPipeline) Run(ctx context.Context, jobID uuid.UUID) error {
	runLog := p.log.With("job_id", jobID)

	job, err := p.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	// Anything other than uploaded means the job is already in progress or
	// terminal; a second invocation must not touch it.
	if job.Status != types.JobStatusUploaded {
		return fmt.Errorf("%w: job is %s, expected %s", pkgerrors.ErrInvalidState, job.Status, types.JobStatusUploaded)
	}

	fail := func(stage string, cause error) {
		runLog.Error("Comparison stage failed", "stage", stage, "error", cause)
		if fErr := p.jobRepo.Fail(ctx, nil, jobID, cause.Error()); fErr != nil {
			runLog.Error("Failed to mark job as error", "error", fErr)
			return
		}
		p.publish(ctx, job, types.JobStatusError, cause.Error())
	}

	// advance persists one transition; on ErrStaleTransition a concurrent
	// run owns the job and this one aborts without marking error.
	advance := func(from, to types.JobStatus, partial *repos.PartialResult) error {
		if err := p.jobRepo.Transition(ctx, nil, jobID, from, to, partial); err != nil {
			if errors.Is(err, pkgerrors.ErrStaleTransition) || errors.Is(err, pkgerrors.ErrInvalidState) {
				runLog.Warn("Lost job to a concurrent run, aborting", "from", from, "to", to)
			}
			return err
		}
		p.publish(ctx, job, to, "")
		return nil
	}

	if err := advance(types.JobStatusUploaded, types.JobStatusProcessing, nil); err != nil {
		return err
	}

	in := &stageInput{job: job}
	images, err := p.downloadInputs(ctx, job)
	if err != nil {
		fail("download", err)
		return err
	}
	in.images = images

	for _, st := range p.stages() {
		payload, err := st.run(ctx, in)
		if err != nil {
			fail(st.name, err)
			return err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			fail(st.name, err)
			return err
		}
		if err := advance(st.from, st.to, &repos.PartialResult{Column: st.column, Payload: datatypes.JSON(raw)}); err != nil {
			return err
		}
		runLog.Info("Comparison stage completed", "stage", st.name)
	}

	if err := advance(types.JobStatusGeneratingImpactos, types.JobStatusCompleted, nil); err != nil {
		return err
	}
	runLog.Info("Comparison completed")
	return nil
}

// downloadInputs fetches both plan files as in-memory data URLs. The two
// downloads are independent and run in parallel; only the AI stages are
// order-dependent.
func (p *comparisonPipeline) downloadInputs(ctx context.Context, job *types.ComparisonJob) ([]ImageInput, error) {
	keys := []string{job.FileAKey, job.FileBKey}
	images := make([]ImageInput, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key // pin per-iteration values; go directive is below 1.22
		g.Go(func() error {
			r, err := p.bucket.DownloadFile(gctx, key)
			if err != nil {
				return err
			}
			defer r.Close()
			raw, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			if len(raw) == 0 {
				return fmt.Errorf("%w: %s is empty", pkgerrors.ErrMissingAsset, key)
			}
			ct := ContentTypeForKey(key)
			if ct == "" {
				ct = "image/png"
			}
			images[i] = ImageInput{
				ImageURL: fmt.Sprintf("data:%s;base64,%s", ct, base64.StdEncoding.EncodeToString(raw)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func (p *comparisonPipeline) publish(ctx context.Context, job *types.ComparisonJob, status types.JobStatus, errMsg string) {
	if p.notify == nil {
		return
	}
	snapshot := *job
	snapshot.Status = status
	snapshot.ErrorMessage = errMsg
	p.notify.PublishTransition(ctx, &snapshot)
}

func decodeStagePayload(obj map[string]any, out any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return &pkgerrors.AIServiceError{Message: fmt.Sprintf("re-encode stage payload: %v", err)}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &pkgerrors.AIServiceError{Message: fmt.Sprintf("stage payload failed schema decode: %v", err)}
	}
	return nil
}
