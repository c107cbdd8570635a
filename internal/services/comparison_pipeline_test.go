package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/obralens/obralens-backend/internal/logger"
	pkgerrors "github.com/obralens/obralens-backend/internal/pkg/errors"
	"github.com/obralens/obralens-backend/internal/repos"
	"github.com/obralens/obralens-backend/internal/types"
)

func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&types.ComparisonJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newServiceTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// fakeBucket is an in-memory BucketService.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	copies  [][2]string
}

func newFakeBucket(objects map[string][]byte) *fakeBucket {
	if objects == nil {
		objects = map[string][]byte{}
	}
	return &fakeBucket{objects: objects}
}

func (b *fakeBucket) UploadFile(_ context.Context, key string, file io.Reader) error {
	raw, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = raw
	return nil
}

func (b *fakeBucket) DownloadFile(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrMissingAsset, key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *fakeBucket) CopyObject(_ context.Context, srcKey, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[srcKey]
	if !ok {
		return fmt.Errorf("%w: %s", pkgerrors.ErrMissingAsset, srcKey)
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	b.objects[dstKey] = cp
	b.copies = append(b.copies, [2]string{srcKey, dstKey})
	return nil
}

func (b *fakeBucket) GetObjectAttrs(_ context.Context, key string) (*ObjectAttrs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrMissingAsset, key)
	}
	return &ObjectAttrs{Size: int64(len(raw)), ContentType: ContentTypeForKey(key)}, nil
}

type aiCall struct {
	schemaName string
	user       string
	images     int
}

// fakeAI replays one scripted outcome per call, in order.
type fakeAI struct {
	mu      sync.Mutex
	calls   []aiCall
	results []map[string]any
	errs    []error
}

func (a *fakeAI) GenerateJSONWithImages(_ context.Context, _ string, user string, images []ImageInput, schemaName string, _ map[string]any) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := len(a.calls)
	a.calls = append(a.calls, aiCall{schemaName: schemaName, user: user, images: len(images)})
	if idx >= len(a.results) {
		return nil, fmt.Errorf("unexpected ai call %d (%s)", idx, schemaName)
	}
	if a.errs != nil && a.errs[idx] != nil {
		return nil, a.errs[idx]
	}
	return a.results[idx], nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []JobEvent
}

func (n *fakeNotifier) PublishTransition(_ context.Context, job *types.ComparisonJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, JobEvent{
		JobID:        job.ID.String(),
		CompanyID:    job.CompanyID.String(),
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
	})
}

func (n *fakeNotifier) Close() error { return nil }

func (n *fakeNotifier) statuses() []types.JobStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.JobStatus, len(n.events))
	for i, e := range n.events {
		out[i] = e.Status
	}
	return out
}

func diffPayload() map[string]any {
	return map[string]any{
		"summary": "wall moved in kitchen",
		"differences": []any{
			map[string]any{
				"zone":        "kitchen",
				"category":    "architecture",
				"description": "north wall shifted 40cm",
				"severity":    "medium",
			},
		},
	}
}

func cubicacionPayload() map[string]any {
	return map[string]any{
		"summary": "12 m2 of extra drywall",
		"items": []any{
			map[string]any{
				"partida":         "tabique drywall",
				"unit":            "m2",
				"quantity_before": 80.0,
				"quantity_after":  92.0,
				"delta":           12.0,
			},
		},
	}
}

func impactosPayload(severity string) map[string]any {
	return map[string]any{
		"summary": "electrical and hvac affected",
		"impacts": []any{
			map[string]any{
				"specialty":       "electrical",
				"direct_impact":   "two outlets relocated",
				"indirect_impact": "circuit 4 rebalanced",
				"severity":        severity,
				"risk":            "rework if panel schedule not updated",
				"consequences":    []any{"panel schedule update"},
				"recommendations": []any{"re-issue electrical sheet E-102"},
				"children": []any{
					map[string]any{
						"specialty":       "hvac",
						"direct_impact":   "duct reroute",
						"indirect_impact": "",
						"severity":        "low",
						"risk":            "",
						"consequences":    []any{},
						"recommendations": []any{},
					},
				},
			},
		},
	}
}

type pipelineFixture struct {
	repo    repos.ComparisonJobRepo
	bucket  *fakeBucket
	ai      *fakeAI
	notify  *fakeNotifier
	runner  ComparisonPipeline
	jobID   uuid.UUID
	company uuid.UUID
}

func newPipelineFixture(t *testing.T, ai *fakeAI, objects map[string][]byte) *pipelineFixture {
	t.Helper()
	db := newServiceTestDB(t)
	log := newServiceTestLogger(t)
	repo := repos.NewComparisonJobRepo(db, log)
	bucket := newFakeBucket(objects)
	notify := &fakeNotifier{}

	companyID := uuid.New()
	job, err := repo.Create(context.Background(), nil, &types.ComparisonJob{
		OwnerID:   uuid.New(),
		CompanyID: companyID,
		Status:    types.JobStatusUploaded,
		FileAKey:  "comparisons/j/plan-a.png",
		FileBKey:  "comparisons/j/plan-b.png",
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}

	return &pipelineFixture{
		repo:    repo,
		bucket:  bucket,
		ai:      ai,
		notify:  notify,
		runner:  NewComparisonPipeline(db, log, repo, bucket, ai, notify),
		jobID:   job.ID,
		company: companyID,
	}
}

func defaultObjects() map[string][]byte {
	return map[string][]byte{
		"comparisons/j/plan-a.png": []byte("png-bytes-a"),
		"comparisons/j/plan-b.png": []byte("png-bytes-b"),
	}
}

func TestPipelineRunCompletesWithAllResults(t *testing.T) {
	ai := &fakeAI{results: []map[string]any{
		diffPayload(),
		cubicacionPayload(),
		impactosPayload("high"),
	}}
	fx := newPipelineFixture(t, ai, defaultObjects())

	if err := fx.runner.Run(context.Background(), fx.jobID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	job, err := fx.repo.GetByID(context.Background(), nil, fx.jobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("status: want=%s got=%s", types.JobStatusCompleted, job.Status)
	}
	if job.ErrorMessage != "" {
		t.Fatalf("unexpected error message: %q", job.ErrorMessage)
	}

	var diff types.DiffResult
	if err := json.Unmarshal(job.DiffResult, &diff); err != nil {
		t.Fatalf("decode diff: %v", err)
	}
	if diff.Summary != "wall moved in kitchen" || len(diff.Differences) != 1 {
		t.Fatalf("diff result: %+v", diff)
	}
	var cubicacion types.CubicacionResult
	if err := json.Unmarshal(job.CubicacionResult, &cubicacion); err != nil {
		t.Fatalf("decode cubicacion: %v", err)
	}
	if len(cubicacion.Items) != 1 || cubicacion.Items[0].Delta != 12.0 {
		t.Fatalf("cubicacion result: %+v", cubicacion)
	}
	var impactos types.ImpactosResult
	if err := json.Unmarshal(job.ImpactosResult, &impactos); err != nil {
		t.Fatalf("decode impactos: %v", err)
	}
	if len(impactos.Impacts) != 1 || len(impactos.Impacts[0].Children) != 1 {
		t.Fatalf("impactos result: %+v", impactos)
	}

	if len(ai.calls) != 3 {
		t.Fatalf("ai calls: want=3 got=%d", len(ai.calls))
	}
	for i, call := range ai.calls {
		if call.images != 2 {
			t.Fatalf("ai call %d images: want=2 got=%d", i, call.images)
		}
	}
	// Later stages see earlier summaries.
	if !strings.Contains(ai.calls[1].user, "wall moved in kitchen") {
		t.Fatalf("second call missing diff summary: %q", ai.calls[1].user)
	}
	if !strings.Contains(ai.calls[2].user, "wall moved in kitchen") || !strings.Contains(ai.calls[2].user, "12 m2 of extra drywall") {
		t.Fatalf("third call missing prior summaries: %q", ai.calls[2].user)
	}

	want := []types.JobStatus{
		types.JobStatusProcessing,
		types.JobStatusAnalyzingDiff,
		types.JobStatusAnalyzingCubicacion,
		types.JobStatusGeneratingImpactos,
		types.JobStatusCompleted,
	}
	got := fx.notify.statuses()
	if len(got) != len(want) {
		t.Fatalf("events: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: want=%s got=%s", i, want[i], got[i])
		}
	}
}

func TestPipelineRunSecondStageFailureKeepsDiff(t *testing.T) {
	stageErr := &pkgerrors.AIServiceError{StatusCode: 502, Message: "upstream unavailable"}
	ai := &fakeAI{
		results: []map[string]any{diffPayload(), nil, nil},
		errs:    []error{nil, stageErr, nil},
	}
	fx := newPipelineFixture(t, ai, defaultObjects())

	err := fx.runner.Run(context.Background(), fx.jobID)
	var aiErr *pkgerrors.AIServiceError
	if !errors.As(err, &aiErr) {
		t.Fatalf("Run: want AIServiceError got %v", err)
	}

	job, _ := fx.repo.GetByID(context.Background(), nil, fx.jobID)
	if job.Status != types.JobStatusError {
		t.Fatalf("status: want=%s got=%s", types.JobStatusError, job.Status)
	}
	if job.ErrorMessage == "" {
		t.Fatalf("error message not recorded")
	}
	if len(job.DiffResult) == 0 {
		t.Fatalf("diff result lost on later stage failure")
	}
	if len(job.CubicacionResult) != 0 || len(job.ImpactosResult) != 0 {
		t.Fatalf("failed stages wrote results: cubicacion=%s impactos=%s", job.CubicacionResult, job.ImpactosResult)
	}
	if len(ai.calls) != 2 {
		t.Fatalf("pipeline continued past failed stage: %d calls", len(ai.calls))
	}

	last := fx.notify.events[len(fx.notify.events)-1]
	if last.Status != types.JobStatusError || last.ErrorMessage == "" {
		t.Fatalf("final event: %+v", last)
	}
}

func TestPipelineRunRejectsNonUploadedJob(t *testing.T) {
	ai := &fakeAI{}
	fx := newPipelineFixture(t, ai, defaultObjects())

	if err := fx.repo.Transition(context.Background(), nil, fx.jobID, types.JobStatusUploaded, types.JobStatusProcessing, nil); err != nil {
		t.Fatalf("setup Transition: %v", err)
	}

	err := fx.runner.Run(context.Background(), fx.jobID)
	if !errors.Is(err, pkgerrors.ErrInvalidState) {
		t.Fatalf("Run: want ErrInvalidState got %v", err)
	}
	job, _ := fx.repo.GetByID(context.Background(), nil, fx.jobID)
	if job.Status != types.JobStatusProcessing {
		t.Fatalf("job touched by rejected run: %s", job.Status)
	}
	if len(ai.calls) != 0 {
		t.Fatalf("ai called for rejected run")
	}
}

func TestPipelineRunMissingInputFailsJob(t *testing.T) {
	ai := &fakeAI{}
	objects := defaultObjects()
	delete(objects, "comparisons/j/plan-b.png")
	fx := newPipelineFixture(t, ai, objects)

	err := fx.runner.Run(context.Background(), fx.jobID)
	if !errors.Is(err, pkgerrors.ErrMissingAsset) {
		t.Fatalf("Run: want ErrMissingAsset got %v", err)
	}
	job, _ := fx.repo.GetByID(context.Background(), nil, fx.jobID)
	if job.Status != types.JobStatusError {
		t.Fatalf("status: want=%s got=%s", types.JobStatusError, job.Status)
	}
	if len(ai.calls) != 0 {
		t.Fatalf("ai called despite missing input")
	}
}

func TestPipelineRunRejectsInvalidImpactSeverity(t *testing.T) {
	ai := &fakeAI{results: []map[string]any{
		diffPayload(),
		cubicacionPayload(),
		impactosPayload("catastrophic"),
	}}
	fx := newPipelineFixture(t, ai, defaultObjects())

	err := fx.runner.Run(context.Background(), fx.jobID)
	var aiErr *pkgerrors.AIServiceError
	if !errors.As(err, &aiErr) {
		t.Fatalf("Run: want AIServiceError got %v", err)
	}

	job, _ := fx.repo.GetByID(context.Background(), nil, fx.jobID)
	if job.Status != types.JobStatusError {
		t.Fatalf("status: want=%s got=%s", types.JobStatusError, job.Status)
	}
	if len(job.DiffResult) == 0 || len(job.CubicacionResult) == 0 {
		t.Fatalf("earlier stage results lost")
	}
	if len(job.ImpactosResult) != 0 {
		t.Fatalf("invalid impactos persisted: %s", job.ImpactosResult)
	}
}

func TestPipelineRunUnknownJob(t *testing.T) {
	ai := &fakeAI{}
	fx := newPipelineFixture(t, ai, defaultObjects())

	err := fx.runner.Run(context.Background(), uuid.New())
	if !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Run: want ErrNotFound got %v", err)
	}
}
