package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/domain"
)

type fakePutter struct {
	input *s3.PutObjectInput
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	return &s3.PutObjectOutput{}, f.err
}

type fakeCounter struct {
	counts map[string]int
	err    error
}

func (f *fakeCounter) CountStatesByLifecycle(context.Context) (map[string]int, error) {
	return f.counts, f.err
}

func archivedSnapshot(t *testing.T, p *fakePutter) runSnapshot {
	t.Helper()
	require.NotNil(t, p.input)
	body, err := io.ReadAll(p.input.Body)
	require.NoError(t, err)
	var snap runSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	return snap
}

func TestArchiveExecutionIncludesStateCounts(t *testing.T) {
	putter := &fakePutter{}
	archive := &S3Archive{client: putter, bucket: "run-history", prefix: "executions"}
	archive.SetStateCounter(&fakeCounter{counts: map[string]int{
		"ACTIVE":   120,
		"AT_RISK":  14,
		"INACTIVE": 6,
	}})

	exec := domain.PipelineExecution{
		ID:        "run-1",
		Status:    domain.ExecutionSuccess,
		StartedAt: time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC),
	}
	require.NoError(t, archive.ArchiveExecution(context.Background(), exec))

	assert.Equal(t, "executions/2026-08-30/run-1.json", *putter.input.Key)
	assert.Equal(t, "run-history", *putter.input.Bucket)
	assert.Equal(t, "application/json", *putter.input.ContentType)

	snap := archivedSnapshot(t, putter)
	assert.Equal(t, "run-1", snap.Execution.ID)
	assert.Equal(t, 120, snap.StateCounts["ACTIVE"])
	assert.Equal(t, 14, snap.StateCounts["AT_RISK"])
}

func TestArchiveExecutionSurvivesCountFailure(t *testing.T) {
	putter := &fakePutter{}
	archive := &S3Archive{client: putter, bucket: "run-history", prefix: "executions"}
	archive.SetStateCounter(&fakeCounter{err: errors.New("engagement_states unavailable")})

	exec := domain.PipelineExecution{ID: "run-2", StartedAt: time.Now()}
	require.NoError(t, archive.ArchiveExecution(context.Background(), exec))

	snap := archivedSnapshot(t, putter)
	assert.Equal(t, "run-2", snap.Execution.ID)
	assert.Nil(t, snap.StateCounts)
}

func TestArchiveExecutionPutFailure(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	archive := &S3Archive{client: putter, bucket: "run-history", prefix: "executions"}

	err := archive.ArchiveExecution(context.Background(), domain.PipelineExecution{ID: "run-3", StartedAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
