package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/engagement-sync/internal/domain"
)

// LifecycleCounter reports how many engagement states sit in each lifecycle
// bucket, captured alongside each archived run.
type LifecycleCounter interface {
	CountStatesByLifecycle(ctx context.Context) (map[string]int, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive mirrors finalized execution records to S3 so run history
// survives database retention and is reachable by external dashboards.
// Archiving is strictly best effort; callers log and ignore its errors.
type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
	counts LifecycleCounter
}

// runSnapshot is the archived object: the execution record plus the
// engagement-state population at the moment the run finished.
type runSnapshot struct {
	Execution   domain.PipelineExecution `json:"execution"`
	StateCounts map[string]int           `json:"state_counts,omitempty"`
}

// NewS3Archive creates an execution archive in the given bucket.
func NewS3Archive(ctx context.Context, bucket, region, prefix string) (*S3Archive, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for execution archive: %w", err)
	}
	if prefix == "" {
		prefix = "executions"
	}
	return &S3Archive{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
	}, nil
}

// SetStateCounter attaches the engagement-state counter whose totals are
// embedded in every archived snapshot.
func (a *S3Archive) SetStateCounter(c LifecycleCounter) { a.counts = c }

// s3Key partitions records by run date so lifecycle rules can expire them.
func (a *S3Archive) s3Key(exec domain.PipelineExecution) string {
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, exec.StartedAt.Format("2006-01-02"), exec.ID)
}

// ArchiveExecution writes one finalized record as a JSON snapshot. A failing
// state count degrades the snapshot rather than losing it.
func (a *S3Archive) ArchiveExecution(ctx context.Context, exec domain.PipelineExecution) error {
	snap := runSnapshot{Execution: exec}
	if a.counts != nil {
		counts, err := a.counts.CountStatesByLifecycle(ctx)
		if err != nil {
			log.Printf("[Archive] counting engagement states for run %s: %v", exec.ID, err)
		} else {
			snap.StateCounts = counts
		}
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling execution %s: %w", exec.ID, err)
	}

	key := a.s3Key(exec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", a.bucket, key, err)
	}
	return nil
}
