package buckets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/log"
	"github.com/cuemby/airbyte-operator/pkg/metrics"
	"github.com/cuemby/airbyte-operator/pkg/types"
)

// ErrBucketWaitTimeout is returned when a created bucket does not become
// visible within the provisioner's wait timeout
var ErrBucketWaitTimeout = errors.New("timed out waiting for bucket")

// DefaultWaitTimeout bounds how long Ensure waits for a new bucket
const DefaultWaitTimeout = 2 * time.Minute

// Storage is the object-storage surface the provisioner needs
type Storage interface {
	// BucketExists reports whether the bucket exists. A bucket that lives in
	// another region counts as existing.
	BucketExists(ctx context.Context, name string) (bool, error)
	CreateBucket(ctx context.Context, name string) error
	WaitUntilExists(ctx context.Context, name string, timeout time.Duration) error
	// PutLifecyclePolicy replaces the bucket's lifecycle configuration. A
	// policy without rules removes it.
	PutLifecyclePolicy(ctx context.Context, name string, policy LifecyclePolicy) error
}

// StorageFactory opens a Storage for a connection
type StorageFactory func(ctx context.Context, conn *types.ObjectStoreConnection) (Storage, error)

// Provisioner makes sure the configured buckets exist and carry the log
// retention policy
type Provisioner struct {
	WaitTimeout time.Duration
	open        StorageFactory
}

// NewProvisioner creates a provisioner backed by S3-compatible storage
func NewProvisioner() *Provisioner {
	return NewProvisionerWithFactory(func(ctx context.Context, conn *types.ObjectStoreConnection) (Storage, error) {
		return NewS3Storage(ctx, conn)
	})
}

// NewProvisionerWithFactory creates a provisioner that opens storage through
// the given factory
func NewProvisionerWithFactory(open StorageFactory) *Provisioner {
	return &Provisioner{WaitTimeout: DefaultWaitTimeout, open: open}
}

// Ensure creates every missing bucket, waits for each new one, and then sets
// the lifecycle policy of the log bucket. It is safe to call repeatedly.
func (p *Provisioner) Ensure(ctx context.Context, conn *types.ObjectStoreConnection, names []string, logBucket string, ttlDays int) error {
	if conn == nil {
		return errors.New("no object storage connection")
	}
	if ttlDays < 0 {
		return fmt.Errorf("invalid logs ttl %d: must not be negative", ttlDays)
	}

	st, err := p.open(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to open object storage: %w", err)
	}

	for _, name := range names {
		if err := p.ensureBucket(ctx, st, name); err != nil {
			return err
		}
	}

	if logBucket == "" {
		return nil
	}

	timer := metrics.NewTimer()
	err = st.PutLifecyclePolicy(ctx, logBucket, LifecyclePolicyFor(ttlDays))
	observe("lifecycle", timer, err)
	if err != nil {
		return fmt.Errorf("failed to set lifecycle policy on %s: %w", logBucket, err)
	}

	logLogger := log.WithBucket(logBucket)
	logLogger.Debug().Int("ttl_days", ttlDays).Msg("Lifecycle policy set")
	return nil
}

func (p *Provisioner) ensureBucket(ctx context.Context, st Storage, name string) error {
	logger := log.WithBucket(name)

	timer := metrics.NewTimer()
	exists, err := st.BucketExists(ctx, name)
	observe("head", timer, err)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", name, err)
	}
	if exists {
		logger.Debug().Msg("Bucket exists")
		return nil
	}

	logger.Info().Msg("Bucket missing, creating")

	timer = metrics.NewTimer()
	err = st.CreateBucket(ctx, name)
	observe("create", timer, err)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", name, err)
	}

	timer = metrics.NewTimer()
	err = st.WaitUntilExists(ctx, name, p.waitTimeout())
	observe("wait", timer, err)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", name, err)
	}

	logger.Info().Msg("Bucket created")
	return nil
}

func (p *Provisioner) waitTimeout() time.Duration {
	if p.WaitTimeout <= 0 {
		return DefaultWaitTimeout
	}
	return p.WaitTimeout
}

func observe(op string, timer *metrics.Timer, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BucketOperations.WithLabelValues(op, result).Inc()
	timer.ObserveDurationVec(metrics.BucketOperationDuration, op)
}
