package buckets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

const defaultRegion = "us-east-1"

// S3Storage implements Storage on any S3-compatible endpoint
type S3Storage struct {
	client *s3.Client
	region string

	// waitMinDelay is the initial poll interval of WaitUntilExists
	waitMinDelay time.Duration
}

// NewS3Storage creates a client for the connection's endpoint using its
// static credentials. Minio connections always use path-style addressing.
func NewS3Storage(ctx context.Context, conn *types.ObjectStoreConnection) (*S3Storage, error) {
	region := strings.TrimSpace(conn.Region)
	if region == "" {
		region = defaultRegion
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if conn.AccessKey != "" && conn.SecretKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conn.AccessKey, conn.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(conn.Endpoint)
	pathStyle := conn.PathStyle || conn.Kind == types.StorageMinio

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	return &S3Storage{client: client, region: region, waitMinDelay: 2 * time.Second}, nil
}

// BucketExists issues a HEAD request for the bucket
func (s *S3Storage) BucketExists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	return classifyHead(err)
}

// classifyHead maps a HeadBucket error onto existence. Not found means
// absent, a redirect means the bucket lives in another region, anything
// else is an error.
func classifyHead(err error) (bool, error) {
	if err == nil {
		return true, nil
	}

	var notFound *s3types.NotFound
	var noSuchBucket *s3types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return false, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return false, nil
		case "PermanentRedirect", "AuthorizationHeaderMalformed":
			return true, nil
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return false, nil
		case http.StatusMovedPermanently:
			return true, nil
		}
	}

	return false, fmt.Errorf("s3 head bucket: %w", err)
}

// CreateBucket creates the bucket in the client's region. A bucket this
// account already owns is not an error.
func (s *S3Storage) CreateBucket(ctx context.Context, name string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if s.region != defaultRegion {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}

	_, err := s.client.CreateBucket(ctx, input)
	if err == nil {
		return nil
	}
	var owned *s3types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	return fmt.Errorf("s3 create bucket: %w", err)
}

// WaitUntilExists polls the bucket until it is visible or timeout passes
func (s *S3Storage) WaitUntilExists(ctx context.Context, name string, timeout time.Duration) error {
	waiter := s3.NewBucketExistsWaiter(s.client, func(o *s3.BucketExistsWaiterOptions) {
		o.MinDelay = s.waitMinDelay
		if o.MaxDelay < o.MinDelay {
			o.MaxDelay = o.MinDelay
		}
	})

	err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}, timeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "exceeded max wait time") {
		return fmt.Errorf("%w after %s", ErrBucketWaitTimeout, timeout)
	}
	return fmt.Errorf("s3 wait for bucket: %w", err)
}

// PutLifecyclePolicy replaces the lifecycle configuration, or deletes it
// when the policy has no rules
func (s *S3Storage) PutLifecyclePolicy(ctx context.Context, name string, policy LifecyclePolicy) error {
	if len(policy.Rules) == 0 {
		_, err := s.client.DeleteBucketLifecycle(ctx, &s3.DeleteBucketLifecycleInput{Bucket: aws.String(name)})
		if err != nil {
			return fmt.Errorf("s3 delete lifecycle: %w", err)
		}
		return nil
	}

	rules := make([]s3types.LifecycleRule, 0, len(policy.Rules))
	for _, r := range policy.Rules {
		rules = append(rules, s3types.LifecycleRule{
			ID:         aws.String(r.ID),
			Status:     s3types.ExpirationStatusEnabled,
			Filter:     &s3types.LifecycleRuleFilter{Prefix: aws.String(r.Prefix)},
			Expiration: &s3types.LifecycleExpiration{Days: aws.Int32(int32(r.ExpirationDays))},
		})
	}

	_, err := s.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 aws.String(name),
		LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{Rules: rules},
	})
	if err != nil {
		return fmt.Errorf("s3 put lifecycle: %w", err)
	}
	return nil
}
