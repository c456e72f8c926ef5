package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fslongjin/mlworkspace/internal/logx"
)

const (
	typeBucket = "AWS::S3::Bucket"

	// maxDeleteBatch is the most keys DeleteObjects accepts per call.
	maxDeleteBatch = 1000
)

// Destroy empties every bucket the stack owns, then deletes the stack.
// Destroying a stack that does not exist is a no-op.
func (d *Deployer) Destroy(ctx context.Context, stack string) (*Result, error) {
	runID, _, err := d.startRun(OperationDestroy)
	if err != nil {
		return nil, err
	}
	ctx = logx.WithRunID(ctx, runID)
	res := &Result{Stack: stack, RunID: runID, Action: ActionDelete}

	var existing *cftypes.Stack
	if err := d.runStep(ctx, "describe", func() error {
		var err error
		existing, err = d.describe(ctx, stack)
		return err
	}); err != nil {
		return nil, err
	}
	if existing == nil {
		d.logger.Info("stack does not exist, nothing to destroy", "stack", stack)
		res.Action = ActionNone
		return res, d.finishRun()
	}

	var buckets []string
	if err := d.runStep(ctx, "list_buckets", func() error {
		var err error
		buckets, err = d.stackBuckets(ctx, stack)
		return err
	}); err != nil {
		return nil, err
	}

	if d.opts.DryRun {
		d.logger.Info("dry-run: skipping deletion", "stack", stack, "buckets", buckets)
		res.Action = ActionDryRun
		return res, d.finishRun()
	}

	if err := d.runStep(ctx, "empty_buckets", func() error {
		for _, bucket := range buckets {
			n, err := d.emptyBucket(ctx, bucket)
			if err != nil {
				return err
			}
			d.logger.Info("bucket emptied", "bucket", bucket, "deleted", n)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := d.runStep(ctx, "delete", func() error {
		if existing.StackStatus == cftypes.StackStatusDeleteInProgress {
			return nil
		}
		_, err := d.cf.DeleteStack(ctx, &cloudformation.DeleteStackInput{
			StackName:          aws.String(stack),
			ClientRequestToken: aws.String(requestToken(runID, "delete")),
		})
		if err != nil {
			return fmt.Errorf("delete stack %s: %w", stack, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := d.runStep(ctx, "wait", func() error {
		return d.wait(ctx, ActionDelete, stack, d.opts.WaitTimeout)
	}); err != nil {
		return nil, err
	}

	d.logger.Info("stack destroyed", "stack", stack, "run_id", runID)
	return res, d.finishRun()
}

// stackBuckets lists the physical names of the buckets the stack still owns.
func (d *Deployer) stackBuckets(ctx context.Context, stack string) ([]string, error) {
	var buckets []string
	p := cloudformation.NewListStackResourcesPaginator(d.cf, &cloudformation.ListStackResourcesInput{
		StackName: aws.String(stack),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list resources of %s: %w", stack, err)
		}
		for _, r := range page.StackResourceSummaries {
			if aws.ToString(r.ResourceType) != typeBucket || aws.ToString(r.PhysicalResourceId) == "" {
				continue
			}
			if r.ResourceStatus == cftypes.ResourceStatusDeleteComplete {
				continue
			}
			buckets = append(buckets, aws.ToString(r.PhysicalResourceId))
		}
	}
	return buckets, nil
}

// emptyBucket deletes every object version and delete marker in bucket and
// returns how many entries were removed. A missing bucket counts as empty.
func (d *Deployer) emptyBucket(ctx context.Context, bucket string) (int, error) {
	if d.s3 == nil {
		return 0, fmt.Errorf("empty bucket %s: no s3 client", bucket)
	}
	deleted := 0
	var keyMarker, versionMarker *string
	for {
		out, err := d.s3.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			if isNoSuchBucket(err) {
				return deleted, nil
			}
			return deleted, fmt.Errorf("list versions of %s: %w", bucket, err)
		}

		ids := make([]s3types.ObjectIdentifier, 0, len(out.Versions)+len(out.DeleteMarkers))
		for _, v := range out.Versions {
			ids = append(ids, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range out.DeleteMarkers {
			ids = append(ids, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		n, err := d.deleteObjects(ctx, bucket, ids)
		deleted += n
		if err != nil {
			return deleted, err
		}

		if aws.ToString(out.NextKeyMarker) == "" && aws.ToString(out.NextVersionIdMarker) == "" {
			return deleted, nil
		}
		keyMarker, versionMarker = out.NextKeyMarker, out.NextVersionIdMarker
	}
}

func (d *Deployer) deleteObjects(ctx context.Context, bucket string, ids []s3types.ObjectIdentifier) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(ids))
		out, err := d.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: ids[start:end]},
		})
		if err != nil {
			return deleted, fmt.Errorf("delete objects in %s: %w", bucket, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, fmt.Errorf("delete objects in %s: %d failed, first %s: %s",
				bucket, len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deleted += end - start
	}
	return deleted, nil
}

func isNoSuchBucket(err error) bool {
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket"
}
