package deploy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// TemplateKey is the object key a template body is staged under. It is
// content addressed, so re-deploying an unchanged template rewrites the
// same object.
func TemplateKey(stack string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s/%s.json", stack, hex.EncodeToString(sum[:]))
}

// stageTemplate uploads oversized templates and returns their URL. Small
// templates are passed inline and yield "".
func (d *Deployer) stageTemplate(ctx context.Context, stack string, body []byte) (string, error) {
	if len(body) <= MaxTemplateBodySize {
		return "", nil
	}
	if d.opts.AssetBucket == "" {
		return "", fmt.Errorf("%w: %d bytes (max %d), set deploy.assetBucket", ErrTemplateTooLarge, len(body), MaxTemplateBodySize)
	}
	if d.s3 == nil {
		return "", fmt.Errorf("stage template: no s3 client")
	}

	key := TemplateKey(stack, body)
	if _, err := d.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.opts.AssetBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return "", fmt.Errorf("upload template to s3://%s/%s: %w", d.opts.AssetBucket, key, err)
	}
	d.logger.Info("template staged", "bucket", d.opts.AssetBucket, "key", key, "bytes", len(body))
	return templateURL(d.opts.AssetBucket, d.opts.Region, key), nil
}

func templateURL(bucket, region, key string) string {
	if region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}
