package workspace

import (
	"fmt"
	"strings"

	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/iam"
)

const (
	typeBucket       = "AWS::S3::Bucket"
	typeBucketPolicy = "AWS::S3::BucketPolicy"
	typeUserProfile  = "AWS::SageMaker::UserProfile"
	typePolicy       = "AWS::IAM::Policy"

	// UserTagKey marks per-user resources.
	UserTagKey = "mlworkspace:user"
)

// addUserEnvironment declares one user's role, bucket, profile and policy.
// Every statement is scoped to this user's own resources: the bucket, the
// profile, app paths under the lower-cased identifier, and training jobs
// named "<user>-*".
func (b *Builder) addUserEnvironment(tmpl *cfn.Template, sh *shared, user string) error {
	names := NamesFor(user)

	if err := tmpl.AddResource(names.Role, user, &cfn.Resource{
		Type: typeRole,
		Properties: map[string]any{
			"AssumeRolePolicyDocument": iam.AssumeRoleDocument(sagemakerService),
			"RoleName":                 names.Role,
			"Tags":                     userTags(user),
		},
	}); err != nil {
		return err
	}

	if err := tmpl.AddResource(names.Bucket, user, &cfn.Resource{
		Type: typeBucket,
		Properties: map[string]any{
			"BucketEncryption": map[string]any{
				"ServerSideEncryptionConfiguration": []any{
					map[string]any{
						"ServerSideEncryptionByDefault": map[string]any{"SSEAlgorithm": "AES256"},
					},
				},
			},
			"PublicAccessBlockConfiguration": map[string]any{
				"BlockPublicAcls":       true,
				"BlockPublicPolicy":     true,
				"IgnorePublicAcls":      true,
				"RestrictPublicBuckets": true,
			},
			"Tags": userTags(user),
		},
		DeletionPolicy:      cfn.PolicyDelete,
		UpdateReplacePolicy: cfn.PolicyDelete,
	}); err != nil {
		return err
	}

	bucketArn := cfn.GetAtt(names.Bucket, "Arn")
	bucketObjects := cfn.Sub(fmt.Sprintf("${%s.Arn}/*", names.Bucket))

	if err := tmpl.AddResource(names.BucketPolicy, user, &cfn.Resource{
		Type: typeBucketPolicy,
		Properties: map[string]any{
			"Bucket": cfn.Ref(names.Bucket),
			"PolicyDocument": iam.NewDocument(iam.Statement{
				Effect:    iam.Deny,
				Principal: map[string]any{"AWS": "*"},
				Action:    []string{"s3:*"},
				Resource:  iam.Resources(bucketArn, bucketObjects),
				Condition: map[string]map[string]any{
					"Bool": {"aws:SecureTransport": "false"},
				},
			}),
		},
	}); err != nil {
		return err
	}

	if err := tmpl.AddResource(names.Profile, user, &cfn.Resource{
		Type: typeUserProfile,
		Properties: map[string]any{
			"DomainId":        cfn.GetAtt(sh.domain, "DomainId"),
			"UserProfileName": user,
			"UserSettings": map[string]any{
				"ExecutionRole": cfn.GetAtt(names.Role, "Arn"),
			},
			"Tags": userTags(user),
		},
	}); err != nil {
		return err
	}

	doc := iam.NewDocument(commonStatements(sh.mirror, names.Role)...)
	doc.Add(userStatements(sh, user)...)
	b.logger.Debug("user policy assembled", "user", user, "statements", doc.Len())

	if err := tmpl.AddResource(names.Policy, user, &cfn.Resource{
		Type: typePolicy,
		Properties: map[string]any{
			"PolicyName":     names.Policy,
			"PolicyDocument": doc,
			"Roles":          []any{cfn.Ref(names.Role)},
		},
	}); err != nil {
		return err
	}

	tmpl.AddOutput(user+"BucketName", "Private bucket of "+user, cfn.Ref(names.Bucket))
	tmpl.AddOutput(user+"RoleArn", "Execution role of "+user, cfn.GetAtt(names.Role, "Arn"))
	return nil
}

// userStatements returns the statements scoped to one user: bucket access,
// notebook app lifecycle, and training jobs.
func userStatements(sh *shared, user string) []iam.Statement {
	names := NamesFor(user)
	appPath := iam.ARN("sagemaker", fmt.Sprintf("app/${%s.DomainId}/%s/*", sh.domain, strings.ToLower(user)), true)

	return []iam.Statement{
		{
			Effect: iam.Allow,
			Action: []string{
				"s3:Abort*",
				"s3:DeleteObject*",
				"s3:GetBucket*",
				"s3:GetObject*",
				"s3:List*",
				"s3:PutObject",
				"s3:PutObjectLegalHold",
				"s3:PutObjectRetention",
				"s3:PutObjectTagging",
				"s3:PutObjectVersionTagging",
			},
			Resource: iam.Resources(
				cfn.GetAtt(names.Bucket, "Arn"),
				cfn.Sub(fmt.Sprintf("${%s.Arn}/*", names.Bucket)),
			),
		},
		{
			Effect: iam.Allow,
			Action: []string{
				"sagemaker:ListApps",
				"sagemaker:DescribeApp",
				"sagemaker:CreateApp",
				"sagemaker:DeleteApp",
				"sagemaker:CreatePresignedDomainUrl",
				"sagemaker:DescribeUserProfile",
			},
			Resource: iam.Resources(
				cfn.GetAtt(names.Profile, "UserProfileArn"),
				cfn.Sub(fmt.Sprintf("${%s.UserProfileArn}/*", names.Profile)),
				cfn.Sub(appPath),
			),
		},
		{
			Effect:   iam.Allow,
			Action:   []string{"sagemaker:CreateTrainingJob"},
			Resource: iam.Resources(trainingJobPattern(user)),
			Condition: map[string]map[string]any{
				"Bool": {"sagemaker:NetworkIsolation": "true"},
			},
		},
		{
			Effect:   iam.Allow,
			Action:   []string{"sagemaker:StopTrainingJob", "sagemaker:DescribeTrainingJob"},
			Resource: iam.Resources(trainingJobPattern(user)),
		},
	}
}

func userTags(user string) []cfn.Tag {
	return []cfn.Tag{{Key: UserTagKey, Value: user}}
}
