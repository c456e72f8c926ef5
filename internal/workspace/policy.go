package workspace

import (
	"fmt"

	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/iam"
)

// trainingLogStreams is readable by every user. Training job logs are
// needed by the SageMaker SDK and are not partitioned per user.
const trainingLogStreams = "log-group:/aws/sagemaker/TrainingJobs:log-stream:*"

// commonStatements returns the statements every user role carries: package
// mirror read access, read-only discovery, training log reads, and passing
// itself to SageMaker.
func commonStatements(m *mirror, roleID string) []iam.Statement {
	return []iam.Statement{
		{
			Effect: iam.Allow,
			Action: []string{
				"codeartifact:DescribeDomain",
				"codeartifact:DescribeRepository",
				"codeartifact:GetAuthorizationToken",
				"codeartifact:GetRepositoryEndpoint",
				"codeartifact:GetRepositoryPermissionsPolicy",
				"codeartifact:ListPackages",
				"codeartifact:ListRepositories",
				"codeartifact:ListTagsForResource",
				"codeartifact:ReadFromRepository",
			},
			Resource: iam.Resources(cfn.GetAtt(m.domain, "Arn"), cfn.GetAtt(m.repository, "Arn")),
		},
		{
			Effect:   iam.Allow,
			Action:   []string{"sts:GetServiceBearerToken"},
			Resource: iam.Resources("*"),
			Condition: map[string]map[string]any{
				"StringEquals": {"sts:AWSServiceName": "codeartifact.amazonaws.com"},
			},
		},
		{
			Effect: iam.Allow,
			Action: []string{
				"sagemaker:CreateModel",
				"sagemaker:DescribeDomain",
				"sagemaker:ListModels",
				"sagemaker:ListDomains",
				"sagemaker:ListUserProfiles",
				"sagemaker:ListTags",
				"sagemaker:ListSharedModelEvents",
				"logs:DescribeLogStreams",
			},
			Resource: iam.Resources("*"),
		},
		{
			Effect:   iam.Allow,
			Action:   []string{"logs:GetLogEvents"},
			Resource: iam.Resources(cfn.Sub(iam.ARN("logs", trainingLogStreams, true))),
		},
		{
			Effect:   iam.Allow,
			Action:   []string{"iam:PassRole"},
			Resource: iam.Resources(cfn.GetAtt(roleID, "Arn")),
			Condition: map[string]map[string]any{
				"StringEqualsIfExists": {"iam:PassedToService": sagemakerService},
			},
		},
	}
}

// trainingJobPattern is the only training job ARN a user may act on.
func trainingJobPattern(user string) map[string]any {
	return cfn.Sub(iam.ARN("sagemaker", fmt.Sprintf("training-job/%s-*", user), true))
}
