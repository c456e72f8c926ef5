package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// describe returns the stack, or nil when it does not exist.
func (d *Deployer) describe(ctx context.Context, stack string) (*cftypes.Stack, error) {
	out, err := d.cf.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stack)})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe stack %s: %w", stack, err)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	s := out.Stacks[0]
	if s.StackStatus == cftypes.StackStatusDeleteComplete {
		return nil, nil
	}
	return &s, nil
}

// checkDeployable rejects stacks that cannot take an update right now.
func checkDeployable(s *cftypes.Stack) error {
	status := string(s.StackStatus)
	switch {
	case strings.HasSuffix(status, "_IN_PROGRESS"):
		return fmt.Errorf("%w: %s is %s", ErrStackBusy, aws.ToString(s.StackName), status)
	case s.StackStatus == cftypes.StackStatusRollbackComplete,
		s.StackStatus == cftypes.StackStatusRollbackFailed,
		s.StackStatus == cftypes.StackStatusDeleteFailed:
		return fmt.Errorf("%w: %s is %s, destroy it first", ErrStackUnrecoverable, aws.ToString(s.StackName), status)
	}
	return nil
}

// pendingAction maps a stack still running a create or update to the action
// whose waiter follows it.
func pendingAction(s *cftypes.Stack) (Action, bool) {
	switch s.StackStatus {
	case cftypes.StackStatusCreateInProgress:
		return ActionCreate, true
	case cftypes.StackStatusUpdateInProgress, cftypes.StackStatusUpdateCompleteCleanupInProgress:
		return ActionUpdate, true
	}
	return "", false
}

func stackOutputs(s *cftypes.Stack) map[string]string {
	if s == nil || len(s.Outputs) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.Outputs))
	for _, o := range s.Outputs {
		out[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return out
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}
