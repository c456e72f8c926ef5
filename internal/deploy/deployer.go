// Package deploy hands a synthesized template to CloudFormation and tears it
// down again. Provisioning itself (ordering, retries, rollback) stays with
// CloudFormation; this package submits, waits and reports.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/logx"
	"github.com/fslongjin/mlworkspace/internal/state"
)

const (
	// MaxTemplateBodySize is the largest template CloudFormation accepts
	// inline; bigger ones must be staged in S3.
	MaxTemplateBodySize = 51200

	DeploymentTagKey = "mlworkspace:deployment"

	OperationDeploy  = "deploy"
	OperationDestroy = "destroy"
)

var (
	// ErrNoChanges means the stack already matches the template.
	ErrNoChanges = errors.New("no updates are to be performed")
	// ErrTemplateTooLarge means the template needs an asset bucket.
	ErrTemplateTooLarge = errors.New("template exceeds inline size limit")
	// ErrStackBusy means another operation is in progress on the stack.
	ErrStackBusy = errors.New("stack operation in progress")
	// ErrStackUnrecoverable means the stack must be destroyed before it can
	// be deployed again.
	ErrStackUnrecoverable = errors.New("stack is in an unrecoverable state")
)

// CloudFormationAPI is the subset of the CloudFormation client in use.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	ListStackResources(ctx context.Context, params *cloudformation.ListStackResourcesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackResourcesOutput, error)
}

// S3API is the subset of the S3 client in use.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type Options struct {
	Region      string
	AssetBucket string
	WaitTimeout time.Duration
	DryRun      bool
}

// Action is what a deploy did to the stack.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNone   Action = "none"
	ActionDryRun Action = "dry-run"
	ActionDelete Action = "delete"
)

// Result summarises a deploy.
type Result struct {
	Stack       string            `json:"stack" yaml:"stack"`
	Action      Action            `json:"action" yaml:"action"`
	RunID       string            `json:"runId" yaml:"runId"`
	TemplateURL string            `json:"templateUrl,omitempty" yaml:"templateUrl,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// waitFunc blocks until the stack reaches the terminal state for action.
type waitFunc func(ctx context.Context, action Action, stack string, timeout time.Duration) error

type Deployer struct {
	cf     CloudFormationAPI
	s3     S3API
	store  *state.Store
	opts   Options
	logger *slog.Logger
	wait   waitFunc
}

func New(cf CloudFormationAPI, s3Client S3API, store *state.Store, opts Options, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deployer{
		cf:     cf,
		s3:     s3Client,
		store:  store,
		opts:   opts,
		logger: logger,
	}
	d.wait = d.sdkWait
	return d
}

// Deploy creates the stack, or updates it when it already exists.
func (d *Deployer) Deploy(ctx context.Context, stack string, tmpl *cfn.Template) (*Result, error) {
	runID, resumed, err := d.startRun(OperationDeploy)
	if err != nil {
		return nil, err
	}
	ctx = logx.WithRunID(ctx, runID)
	res := &Result{Stack: stack, RunID: runID}
	// A resumed run whose submission went through follows the stack
	// operation it started rather than submitting again.
	submitted := resumed && d.journal().Done("submit")

	var body []byte
	if err := d.runStep(ctx, "render", func() error {
		if err := tmpl.Validate(); err != nil {
			return err
		}
		var err error
		body, err = tmpl.JSON()
		return err
	}); err != nil {
		return nil, err
	}

	if d.opts.DryRun {
		d.logger.Info("dry-run: skipping submission", "stack", stack, "template_bytes", len(body), "resources", len(tmpl.Resources))
		res.Action = ActionDryRun
		return res, d.finishRun()
	}

	if err := d.runStep(ctx, "stage_template", func() error {
		var err error
		res.TemplateURL, err = d.stageTemplate(ctx, stack, body)
		return err
	}); err != nil {
		return nil, err
	}

	var existing *cftypes.Stack
	if err := d.runStep(ctx, "describe", func() error {
		var err error
		existing, err = d.describe(ctx, stack)
		if err != nil || existing == nil {
			return err
		}
		if submitted {
			if action, ok := pendingAction(existing); ok {
				res.Action = action
				return nil
			}
		}
		return checkDeployable(existing)
	}); err != nil {
		return nil, err
	}

	if res.Action != "" {
		d.logger.Info("waiting for submitted operation", "stack", stack, "action", res.Action, "status", existing.StackStatus, "run_id", runID)
	} else if err := d.runStep(ctx, "submit", func() error {
		if existing == nil {
			res.Action = ActionCreate
			return d.create(ctx, stack, runID, body, res.TemplateURL)
		}
		res.Action = ActionUpdate
		return d.update(ctx, stack, runID, body, res.TemplateURL)
	}); err != nil {
		if errors.Is(err, ErrNoChanges) {
			d.logger.Info("stack is up to date", "stack", stack, "run_id", runID)
			res.Action = ActionNone
			res.Outputs = stackOutputs(existing)
			return res, d.finishRun()
		}
		return nil, err
	}

	if err := d.runStep(ctx, "wait", func() error {
		return d.wait(ctx, res.Action, stack, d.opts.WaitTimeout)
	}); err != nil {
		return nil, err
	}

	if err := d.runStep(ctx, "outputs", func() error {
		final, err := d.describe(ctx, stack)
		if err != nil {
			return err
		}
		res.Outputs = stackOutputs(final)
		return nil
	}); err != nil {
		return nil, err
	}

	d.logger.Info("stack deployed", "stack", stack, "action", res.Action, "run_id", runID)
	return res, d.finishRun()
}

func (d *Deployer) create(ctx context.Context, stack, runID string, body []byte, templateURL string) error {
	in := &cloudformation.CreateStackInput{
		StackName:          aws.String(stack),
		Capabilities:       []cftypes.Capability{cftypes.CapabilityCapabilityNamedIam},
		ClientRequestToken: aws.String(requestToken(runID, "create")),
		Tags:               []cftypes.Tag{{Key: aws.String(DeploymentTagKey), Value: aws.String(stack)}},
	}
	if templateURL != "" {
		in.TemplateURL = aws.String(templateURL)
	} else {
		in.TemplateBody = aws.String(string(body))
	}
	out, err := d.cf.CreateStack(ctx, in)
	if err != nil {
		return fmt.Errorf("create stack %s: %w", stack, err)
	}
	d.logger.Info("stack creation submitted", "stack", stack, "stack_id", aws.ToString(out.StackId))
	return nil
}

func (d *Deployer) update(ctx context.Context, stack, runID string, body []byte, templateURL string) error {
	in := &cloudformation.UpdateStackInput{
		StackName:          aws.String(stack),
		Capabilities:       []cftypes.Capability{cftypes.CapabilityCapabilityNamedIam},
		ClientRequestToken: aws.String(requestToken(runID, "update")),
		Tags:               []cftypes.Tag{{Key: aws.String(DeploymentTagKey), Value: aws.String(stack)}},
	}
	if templateURL != "" {
		in.TemplateURL = aws.String(templateURL)
	} else {
		in.TemplateBody = aws.String(string(body))
	}
	out, err := d.cf.UpdateStack(ctx, in)
	if err != nil {
		if isNoUpdates(err) {
			return ErrNoChanges
		}
		return fmt.Errorf("update stack %s: %w", stack, err)
	}
	d.logger.Info("stack update submitted", "stack", stack, "stack_id", aws.ToString(out.StackId))
	return nil
}

// requestToken derives a stable token per run and action, so a resumed run
// retries the same request instead of issuing a new one.
func requestToken(runID, action string) string {
	ns, err := uuid.Parse(runID)
	if err != nil {
		ns = uuid.NameSpaceOID
	}
	return "mlws-" + uuid.NewSHA1(ns, []byte(action)).String()
}

func (d *Deployer) sdkWait(ctx context.Context, action Action, stack string, timeout time.Duration) error {
	in := &cloudformation.DescribeStacksInput{StackName: aws.String(stack)}
	var err error
	switch action {
	case ActionCreate:
		err = cloudformation.NewStackCreateCompleteWaiter(d.cf).Wait(ctx, in, timeout)
	case ActionUpdate:
		err = cloudformation.NewStackUpdateCompleteWaiter(d.cf).Wait(ctx, in, timeout)
	case ActionDelete:
		err = cloudformation.NewStackDeleteCompleteWaiter(d.cf).Wait(ctx, in, timeout)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("wait for %s of %s: %w", action, stack, err)
	}
	return nil
}

// journal returns the run store, or nil when runs are not recorded. Dry-runs
// leave the journal alone so an unfinished run keeps its run ID.
func (d *Deployer) journal() *state.Store {
	if d.opts.DryRun {
		return nil
	}
	return d.store
}

func (d *Deployer) startRun(operation string) (string, bool, error) {
	store := d.journal()
	if store == nil {
		return uuid.NewString(), false, nil
	}
	runID, resumed, err := store.StartRun(operation, uuid.NewString)
	if err != nil {
		return "", false, err
	}
	if normalized := logx.NormalizeRunID(runID); normalized != runID {
		d.logger.Warn("discarding journal with invalid run id", "operation", operation, "run_id", runID, "state", store.Path)
		if err := store.Reset(operation, normalized); err != nil {
			return "", false, err
		}
		return normalized, false, nil
	}
	if resumed {
		d.logger.Info("resuming unfinished run", "operation", operation, "run_id", runID, "state", store.Path)
	}
	return runID, resumed, nil
}

func (d *Deployer) finishRun() error {
	store := d.journal()
	if store == nil {
		return nil
	}
	return store.FinishRun()
}

func (d *Deployer) runStep(ctx context.Context, name string, fn func() error) error {
	logger := logx.LoggerWithRunID(ctx, d.logger)
	logger.Debug("step start", "step", name)
	store := d.journal()
	if store != nil {
		if err := store.Mark(name, state.StatusRunning, ""); err != nil {
			return err
		}
	}
	if err := fn(); err != nil {
		if store != nil {
			_ = store.Mark(name, state.StatusFailed, err.Error())
		}
		return fmt.Errorf("step %s failed: %w", name, err)
	}
	if store != nil {
		if err := store.Mark(name, state.StatusDone, ""); err != nil {
			return err
		}
	}
	logger.Debug("step done", "step", name)
	return nil
}
