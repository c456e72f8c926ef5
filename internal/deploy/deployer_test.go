package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/logx"
	"github.com/fslongjin/mlworkspace/internal/state"
)

type fakeCFN struct {
	stacks    map[string]*cftypes.Stack
	outputs   []cftypes.Output
	createErr error
	updateErr error
	resources []cftypes.StackResourceSummary

	created []*cloudformation.CreateStackInput
	updated []*cloudformation.UpdateStackInput
	deleted []*cloudformation.DeleteStackInput
	calls   *[]string
}

func newFakeCFN(calls *[]string) *fakeCFN {
	return &fakeCFN{stacks: map[string]*cftypes.Stack{}, calls: calls}
}

func (f *fakeCFN) record(call string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, call)
	}
}

func (f *fakeCFN) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	name := aws.ToString(in.StackName)
	s, ok := f.stacks[name]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: fmt.Sprintf("Stack with id %s does not exist", name)}
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []cftypes.Stack{*s}}, nil
}

func (f *fakeCFN) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.record("CreateStack")
	f.created = append(f.created, in)
	if f.createErr != nil {
		return nil, f.createErr
	}
	name := aws.ToString(in.StackName)
	f.stacks[name] = &cftypes.Stack{
		StackName:   in.StackName,
		StackStatus: cftypes.StackStatusCreateComplete,
		Outputs:     f.outputs,
	}
	return &cloudformation.CreateStackOutput{StackId: aws.String("arn:stack/" + name)}, nil
}

func (f *fakeCFN) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	f.record("UpdateStack")
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, in)
	return &cloudformation.UpdateStackOutput{StackId: aws.String("arn:stack/" + aws.ToString(in.StackName))}, nil
}

func (f *fakeCFN) DeleteStack(_ context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.record("DeleteStack")
	f.deleted = append(f.deleted, in)
	return &cloudformation.DeleteStackOutput{}, nil
}

func (f *fakeCFN) ListStackResources(_ context.Context, _ *cloudformation.ListStackResourcesInput, _ ...func(*cloudformation.Options)) (*cloudformation.ListStackResourcesOutput, error) {
	return &cloudformation.ListStackResourcesOutput{StackResourceSummaries: f.resources}, nil
}

type fakeS3 struct {
	versions map[string][]s3types.ObjectVersion
	missing  map[string]bool
	pageSize int

	puts    []*s3.PutObjectInput
	deleted map[string]int
	calls   *[]string
}

func newFakeS3(calls *[]string) *fakeS3 {
	return &fakeS3{
		versions: map[string][]s3types.ObjectVersion{},
		missing:  map[string]bool{},
		pageSize: 2,
		deleted:  map[string]int{},
		calls:    calls,
	}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectVersions(_ context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	bucket := aws.ToString(in.Bucket)
	if f.missing[bucket] {
		return nil, &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
	}
	all := f.versions[bucket]
	start := 0
	if m := aws.ToString(in.KeyMarker); m != "" {
		start, _ = strconv.Atoi(m)
	}
	end := min(start+f.pageSize, len(all))
	out := &s3.ListObjectVersionsOutput{Versions: all[start:end]}
	if end < len(all) {
		out.NextKeyMarker = aws.String(strconv.Itoa(end))
		out.NextVersionIdMarker = aws.String("v" + strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, "DeleteObjects")
	}
	f.deleted[aws.ToString(in.Bucket)] += len(in.Delete.Objects)
	return &s3.DeleteObjectsOutput{}, nil
}

type waitCall struct {
	action Action
	stack  string
}

func newTestDeployer(t *testing.T, cf *fakeCFN, s3c *fakeS3, opts Options) (*Deployer, *state.Store, *[]waitCall) {
	t.Helper()
	store, err := state.LoadOrCreate(filepath.Join(t.TempDir(), "state.json"), "Demo")
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	d := New(cf, s3c, store, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var waits []waitCall
	d.wait = func(_ context.Context, action Action, stack string, _ time.Duration) error {
		waits = append(waits, waitCall{action: action, stack: stack})
		return nil
	}
	return d, store, &waits
}

func smallTemplate(t *testing.T) *cfn.Template {
	t.Helper()
	tmpl := cfn.New("test")
	if err := tmpl.AddResource("Bucket", "", &cfn.Resource{Type: "AWS::S3::Bucket"}); err != nil {
		t.Fatalf("AddResource failed: %v", err)
	}
	return tmpl
}

func largeTemplate(t *testing.T) *cfn.Template {
	t.Helper()
	tmpl := cfn.New("large")
	for i := 0; i < 300; i++ {
		if err := tmpl.AddResource(fmt.Sprintf("Topic%d", i), "", &cfn.Resource{
			Type:       "AWS::SNS::Topic",
			Properties: map[string]any{"DisplayName": strings.Repeat("x", 200)},
		}); err != nil {
			t.Fatalf("AddResource failed: %v", err)
		}
	}
	return tmpl
}

func TestDeployCreatesMissingStack(t *testing.T) {
	cf := newFakeCFN(nil)
	cf.outputs = []cftypes.Output{{OutputKey: aws.String("VpcId"), OutputValue: aws.String("vpc-123")}}
	d, store, waits := newTestDeployer(t, cf, newFakeS3(nil), Options{WaitTimeout: time.Minute})

	res, err := d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.Action != ActionCreate {
		t.Fatalf("expected create, got %s", res.Action)
	}
	if len(cf.created) != 1 || len(cf.updated) != 0 {
		t.Fatalf("expected one create and no update, got %d/%d", len(cf.created), len(cf.updated))
	}
	in := cf.created[0]
	if in.TemplateBody == nil || in.TemplateURL != nil {
		t.Fatalf("expected inline template body")
	}
	if len(in.Capabilities) != 1 || in.Capabilities[0] != cftypes.CapabilityCapabilityNamedIam {
		t.Fatalf("expected CAPABILITY_NAMED_IAM, got %v", in.Capabilities)
	}
	if !strings.HasPrefix(aws.ToString(in.ClientRequestToken), "mlws-") {
		t.Fatalf("unexpected request token %q", aws.ToString(in.ClientRequestToken))
	}
	if len(in.Tags) != 1 || aws.ToString(in.Tags[0].Key) != DeploymentTagKey || aws.ToString(in.Tags[0].Value) != "Demo" {
		t.Fatalf("unexpected tags %+v", in.Tags)
	}
	if len(*waits) != 1 || (*waits)[0].action != ActionCreate {
		t.Fatalf("expected one create wait, got %+v", *waits)
	}
	if res.Outputs["VpcId"] != "vpc-123" {
		t.Fatalf("expected outputs to be collected, got %v", res.Outputs)
	}
	if !store.Data.Completed || store.Data.RunID != res.RunID {
		t.Fatalf("expected completed journal for run %s, got %+v", res.RunID, store.Data)
	}
	for _, step := range []string{"render", "stage_template", "describe", "submit", "wait", "outputs"} {
		if !store.Done(step) {
			t.Fatalf("expected step %s to be done", step)
		}
	}
}

func TestDeployUpdatesExistingStack(t *testing.T) {
	cf := newFakeCFN(nil)
	cf.stacks["Demo"] = &cftypes.Stack{StackName: aws.String("Demo"), StackStatus: cftypes.StackStatusUpdateComplete}
	d, _, waits := newTestDeployer(t, cf, newFakeS3(nil), Options{})

	res, err := d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.Action != ActionUpdate || len(cf.updated) != 1 || len(cf.created) != 0 {
		t.Fatalf("expected update, got %s (%d created, %d updated)", res.Action, len(cf.created), len(cf.updated))
	}
	if len(*waits) != 1 || (*waits)[0].action != ActionUpdate {
		t.Fatalf("expected one update wait, got %+v", *waits)
	}
}

func TestDeployNoChanges(t *testing.T) {
	cf := newFakeCFN(nil)
	cf.stacks["Demo"] = &cftypes.Stack{
		StackName:   aws.String("Demo"),
		StackStatus: cftypes.StackStatusCreateComplete,
		Outputs:     []cftypes.Output{{OutputKey: aws.String("DomainId"), OutputValue: aws.String("d-1")}},
	}
	cf.updateErr = &smithy.GenericAPIError{Code: "ValidationError", Message: "No updates are to be performed."}
	d, store, waits := newTestDeployer(t, cf, newFakeS3(nil), Options{})

	res, err := d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.Action != ActionNone {
		t.Fatalf("expected no-op, got %s", res.Action)
	}
	if len(*waits) != 0 {
		t.Fatalf("expected no wait, got %+v", *waits)
	}
	if res.Outputs["DomainId"] != "d-1" {
		t.Fatalf("expected existing outputs, got %v", res.Outputs)
	}
	if !store.Data.Completed {
		t.Fatalf("expected run to be completed")
	}
}

func TestDeployRejectsStackInBadState(t *testing.T) {
	tests := []struct {
		status cftypes.StackStatus
		want   error
	}{
		{cftypes.StackStatusCreateInProgress, ErrStackBusy},
		{cftypes.StackStatusUpdateRollbackInProgress, ErrStackBusy},
		{cftypes.StackStatusRollbackComplete, ErrStackUnrecoverable},
		{cftypes.StackStatusDeleteFailed, ErrStackUnrecoverable},
	}
	for _, tc := range tests {
		cf := newFakeCFN(nil)
		cf.stacks["Demo"] = &cftypes.Stack{StackName: aws.String("Demo"), StackStatus: tc.status}
		d, store, _ := newTestDeployer(t, cf, newFakeS3(nil), Options{})

		_, err := d.Deploy(context.Background(), "Demo", smallTemplate(t))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.status, tc.want, err)
		}
		if len(cf.created)+len(cf.updated) != 0 {
			t.Fatalf("%s: expected no submission", tc.status)
		}
		if store.Data.Completed {
			t.Fatalf("%s: failed run must stay unfinished", tc.status)
		}
		if rec := store.Data.Steps["describe"]; rec.Status != state.StatusFailed {
			t.Fatalf("%s: expected describe step failed, got %+v", tc.status, rec)
		}
	}
}

func TestDeployLargeTemplateNeedsAssetBucket(t *testing.T) {
	cf := newFakeCFN(nil)
	d, _, _ := newTestDeployer(t, cf, newFakeS3(nil), Options{})

	_, err := d.Deploy(context.Background(), "Demo", largeTemplate(t))
	if !errors.Is(err, ErrTemplateTooLarge) {
		t.Fatalf("expected ErrTemplateTooLarge, got %v", err)
	}
	if len(cf.created) != 0 {
		t.Fatalf("expected no submission")
	}
}

func TestDeployStagesLargeTemplate(t *testing.T) {
	cf := newFakeCFN(nil)
	s3c := newFakeS3(nil)
	d, _, _ := newTestDeployer(t, cf, s3c, Options{AssetBucket: "assets", Region: "eu-west-1"})

	res, err := d.Deploy(context.Background(), "Demo", largeTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if len(s3c.puts) != 1 {
		t.Fatalf("expected one upload, got %d", len(s3c.puts))
	}
	key := aws.ToString(s3c.puts[0].Key)
	if !strings.HasPrefix(key, "Demo/") || !strings.HasSuffix(key, ".json") {
		t.Fatalf("unexpected key %q", key)
	}
	wantURL := "https://assets.s3.eu-west-1.amazonaws.com/" + key
	if res.TemplateURL != wantURL {
		t.Fatalf("expected %s, got %s", wantURL, res.TemplateURL)
	}
	in := cf.created[0]
	if aws.ToString(in.TemplateURL) != wantURL || in.TemplateBody != nil {
		t.Fatalf("expected template URL submission, got body=%v url=%v", in.TemplateBody != nil, aws.ToString(in.TemplateURL))
	}
}

func TestDeployDryRunSubmitsNothing(t *testing.T) {
	cf := newFakeCFN(nil)
	s3c := newFakeS3(nil)
	d, _, waits := newTestDeployer(t, cf, s3c, Options{DryRun: true})

	res, err := d.Deploy(context.Background(), "Demo", largeTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.Action != ActionDryRun {
		t.Fatalf("expected dry-run, got %s", res.Action)
	}
	if len(cf.created)+len(cf.updated) != 0 || len(s3c.puts) != 0 || len(*waits) != 0 {
		t.Fatalf("dry-run must not call AWS")
	}
}

func TestDeployResumeWaitsForSubmittedCreate(t *testing.T) {
	cf := newFakeCFN(nil)
	d, store, _ := newTestDeployer(t, cf, newFakeS3(nil), Options{})
	d.wait = func(context.Context, Action, string, time.Duration) error {
		return errors.New("waiter timed out")
	}

	if _, err := d.Deploy(context.Background(), "Demo", smallTemplate(t)); err == nil {
		t.Fatalf("expected wait failure")
	}
	firstRun := store.Data.RunID
	if store.Data.Completed {
		t.Fatalf("failed run must stay unfinished")
	}

	cf.stacks["Demo"].StackStatus = cftypes.StackStatusCreateInProgress
	var waits []Action
	d.wait = func(_ context.Context, action Action, _ string, _ time.Duration) error {
		waits = append(waits, action)
		return nil
	}
	res, err := d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.RunID != firstRun || res.Action != ActionCreate {
		t.Fatalf("expected resumed create of run %s, got %s of %s", firstRun, res.Action, res.RunID)
	}
	if len(cf.created) != 1 {
		t.Fatalf("expected no second submission, got %d creates", len(cf.created))
	}
	if len(waits) != 1 || waits[0] != ActionCreate {
		t.Fatalf("expected one create wait, got %v", waits)
	}
	if !store.Data.Completed {
		t.Fatalf("expected resumed run to complete")
	}

	cf.stacks["Demo"].StackStatus = cftypes.StackStatusCreateComplete
	res, err = d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.RunID == firstRun || res.Action != ActionUpdate {
		t.Fatalf("expected a fresh update run after completion, got %s of %s", res.Action, res.RunID)
	}
}

func TestDeployRetriesInterruptedSubmit(t *testing.T) {
	cf := newFakeCFN(nil)
	cf.createErr = errors.New("connection reset")
	d, store, _ := newTestDeployer(t, cf, newFakeS3(nil), Options{})

	if _, err := d.Deploy(context.Background(), "Demo", smallTemplate(t)); err == nil {
		t.Fatalf("expected submit failure")
	}
	firstRun := store.Data.RunID
	if rec := store.Data.Steps["submit"]; rec.Status != state.StatusFailed {
		t.Fatalf("expected submit step failed, got %+v", rec)
	}

	cf.createErr = nil
	res, err := d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.RunID != firstRun {
		t.Fatalf("expected resumed run %s, got %s", firstRun, res.RunID)
	}
	if len(cf.created) != 2 {
		t.Fatalf("expected the create to be retried, got %d", len(cf.created))
	}
	first, retried := aws.ToString(cf.created[0].ClientRequestToken), aws.ToString(cf.created[1].ClientRequestToken)
	if first != retried {
		t.Fatalf("expected retried request token %s, got %s", first, retried)
	}
}

func TestDryRunLeavesUnfinishedRun(t *testing.T) {
	cf := newFakeCFN(nil)
	s3c := newFakeS3(nil)
	d, store, _ := newTestDeployer(t, cf, s3c, Options{})
	d.wait = func(context.Context, Action, string, time.Duration) error {
		return errors.New("waiter timed out")
	}
	if _, err := d.Deploy(context.Background(), "Demo", smallTemplate(t)); err == nil {
		t.Fatalf("expected wait failure")
	}
	firstRun := store.Data.RunID
	cf.stacks["Demo"].StackStatus = cftypes.StackStatusCreateInProgress

	dry := New(cf, s3c, store, Options{DryRun: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := dry.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("dry-run Deploy failed: %v", err)
	}
	if res.RunID == firstRun {
		t.Fatalf("dry-run must not take over run %s", firstRun)
	}
	if _, err := dry.Destroy(context.Background(), "Demo"); err != nil {
		t.Fatalf("dry-run Destroy failed: %v", err)
	}
	if store.Data.RunID != firstRun || store.Data.Completed || store.Data.Operation != OperationDeploy {
		t.Fatalf("dry-runs changed the journal: %+v", store.Data)
	}
	if !store.Done("submit") {
		t.Fatalf("dry-runs must keep recorded steps")
	}

	d.wait = func(context.Context, Action, string, time.Duration) error { return nil }
	res, err = d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if res.RunID != firstRun {
		t.Fatalf("expected run %s to resume after dry-run, got %s", firstRun, res.RunID)
	}
}

func TestDeployReplacesInvalidRunID(t *testing.T) {
	cf := newFakeCFN(nil)
	d, store, _ := newTestDeployer(t, cf, newFakeS3(nil), Options{})
	store.Data.Operation = OperationDeploy
	store.Data.RunID = "not-a-uuid"
	store.Data.Completed = false
	store.Data.Steps = map[string]state.StepRecord{"submit": {Status: state.StatusDone}}
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	res, err := d.Deploy(context.Background(), "Demo", smallTemplate(t))
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !logx.IsUUIDv4(res.RunID) || store.Data.RunID != res.RunID {
		t.Fatalf("expected journal to hold run %s, got %q", res.RunID, store.Data.RunID)
	}
	if len(cf.created) != 1 || aws.ToString(cf.created[0].ClientRequestToken) != requestToken(res.RunID, "create") {
		t.Fatalf("expected a fresh create tied to the persisted run id")
	}

	reloaded, err := state.LoadOrCreate(store.Path, "Demo")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Data.RunID != res.RunID {
		t.Fatalf("expected persisted run %s, got %s", res.RunID, reloaded.Data.RunID)
	}
}

func TestDestroyEmptiesBucketsBeforeDelete(t *testing.T) {
	var calls []string
	cf := newFakeCFN(&calls)
	cf.stacks["Demo"] = &cftypes.Stack{StackName: aws.String("Demo"), StackStatus: cftypes.StackStatusCreateComplete}
	cf.resources = []cftypes.StackResourceSummary{
		{ResourceType: aws.String("AWS::S3::Bucket"), PhysicalResourceId: aws.String("alice-bucket"), ResourceStatus: cftypes.ResourceStatusCreateComplete},
		{ResourceType: aws.String("AWS::S3::Bucket"), PhysicalResourceId: aws.String("gone-bucket"), ResourceStatus: cftypes.ResourceStatusDeleteComplete},
		{ResourceType: aws.String("AWS::S3::Bucket"), PhysicalResourceId: aws.String("bob-bucket"), ResourceStatus: cftypes.ResourceStatusCreateComplete},
		{ResourceType: aws.String("AWS::IAM::Role"), PhysicalResourceId: aws.String("UserRolealice"), ResourceStatus: cftypes.ResourceStatusCreateComplete},
	}
	s3c := newFakeS3(&calls)
	for i := 0; i < 5; i++ {
		s3c.versions["alice-bucket"] = append(s3c.versions["alice-bucket"], s3types.ObjectVersion{
			Key:       aws.String(fmt.Sprintf("data/%d.csv", i)),
			VersionId: aws.String(fmt.Sprintf("v%d", i)),
		})
	}
	s3c.missing["bob-bucket"] = true
	d, store, waits := newTestDeployer(t, cf, s3c, Options{})

	res, err := d.Destroy(context.Background(), "Demo")
	if err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if res.Action != ActionDelete {
		t.Fatalf("expected delete, got %s", res.Action)
	}
	if s3c.deleted["alice-bucket"] != 5 {
		t.Fatalf("expected 5 versions deleted, got %d", s3c.deleted["alice-bucket"])
	}
	if _, ok := s3c.deleted["gone-bucket"]; ok {
		t.Fatalf("already deleted bucket must be skipped")
	}
	if len(calls) == 0 || calls[len(calls)-1] != "DeleteStack" {
		t.Fatalf("expected DeleteStack after emptying buckets, got %v", calls)
	}
	if !strings.HasPrefix(aws.ToString(cf.deleted[0].ClientRequestToken), "mlws-") {
		t.Fatalf("expected request token on delete")
	}
	if len(*waits) != 1 || (*waits)[0].action != ActionDelete {
		t.Fatalf("expected one delete wait, got %+v", *waits)
	}
	if !store.Data.Completed || store.Data.Operation != OperationDestroy {
		t.Fatalf("expected completed destroy journal, got %+v", store.Data)
	}
}

func TestDestroyMissingStack(t *testing.T) {
	cf := newFakeCFN(nil)
	d, _, waits := newTestDeployer(t, cf, newFakeS3(nil), Options{})

	res, err := d.Destroy(context.Background(), "Demo")
	if err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if res.Action != ActionNone || len(cf.deleted) != 0 || len(*waits) != 0 {
		t.Fatalf("expected no-op destroy, got %s", res.Action)
	}
}

func TestDestroyDryRun(t *testing.T) {
	cf := newFakeCFN(nil)
	cf.stacks["Demo"] = &cftypes.Stack{StackName: aws.String("Demo"), StackStatus: cftypes.StackStatusCreateComplete}
	cf.resources = []cftypes.StackResourceSummary{
		{ResourceType: aws.String("AWS::S3::Bucket"), PhysicalResourceId: aws.String("alice-bucket"), ResourceStatus: cftypes.ResourceStatusCreateComplete},
	}
	s3c := newFakeS3(nil)
	s3c.versions["alice-bucket"] = []s3types.ObjectVersion{{Key: aws.String("k"), VersionId: aws.String("v")}}
	d, _, _ := newTestDeployer(t, cf, s3c, Options{DryRun: true})

	res, err := d.Destroy(context.Background(), "Demo")
	if err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if res.Action != ActionDryRun || len(cf.deleted) != 0 || len(s3c.deleted) != 0 {
		t.Fatalf("dry-run must not delete anything")
	}
}

func TestRequestToken(t *testing.T) {
	run := "0b5c7a8e-3f6d-4a51-9d1e-2f3a4b5c6d7e"
	a := requestToken(run, "create")
	if a != requestToken(run, "create") {
		t.Fatalf("expected stable token")
	}
	if a == requestToken(run, "update") {
		t.Fatalf("expected distinct tokens per action")
	}
	if !strings.HasPrefix(a, "mlws-") || len(a) > 128 {
		t.Fatalf("unexpected token %q", a)
	}
}

func TestTemplateKey(t *testing.T) {
	body := []byte(`{"Resources":{}}`)
	if TemplateKey("Demo", body) != TemplateKey("Demo", body) {
		t.Fatalf("expected content addressed key")
	}
	if TemplateKey("Demo", body) == TemplateKey("Demo", []byte(`{}`)) {
		t.Fatalf("expected different keys for different bodies")
	}
	if got := templateURL("assets", "", "k.json"); got != "https://assets.s3.amazonaws.com/k.json" {
		t.Fatalf("unexpected global url %s", got)
	}
}
