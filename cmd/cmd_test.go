package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/config"
	"github.com/fslongjin/mlworkspace/internal/deploy"
	"github.com/fslongjin/mlworkspace/internal/output"
)

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	configFile, contextArgs, statePath, logFile = "", nil, "", ""
	verbose = false
	synthFormat, synthOut = "json", ""
	planFormat = "table"
	destroyFormat, destroyDryRun, forceFlag = "table", false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSynthJSON(t *testing.T) {
	out, err := execute(t, "", "synth", "-c", "userNames=alice,bob")
	if err != nil {
		t.Fatalf("synth failed: %v", err)
	}
	var doc struct {
		AWSTemplateFormatVersion string
		Resources                map[string]cfn.Resource
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("synth output is not JSON: %v", err)
	}
	if doc.AWSTemplateFormatVersion != cfn.FormatVersion {
		t.Fatalf("unexpected format version %q", doc.AWSTemplateFormatVersion)
	}
	for _, id := range []string{"UserRolealice", "bobBucket", "Domain", "CodeArtifactRepository"} {
		if _, ok := doc.Resources[id]; !ok {
			t.Fatalf("expected resource %s in synth output", id)
		}
	}
}

func TestSynthYAMLToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.yaml")
	out, err := execute(t, "", "synth", "-c", "userNames=alice", "--format", "yaml", "--out", path)
	if err != nil {
		t.Fatalf("synth failed: %v", err)
	}
	if out != "" {
		t.Fatalf("expected nothing on stdout, got %q", out)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if !strings.Contains(string(b), "AWS::SageMaker::Domain") {
		t.Fatalf("expected domain in YAML template:\n%s", b)
	}
}

func TestSynthFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.yaml")
	content := "deployment: Research\nuserNames: [carol]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, err := execute(t, "", "synth", "-f", path)
	if err != nil {
		t.Fatalf("synth failed: %v", err)
	}
	if !strings.Contains(out, "UserRolecarol") || !strings.Contains(out, "research-domain") {
		t.Fatalf("expected carol's environment in research-domain")
	}
}

func TestSynthRejectsInvalidConfig(t *testing.T) {
	for _, args := range [][]string{
		{"synth"},
		{"synth", "-c", "userNames=alice,Alice"},
		{"synth", "-c", "userNames=al-ice"},
	} {
		out, err := execute(t, "", args...)
		if !errors.Is(err, config.ErrInvalid) {
			t.Fatalf("%v: expected ErrInvalid, got %v", args, err)
		}
		if out != "" {
			t.Fatalf("%v: expected no partial output, got %q", args, out)
		}
	}
}

func TestSynthRejectsUnknownFormat(t *testing.T) {
	if _, err := execute(t, "", "synth", "-c", "userNames=alice", "--format", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestPlanTable(t *testing.T) {
	out, err := execute(t, "", "plan", "-c", "userNames=alice")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	for _, want := range []string{"LOGICAL ID", "UserRolealice", "AWS::IAM::Role", "shared", "1 user(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in plan:\n%s", want, out)
		}
	}
}

func TestPlanJSON(t *testing.T) {
	out, err := execute(t, "", "plan", "-c", "userNames=alice,bob", "-o", "json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	var rows []cfn.SummaryRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("plan output is not JSON: %v", err)
	}
	owners := map[string]int{}
	for _, r := range rows {
		owners[r.Owner]++
	}
	if owners["alice"] != 5 || owners["bob"] != 5 {
		t.Fatalf("expected five resources per user, got %v", owners)
	}
}

func TestDestroyCancelled(t *testing.T) {
	out, err := execute(t, "n\n", "destroy", "-c", "userNames=alice", "--state", filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if out != "" {
		t.Fatalf("expected no result after cancel, got %q", out)
	}
}

func TestConfirm(t *testing.T) {
	var prompt bytes.Buffer
	ok, err := confirm(strings.NewReader("y\n"), &prompt, "Proceed?")
	if err != nil || !ok {
		t.Fatalf("expected yes, got %v, %v", ok, err)
	}
	if prompt.String() != "Proceed? [y/N]: " {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
	if ok, _ := confirm(strings.NewReader("\n"), io.Discard, "Proceed?"); ok {
		t.Fatalf("expected empty answer to mean no")
	}

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer f.Close()
	if _, err := confirm(f, io.Discard, "Proceed?"); !errors.Is(err, errNotInteractive) {
		t.Fatalf("expected errNotInteractive for a regular file, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	rootCmd.Version = "1.2.3 (commit: abc, built at: today)"
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "1.2.3") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestOpenStatePrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Deployment: "Demo", Deploy: config.DeployConfig{StatePath: filepath.Join(dir, "cfg.json")}}

	statePath = ""
	st, err := openState(cfg)
	if err != nil {
		t.Fatalf("openState failed: %v", err)
	}
	if st.Path != cfg.Deploy.StatePath {
		t.Fatalf("expected config path, got %s", st.Path)
	}

	statePath = filepath.Join(dir, "flag.json")
	defer func() { statePath = "" }()
	st, err = openState(cfg)
	if err != nil {
		t.Fatalf("openState failed: %v", err)
	}
	if st.Path != statePath {
		t.Fatalf("expected flag path, got %s", st.Path)
	}
}

func TestWriteResult(t *testing.T) {
	res := &deploy.Result{
		Stack:   "Demo",
		Action:  deploy.ActionCreate,
		RunID:   "run-1",
		Outputs: map[string]string{"VpcId": "vpc-1", "DomainId": "d-1"},
	}

	var buf bytes.Buffer
	if err := writeResult(&buf, output.FormatTable, res); err != nil {
		t.Fatalf("writeResult failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Stack Demo: create (run run-1)") || !strings.Contains(out, "OUTPUT") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if strings.Index(out, "DomainId") > strings.Index(out, "VpcId") {
		t.Fatalf("expected outputs sorted by key:\n%s", out)
	}

	buf.Reset()
	if err := writeResult(&buf, output.FormatJSON, res); err != nil {
		t.Fatalf("writeResult failed: %v", err)
	}
	var decoded deploy.Result
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json result: %v", err)
	}
	if decoded.Outputs["VpcId"] != "vpc-1" {
		t.Fatalf("unexpected decoded result %+v", decoded)
	}
}
