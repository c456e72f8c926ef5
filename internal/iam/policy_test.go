package iam

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestARN(t *testing.T) {
	got := ARN("sagemaker", "training-job/alice-*", true)
	want := "arn:${AWS::Partition}:sagemaker:${AWS::Region}:${AWS::AccountId}:training-job/alice-*"
	if got != want {
		t.Fatalf("ARN mismatch:\n got %s\nwant %s", got, want)
	}

	global := ARN("iam", "role/x", false)
	if global != "arn:${AWS::Partition}:iam:::role/x" {
		t.Fatalf("unexpected global ARN %s", global)
	}
}

func TestAssumeRoleDocument(t *testing.T) {
	doc := AssumeRoleDocument("sagemaker.amazonaws.com")
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"Version":"2012-10-17"`, `"Service":"sagemaker.amazonaws.com"`, `"Action":["sts:AssumeRole"]`} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %s in %s", want, s)
		}
	}
	if strings.Contains(s, "Resource") {
		t.Fatalf("trust policy must not carry a Resource: %s", s)
	}
}

func TestDocumentLen(t *testing.T) {
	var nilDoc *PolicyDocument
	if nilDoc.Len() != 0 {
		t.Fatalf("nil document should have zero statements")
	}
	doc := NewDocument()
	doc.Add(Statement{Effect: Allow, Action: []string{"s3:GetObject"}, Resource: Resources("*")})
	if doc.Len() != 1 {
		t.Fatalf("expected one statement, got %d", doc.Len())
	}
}
