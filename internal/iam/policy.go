// Package iam models IAM policy documents as they appear inside a
// CloudFormation template.
package iam

import (
	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/fslongjin/mlworkspace/internal/cfn"
)

const PolicyVersion = "2012-10-17"

type Effect string

const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

// Statement is an (effect, actions, resources, conditions) tuple. Resources
// may hold plain strings or CloudFormation intrinsics.
type Statement struct {
	Sid       string                    `json:"Sid,omitempty" yaml:"Sid,omitempty"`
	Effect    Effect                    `json:"Effect" yaml:"Effect"`
	Principal any                       `json:"Principal,omitempty" yaml:"Principal,omitempty"`
	Action    []string                  `json:"Action" yaml:"Action"`
	Resource  []any                     `json:"Resource,omitempty" yaml:"Resource,omitempty"`
	Condition map[string]map[string]any `json:"Condition,omitempty" yaml:"Condition,omitempty"`
}

type PolicyDocument struct {
	Version   string      `json:"Version" yaml:"Version"`
	Statement []Statement `json:"Statement" yaml:"Statement"`
}

func NewDocument(statements ...Statement) *PolicyDocument {
	return &PolicyDocument{Version: PolicyVersion, Statement: statements}
}

// Add appends statements in declaration order.
func (d *PolicyDocument) Add(statements ...Statement) {
	d.Statement = append(d.Statement, statements...)
}

// Len reports the number of statements.
func (d *PolicyDocument) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Statement)
}

func ServicePrincipal(service string) map[string]any {
	return map[string]any{"Service": service}
}

// AssumeRoleDocument is a trust policy allowing service to assume the role.
func AssumeRoleDocument(service string) *PolicyDocument {
	return NewDocument(Statement{
		Effect:    Allow,
		Principal: ServicePrincipal(service),
		Action:    []string{"sts:AssumeRole"},
	})
}

// ARN builds an ARN template for the current stack's partition, region and
// account. Global services (regional=false) leave region and account empty.
func ARN(service, resource string, regional bool) string {
	a := arn.ARN{
		Partition: "${" + cfn.Partition + "}",
		Service:   service,
		Resource:  resource,
	}
	if regional {
		a.Region = "${" + cfn.Region + "}"
		a.AccountID = "${" + cfn.AccountID + "}"
	}
	return a.String()
}

// Resources is a small helper for building the Resource slice.
func Resources(values ...any) []any {
	return values
}
