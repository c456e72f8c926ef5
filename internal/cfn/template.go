package cfn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

const FormatVersion = "2010-09-09"

// Service quotas CloudFormation enforces per template.
const (
	MaxResources = 500
	MaxOutputs   = 200
)

// PolicyDelete removes a resource with its stack or on replacement.
const PolicyDelete = "Delete"

var (
	// ErrDuplicateLogicalID is returned when two resources derive the same logical ID.
	ErrDuplicateLogicalID = errors.New("duplicate logical ID")
	// ErrInvalidLogicalID is returned for IDs CloudFormation would reject.
	ErrInvalidLogicalID = errors.New("invalid logical ID")
	// ErrLimitExceeded is returned when a template outgrows a quota.
	ErrLimitExceeded = errors.New("template limit exceeded")
)

var logicalIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,255}$`)

// Template is a CloudFormation template under construction.
type Template struct {
	AWSTemplateFormatVersion string               `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string               `json:"Description,omitempty" yaml:"Description,omitempty"`
	Metadata                 map[string]any       `json:"Metadata,omitempty" yaml:"Metadata,omitempty"`
	Resources                map[string]*Resource `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]*Output   `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`

	owners map[string]string
}

// Resource is a single entry of the Resources section.
type Resource struct {
	Type                string         `json:"Type" yaml:"Type"`
	Properties          map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty"`
	DependsOn           []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
	DeletionPolicy      string         `json:"DeletionPolicy,omitempty" yaml:"DeletionPolicy,omitempty"`
	UpdateReplacePolicy string         `json:"UpdateReplacePolicy,omitempty" yaml:"UpdateReplacePolicy,omitempty"`
}

// Output is a single entry of the Outputs section.
type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any    `json:"Value" yaml:"Value"`
}

// New returns an empty template.
func New(description string) *Template {
	return &Template{
		AWSTemplateFormatVersion: FormatVersion,
		Description:              description,
		Resources:                map[string]*Resource{},
		owners:                   map[string]string{},
	}
}

// AddResource registers r under logicalID. owner tags the resource for
// summaries (a user identifier, or "" for shared infrastructure).
func (t *Template) AddResource(logicalID, owner string, r *Resource) error {
	if !logicalIDPattern.MatchString(logicalID) {
		return fmt.Errorf("%w: %q", ErrInvalidLogicalID, logicalID)
	}
	if _, ok := t.Resources[logicalID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLogicalID, logicalID)
	}
	t.Resources[logicalID] = r
	if t.owners == nil {
		t.owners = map[string]string{}
	}
	t.owners[logicalID] = owner
	return nil
}

// AddOutput registers an output value.
func (t *Template) AddOutput(name, description string, value any) {
	if t.Outputs == nil {
		t.Outputs = map[string]*Output{}
	}
	t.Outputs[name] = &Output{Description: description, Value: value}
}

// Resource looks up a resource by logical ID.
func (t *Template) Resource(logicalID string) (*Resource, bool) {
	r, ok := t.Resources[logicalID]
	return r, ok
}

// Count returns how many resources have the given type.
func (t *Template) Count(resourceType string) int {
	n := 0
	for _, r := range t.Resources {
		if r.Type == resourceType {
			n++
		}
	}
	return n
}

// LogicalIDs returns all logical IDs in sorted order.
func (t *Template) LogicalIDs() []string {
	ids := make([]string, 0, len(t.Resources))
	for id := range t.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SummaryRow describes one resource of the graph.
type SummaryRow struct {
	LogicalID string `json:"logicalId" yaml:"logicalId"`
	Type      string `json:"type" yaml:"type"`
	Owner     string `json:"owner" yaml:"owner"`
}

// Summary lists every resource ordered by logical ID.
func (t *Template) Summary() []SummaryRow {
	ids := t.LogicalIDs()
	rows := make([]SummaryRow, 0, len(ids))
	for _, id := range ids {
		owner := t.owners[id]
		if owner == "" {
			owner = "shared"
		}
		rows = append(rows, SummaryRow{LogicalID: id, Type: t.Resources[id].Type, Owner: owner})
	}
	return rows
}

// Validate checks the template against CloudFormation quotas.
func (t *Template) Validate() error {
	if n := len(t.Resources); n > MaxResources {
		return fmt.Errorf("%w: %d resources (max %d)", ErrLimitExceeded, n, MaxResources)
	}
	if n := len(t.Outputs); n > MaxOutputs {
		return fmt.Errorf("%w: %d outputs (max %d)", ErrLimitExceeded, n, MaxOutputs)
	}
	return nil
}

// JSON renders the template as indented JSON. Map keys are sorted by
// encoding/json, so equal templates render identically.
func (t *Template) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("render template json: %w", err)
	}
	return buf.Bytes(), nil
}

// YAML renders the template as YAML.
func (t *Template) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("render template yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render template yaml: %w", err)
	}
	return buf.Bytes(), nil
}
