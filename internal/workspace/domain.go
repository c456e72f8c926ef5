package workspace

import (
	"github.com/fslongjin/mlworkspace/internal/cfn"
	"github.com/fslongjin/mlworkspace/internal/iam"
)

const (
	typeRole         = "AWS::IAM::Role"
	typeDomain       = "AWS::SageMaker::Domain"
	defaultRoleID    = "DefaultRole"
	domainSecGroupID = "DomainSecurityGroup"
	notebookDomainID = "Domain"
	codeArtifactID   = "CodeArtifactDomain"
	codeArtifactRepo = "CodeArtifactRepository"
	typeCADomain     = "AWS::CodeArtifact::Domain"
	typeCARepository = "AWS::CodeArtifact::Repository"
)

// addDomain declares the notebook domain. Its default execution role has a
// trust policy and nothing else: every user runs under their own role.
func (b *Builder) addDomain(tmpl *cfn.Template, net *network) (string, error) {
	if err := tmpl.AddResource(defaultRoleID, "", &cfn.Resource{
		Type: typeRole,
		Properties: map[string]any{
			"AssumeRolePolicyDocument": iam.AssumeRoleDocument(sagemakerService),
		},
	}); err != nil {
		return "", err
	}

	dc := b.cfg.Domain
	if err := tmpl.AddResource(domainSecGroupID, "", &cfn.Resource{
		Type: typeSecurityGroup,
		Properties: map[string]any{
			"GroupDescription": b.cfg.Deployment + " notebook domain",
			"VpcId":            cfn.Ref(net.vpc),
			"SecurityGroupIngress": []any{
				map[string]any{
					"IpProtocol":  "tcp",
					"FromPort":    dc.AppPortFrom,
					"ToPort":      dc.AppPortTo,
					"CidrIp":      cfn.GetAtt(net.vpc, "CidrBlock"),
					"Description": "Notebook apps within the VPC",
				},
			},
			"SecurityGroupEgress": allEgress(),
		},
	}); err != nil {
		return "", err
	}

	if err := tmpl.AddResource(notebookDomainID, "", &cfn.Resource{
		Type: typeDomain,
		Properties: map[string]any{
			"AuthMode":   "IAM",
			"DomainName": b.cfg.DomainName(),
			"DefaultUserSettings": map[string]any{
				"ExecutionRole":            cfn.GetAtt(defaultRoleID, "Arn"),
				"SecurityGroups":           []any{cfn.GetAtt(domainSecGroupID, "GroupId")},
				"JupyterServerAppSettings": map[string]any{},
			},
			"VpcId":                cfn.Ref(net.vpc),
			"SubnetIds":            net.subnetRefs(),
			"AppNetworkAccessType": "VpcOnly",
		},
		DeletionPolicy:      cfn.PolicyDelete,
		UpdateReplacePolicy: cfn.PolicyDelete,
	}); err != nil {
		return "", err
	}
	return notebookDomainID, nil
}

type mirror struct {
	domain     string
	repository string
}

// addMirror declares the package mirror shared by every user, so notebooks
// can install packages without internet egress.
func (b *Builder) addMirror(tmpl *cfn.Template) (*mirror, error) {
	name := b.cfg.DomainName()
	m := &mirror{domain: codeArtifactID, repository: codeArtifactRepo}

	if err := tmpl.AddResource(m.domain, "", &cfn.Resource{
		Type:       typeCADomain,
		Properties: map[string]any{"DomainName": name},
	}); err != nil {
		return nil, err
	}
	if err := tmpl.AddResource(m.repository, "", &cfn.Resource{
		Type: typeCARepository,
		Properties: map[string]any{
			"DomainName":          name,
			"RepositoryName":      name,
			"ExternalConnections": []string{b.cfg.Mirror.ExternalConnection},
		},
		DependsOn: []string{m.domain},
	}); err != nil {
		return nil, err
	}
	return m, nil
}
