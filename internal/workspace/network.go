package workspace

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/fslongjin/mlworkspace/internal/cfn"
)

const (
	typeVPC              = "AWS::EC2::VPC"
	typeSubnet           = "AWS::EC2::Subnet"
	typeRouteTable       = "AWS::EC2::RouteTable"
	typeRouteTableAssoc  = "AWS::EC2::SubnetRouteTableAssociation"
	typeSecurityGroup    = "AWS::EC2::SecurityGroup"
	typeVPCEndpoint      = "AWS::EC2::VPCEndpoint"
	endpointSecurityName = "EndpointSecurityGroup"
)

// interfaceEndpoint is a private access point for one AWS service.
type interfaceEndpoint struct {
	logicalID string
	// service is appended to the regional prefix.
	service string
	// prefix is "com.amazonaws" for most services; SageMaker Studio and the
	// notebook runtime live under "aws.sagemaker".
	prefix string
}

// interfaceEndpoints is the fixed endpoint list. Order is stable so the
// rendered template is too.
var interfaceEndpoints = []interfaceEndpoint{
	{logicalID: "STSVpcEndpoint", service: "sts", prefix: "com.amazonaws"},
	{logicalID: "LogsVpcEndpoint", service: "logs", prefix: "com.amazonaws"},
	{logicalID: "LakeFormationVpcEndpoint", service: "lakeformation", prefix: "com.amazonaws"},
	{logicalID: "AthenaVpcEndpoint", service: "athena", prefix: "com.amazonaws"},
	{logicalID: "EcrVpcEndpoint", service: "ecr.api", prefix: "com.amazonaws"},
	{logicalID: "EcrDockerVpcEndpoint", service: "ecr.dkr", prefix: "com.amazonaws"},
	{logicalID: "KmsVpcEndpoint", service: "kms", prefix: "com.amazonaws"},
	{logicalID: "CodeArtifactApiVpcEndpoint", service: "codeartifact.api", prefix: "com.amazonaws"},
	{logicalID: "CodeArtifactRepositoriesVpcEndpoint", service: "codeartifact.repositories", prefix: "com.amazonaws"},
	{logicalID: "CodeCommitVpcEndpoint", service: "codecommit", prefix: "com.amazonaws"},
	{logicalID: "SmApiVpcEndpoint", service: "sagemaker.api", prefix: "com.amazonaws"},
	{logicalID: "SmStudioApiVpcEndpoint", service: "studio", prefix: "aws.sagemaker"},
	{logicalID: "SmNotebookRuntimeApiVpcEndpoint", service: "notebook", prefix: "aws.sagemaker"},
	{logicalID: "SmRuntimeApiVpcEndpoint", service: "sagemaker.runtime", prefix: "com.amazonaws"},
	{logicalID: "SecretsManagerApiVpcEndpoint", service: "secretsmanager", prefix: "com.amazonaws"},
}

func (e interfaceEndpoint) serviceName() map[string]any {
	return cfn.Sub(fmt.Sprintf("%s.${%s}.%s", e.prefix, cfn.Region, e.service))
}

type network struct {
	vpc         string
	subnets     []string
	routeTables []string
}

func (n *network) subnetRefs() []any {
	refs := make([]any, 0, len(n.subnets))
	for _, s := range n.subnets {
		refs = append(refs, cfn.Ref(s))
	}
	return refs
}

func (n *network) routeTableRefs() []any {
	refs := make([]any, 0, len(n.routeTables))
	for _, rt := range n.routeTables {
		refs = append(refs, cfn.Ref(rt))
	}
	return refs
}

// addNetwork declares the VPC with one isolated subnet per availability zone
// and the private endpoints. No internet or NAT gateway is declared, and the
// route tables carry only the local route plus the S3 gateway prefix list.
func (b *Builder) addNetwork(tmpl *cfn.Template) (*network, error) {
	nc := b.cfg.Network
	net := &network{vpc: "Vpc"}

	if err := tmpl.AddResource(net.vpc, "", &cfn.Resource{
		Type: typeVPC,
		Properties: map[string]any{
			"CidrBlock":          nc.CIDR,
			"EnableDnsHostnames": true,
			"EnableDnsSupport":   true,
			"InstanceTenancy":    "default",
			"Tags":               nameTags(b.cfg.Deployment + "/Vpc"),
		},
	}); err != nil {
		return nil, err
	}

	cidrs, err := splitCIDR(nc.CIDR, nc.SubnetCIDRMask, nc.MaxAZs)
	if err != nil {
		return nil, err
	}
	for i, cidr := range cidrs {
		subnetID := fmt.Sprintf("IsolatedSubnet%d", i+1)
		rtID := subnetID + "RouteTable"
		if err := tmpl.AddResource(subnetID, "", &cfn.Resource{
			Type: typeSubnet,
			Properties: map[string]any{
				"VpcId":               cfn.Ref(net.vpc),
				"AvailabilityZone":    cfn.Select(i, cfn.GetAZs()),
				"CidrBlock":           cidr,
				"MapPublicIpOnLaunch": false,
				"Tags": append(nameTags(fmt.Sprintf("%s/Vpc/%s", b.cfg.Deployment, subnetID)),
					cfn.Tag{Key: "mlworkspace:subnet-type", Value: "Isolated"}),
			},
		}); err != nil {
			return nil, err
		}
		if err := tmpl.AddResource(rtID, "", &cfn.Resource{
			Type: typeRouteTable,
			Properties: map[string]any{
				"VpcId": cfn.Ref(net.vpc),
				"Tags":  nameTags(fmt.Sprintf("%s/Vpc/%s", b.cfg.Deployment, subnetID)),
			},
		}); err != nil {
			return nil, err
		}
		if err := tmpl.AddResource(subnetID+"RouteTableAssociation", "", &cfn.Resource{
			Type: typeRouteTableAssoc,
			Properties: map[string]any{
				"RouteTableId": cfn.Ref(rtID),
				"SubnetId":     cfn.Ref(subnetID),
			},
		}); err != nil {
			return nil, err
		}
		net.subnets = append(net.subnets, subnetID)
		net.routeTables = append(net.routeTables, rtID)
	}

	if err := tmpl.AddResource(endpointSecurityName, "", &cfn.Resource{
		Type: typeSecurityGroup,
		Properties: map[string]any{
			"GroupDescription": b.cfg.Deployment + " VPC endpoints",
			"VpcId":            cfn.Ref(net.vpc),
			"SecurityGroupIngress": []any{
				map[string]any{
					"IpProtocol":  "tcp",
					"FromPort":    443,
					"ToPort":      443,
					"CidrIp":      cfn.GetAtt(net.vpc, "CidrBlock"),
					"Description": "HTTPS from within the VPC",
				},
			},
			"SecurityGroupEgress": allEgress(),
		},
	}); err != nil {
		return nil, err
	}

	for _, ep := range interfaceEndpoints {
		if err := tmpl.AddResource(ep.logicalID, "", &cfn.Resource{
			Type: typeVPCEndpoint,
			Properties: map[string]any{
				"ServiceName":       ep.serviceName(),
				"VpcEndpointType":   "Interface",
				"PrivateDnsEnabled": true,
				"VpcId":             cfn.Ref(net.vpc),
				"SubnetIds":         net.subnetRefs(),
				"SecurityGroupIds":  []any{cfn.GetAtt(endpointSecurityName, "GroupId")},
			},
		}); err != nil {
			return nil, err
		}
	}

	if err := tmpl.AddResource("S3GatewayEndpoint", "", &cfn.Resource{
		Type: typeVPCEndpoint,
		Properties: map[string]any{
			"ServiceName":     cfn.Sub(fmt.Sprintf("com.amazonaws.${%s}.s3", cfn.Region)),
			"VpcEndpointType": "Gateway",
			"VpcId":           cfn.Ref(net.vpc),
			"RouteTableIds":   net.routeTableRefs(),
		},
	}); err != nil {
		return nil, err
	}
	return net, nil
}

// splitCIDR carves count consecutive subnets of the given mask out of the
// start of parent.
func splitCIDR(parent string, mask, count int) ([]string, error) {
	prefix, err := netip.ParsePrefix(parent)
	if err != nil {
		return nil, fmt.Errorf("parse cidr %q: %w", parent, err)
	}
	if !prefix.Addr().Is4() || mask < prefix.Bits() || mask > 32 {
		return nil, fmt.Errorf("cannot split %s into /%d subnets", parent, mask)
	}
	if capacity := 1 << (mask - prefix.Bits()); count > capacity {
		return nil, fmt.Errorf("%s fits %d /%d subnets, need %d", parent, capacity, mask, count)
	}

	base4 := prefix.Masked().Addr().As4()
	base := binary.BigEndian.Uint32(base4[:])
	size := uint32(1) << (32 - mask)
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var a [4]byte
		binary.BigEndian.PutUint32(a[:], base+uint32(i)*size)
		out = append(out, netip.PrefixFrom(netip.AddrFrom4(a), mask).String())
	}
	return out, nil
}

func allEgress() []any {
	return []any{
		map[string]any{
			"IpProtocol":  "-1",
			"CidrIp":      "0.0.0.0/0",
			"Description": "Allow all outbound traffic by default",
		},
	}
}

func nameTags(name string) []cfn.Tag {
	return []cfn.Tag{{Key: "Name", Value: name}}
}
