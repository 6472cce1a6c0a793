// Package network builds networking patterns: VPCs spanning multiple
// CIDRs and security groups declared together with their rules.
package network

import (
	"fmt"
	"sort"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// MultiCidrVpcArgs configures a MultiCidrVpc.
type MultiCidrVpcArgs struct {
	// CidrBlock describes the IP space of the VPC.
	CidrBlock string
	// EgressViaInternetGateway establishes an outbound route to the
	// Internet via the Internet Gateway. Requires EnableInternetGateway.
	EgressViaInternetGateway bool
	// EgressViaNatGateway establishes an outbound route to the Internet
	// via the NAT Gateway. Requires EnableNatGateway.
	EgressViaNatGateway bool
	// EnableDnsHostnames builds internal DNS mappings for IPs assigned
	// within the VPC. Required by some services, such as load-balanced
	// Fargate clusters.
	EnableDnsHostnames bool
	// EnableInternetGateway builds an IGW to allow traffic outbound to
	// the Internet.
	EnableInternetGateway bool
	// EnableNatGateway builds a NAT Gateway to route inbound traffic.
	EnableNatGateway bool
	// EndpointGateways lists public-facing AWS services, such as s3, to
	// create VPC gateway endpoints to.
	EndpointGateways []string
	// EndpointInterfaces lists AWS services to create VPC interface
	// endpoints for. Use only the service name portion, such as
	// "secretsmanager", not the fully qualified name.
	EndpointInterfaces []string
	// Subnets maps availability zone names to the CIDRs to build in that
	// zone. Each CIDR must be a valid subset of CidrBlock.
	Subnets map[string][]string
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// MultiCidrVpc builds a VPC with configurable network space, its subnets
// associated to the default route table, optional gateways, and optional
// endpoints to AWS services.
type MultiCidrVpc struct {
	tbpulumi.ComponentResource

	Vpc                          *ec2.Vpc
	Subnets                      []*ec2.Subnet
	RouteTableSubnetAssociations []*ec2.RouteTableAssociation
	InternetGateway              *ec2.InternetGateway
	SubnetIgRoute                *ec2.Route
	NatEip                       *ec2.Eip
	NatGateway                   *ec2.NatGateway
	SubnetNgRoute                *ec2.Route
	EndpointSg                   *SecurityGroupWithRules
	Interfaces                   []*ec2.VpcEndpoint
	Gateways                     []*ec2.VpcEndpoint
}

// NewMultiCidrVpc registers a MultiCidrVpc and all of its members with
// the given project.
func NewMultiCidrVpc(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *MultiCidrVpcArgs, opts ...pulumi.ResourceOption) (*MultiCidrVpc, error) {
	if args == nil {
		args = &MultiCidrVpcArgs{}
	}
	cidrBlock := args.CidrBlock
	if cidrBlock == "" {
		cidrBlock = "10.0.0.0/16"
	}

	mcv := &MultiCidrVpc{}
	err := tbpulumi.NewComponent(ctx, "tb:network:MultiCidrVpc", name, project, mcv,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	mcv.Vpc, err = ec2.NewVpc(ctx, name, &ec2.VpcArgs{
		CidrBlock:          pulumi.String(cidrBlock),
		EnableDnsHostnames: pulumi.Bool(args.EnableDnsHostnames),
		Tags:               mcv.TagsWith(map[string]string{"Name": name}),
	}, pulumi.Parent(mcv))
	if err != nil {
		return nil, fmt.Errorf("failed to build VPC %s: %w", name, err)
	}

	// Iterate zones in stable order so resource names stay consistent
	// across runs.
	zones := make([]string, 0, len(args.Subnets))
	for az := range args.Subnets {
		zones = append(zones, az)
	}
	sort.Strings(zones)

	idx := 0
	for _, az := range zones {
		for _, cidr := range args.Subnets[az] {
			subnetName := fmt.Sprintf("%s-subnet-%d", name, idx)
			subnet, err := ec2.NewSubnet(ctx, subnetName, &ec2.SubnetArgs{
				AvailabilityZone: pulumi.String(az),
				CidrBlock:        pulumi.String(cidr),
				VpcId:            mcv.Vpc.ID(),
				Tags:             mcv.TagsWith(map[string]string{"Name": subnetName}),
			}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{mcv.Vpc}))
			if err != nil {
				return nil, fmt.Errorf("failed to build subnet %s: %w", subnetName, err)
			}
			mcv.Subnets = append(mcv.Subnets, subnet)
			idx++
		}
	}

	// Associate the VPC's default route table to all of the subnets,
	// enabling traffic among them.
	for idx, subnet := range mcv.Subnets {
		assoc, err := ec2.NewRouteTableAssociation(ctx, fmt.Sprintf("%s-subnetassoc-%d", name, idx),
			&ec2.RouteTableAssociationArgs{
				RouteTableId: mcv.Vpc.DefaultRouteTableId,
				SubnetId:     subnet.ID(),
			}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{subnet, mcv.Vpc}))
		if err != nil {
			return nil, err
		}
		mcv.RouteTableSubnetAssociations = append(mcv.RouteTableSubnetAssociations, assoc)
	}

	if args.EnableInternetGateway {
		mcv.InternetGateway, err = ec2.NewInternetGateway(ctx, fmt.Sprintf("%s-ig", name),
			&ec2.InternetGatewayArgs{
				VpcId: mcv.Vpc.ID(),
				Tags:  mcv.TagsWith(map[string]string{"Name": name}),
			}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{mcv.Vpc}))
		if err != nil {
			return nil, err
		}
		if args.EgressViaInternetGateway {
			mcv.SubnetIgRoute, err = ec2.NewRoute(ctx, fmt.Sprintf("%s-igroute", name), &ec2.RouteArgs{
				RouteTableId:         mcv.Vpc.DefaultRouteTableId,
				DestinationCidrBlock: pulumi.String("0.0.0.0/0"),
				GatewayId:            mcv.InternetGateway.ID(),
			}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{mcv.Vpc, mcv.InternetGateway}))
			if err != nil {
				return nil, err
			}
		}
	}

	if args.EnableNatGateway {
		if len(mcv.Subnets) == 0 {
			return nil, fmt.Errorf("a NAT gateway for %s requires at least one subnet", name)
		}
		mcv.NatEip, err = ec2.NewEip(ctx, fmt.Sprintf("%s-eip", name), &ec2.EipArgs{
			Domain:             pulumi.String("vpc"),
			PublicIpv4Pool:     pulumi.String("amazon"),
			NetworkBorderGroup: pulumi.String(project.AwsRegion),
			Tags:               mcv.PulumiTags(),
		}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{mcv.Vpc}))
		if err != nil {
			return nil, err
		}
		mcv.NatGateway, err = ec2.NewNatGateway(ctx, fmt.Sprintf("%s-nat", name), &ec2.NatGatewayArgs{
			AllocationId: mcv.NatEip.AllocationId,
			SubnetId:     mcv.Subnets[0].ID(),
			Tags:         mcv.TagsWith(map[string]string{"Name": name}),
		}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{mcv.NatEip, mcv.Subnets[0]}))
		if err != nil {
			return nil, err
		}
		if args.EgressViaNatGateway {
			mcv.SubnetNgRoute, err = ec2.NewRoute(ctx, fmt.Sprintf("%s-ngroute", name), &ec2.RouteArgs{
				RouteTableId:         mcv.Vpc.DefaultRouteTableId,
				DestinationCidrBlock: pulumi.String("0.0.0.0/0"),
				NatGatewayId:         mcv.NatGateway.ID(),
			}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{mcv.Vpc, mcv.NatGateway}))
			if err != nil {
				return nil, err
			}
		}
	}

	// Endpoints need a security group admitting local traffic.
	if len(args.EndpointInterfaces)+len(args.EndpointGateways) > 0 {
		mcv.EndpointSg, err = NewSecurityGroupWithRules(ctx, fmt.Sprintf("%s-endpoint-sg", name), project,
			&SecurityGroupWithRulesArgs{
				VpcId: mcv.Vpc.ID(),
				Rules: SecurityGroupRules{
					Ingress: []SecurityGroupRule{{
						CidrBlocks:  []string{cidrBlock},
						Description: "Allow VPC access to endpoint-fronted AWS services",
						Protocol:    "TCP",
						FromPort:    443,
						ToPort:      443,
					}},
					Egress: []SecurityGroupRule{{
						CidrBlocks:  []string{"0.0.0.0/0"},
						Description: "Allow all TCP egress",
						Protocol:    "TCP",
						FromPort:    0,
						ToPort:      65535,
					}},
				},
				Tags:               mcv.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(mcv), pulumi.DependsOn([]pulumi.Resource{mcv.Vpc}))
		if err != nil {
			return nil, err
		}

		subnetIds := pulumi.StringArray{}
		endpointDeps := []pulumi.Resource{mcv.Vpc, mcv.EndpointSg.Sg}
		for _, subnet := range mcv.Subnets {
			subnetIds = append(subnetIds, subnet.ID())
			endpointDeps = append(endpointDeps, subnet)
		}

		for _, svc := range args.EndpointInterfaces {
			iface, err := ec2.NewVpcEndpoint(ctx, fmt.Sprintf("%s-interface-%s", name, svc),
				&ec2.VpcEndpointArgs{
					PrivateDnsEnabled: pulumi.Bool(true),
					ServiceName:       pulumi.Sprintf("com.amazonaws.%s.%s", project.AwsRegion, svc),
					SecurityGroupIds:  pulumi.StringArray{mcv.EndpointSg.Sg.ID()},
					SubnetIds:         subnetIds,
					VpcEndpointType:   pulumi.String("Interface"),
					VpcId:             mcv.Vpc.ID(),
					Tags:              mcv.PulumiTags(),
				}, pulumi.Parent(mcv), pulumi.DependsOn(endpointDeps))
			if err != nil {
				return nil, err
			}
			mcv.Interfaces = append(mcv.Interfaces, iface)
		}

		for _, svc := range args.EndpointGateways {
			gateway, err := ec2.NewVpcEndpoint(ctx, fmt.Sprintf("%s-gateway-%s", name, svc),
				&ec2.VpcEndpointArgs{
					RouteTableIds:   pulumi.StringArray{mcv.Vpc.DefaultRouteTableId},
					ServiceName:     pulumi.Sprintf("com.amazonaws.%s.%s", project.AwsRegion, svc),
					VpcEndpointType: pulumi.String("Gateway"),
					VpcId:           mcv.Vpc.ID(),
					Tags:            mcv.PulumiTags(),
				}, pulumi.Parent(mcv), pulumi.DependsOn(endpointDeps))
			if err != nil {
				return nil, err
			}
			mcv.Gateways = append(mcv.Gateways, gateway)
		}
	}

	err = mcv.Finish(ctx, nil, tbpulumi.ResourceMap{
		"endpoint_sg":                     mcv.EndpointSg,
		"gateways":                        mcv.Gateways,
		"interfaces":                      mcv.Interfaces,
		"internet_gateway":                mcv.InternetGateway,
		"nat_eip":                         mcv.NatEip,
		"nat_gateway":                     mcv.NatGateway,
		"route_table_subnet_associations": mcv.RouteTableSubnetAssociations,
		"subnets":                         mcv.Subnets,
		"subnet_ig_route":                 mcv.SubnetIgRoute,
		"subnet_ng_route":                 mcv.SubnetNgRoute,
		"vpc":                             mcv.Vpc,
	})
	if err != nil {
		return nil, err
	}
	return mcv, nil
}
