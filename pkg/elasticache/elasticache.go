// Package elasticache builds ElastiCache replication groups inside a
// VPC.
package elasticache

import (
	"fmt"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/elasticache"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/network"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// Parameter sets one cache engine parameter in the parameter group.
type Parameter struct {
	Name  string
	Value string
}

// ReplicationGroupArgs configures an ElastiCacheReplicationGroup.
type ReplicationGroupArgs struct {
	// Subnets to build the cache nodes in. At least one is required.
	Subnets []*awsec2.Subnet
	// Description of the replication group. Defaults to
	// "<name>-<engine>-<version>".
	Description string
	// Engine is the cache engine. Defaults to redis.
	Engine string
	// EngineVersion defaults to 7.1.
	EngineVersion string
	// NodeType defaults to cache.t3.micro.
	NodeType string
	// NumCacheNodes is the total number of nodes, primary included.
	// Defaults to 1.
	NumCacheNodes int
	// ParameterGroupFamily defaults to redis7, which comports with the
	// default engine version.
	ParameterGroupFamily string
	// ParameterGroupParams adjusts cache engine settings.
	ParameterGroupParams []Parameter
	// Port the cache listens on. Defaults to 6379.
	Port int
	// SourceCidrs lists CIDR blocks allowed to reach the cache.
	SourceCidrs []string
	// SourceSgids lists security groups allowed to reach the cache.
	SourceSgids []pulumi.StringInput
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// ElastiCacheReplicationGroup builds an ElastiCache replication group in
// your VPC. This provides a primary writable node with zero or more
// readable replica nodes. The default configuration is a single-node
// Redis 7.1 replication group. Multi-node deployments spread their nodes
// across the provided subnets.
type ElastiCacheReplicationGroup struct {
	tbpulumi.ComponentResource

	ReplicationGroup *elasticache.ReplicationGroup
	ParameterGroup   *elasticache.ParameterGroup
	SecurityGroup    *network.SecurityGroupWithRules
	SubnetGroup      *elasticache.SubnetGroup
}

// NewElastiCacheReplicationGroup registers the replication group and its
// members with the given project.
func NewElastiCacheReplicationGroup(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *ReplicationGroupArgs, opts ...pulumi.ResourceOption) (*ElastiCacheReplicationGroup, error) {
	if args == nil {
		args = &ReplicationGroupArgs{}
	}
	if len(args.Subnets) < 1 {
		return nil, fmt.Errorf("a replication group for %s requires at least one subnet", name)
	}
	engine := args.Engine
	if engine == "" {
		engine = "redis"
	}
	engineVersion := args.EngineVersion
	if engineVersion == "" {
		engineVersion = "7.1"
	}
	nodeType := args.NodeType
	if nodeType == "" {
		nodeType = "cache.t3.micro"
	}
	numCacheNodes := args.NumCacheNodes
	if numCacheNodes == 0 {
		numCacheNodes = 1
	}
	family := args.ParameterGroupFamily
	if family == "" {
		family = "redis7"
	}
	port := args.Port
	if port == 0 {
		port = 6379
	}
	description := args.Description
	if description == "" {
		description = fmt.Sprintf("%s-%s-%s", name, engine, engineVersion)
	}

	ecrg := &ElastiCacheReplicationGroup{}
	err := tbpulumi.NewComponent(ctx, "tb:elasticache:ElastiCacheReplicationGroup", name, project, ecrg,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	rules := network.SecurityGroupRules{
		Egress: []network.SecurityGroupRule{{
			CidrBlocks:  []string{"0.0.0.0/0"},
			FromPort:    0,
			ToPort:      65535,
			Protocol:    "tcp",
			Description: "Allow all egress",
		}},
	}
	if len(args.SourceCidrs) > 0 {
		rules.Ingress = append(rules.Ingress, network.SecurityGroupRule{
			Description: "Allow traffic from certain CIDR blocks",
			FromPort:    port,
			ToPort:      port,
			Protocol:    "tcp",
			CidrBlocks:  args.SourceCidrs,
		})
	}
	for _, sgid := range args.SourceSgids {
		rules.Ingress = append(rules.Ingress, network.SecurityGroupRule{
			Description:           "Allow traffic from certain other security groups",
			FromPort:              port,
			ToPort:                port,
			Protocol:              "tcp",
			SourceSecurityGroupId: sgid,
		})
	}
	ecrg.SecurityGroup, err = network.NewSecurityGroupWithRules(ctx, name, project,
		&network.SecurityGroupWithRulesArgs{
			Rules:              rules,
			VpcId:              args.Subnets[0].VpcId,
			Tags:               ecrg.Tags,
			ExcludeFromProject: true,
		}, pulumi.Parent(ecrg))
	if err != nil {
		return nil, err
	}

	params := elasticache.ParameterGroupParameterArray{}
	for _, p := range args.ParameterGroupParams {
		params = append(params, &elasticache.ParameterGroupParameterArgs{
			Name:  pulumi.String(p.Name),
			Value: pulumi.String(p.Value),
		})
	}
	ecrg.ParameterGroup, err = elasticache.NewParameterGroup(ctx, fmt.Sprintf("%s-parameter-group", name),
		&elasticache.ParameterGroupArgs{
			Name:       pulumi.String(name),
			Family:     pulumi.String(family),
			Parameters: params,
			Tags:       ecrg.PulumiTags(),
		}, pulumi.Parent(ecrg))
	if err != nil {
		return nil, err
	}

	subnetIds := pulumi.StringArray{}
	for _, subnet := range args.Subnets {
		subnetIds = append(subnetIds, subnet.ID())
	}
	ecrg.SubnetGroup, err = elasticache.NewSubnetGroup(ctx, fmt.Sprintf("%s-subnet-group", name),
		&elasticache.SubnetGroupArgs{
			Description: pulumi.Sprintf("Subnet group for %s", name),
			Name:        pulumi.String(name),
			SubnetIds:   subnetIds,
			Tags:        ecrg.PulumiTags(),
		}, pulumi.Parent(ecrg))
	if err != nil {
		return nil, err
	}

	ecrg.ReplicationGroup, err = elasticache.NewReplicationGroup(ctx, fmt.Sprintf("%s-replication-group", name),
		&elasticache.ReplicationGroupArgs{
			Description:        pulumi.String(description),
			Engine:             pulumi.String(engine),
			EngineVersion:      pulumi.String(engineVersion),
			NodeType:           pulumi.String(nodeType),
			NumCacheClusters:   pulumi.Int(numCacheNodes),
			ParameterGroupName: ecrg.ParameterGroup.Name,
			Port:               pulumi.Int(port),
			ReplicationGroupId: pulumi.String(name),
			SecurityGroupIds:   pulumi.StringArray{ecrg.SecurityGroup.Sg.ID()},
			SubnetGroupName:    ecrg.SubnetGroup.Name,
			Tags:               ecrg.PulumiTags(),
		}, pulumi.Parent(ecrg),
		pulumi.DependsOn([]pulumi.Resource{ecrg.SecurityGroup, ecrg.ParameterGroup, ecrg.SubnetGroup}))
	if err != nil {
		return nil, fmt.Errorf("failed to build replication group %s: %w", name, err)
	}

	err = ecrg.Finish(ctx, nil, tbpulumi.ResourceMap{
		"replication_group": ecrg.ReplicationGroup,
		"parameter_group":   ecrg.ParameterGroup,
		"security_group":    ecrg.SecurityGroup,
		"subnet_group":      ecrg.SubnetGroup,
	})
	if err != nil {
		return nil, err
	}
	return ecrg, nil
}
