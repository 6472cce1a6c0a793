// Package rds builds database groups on AWS RDS: a primary instance,
// optional read replicas behind a network load balancer, and the
// secrets and parameters downstream services use to find the databases.
package rds

import (
	"fmt"
	"net"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/kms"
	awsrds "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/rds"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/secretsmanager"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ssm"
	"github.com/pulumi/pulumi-random/sdk/v4/go/random"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/ec2"
	"github.com/thunderbird/pulumi-go/pkg/network"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// Parameter sets one database engine parameter in the parameter group.
type Parameter struct {
	Name  string
	Value string
}

// DatabaseGroupArgs configures an RdsDatabaseGroup.
type DatabaseGroupArgs struct {
	// DbName is the name of the database to create on the primary.
	DbName string
	// Subnets to build database instances in.
	Subnets []*awsec2.Subnet
	// VpcCidr is the CIDR of the VPC this group is built in. When
	// Internal is set and no SgCidrs are given, ingress is limited to
	// this range.
	VpcCidr string
	// VpcId is the VPC this group is built in.
	VpcId pulumi.StringInput

	// AllocatedStorage is the gigabytes of storage to provision.
	// Defaults to 20.
	AllocatedStorage int
	// AutoMinorVersionUpgrade applies minor engine upgrades during the
	// maintenance window. Defaults to true.
	AutoMinorVersionUpgrade *bool
	// ApplyImmediately applies changes outside the maintenance window.
	// Depending on the change, this could cause downtime.
	ApplyImmediately bool
	// BackupRetentionPeriod is days of backups to keep. Defaults to 7.
	BackupRetentionPeriod int
	// BlueGreenUpdate routes updates through a blue/green deployment.
	BlueGreenUpdate bool
	// BuildJumphost builds an SSH-able instance with access to the
	// databases, which are otherwise only internally accessible.
	BuildJumphost bool
	// DbUsername is the login of the root user. Defaults to root.
	DbUsername string
	// EnabledInstanceCloudwatchLogsExports lists log types each
	// instance ships to CloudWatch, such as audit, error, general,
	// slowquery, postgresql.
	EnabledInstanceCloudwatchLogsExports []string
	// Engine defaults to postgres.
	Engine string
	// EngineVersion defaults to 15.7.
	EngineVersion string
	// InstanceClass defaults to db.t3.micro.
	InstanceClass string
	// Internal limits database access to the VPC. Defaults to true.
	Internal *bool
	// JumphostPublicKey grants SSH access to the jumphost.
	JumphostPublicKey string
	// JumphostSourceCidrs limits where jumphost SSH connections may
	// come from.
	JumphostSourceCidrs []string
	// JumphostUserData runs on the jumphost's first boot.
	JumphostUserData pulumi.StringPtrInput
	// MaxAllocatedStorage caps storage autoscaling. Zero disables it.
	MaxAllocatedStorage int
	// NumInstances is the total count of servers, understood as one
	// primary and (NumInstances - 1) read replicas. Defaults to 1.
	NumInstances int
	// OverrideSpecial lists the special characters allowed in the
	// generated root password.
	OverrideSpecial string
	// Parameters adjusts database engine settings. They must be valid
	// for the ParameterGroupFamily.
	Parameters []Parameter
	// ParameterGroupFamily defaults to postgres15.
	ParameterGroupFamily string
	// PerformanceInsightsEnabled turns on Performance Insights.
	PerformanceInsightsEnabled bool
	// Port the databases listen on. When zero, the engine's well-known
	// port is used.
	Port int
	// SgCidrs lists CIDRs allowed to reach the databases. When empty, a
	// sensible default is selected from Internal and VpcCidr.
	SgCidrs []string
	// SkipFinalSnapshot skips the snapshot normally taken when an
	// instance is destroyed.
	SkipFinalSnapshot bool
	// StorageType defaults to gp3.
	StorageType string
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// RdsDatabaseGroup constructs a primary database and zero or more read
// replicas. A network load balancer spreads read load across the
// replicas, and SSM parameters publish the connection details.
type RdsDatabaseGroup struct {
	tbpulumi.ComponentResource

	Password            *random.RandomPassword
	Secret              *secretsmanager.Secret
	SecretVersion       *secretsmanager.SecretVersion
	SecurityGroup       *network.SecurityGroupWithRules
	SubnetGroup         *awsrds.SubnetGroup
	ParameterGroup      *awsrds.ParameterGroup
	Key                 *kms.Key
	Instances           []*awsrds.Instance
	Jumphost            *ec2.SshableInstance
	Nlb                 *ec2.NetworkLoadBalancer
	SsmParamPort        *ssm.Parameter
	SsmParamDbName      *ssm.Parameter
	SsmParamDbWriteHost *ssm.Parameter
	SsmParamDbReadHost  *ssm.Parameter
}

// NewRdsDatabaseGroup registers the database group with the given
// project. The load balancer over the instances is built in a
// continuation once the instance addresses have resolved, so the group
// registers its resource map from inside that continuation.
func NewRdsDatabaseGroup(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *DatabaseGroupArgs, opts ...pulumi.ResourceOption) (*RdsDatabaseGroup, error) {
	if args == nil {
		args = &DatabaseGroupArgs{}
	}
	if len(args.Subnets) == 0 {
		return nil, fmt.Errorf("a database group for %s requires at least one subnet", name)
	}
	allocatedStorage := args.AllocatedStorage
	if allocatedStorage == 0 {
		allocatedStorage = 20
	}
	autoMinorUpgrade := true
	if args.AutoMinorVersionUpgrade != nil {
		autoMinorUpgrade = *args.AutoMinorVersionUpgrade
	}
	backupRetention := args.BackupRetentionPeriod
	if backupRetention == 0 {
		backupRetention = 7
	}
	dbUsername := args.DbUsername
	if dbUsername == "" {
		dbUsername = "root"
	}
	engine := args.Engine
	if engine == "" {
		engine = "postgres"
	}
	engineVersion := args.EngineVersion
	if engineVersion == "" {
		engineVersion = "15.7"
	}
	instanceClass := args.InstanceClass
	if instanceClass == "" {
		instanceClass = "db.t3.micro"
	}
	internal := true
	if args.Internal != nil {
		internal = *args.Internal
	}
	jumphostSourceCidrs := args.JumphostSourceCidrs
	if len(jumphostSourceCidrs) == 0 {
		jumphostSourceCidrs = []string{"0.0.0.0/0"}
	}
	numInstances := args.NumInstances
	if numInstances == 0 {
		numInstances = 1
	}
	overrideSpecial := args.OverrideSpecial
	if overrideSpecial == "" {
		overrideSpecial = "!#$%&*()-_=+[]{}<>:?"
	}
	parameterGroupFamily := args.ParameterGroupFamily
	if parameterGroupFamily == "" {
		parameterGroupFamily = "postgres15"
	}
	storageType := args.StorageType
	if storageType == "" {
		storageType = "gp3"
	}
	port := args.Port
	if port == 0 {
		wellKnown, ok := constants.ServicePorts[engine]
		if !ok {
			return nil, fmt.Errorf("cannot determine the correct port to open for engine %s", engine)
		}
		port = wellKnown
	}
	cidrs := args.SgCidrs
	if len(cidrs) == 0 {
		if internal {
			cidrs = []string{args.VpcCidr}
		} else {
			cidrs = []string{"0.0.0.0/0"}
		}
	}

	rdg := &RdsDatabaseGroup{}
	err := tbpulumi.NewComponent(ctx, "tb:rds:RdsDatabaseGroup", name, project, rdg,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	// Generate a random password for the root user and store it where
	// humans and services can retrieve it.
	rdg.Password, err = random.NewRandomPassword(ctx, fmt.Sprintf("%s-password", name),
		&random.RandomPasswordArgs{
			Length:          pulumi.Int(29),
			OverrideSpecial: pulumi.String(overrideSpecial),
			Special:         pulumi.Bool(true),
			MinLower:        pulumi.Int(1),
			MinNumeric:      pulumi.Int(1),
			MinSpecial:      pulumi.Int(1),
			MinUpper:        pulumi.Int(1),
		}, pulumi.Parent(rdg))
	if err != nil {
		return nil, err
	}
	rdg.Secret, err = secretsmanager.NewSecret(ctx, fmt.Sprintf("%s-secret", name), &secretsmanager.SecretArgs{
		Name: pulumi.String(project.SecretPath(name, "root_password")),
	}, pulumi.Parent(rdg))
	if err != nil {
		return nil, err
	}
	rdg.SecretVersion, err = secretsmanager.NewSecretVersion(ctx, fmt.Sprintf("%s-secretversion", name),
		&secretsmanager.SecretVersionArgs{
			SecretId:     rdg.Secret.ID(),
			SecretString: rdg.Password.Result,
		}, pulumi.Parent(rdg), pulumi.DependsOn([]pulumi.Resource{rdg.Password}))
	if err != nil {
		return nil, err
	}

	rdg.SecurityGroup, err = network.NewSecurityGroupWithRules(ctx, fmt.Sprintf("%s-sg", name), project,
		&network.SecurityGroupWithRulesArgs{
			VpcId: args.VpcId.ToStringOutput().ToStringPtrOutput(),
			Rules: network.SecurityGroupRules{
				Ingress: []network.SecurityGroupRule{{
					CidrBlocks:  cidrs,
					Description: "Database access",
					Protocol:    "tcp",
					FromPort:    port,
					ToPort:      port,
				}},
			},
			Tags:               rdg.Tags,
			ExcludeFromProject: true,
		}, pulumi.Parent(rdg))
	if err != nil {
		return nil, err
	}

	subnetIds := pulumi.StringArray{}
	for _, subnet := range args.Subnets {
		subnetIds = append(subnetIds, subnet.ID())
	}
	rdg.SubnetGroup, err = awsrds.NewSubnetGroup(ctx, fmt.Sprintf("%s-subnetgroup", name),
		&awsrds.SubnetGroupArgs{
			Name:      pulumi.String(name),
			SubnetIds: subnetIds,
			Tags:      rdg.PulumiTags(),
		}, pulumi.Parent(rdg))
	if err != nil {
		return nil, err
	}

	params := awsrds.ParameterGroupParameterArray{}
	for _, p := range args.Parameters {
		params = append(params, &awsrds.ParameterGroupParameterArgs{
			Name:  pulumi.String(p.Name),
			Value: pulumi.String(p.Value),
		})
	}
	rdg.ParameterGroup, err = awsrds.NewParameterGroup(ctx, fmt.Sprintf("%s-parametergroup", name),
		&awsrds.ParameterGroupArgs{
			Name:       pulumi.String(name),
			Family:     pulumi.String(parameterGroupFamily),
			Parameters: params,
		}, pulumi.Parent(rdg))
	if err != nil {
		return nil, err
	}

	rdg.Key, err = kms.NewKey(ctx, fmt.Sprintf("%s-storage", name), &kms.KeyArgs{
		Description:          pulumi.Sprintf("Key to encrypt database storage for %s", name),
		DeletionWindowInDays: pulumi.Int(7),
		Tags:                 rdg.PulumiTags(),
	}, pulumi.Parent(rdg))
	if err != nil {
		return nil, err
	}

	logsExports := pulumi.ToStringArray(args.EnabledInstanceCloudwatchLogsExports)

	instanceId := fmt.Sprintf("%s-000", project.NamePrefix)
	primaryArgs := &awsrds.InstanceArgs{
		AllocatedStorage:             pulumi.Int(allocatedStorage),
		AllowMajorVersionUpgrade:     pulumi.Bool(false),
		ApplyImmediately:             pulumi.Bool(args.ApplyImmediately),
		AutoMinorVersionUpgrade:      pulumi.Bool(autoMinorUpgrade),
		BackupRetentionPeriod:        pulumi.Int(backupRetention),
		BlueGreenUpdate:              &awsrds.InstanceBlueGreenUpdateArgs{Enabled: pulumi.Bool(args.BlueGreenUpdate)},
		CopyTagsToSnapshot:           pulumi.Bool(true),
		DbName:                       pulumi.String(args.DbName),
		DbSubnetGroupName:            rdg.SubnetGroup.Name,
		EnabledCloudwatchLogsExports: logsExports,
		Engine:                       pulumi.String(engine),
		EngineVersion:                pulumi.String(engineVersion),
		Identifier:                   pulumi.String(instanceId),
		InstanceClass:                pulumi.String(instanceClass),
		KmsKeyId:                     rdg.Key.Arn,
		MaxAllocatedStorage:          pulumi.Int(args.MaxAllocatedStorage),
		Password:                     rdg.Password.Result,
		ParameterGroupName:           rdg.ParameterGroup.Name,
		PerformanceInsightsEnabled:   pulumi.Bool(args.PerformanceInsightsEnabled),
		Port:                         pulumi.Int(port),
		PubliclyAccessible:           pulumi.Bool(false),
		SkipFinalSnapshot:            pulumi.Bool(args.SkipFinalSnapshot),
		StorageEncrypted:             pulumi.Bool(true),
		StorageType:                  pulumi.String(storageType),
		Username:                     pulumi.String(dbUsername),
		VpcSecurityGroupIds:          pulumi.StringArray{rdg.SecurityGroup.Sg.ID()},
		Tags:                         rdg.TagsWith(map[string]string{"instanceId": instanceId}),
	}
	if args.PerformanceInsightsEnabled {
		primaryArgs.PerformanceInsightsKmsKeyId = rdg.Key.Arn
	}
	primary, err := awsrds.NewInstance(ctx, fmt.Sprintf("%s-instance-000", name), primaryArgs,
		pulumi.Parent(rdg),
		pulumi.DependsOn([]pulumi.Resource{rdg.Key, rdg.ParameterGroup, rdg.Password, rdg.SubnetGroup}))
	if err != nil {
		return nil, fmt.Errorf("failed to build the primary database for %s: %w", name, err)
	}
	rdg.Instances = append(rdg.Instances, primary)

	// The count includes the primary, so replicas start at 1.
	for idx := 1; idx < numInstances; idx++ {
		replicaId := fmt.Sprintf("%s-%03d", project.NamePrefix, idx)
		replicaArgs := &awsrds.InstanceArgs{
			AllowMajorVersionUpgrade:     pulumi.Bool(false),
			ApplyImmediately:             pulumi.Bool(args.ApplyImmediately),
			AutoMinorVersionUpgrade:      pulumi.Bool(autoMinorUpgrade),
			BackupRetentionPeriod:        pulumi.Int(backupRetention),
			BlueGreenUpdate:              &awsrds.InstanceBlueGreenUpdateArgs{Enabled: pulumi.Bool(args.BlueGreenUpdate)},
			CopyTagsToSnapshot:           pulumi.Bool(true),
			EnabledCloudwatchLogsExports: logsExports,
			Engine:                       pulumi.String(engine),
			EngineVersion:                pulumi.String(engineVersion),
			Identifier:                   pulumi.String(replicaId),
			InstanceClass:                pulumi.String(instanceClass),
			KmsKeyId:                     rdg.Key.Arn,
			MaxAllocatedStorage:          pulumi.Int(args.MaxAllocatedStorage),
			ParameterGroupName:           rdg.ParameterGroup.Name,
			PerformanceInsightsEnabled:   pulumi.Bool(args.PerformanceInsightsEnabled),
			Port:                         pulumi.Int(port),
			PubliclyAccessible:           pulumi.Bool(false),
			ReplicateSourceDb:            primary.Identifier,
			SkipFinalSnapshot:            pulumi.Bool(args.SkipFinalSnapshot),
			StorageEncrypted:             pulumi.Bool(true),
			StorageType:                  pulumi.String(storageType),
			VpcSecurityGroupIds:          pulumi.StringArray{rdg.SecurityGroup.Sg.ID()},
			Tags:                         rdg.TagsWith(map[string]string{"instanceId": replicaId}),
		}
		if args.PerformanceInsightsEnabled {
			replicaArgs.PerformanceInsightsKmsKeyId = rdg.Key.Arn
		}
		replica, err := awsrds.NewInstance(ctx, fmt.Sprintf("%s-instance-%03d", name, idx), replicaArgs,
			pulumi.Parent(rdg), pulumi.DependsOn([]pulumi.Resource{primary}))
		if err != nil {
			return nil, err
		}
		rdg.Instances = append(rdg.Instances, replica)
	}

	rdg.SsmParamPort, err = rdg.ssmParam(ctx, fmt.Sprintf("%s-ssm-port", name),
		project.ParamPath("db-port"), pulumi.Sprintf("%d", port))
	if err != nil {
		return nil, err
	}
	rdg.SsmParamDbName, err = rdg.ssmParam(ctx, fmt.Sprintf("%s-ssm-dbname", name),
		project.ParamPath("db-name"), pulumi.String(args.DbName))
	if err != nil {
		return nil, err
	}
	rdg.SsmParamDbWriteHost, err = rdg.ssmParam(ctx, fmt.Sprintf("%s-ssm-dbwritehost", name),
		project.ParamPath("db-write-host"), primary.Address)
	if err != nil {
		return nil, err
	}

	if args.BuildJumphost {
		rdg.Jumphost, err = ec2.NewSshableInstance(ctx, fmt.Sprintf("%s-jumphost", name), project,
			&ec2.SshableInstanceArgs{
				SubnetId:           args.Subnets[0].ID(),
				KmsKeyId:           rdg.Key.Arn,
				PublicKey:          args.JumphostPublicKey,
				SourceCidrs:        jumphostSourceCidrs,
				UserData:           args.JumphostUserData,
				VpcId:              args.VpcId.ToStringOutput().ToStringPtrOutput(),
				Tags:               rdg.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(rdg), pulumi.DependsOn([]pulumi.Resource{rdg.Key}))
		if err != nil {
			return nil, err
		}
	}

	// The NLB balances over instance IPs, which only exist once the
	// instance addresses have resolved. Registration of the group's
	// resource map therefore happens inside this continuation.
	addresses := make([]any, len(rdg.Instances))
	for i, instance := range rdg.Instances {
		addresses[i] = instance.Address
	}
	instanceDeps := make([]pulumi.Resource, len(rdg.Instances))
	for i, instance := range rdg.Instances {
		instanceDeps[i] = instance
	}
	pulumi.All(addresses...).ApplyT(func(addrs []any) (bool, error) {
		ips := make([]pulumi.StringInput, 0, len(addrs))
		for _, addr := range addrs {
			resolved, err := net.LookupHost(addr.(string))
			if err != nil {
				return false, fmt.Errorf("failed to resolve database address %v: %w", addr, err)
			}
			ips = append(ips, pulumi.String(resolved[0]))
		}

		rdg.Nlb, err = ec2.NewNetworkLoadBalancer(ctx, fmt.Sprintf("%s-nlb", name), project,
			&ec2.NetworkLoadBalancerArgs{
				ListenerPort:             port,
				Subnets:                  args.Subnets,
				TargetPort:               port,
				IngressCidrs:             []string{args.VpcCidr},
				Internal:                 true,
				Ips:                      ips,
				SecurityGroupDescription: fmt.Sprintf("Allow database traffic for %s", name),
				Tags:                     rdg.Tags,
				ExcludeFromProject:       true,
			}, pulumi.Parent(rdg), pulumi.DependsOn(instanceDeps))
		if err != nil {
			return false, err
		}

		rdg.SsmParamDbReadHost, err = rdg.ssmParam(ctx, fmt.Sprintf("%s-ssm-dbreadhost", name),
			project.ParamPath("db-read-host"), rdg.Nlb.Nlb.DnsName)
		if err != nil {
			return false, err
		}

		err = rdg.Finish(ctx, nil, tbpulumi.ResourceMap{
			"password":                  rdg.Password,
			"secret":                    rdg.Secret,
			"secret_version":            rdg.SecretVersion,
			"security_group_with_rules": rdg.SecurityGroup,
			"subnet_group":              rdg.SubnetGroup,
			"parameter_group":           rdg.ParameterGroup,
			"key":                       rdg.Key,
			"instances":                 rdg.Instances,
			"jumphost":                  rdg.Jumphost,
			"nlb":                       rdg.Nlb,
			"ssm_param_port":            rdg.SsmParamPort,
			"ssm_param_db_name":         rdg.SsmParamDbName,
			"ssm_param_db_write_host":   rdg.SsmParamDbWriteHost,
			"ssm_param_read_host":       rdg.SsmParamDbReadHost,
		})
		return err == nil, err
	})

	return rdg, nil
}

func (r *RdsDatabaseGroup) ssmParam(ctx *pulumi.Context, name, paramName string, value pulumi.StringInput) (*ssm.Parameter, error) {
	return ssm.NewParameter(ctx, name, &ssm.ParameterArgs{
		Name:  pulumi.String(paramName),
		Type:  pulumi.String("String"),
		Value: value,
	}, pulumi.Parent(r))
}
