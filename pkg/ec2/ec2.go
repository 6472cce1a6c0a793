// Package ec2 builds compute patterns: SSH key pairs backed by Secrets
// Manager, SSH-reachable instances, and network load balancers fronting
// sets of IP addresses.
package ec2

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"golang.org/x/crypto/ssh"

	"github.com/thunderbird/pulumi-go/pkg/network"
	"github.com/thunderbird/pulumi-go/pkg/secrets"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// AmazonLinuxAmi is the default AMI for instances built here.
const AmazonLinuxAmi = "ami-0427090fd1714168b"

// SshKeyPairArgs configures an SshKeyPair.
type SshKeyPairArgs struct {
	// KeySize is the bit length of a generated private key.
	KeySize int
	// PublicKey is an existing public key to register. When empty, a new
	// keypair is generated on every run, which churns downstream
	// resources; prefer generating a key locally and passing it in.
	PublicKey string
	// SecretNamePart names the keypair segment of the secret path for
	// generated keys.
	SecretNamePart string
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// SshKeyPair builds an EC2 key pair. When no public key is supplied, a
// fresh RSA keypair is generated and both halves are stored as Secrets
// Manager secrets.
type SshKeyPair struct {
	tbpulumi.ComponentResource

	Keypair          *awsec2.KeyPair
	PrivateKey       string
	PublicKey        string
	PrivateKeySecret *secrets.SecretsManagerSecret
	PublicKeySecret  *secrets.SecretsManagerSecret
}

// NewSshKeyPair registers the key pair, and the secrets holding a
// generated key, with the given project.
func NewSshKeyPair(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *SshKeyPairArgs, opts ...pulumi.ResourceOption) (*SshKeyPair, error) {
	if args == nil {
		args = &SshKeyPairArgs{}
	}
	keySize := args.KeySize
	if keySize == 0 {
		keySize = 4096
	}
	secretNamePart := args.SecretNamePart
	if secretNamePart == "" {
		secretNamePart = "keypair"
	}

	skp := &SshKeyPair{}
	err := tbpulumi.NewComponent(ctx, "tb:ec2:SshKeyPair", name, project, skp,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	resources := tbpulumi.ResourceMap{}
	publicKey := args.PublicKey
	if publicKey == "" {
		skp.PrivateKey, skp.PublicKey, err = GenerateSshKeypair(keySize)
		if err != nil {
			return nil, fmt.Errorf("failed to generate a keypair for %s: %w", name, err)
		}
		publicKey = skp.PublicKey

		skp.PrivateKeySecret, err = secrets.NewSecretsManagerSecret(ctx, fmt.Sprintf("%s/privatekey", name),
			project, &secrets.SecretsManagerSecretArgs{
				SecretName:         project.SecretPath(secretNamePart, "private_key"),
				SecretValue:        pulumi.ToSecret(pulumi.String(skp.PrivateKey)).(pulumi.StringOutput),
				Tags:               skp.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(skp))
		if err != nil {
			return nil, err
		}
		skp.PublicKeySecret, err = secrets.NewSecretsManagerSecret(ctx, fmt.Sprintf("%s/publickey", name),
			project, &secrets.SecretsManagerSecretArgs{
				SecretName:         project.SecretPath(secretNamePart, "public_key"),
				SecretValue:        pulumi.String(skp.PublicKey),
				Tags:               skp.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(skp))
		if err != nil {
			return nil, err
		}
		resources["private_key_secret"] = skp.PrivateKeySecret
		resources["public_key_secret"] = skp.PublicKeySecret
	}

	skp.Keypair, err = awsec2.NewKeyPair(ctx, fmt.Sprintf("%s-keypair", name), &awsec2.KeyPairArgs{
		KeyName:   pulumi.String(name),
		PublicKey: pulumi.String(publicKey),
		Tags:      skp.PulumiTags(),
	}, pulumi.Parent(skp))
	if err != nil {
		return nil, err
	}
	resources["keypair"] = skp.Keypair

	if err := skp.Finish(ctx, nil, resources); err != nil {
		return nil, err
	}
	return skp, nil
}

// GenerateSshKeypair returns plaintext representations of a private and
// public RSA key for use in SSH authentication. The private key is PEM
// encoded PKCS#8; the public key is in OpenSSH authorized_keys format.
func GenerateSshKeypair(keySize int) (privateKey, publicKey string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return "", "", err
	}
	keyDer, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", err
	}
	privPem := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDer})

	sshPub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	pub := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))

	return string(privPem), pub, nil
}

// SshableInstanceArgs configures an SshableInstance.
type SshableInstanceArgs struct {
	// SubnetId places the instance in a subnet.
	SubnetId pulumi.StringInput
	// Ami overrides the default Amazon Linux image.
	Ami string
	// KmsKeyId encrypts the root block device with a specific key.
	KmsKeyId pulumi.StringPtrInput
	// PublicKey is an existing SSH public key granting access.
	PublicKey string
	// SourceCidrs limits where SSH connections may come from.
	SourceCidrs []string
	// UserData runs on first boot.
	UserData pulumi.StringPtrInput
	// VpcId places a generated security group in a VPC.
	VpcId pulumi.StringPtrInput
	// VpcSecurityGroupIds overrides the generated security group.
	VpcSecurityGroupIds pulumi.StringArrayInput
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// SshableInstance builds an EC2 instance reachable over SSH, with its
// key pair and, unless overridden, a security group admitting only SSH
// traffic from the given CIDRs.
type SshableInstance struct {
	tbpulumi.ComponentResource

	Instance      *awsec2.Instance
	Keypair       *SshKeyPair
	SecurityGroup *network.SecurityGroupWithRules
}

// NewSshableInstance registers the instance and its supporting resources
// with the given project.
func NewSshableInstance(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *SshableInstanceArgs, opts ...pulumi.ResourceOption) (*SshableInstance, error) {
	if args == nil {
		args = &SshableInstanceArgs{}
	}
	ami := args.Ami
	if ami == "" {
		ami = AmazonLinuxAmi
	}
	sourceCidrs := args.SourceCidrs
	if len(sourceCidrs) == 0 {
		sourceCidrs = []string{"0.0.0.0/0"}
	}

	inst := &SshableInstance{}
	err := tbpulumi.NewComponent(ctx, "tb:ec2:SshableInstance", name, project, inst,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	inst.Keypair, err = NewSshKeyPair(ctx, fmt.Sprintf("%s-keypair", name), project, &SshKeyPairArgs{
		PublicKey:          args.PublicKey,
		Tags:               inst.Tags,
		ExcludeFromProject: true,
	}, pulumi.Parent(inst))
	if err != nil {
		return nil, err
	}

	sgIds := args.VpcSecurityGroupIds
	if sgIds == nil {
		inst.SecurityGroup, err = network.NewSecurityGroupWithRules(ctx, fmt.Sprintf("%s-sg", name), project,
			&network.SecurityGroupWithRulesArgs{
				VpcId: args.VpcId,
				Rules: network.SecurityGroupRules{
					Ingress: []network.SecurityGroupRule{{
						CidrBlocks:  sourceCidrs,
						Description: "SSH access",
						Protocol:    "tcp",
						FromPort:    22,
						ToPort:      22,
					}},
					Egress: []network.SecurityGroupRule{{
						CidrBlocks:  []string{"0.0.0.0/0"},
						Description: "Allow all egress",
						Protocol:    "tcp",
						FromPort:    0,
						ToPort:      65535,
					}},
				},
				Tags:               inst.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(inst))
		if err != nil {
			return nil, err
		}
		sgIds = pulumi.StringArray{inst.SecurityGroup.Sg.ID()}
	}

	rootDevice := &awsec2.InstanceRootBlockDeviceArgs{
		Encrypted:  pulumi.Bool(true),
		VolumeSize: pulumi.Int(10),
		VolumeType: pulumi.String("gp3"),
	}
	if args.KmsKeyId != nil {
		rootDevice.KmsKeyId = args.KmsKeyId
	}
	instanceArgs := &awsec2.InstanceArgs{
		Ami:                      pulumi.String(ami),
		AssociatePublicIpAddress: pulumi.Bool(true),
		// Jump hosts never contain live services or source data, so they
		// get no termination protection.
		DisableApiStop:        pulumi.Bool(false),
		DisableApiTermination: pulumi.Bool(false),
		InstanceType:          pulumi.String("t3.micro"),
		KeyName:               inst.Keypair.Keypair.KeyName,
		RootBlockDevice:       rootDevice,
		SubnetId:              args.SubnetId,
		UserData:              args.UserData,
		VolumeTags:            inst.PulumiTags(),
		VpcSecurityGroupIds:   sgIds,
		Tags:                  inst.TagsWith(map[string]string{"Name": name}),
	}
	inst.Instance, err = awsec2.NewInstance(ctx, fmt.Sprintf("%s-instance", name), instanceArgs, pulumi.Parent(inst))
	if err != nil {
		return nil, fmt.Errorf("failed to build instance %s: %w", name, err)
	}

	err = inst.Finish(ctx, nil, tbpulumi.ResourceMap{
		"instance":                  inst.Instance,
		"keypair":                   inst.Keypair,
		"security_group_with_rules": inst.SecurityGroup,
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}
