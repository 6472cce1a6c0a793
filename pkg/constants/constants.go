// Package constants holds global values that do not rely on runtime data
// and should not change often.
package constants

import "encoding/json"

// DefaultAwsSslPolicy is the SSL negotiation policy applied to HTTPS
// listeners when no other policy is specified.
const DefaultAwsSslPolicy = "ELBSecurityPolicy-2016-08"

// DefaultProtectedStacks lists the Pulumi stacks that get resource
// protection unless a project overrides the list.
var DefaultProtectedStacks = []string{"prod"}

// ServicePorts maps common services to their typical ports.
var ServicePorts = map[string]int{
	"mariadb":  3306,
	"mysql":    3306,
	"postgres": 5432,
}

// Managed CloudFront policy IDs. These are AWS-global values published in
// the CloudFront documentation.
const (
	// CachePolicyIDOptimized is the "Managed-CachingOptimized" policy.
	CachePolicyIDOptimized = "658327ea-f89d-4fab-a63d-7e88639e58f6"
	// CachePolicyIDDisabled is the "Managed-CachingDisabled" policy.
	CachePolicyIDDisabled = "4135ea2d-6df8-44a3-9df3-4b5a84be39ad"
	// OriginRequestPolicyIDAllViewer is the "Managed-AllViewer" policy.
	OriginRequestPolicyIDAllViewer = "216adef6-5c7f-47e4-b989-5492eafa07d3"
)

// IamResourcePaths lists the path components IAM uses in resource ARNs.
// IAM policies reject a wildcard in the path position, so patterns over
// IAM resources must be expanded once per path.
var IamResourcePaths = []string{
	"group",
	"instance-profile",
	"mfa",
	"oidc-provider",
	"policy",
	"role",
	"saml-provider",
	"server-certificate",
	"user",
}

// PolicyStatement is a single statement in an IAM policy document. Field
// order matches the order AWS documentation presents these keys in, so
// rendered documents are stable.
type PolicyStatement struct {
	Sid       string `json:"Sid,omitempty"`
	Effect    string `json:"Effect"`
	Principal any    `json:"Principal,omitempty"`
	Action    any    `json:"Action,omitempty"`
	Resource  any    `json:"Resource,omitempty"`
	Condition any    `json:"Condition,omitempty"`
}

// PolicyDocument is an IAM policy document.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Id        string            `json:"Id,omitempty"`
	Statement []PolicyStatement `json:"Statement"`
}

// JSON renders the document for use in a policy argument.
func (d PolicyDocument) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AssumeRolePolicy produces an assume role policy trusting the given AWS
// service principals.
func AssumeRolePolicy(services ...string) PolicyDocument {
	return PolicyDocument{
		Version: "2012-10-17",
		Statement: []PolicyStatement{{
			Effect:    "Allow",
			Principal: map[string]any{"Service": services},
			Action:    "sts:AssumeRole",
		}},
	}
}

// IamPolicyDocument produces a policy document shell around the given
// statements.
func IamPolicyDocument(statements ...PolicyStatement) PolicyDocument {
	return PolicyDocument{
		Version:   "2012-10-17",
		Statement: statements,
	}
}
