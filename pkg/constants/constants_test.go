package constants

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssumeRolePolicy(t *testing.T) {
	doc := AssumeRolePolicy("lambda.amazonaws.com")
	rendered, err := doc.JSON()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &parsed))
	assert.Equal(t, "2012-10-17", parsed["Version"])

	statements := parsed["Statement"].([]any)
	require.Len(t, statements, 1)
	stmt := statements[0].(map[string]any)
	assert.Equal(t, "Allow", stmt["Effect"])
	assert.Equal(t, "sts:AssumeRole", stmt["Action"])
	principal := stmt["Principal"].(map[string]any)
	assert.Equal(t, []any{"lambda.amazonaws.com"}, principal["Service"])
}

func TestPolicyDocumentOmitsEmptyFields(t *testing.T) {
	doc := IamPolicyDocument(PolicyStatement{
		Effect:   "Allow",
		Action:   []string{"s3:GetObject"},
		Resource: "arn:aws:s3:::mybucket/*",
	})
	rendered, err := doc.JSON()
	require.NoError(t, err)

	assert.NotContains(t, rendered, "Sid")
	assert.NotContains(t, rendered, "Principal")
	assert.NotContains(t, rendered, "Condition")
	assert.NotContains(t, rendered, `"Id"`)
	assert.Contains(t, rendered, `"Version":"2012-10-17"`)
}

func TestPolicyDocumentCondition(t *testing.T) {
	doc := PolicyDocument{
		Version: "2012-10-17",
		Id:      "PolicyForCloudFrontPrivateContent",
		Statement: []PolicyStatement{{
			Sid:       "AllowCloudFrontServicePrincipal",
			Effect:    "Allow",
			Principal: map[string]any{"Service": "cloudfront.amazonaws.com"},
			Action:    "s3:GetObject",
			Resource:  "arn:aws:s3:::mybucket/*",
			Condition: map[string]any{
				"StringEquals": map[string]any{
					"AWS:SourceArn": "arn:aws:cloudfront::111111111111:distribution/ABCDEF",
				},
			},
		}},
	}
	rendered, err := doc.JSON()
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &parsed))
	assert.Equal(t, "PolicyForCloudFrontPrivateContent", parsed["Id"])
	stmt := parsed["Statement"].([]any)[0].(map[string]any)
	cond := stmt["Condition"].(map[string]any)["StringEquals"].(map[string]any)
	assert.Contains(t, cond, "AWS:SourceArn")
}
