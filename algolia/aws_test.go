package algolia

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// mockSecretsManagerClient implements SecretsManagerClient for testing
type mockSecretsManagerClient struct {
	secretValue *string
	err         error
	lastID      string
}

func (m *mockSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.lastID = aws.ToString(params.SecretId)
	if m.err != nil {
		return nil, m.err
	}

	return &secretsmanager.GetSecretValueOutput{
		SecretString: m.secretValue,
	}, nil
}

func TestAWSSecrets(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		secret      *string
		err         error
		wantAppID   string
		wantKey     string
		wantErrPart string
	}{
		{
			name:      "success",
			env:       "production",
			secret:    aws.String(`{"app_id":"test-app-id","write_api_key":"test-api-key"}`),
			wantAppID: "test-app-id",
			wantKey:   "test-api-key",
		},
		{
			name:      "environment path",
			env:       "staging",
			secret:    aws.String(`{"app_id":"staging-app-id","write_api_key":"staging-api-key"}`),
			wantAppID: "staging-app-id",
			wantKey:   "staging-api-key",
		},
		{
			name:        "get secret error",
			env:         "production",
			err:         errors.New("secrets manager error"),
			wantErrPart: "failed to get secret from AWS Secrets Manager at path production/algolia",
		},
		{
			name:        "nil secret string",
			env:         "production",
			wantErrPart: "secret at path production/algolia has no string value",
		},
		{
			name:        "invalid json",
			env:         "production",
			secret:      aws.String(`{"app_id":"test-app-id","write_api_key":}`),
			wantErrPart: "failed to unmarshal secret JSON from path production/algolia",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockSecretsManagerClient{secretValue: tt.secret, err: tt.err}
			secrets, err := AWSSecrets(context.Background(), client, tt.env)()

			if client.lastID != tt.env+"/algolia" {
				t.Errorf("Expected secret id %s/algolia, got %s", tt.env, client.lastID)
			}
			if tt.wantErrPart != "" {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantErrPart) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.wantErrPart, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if secrets.AppID != tt.wantAppID {
				t.Errorf("Expected AppID to be '%s', got '%s'", tt.wantAppID, secrets.AppID)
			}
			if secrets.WriteApiKey != tt.wantKey {
				t.Errorf("Expected WriteApiKey to be '%s', got '%s'", tt.wantKey, secrets.WriteApiKey)
			}
		})
	}
}

func TestAWSSecretsFromARN(t *testing.T) {
	arn := "arn:aws:secretsmanager:us-east-1:123456789012:secret:algolia"
	client := &mockSecretsManagerClient{
		secretValue: aws.String(`{"app_id":"arn-app","write_api_key":"arn-key"}`),
	}

	secrets, err := AWSSecretsFromARN(context.Background(), client, arn)()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if client.lastID != arn {
		t.Errorf("Expected secret id %s, got %s", arn, client.lastID)
	}
	if secrets.AppID != "arn-app" || secrets.WriteApiKey != "arn-key" {
		t.Errorf("Unexpected secrets: %+v", secrets)
	}

	client.err = errors.New("denied")
	if _, err := AWSSecretsFromARN(context.Background(), client, arn)(); err == nil || !strings.Contains(err.Error(), "ARN "+arn) {
		t.Errorf("Expected error mentioning the ARN, got %v", err)
	}
}
