package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ServiceAccount is the subset of a Google service account key we check
// before handing it to the client library
type ServiceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// LoadServiceAccount reads and sanity-checks a service account key file
func LoadServiceAccount(path string) ([]byte, *ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, nil, fmt.Errorf("invalid credentials JSON: %w", err)
	}
	if sa.Type != "service_account" {
		return nil, nil, fmt.Errorf("unsupported credentials type %q", sa.Type)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, nil, fmt.Errorf("credentials missing client_email or private_key")
	}
	return data, &sa, nil
}

// NewSheetsService builds a Sheets client from a service account key file.
// Extra options (an endpoint or HTTP client in tests) are appended.
func NewSheetsService(ctx context.Context, credentialsFile string, extra ...option.ClientOption) (*sheets.Service, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		data, _, err := LoadServiceAccount(credentialsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(data))
	}
	opts = append(opts, extra...)

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return service, nil
}
