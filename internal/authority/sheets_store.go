package authority

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/sheets/v4"

	"licensegate/internal/license"
)

// Sheet column layout.
//
//	Licenses: UserID | Email | Status | Expires | Activations | MaxActivations | ValidationCount | LicenseType
//	Accounts: UserID | Email | DisplayName | PasswordHash
const (
	licenseColumns = 8

	statusActive   = "active"
	statusInactive = "inactive"
)

// SheetsStore keeps records in a Google spreadsheet. The first row of each
// range is a header.
type SheetsStore struct {
	service      *sheets.Service
	sheetID      string
	licenseRange string
	accountRange string
}

// NewSheetsStore creates a store over the given spreadsheet ranges
func NewSheetsStore(service *sheets.Service, sheetID, licenseRange, accountRange string) *SheetsStore {
	return &SheetsStore{
		service:      service,
		sheetID:      sheetID,
		licenseRange: licenseRange,
		accountRange: accountRange,
	}
}

func (s *SheetsStore) rows(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.sheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read from sheets: %w", err)
	}
	if len(resp.Values) <= 1 {
		return nil, nil
	}
	return resp.Values[1:], nil
}

// GetLicense finds userID's row
func (s *SheetsStore) GetLicense(ctx context.Context, userID string) (*license.License, error) {
	rows, err := s.rows(ctx, s.licenseRange)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if cell(row, 0) == userID {
			lic, err := licenseFromRow(row)
			if err != nil {
				return nil, fmt.Errorf("license row for %s: %w", userID, err)
			}
			return lic, nil
		}
	}
	return nil, ErrNotFound
}

// SaveLicense rewrites lic's row, appending one when the user is new
func (s *SheetsStore) SaveLicense(ctx context.Context, lic license.License) error {
	rows, err := s.rows(ctx, s.licenseRange)
	if err != nil {
		return err
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{licenseToRow(lic)}}

	for i, row := range rows {
		if cell(row, 0) != lic.UserID {
			continue
		}
		// +2: one for the header, one for 1-based rows
		n := i + 2
		rng := fmt.Sprintf("%s!A%d:H%d", sheetName(s.licenseRange), n, n)
		_, err := s.service.Spreadsheets.Values.Update(s.sheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to update license row: %w", err)
		}
		return nil
	}

	_, err = s.service.Spreadsheets.Values.Append(s.sheetID, s.licenseRange, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append license row: %w", err)
	}
	return nil
}

// FindAccount finds an account row by email
func (s *SheetsStore) FindAccount(ctx context.Context, email string) (*Account, error) {
	rows, err := s.rows(ctx, s.accountRange)
	if err != nil {
		return nil, err
	}
	want := normalizeEmail(email)
	for _, row := range rows {
		if normalizeEmail(cell(row, 1)) == want {
			return &Account{
				UserID:       cell(row, 0),
				Email:        cell(row, 1),
				DisplayName:  cell(row, 2),
				PasswordHash: cell(row, 3),
			}, nil
		}
	}
	return nil, ErrNotFound
}

func licenseFromRow(row []interface{}) (*license.License, error) {
	lic := &license.License{
		UserID:      cell(row, 0),
		Email:       cell(row, 1),
		IsActive:    strings.EqualFold(cell(row, 2), statusActive),
		LicenseType: cell(row, 7),
	}

	if exp := cell(row, 3); exp != "" {
		t, err := parseDate(exp)
		if err != nil {
			return nil, err
		}
		lic.ExpirationDate = &t
	}

	for _, hid := range strings.Split(cell(row, 4), ",") {
		if hid = strings.TrimSpace(hid); hid != "" {
			lic.Activations = append(lic.Activations, license.HardwareID(hid))
		}
	}

	lic.MaxActivations = 1
	if v := cell(row, 5); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid max activations %q", v)
		}
		lic.MaxActivations = n
	}
	if v := cell(row, 6); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid validation count %q", v)
		}
		lic.ValidationCount = n
	}
	return lic, nil
}

func licenseToRow(lic license.License) []interface{} {
	status := statusInactive
	if lic.IsActive {
		status = statusActive
	}
	expires := ""
	if lic.ExpirationDate != nil {
		expires = lic.ExpirationDate.UTC().Format(time.RFC3339)
	}
	hids := make([]string, len(lic.Activations))
	for i, h := range lic.Activations {
		hids[i] = string(h)
	}

	row := make([]interface{}, 0, licenseColumns)
	return append(row,
		lic.UserID,
		lic.Email,
		status,
		expires,
		strings.Join(hids, ","),
		strconv.Itoa(lic.MaxActivations),
		strconv.FormatInt(lic.ValidationCount, 10),
		lic.LicenseType,
	)
}

// cell returns row[i] as trimmed text; short rows read as empty
func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// sheetName returns the tab part of an A1 range such as "Licenses!A:H"
func sheetName(rng string) string {
	if i := strings.IndexByte(rng, '!'); i >= 0 {
		return rng[:i]
	}
	return rng
}
