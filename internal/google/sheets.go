package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"backoffice/internal/ports"
	"backoffice/internal/ratelimit"
)

// Sheets writes month-end tabs to one spreadsheet.
type Sheets struct {
	svc           *gsheet.Service
	spreadsheetID string
	limiter       *ratelimit.Limiter
}

var _ ports.SpreadsheetWriter = (*Sheets)(nil)

func NewSheets(ctx context.Context, creds Credentials, spreadsheetID string, limiter *ratelimit.Limiter) (*Sheets, error) {
	opts, err := serviceAccountOptions(ctx, creds, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets credentials: %w", err)
	}
	return NewSheetsWithOptions(ctx, spreadsheetID, limiter, opts...)
}

// NewSheetsWithOptions builds the adapter from raw client options.
func NewSheetsWithOptions(ctx context.Context, spreadsheetID string, limiter *ratelimit.Limiter, opts ...option.ClientOption) (*Sheets, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if limiter == nil {
		return nil, errors.New("sheets adapter needs a rate limiter")
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID)
	return &Sheets{svc: svc, spreadsheetID: spreadsheetID, limiter: limiter}, nil
}

func (s *Sheets) EnsureSheet(ctx context.Context, title string) (int64, error) {
	ss, err := ratelimit.Schedule(ctx, s.limiter, func(ctx context.Context) (*gsheet.Spreadsheet, error) {
		resp, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		return resp, classify("sheets.get", err)
	})
	if err != nil {
		return 0, err
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties.SheetId, nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	resp, err := ratelimit.Schedule(ctx, s.limiter, func(ctx context.Context) (*gsheet.BatchUpdateSpreadsheetResponse, error) {
		resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
		return resp, classify("sheets.add_sheet", err)
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("add sheet %q: empty reply", title)
	}
	id := resp.Replies[0].AddSheet.Properties.SheetId
	slog.InfoContext(ctx, "Created sheet", "title", title, "sheet_id", id)
	return id, nil
}

func (s *Sheets) WriteValues(ctx context.Context, rng string, rows [][]any) error {
	vr := &gsheet.ValueRange{Values: rows}
	return s.limiter.Do(ctx, func(ctx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return classify("sheets.values_update", err)
	})
}

func (s *Sheets) URL(sheetID int64) string {
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit#gid=%d", s.spreadsheetID, sheetID)
}
