package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"
	"strings"

	"backoffice/internal/core"
	"backoffice/internal/ports"
	"backoffice/internal/reconcile"
)

const (
	ReasonNotReady     = "month-end status must be ready or complete"
	ReasonNoOwnerEmail = "property has no owner email"
	ReasonNoMailer     = "email delivery is not configured"
)

// OwnerReport is everything an owner statement is built from.
type OwnerReport struct {
	Key            core.PropertyMonth `json:"-"`
	PropertyName   string             `json:"propertyName"`
	OwnerName      string             `json:"ownerName,omitempty"`
	OwnerEmail     string             `json:"ownerEmail,omitempty"`
	Status         core.Status        `json:"status"`
	OwnerEmailSent bool               `json:"ownerEmailSent"`
	Result         reconcile.Result   `json:"result"`

	// StatementURL links to the archived statement, when one was uploaded.
	StatementURL string `json:"statementUrl,omitempty"`
}

// SendResult reports whether an owner email went out and, if not, why.
type SendResult struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

// BuildOwnerReport gathers the property, status and a dry-run calculation.
func (e *Exporter) BuildOwnerReport(ctx context.Context, key core.PropertyMonth) (OwnerReport, error) {
	const op = "export.owner_report"
	if err := key.Validate(); err != nil {
		return OwnerReport{}, core.E(core.KindValidation, op, err)
	}
	p, err := e.props.GetProperty(ctx, key.PropertyID)
	if err != nil {
		return OwnerReport{}, err
	}
	st, err := e.store.Get(ctx, key)
	if err != nil {
		return OwnerReport{}, err
	}
	res, err := e.calc.CalculateFromStore(ctx, key, true)
	if err != nil {
		return OwnerReport{}, err
	}
	return OwnerReport{
		Key:            key,
		PropertyName:   p.Name,
		OwnerName:      p.OwnerName,
		OwnerEmail:     strings.TrimSpace(p.OwnerEmail),
		Status:         st.Status,
		OwnerEmailSent: st.OwnerEmailSent,
		Result:         res,
	}, nil
}

// SendOwnerEmail mails the statement to the owner. Only ready or complete
// months with an owner address are sent; anything else comes back unsent
// with a reason. A successful send marks the month as notified.
func (e *Exporter) SendOwnerEmail(ctx context.Context, r OwnerReport) (SendResult, error) {
	if reason := e.cannotSend(r); reason != "" {
		return SendResult{Reason: reason}, nil
	}

	body, err := renderStatement(r)
	if err != nil {
		return SendResult{}, core.E(core.KindInternal, "export.render", err)
	}
	msg := ports.Email{
		From:     e.opts.From,
		To:       r.OwnerEmail,
		Subject:  fmt.Sprintf("%s statement for %s %d", r.PropertyName, r.Result.Month, r.Key.Year),
		HTMLBody: body,
	}
	if err := e.opts.Mailer.Send(ctx, msg); err != nil {
		return SendResult{}, fmt.Errorf("send owner email: %w", err)
	}
	if err := e.store.MarkOwnerEmailSent(ctx, r.Key); err != nil {
		return SendResult{Sent: true}, fmt.Errorf("mark owner email sent: %w", err)
	}

	slog.InfoContext(ctx, "Owner email sent",
		"property_id", r.Key.PropertyID,
		"year", r.Key.Year,
		"month", r.Key.Month,
		"to", r.OwnerEmail)
	return SendResult{Sent: true}, nil
}

// cannotSend returns why r must not reach its owner, or "" when it may.
func (e *Exporter) cannotSend(r OwnerReport) string {
	switch {
	case e.opts.Mailer == nil:
		return ReasonNoMailer
	case r.Status != core.StatusReady && r.Status != core.StatusComplete:
		return ReasonNotReady
	case r.OwnerEmail == "":
		return ReasonNoOwnerEmail
	}
	return ""
}

// ArchiveStatement uploads the statement as CSV to the configured Drive
// folder and shares it with the owner. An existing file of the same name
// has its content replaced with the current statement.
func (e *Exporter) ArchiveStatement(ctx context.Context, r OwnerReport) (ports.StoredFile, error) {
	const op = "export.archive"
	if e.opts.Files == nil || e.opts.DriveFolderID == "" {
		return ports.StoredFile{}, core.E(core.KindInternal, op, fmt.Errorf("statement archive %w", errNotConfigured))
	}

	content, err := statementCSV(r)
	if err != nil {
		return ports.StoredFile{}, core.E(core.KindInternal, op, err)
	}

	name := StatementName(r.Key)
	f, err := e.opts.Files.Find(ctx, e.opts.DriveFolderID, name)
	switch {
	case err == nil:
		if f, err = e.opts.Files.Replace(ctx, f.ID, content); err != nil {
			return ports.StoredFile{}, fmt.Errorf("replace statement: %w", err)
		}
	case core.IsKind(err, core.KindNotFound):
		f, err = e.opts.Files.Upload(ctx, ports.FileUpload{
			FolderID: e.opts.DriveFolderID,
			Name:     name,
			MimeType: "text/csv",
			Content:  content,
		})
		if err != nil {
			return ports.StoredFile{}, fmt.Errorf("upload statement: %w", err)
		}
	default:
		return ports.StoredFile{}, fmt.Errorf("find statement: %w", err)
	}
	if r.OwnerEmail != "" {
		if err := e.opts.Files.Share(ctx, f.ID, r.OwnerEmail, "reader"); err != nil {
			return f, fmt.Errorf("share statement: %w", err)
		}
	}

	slog.InfoContext(ctx, "Statement archived",
		"property_id", r.Key.PropertyID,
		"file_id", f.ID,
		"name", name)
	return f, nil
}

// NotifyOwner runs the full owner notification: archive the statement when
// an archive is configured, then email it. Nothing is archived or shared for
// a month that may not be sent. A month already notified is a Conflict.
func (e *Exporter) NotifyOwner(ctx context.Context, key core.PropertyMonth) (SendResult, error) {
	r, err := e.BuildOwnerReport(ctx, key)
	if err != nil {
		return SendResult{}, err
	}
	if r.OwnerEmailSent {
		return SendResult{}, core.Errorf(core.KindConflict, "export.notify_owner", "owner email already sent for %s", key)
	}
	if reason := e.cannotSend(r); reason != "" {
		return SendResult{Reason: reason}, nil
	}
	if e.opts.Files != nil && e.opts.DriveFolderID != "" {
		f, err := e.ArchiveStatement(ctx, r)
		if err != nil {
			return SendResult{}, err
		}
		r.StatementURL = f.WebLink
	}
	return e.SendOwnerEmail(ctx, r)
}

// StatementName is the archive file name of one property-month.
func StatementName(key core.PropertyMonth) string {
	return fmt.Sprintf("statement-%s-%04d-%02d.csv", key.PropertyID, key.Year, key.Month)
}

func statementCSV(r OwnerReport) ([]byte, error) {
	res := r.Result
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	records := [][]string{
		{"Property", "Year", "Month", "Bookings", "Nights", "Revenue", "Cleaning", "Expenses", "Net", "Ownership %", "Owner Profit"},
		{
			r.PropertyName,
			strconv.Itoa(r.Key.Year),
			res.Month,
			strconv.Itoa(res.BookingCount),
			strconv.Itoa(res.Nights),
			res.TotalRevenue.String(),
			res.TotalCleaning.String(),
			res.Expenses.String(),
			res.NetAmount.String(),
			res.OwnershipPercentage.String(),
			res.OwnerProfit.String(),
		},
	}
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var statementTmpl = template.Must(template.New("statement").Parse(`<p>Hello {{if .OwnerName}}{{.OwnerName}}{{else}}there{{end}},</p>
<p>Here is the statement for <strong>{{.PropertyName}}</strong>, {{.Result.Month}} {{.Key.Year}}.</p>
<table>
<tr><td>Bookings</td><td>{{.Result.BookingCount}}</td></tr>
<tr><td>Nights</td><td>{{.Result.Nights}}</td></tr>
<tr><td>Revenue</td><td>{{.Result.TotalRevenue}}</td></tr>
<tr><td>Cleaning</td><td>{{.Result.TotalCleaning}}</td></tr>
<tr><td>Expenses</td><td>{{.Result.Expenses}}</td></tr>
<tr><td>Net</td><td>{{.Result.NetAmount}}</td></tr>
<tr><td>Your share ({{.Result.OwnershipPercentage}}%)</td><td>{{.Result.OwnerProfit}}</td></tr>
</table>
{{if .StatementURL}}<p>The full statement is archived <a href="{{.StatementURL}}">here</a>.</p>{{end}}`))

func renderStatement(r OwnerReport) (string, error) {
	var buf bytes.Buffer
	if err := statementTmpl.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}
