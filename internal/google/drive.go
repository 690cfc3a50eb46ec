package google

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"backoffice/internal/core"
	"backoffice/internal/ports"
	"backoffice/internal/ratelimit"
)

// Drive archives owner statements.
type Drive struct {
	svc     *drive.Service
	limiter *ratelimit.Limiter
}

var _ ports.FileStore = (*Drive)(nil)

func NewDrive(ctx context.Context, creds Credentials, limiter *ratelimit.Limiter) (*Drive, error) {
	opts, err := serviceAccountOptions(ctx, creds, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("drive credentials: %w", err)
	}
	return NewDriveWithOptions(ctx, limiter, opts...)
}

func NewDriveWithOptions(ctx context.Context, limiter *ratelimit.Limiter, opts ...option.ClientOption) (*Drive, error) {
	if limiter == nil {
		return nil, errors.New("drive adapter needs a rate limiter")
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Drive{svc: svc, limiter: limiter}, nil
}

func (d *Drive) Upload(ctx context.Context, f ports.FileUpload) (ports.StoredFile, error) {
	meta := &drive.File{Name: f.Name, MimeType: f.MimeType}
	if f.FolderID != "" {
		meta.Parents = []string{f.FolderID}
	}
	created, err := ratelimit.Schedule(ctx, d.limiter, func(ctx context.Context) (*drive.File, error) {
		// The media reader is consumed per attempt.
		resp, err := d.svc.Files.Create(meta).
			Media(bytes.NewReader(f.Content)).
			Fields("id", "name", "webViewLink").
			SupportsAllDrives(true).
			Context(ctx).Do()
		return resp, classify("drive.files_create", err)
	})
	if err != nil {
		return ports.StoredFile{}, err
	}
	slog.InfoContext(ctx, "Uploaded file to Drive", "file_id", created.Id, "name", created.Name)
	return ports.StoredFile{ID: created.Id, Name: created.Name, WebLink: created.WebViewLink}, nil
}

func (d *Drive) Replace(ctx context.Context, fileID string, content []byte) (ports.StoredFile, error) {
	updated, err := ratelimit.Schedule(ctx, d.limiter, func(ctx context.Context) (*drive.File, error) {
		resp, err := d.svc.Files.Update(fileID, &drive.File{}).
			Media(bytes.NewReader(content)).
			Fields("id", "name", "webViewLink").
			SupportsAllDrives(true).
			Context(ctx).Do()
		return resp, classify("drive.files_update", err)
	})
	if err != nil {
		return ports.StoredFile{}, err
	}
	slog.InfoContext(ctx, "Replaced Drive file content", "file_id", updated.Id, "name", updated.Name)
	return ports.StoredFile{ID: updated.Id, Name: updated.Name, WebLink: updated.WebViewLink}, nil
}

func (d *Drive) Share(ctx context.Context, fileID, email, role string) error {
	perm := &drive.Permission{Type: "user", Role: role, EmailAddress: email}
	return d.limiter.Do(ctx, func(ctx context.Context) error {
		_, err := d.svc.Permissions.Create(fileID, perm).
			SendNotificationEmail(false).
			SupportsAllDrives(true).
			Context(ctx).Do()
		return classify("drive.permissions_create", err)
	})
}

func (d *Drive) Find(ctx context.Context, folderID, name string) (ports.StoredFile, error) {
	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))
	if folderID != "" {
		q = fmt.Sprintf("'%s' in parents and %s", escapeQuery(folderID), q)
	}
	list, err := ratelimit.Schedule(ctx, d.limiter, func(ctx context.Context) (*drive.FileList, error) {
		resp, err := d.svc.Files.List().Q(q).
			Fields("files(id, name, webViewLink)").
			PageSize(1).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx).Do()
		return resp, classify("drive.files_list", err)
	})
	if err != nil {
		return ports.StoredFile{}, err
	}
	if len(list.Files) == 0 {
		return ports.StoredFile{}, core.Errorf(core.KindNotFound, "drive.find", "file %q not found", name)
	}
	f := list.Files[0]
	return ports.StoredFile{ID: f.Id, Name: f.Name, WebLink: f.WebViewLink}, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
