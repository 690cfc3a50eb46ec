package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"backoffice/internal/core"
	"backoffice/internal/ports"
)

// Spreadsheet records tabs and written ranges.
type Spreadsheet struct {
	mu     sync.Mutex
	ID     string
	sheets map[string]int64
	values map[string][][]any
	next   int64

	// FailWrites makes WriteValues return this error.
	FailWrites error
}

var _ ports.SpreadsheetWriter = (*Spreadsheet)(nil)

func NewSpreadsheet(id string) *Spreadsheet {
	if id == "" {
		id = "memory"
	}
	return &Spreadsheet{ID: id, sheets: make(map[string]int64), values: make(map[string][][]any), next: 1}
}

func (s *Spreadsheet) EnsureSheet(_ context.Context, title string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sheets[title]; ok {
		return id, nil
	}
	id := s.next
	s.next++
	s.sheets[title] = id
	return id, nil
}

func (s *Spreadsheet) WriteValues(_ context.Context, rng string, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if _, ok := s.sheets[sheetOf(rng)]; !ok {
		return core.Errorf(core.KindNotFound, "memory.write_values", "sheet for range %q not found", rng)
	}
	cp := make([][]any, len(rows))
	for i, r := range rows {
		cp[i] = append([]any(nil), r...)
	}
	s.values[rng] = cp
	return nil
}

// Values returns the rows last written to rng.
func (s *Spreadsheet) Values(rng string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[rng]
}

func (s *Spreadsheet) URL(sheetID int64) string {
	return fmt.Sprintf("memory://spreadsheets/%s#gid=%d", s.ID, sheetID)
}

// Sheets returns the titles created so far.
func (s *Spreadsheet) Sheets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sheets))
	for t := range s.sheets {
		out = append(out, t)
	}
	return out
}

func sheetOf(rng string) string {
	title, _, _ := strings.Cut(rng, "!")
	return strings.Trim(title, "'")
}

// Drive stores uploaded files and their permissions.
type Drive struct {
	mu     sync.Mutex
	files  map[string]ports.StoredFile
	folder map[string]string
	Blobs  map[string][]byte
	Shares map[string][]string
	next   int
}

var _ ports.FileStore = (*Drive)(nil)

func NewDrive() *Drive {
	return &Drive{
		files:  make(map[string]ports.StoredFile),
		folder: make(map[string]string),
		Blobs:  make(map[string][]byte),
		Shares: make(map[string][]string),
	}
}

func (d *Drive) Upload(_ context.Context, f ports.FileUpload) (ports.StoredFile, error) {
	if f.Name == "" {
		return ports.StoredFile{}, core.Errorf(core.KindValidation, "memory.upload", "file name required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := fmt.Sprintf("file-%d", d.next)
	sf := ports.StoredFile{ID: id, Name: f.Name, WebLink: "memory://drive/" + id}
	d.files[id] = sf
	d.folder[id] = f.FolderID
	d.Blobs[id] = append([]byte(nil), f.Content...)
	return sf, nil
}

func (d *Drive) Replace(_ context.Context, fileID string, content []byte) (ports.StoredFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[fileID]
	if !ok {
		return ports.StoredFile{}, core.Errorf(core.KindNotFound, "memory.replace", "file %q not found", fileID)
	}
	d.Blobs[fileID] = append([]byte(nil), content...)
	return f, nil
}

func (d *Drive) Share(_ context.Context, fileID, email, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[fileID]; !ok {
		return core.Errorf(core.KindNotFound, "memory.share", "file %q not found", fileID)
	}
	d.Shares[fileID] = append(d.Shares[fileID], role+":"+email)
	return nil
}

func (d *Drive) Find(_ context.Context, folderID, name string) (ports.StoredFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, f := range d.files {
		if f.Name == name && d.folder[id] == folderID {
			return f, nil
		}
	}
	return ports.StoredFile{}, core.Errorf(core.KindNotFound, "memory.find", "file %q not found", name)
}

// Mailbox collects sent emails.
type Mailbox struct {
	mu   sync.Mutex
	sent []ports.Email

	// Fail makes Send return this error.
	Fail error
}

var _ ports.Mailer = (*Mailbox)(nil)

func (m *Mailbox) Send(_ context.Context, e ports.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *Mailbox) Sent() []ports.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.Email(nil), m.sent...)
}

// Publisher records owner notifications instead of sending them to a broker.
// When Handler is set it is invoked synchronously, standing in for the worker.
type Publisher struct {
	mu        sync.Mutex
	published []core.PropertyMonth

	Handler func(ctx context.Context, key core.PropertyMonth) error
}

var _ ports.NotificationPublisher = (*Publisher)(nil)

func (p *Publisher) PublishOwnerNotification(ctx context.Context, key core.PropertyMonth) error {
	p.mu.Lock()
	p.published = append(p.published, key)
	h := p.Handler
	p.mu.Unlock()
	if h != nil {
		return h(ctx, key)
	}
	return nil
}

func (p *Publisher) Published() []core.PropertyMonth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.PropertyMonth(nil), p.published...)
}
