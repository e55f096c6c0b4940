package reports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"visitlens/internal/notify"
)

// FilesURLPrefix is where persisted report files are served.
const FilesURLPrefix = "/admin/api/exports/files/"

// emailPreviewRows caps the inline table in report emails.
const emailPreviewRows = 20

// ErrWarehouseNotConfigured is returned when a push needs credentials that
// are absent.
var ErrWarehouseNotConfigured = errors.New("warehouse credentials are not configured")

// Warehouse receives datasets through a streaming insert.
type Warehouse interface {
	Insert(ctx context.Context, name string, columns []string, rows [][]string) (int, error)
}

// Outcome is what a delivery produced.
type Outcome struct {
	FileURL  string
	FileSize int64
	Queued   bool
}

// Deliverer hands a dataset to one destination.
type Deliverer interface {
	Deliver(ctx context.Context, r *ScheduledReport, ds *Dataset) (Outcome, error)
}

type emailDelivery struct {
	registry     *notify.Registry
	dashboardURL string
}

func (d *emailDelivery) Deliver(ctx context.Context, r *ScheduledReport, ds *Dataset) (Outcome, error) {
	msg := notify.Message{
		Subject:    fmt.Sprintf("[visitlens] %s", r.Name),
		Body:       renderInline(r, ds, d.dashboardURL),
		Recipients: r.Recipients,
		Fields: map[string]any{
			"report_id":     r.ID,
			"report_type":   r.ReportType,
			"records_count": ds.Len(),
		},
	}
	statuses := d.registry.Dispatch(ctx, []string{notify.ChannelEmail}, msg)
	if statuses[notify.ChannelEmail] != notify.StatusSent {
		return Outcome{}, errors.New("email delivery failed")
	}
	return Outcome{}, nil
}

// renderInline formats the head of a dataset as plain text. Reports are not
// attached; the body links back to the dashboard for the full data.
func renderInline(r *ScheduledReport, ds *Dataset, dashboardURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s report)\n", r.Name, r.ReportType)
	fmt.Fprintf(&b, "%d records\n\n", ds.Len())
	b.WriteString(strings.Join(ds.Columns, " | "))
	b.WriteString("\n")
	for i, row := range ds.Rows {
		if i == emailPreviewRows {
			fmt.Fprintf(&b, "... %d more rows\n", ds.Len()-emailPreviewRows)
			break
		}
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}
	if dashboardURL != "" {
		fmt.Fprintf(&b, "\nFull report: %s\n", dashboardURL)
	}
	return b.String()
}

type storageDelivery struct {
	dir string
	now func() time.Time
}

// IsStoredFile reports whether name has an extension storage delivery writes.
func IsStoredFile(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext == FormatCSV || ext == FormatJSON
}

func (d *storageDelivery) Deliver(_ context.Context, r *ScheduledReport, ds *Dataset) (Outcome, error) {
	format := r.Format
	if format == "" {
		format = FormatCSV
	}
	body, _, err := ds.Encode(format)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode %s: %w", format, err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("create exports dir: %w", err)
	}

	name := fmt.Sprintf("%s-report%d-%d.%s", ds.Name, r.ID, d.now().UTC().Unix(), format)
	if err := os.WriteFile(filepath.Join(d.dir, name), body, 0o644); err != nil {
		return Outcome{}, fmt.Errorf("write report file: %w", err)
	}
	return Outcome{FileURL: FilesURLPrefix + name, FileSize: int64(len(body))}, nil
}

// warehouseDelivery pushes to the warehouse, or queues a pending export when
// no warehouse is configured.
type warehouseDelivery struct {
	runner *Runner
}

func (d *warehouseDelivery) Deliver(ctx context.Context, r *ScheduledReport, ds *Dataset) (Outcome, error) {
	q, err := d.runner.queryFor(r)
	if err != nil {
		return Outcome{}, err
	}
	exp, err := d.runner.pushOrQueue(ctx, q, ds)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Queued: exp.Status == StatusPending}, nil
}
