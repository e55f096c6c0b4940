package reports_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"visitlens/internal/notify"
	"visitlens/internal/reports"
	"visitlens/internal/testsupport"
	"visitlens/internal/timeframe"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type fakeWarehouse struct {
	err   error
	calls []string
	rows  int
}

func (w *fakeWarehouse) Insert(_ context.Context, name string, _ []string, rows [][]string) (int, error) {
	w.calls = append(w.calls, name)
	if w.err != nil {
		return 0, w.err
	}
	w.rows += len(rows)
	return len(rows), nil
}

type mailbox struct {
	err    error
	sent   []notify.Message
	onSend func()
}

func (m *mailbox) Name() string { return notify.ChannelEmail }

func (m *mailbox) Send(_ context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	if m.onSend != nil {
		m.onSend()
	}
	return m.err
}

func newRunner(t *testing.T, db *gorm.DB, c *clock, wh reports.Warehouse, channels ...notify.Channel) (*reports.Runner, string) {
	t.Helper()
	dir := t.TempDir()
	registry := notify.NewRegistry(testsupport.GetLogger(), channels...)
	r := reports.NewRunner(db, testsupport.GetLogger(), registry, wh, reports.Config{
		ExportsDir:   dir,
		DashboardURL: "https://stats.example.com",
		Now:          c.Now,
	})
	return r, dir
}

func createReport(t *testing.T, r *reports.Runner, name, delivery string, recipients ...string) *reports.ScheduledReport {
	t.Helper()
	rep := &reports.ScheduledReport{
		Name:           name,
		ReportType:     reports.TypeSummary,
		Schedule:       reports.ScheduleDaily,
		TimeOfDay:      "08:00",
		DateRange:      "yesterday",
		DeliveryMethod: delivery,
		Recipients:     recipients,
	}
	require.NoError(t, r.Create(context.Background(), rep))
	return rep
}

func reload(t *testing.T, db *gorm.DB, id uint) *reports.ScheduledReport {
	t.Helper()
	rep, err := reports.Get(db, id)
	require.NoError(t, err)
	return rep
}

func TestRunDue(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 11, 4, 9, 0, 0, 0, time.UTC)
	sweep := time.Date(2024, 11, 5, 8, 30, 0, 0, time.UTC)

	t.Run("storage report completes and advances", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		c := &clock{t: created}
		runner, dir := newRunner(t, db, c, nil)

		testsupport.InsertEvents(t, db, testsupport.PageView("s1", "id-1", "/", time.Date(2024, 11, 4, 12, 0, 0, 0, time.UTC)))
		rep := createReport(t, runner, "Daily", reports.DeliveryStorage)
		require.NotNil(t, rep.NextRunAt)
		assert.Equal(t, time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC), *rep.NextRunAt)

		c.t = sweep
		summary, err := runner.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Due)
		assert.Equal(t, 1, summary.Completed)
		assert.Empty(t, summary.Errors)

		history, err := reports.History(db, rep.ID, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)
		h := history[0]
		assert.Equal(t, reports.StatusCompleted, h.Status)
		assert.Equal(t, reports.TriggerScheduled, h.Trigger)
		assert.Equal(t, 1, h.RecordsCount)
		assert.True(t, strings.HasPrefix(h.FileURL, reports.FilesURLPrefix))
		assert.Positive(t, h.FileSize)

		body, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(h.FileURL, reports.FilesURLPrefix)))
		require.NoError(t, err)
		assert.Contains(t, string(body), "2024-11-04,0,1,1,0,0")

		after := reload(t, db, rep.ID)
		assert.Equal(t, reports.StatusIdle, after.Status)
		require.NotNil(t, after.NextRunAt)
		assert.True(t, after.NextRunAt.After(sweep))
		require.NotNil(t, after.LastRunAt)

		again, err := runner.RunDue(ctx)
		require.NoError(t, err)
		assert.Zero(t, again.Due)
	})

	t.Run("failure is recorded and does not stop the sweep", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		c := &clock{t: created}
		box := &mailbox{err: errors.New("relay refused")}
		runner, _ := newRunner(t, db, c, nil, box)

		failing := createReport(t, runner, "Mail", reports.DeliveryEmail, "ops@example.com")
		ok := createReport(t, runner, "Disk", reports.DeliveryStorage)

		c.t = sweep
		summary, err := runner.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Due)
		assert.Equal(t, 1, summary.Completed)
		assert.Equal(t, 1, summary.Failed)
		require.Len(t, summary.Errors, 1)
		assert.Contains(t, summary.Errors[0], "Mail")

		history, err := reports.History(db, failing.ID, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, reports.StatusFailed, history[0].Status)
		assert.Equal(t, "email delivery failed", history[0].ErrorMessage)

		// failure is terminal for the occurrence
		assert.True(t, reload(t, db, failing.ID).NextRunAt.After(sweep))
		assert.Equal(t, reports.StatusIdle, reload(t, db, ok.ID).Status)

		require.Len(t, box.sent, 1)
		assert.Equal(t, []string{"ops@example.com"}, box.sent[0].Recipients)
		assert.Contains(t, box.sent[0].Body, "https://stats.example.com")
	})

	t.Run("running report is skipped until stale", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		c := &clock{t: created}
		runner, _ := newRunner(t, db, c, nil)
		rep := createReport(t, runner, "Busy", reports.DeliveryStorage)

		require.NoError(t, db.Model(&reports.ScheduledReport{}).Where("id = ?", rep.ID).
			UpdateColumns(map[string]any{"status": reports.StatusRunning, "updated_at": sweep.Add(-time.Minute)}).Error)

		c.t = sweep
		summary, err := runner.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Zero(t, summary.Completed)

		_, err = runner.RunNow(ctx, rep.ID)
		assert.ErrorIs(t, err, reports.ErrReportRunning)

		c.t = sweep.Add(15 * time.Minute)
		summary, err = runner.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Completed)
	})

	t.Run("overlapping sweeps run an occurrence once", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		c := &clock{t: created}
		box := &mailbox{}
		first, _ := newRunner(t, db, c, nil, box)
		second, _ := newRunner(t, db, c, nil)

		mail := createReport(t, first, "Mail", reports.DeliveryEmail, "ops@example.com")
		disk := createReport(t, first, "Disk", reports.DeliveryStorage)

		// While the first sweep delivers Mail, a second sweep finishes Disk
		// and moves its next_run_at forward.
		var overlapped *reports.SweepSummary
		box.onSend = func() {
			box.onSend = nil
			var err error
			overlapped, err = second.RunDue(ctx)
			require.NoError(t, err)
		}

		c.t = sweep
		summary, err := first.RunDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Due)
		assert.Equal(t, 1, summary.Completed)
		assert.Equal(t, 1, summary.Skipped, "Disk was no longer due")

		require.NotNil(t, overlapped)
		assert.Equal(t, 1, overlapped.Completed)
		assert.Equal(t, 1, overlapped.Skipped, "Mail was still running")

		for _, id := range []uint{mail.ID, disk.ID} {
			history, err := reports.History(db, id, 10)
			require.NoError(t, err)
			assert.Len(t, history, 1)
		}
	})
}

func TestRunNow(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	c := &clock{t: time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)}
	box := &mailbox{}
	runner, _ := newRunner(t, db, c, nil, box)
	rep := createReport(t, runner, "Mail", reports.DeliveryEmail, "me@example.com")

	hist, err := runner.RunNow(context.Background(), rep.ID)
	require.NoError(t, err)
	assert.Equal(t, reports.StatusCompleted, hist.Status)
	assert.Equal(t, reports.TriggerManual, hist.Trigger)
	require.Len(t, box.sent, 1)
	assert.Contains(t, box.sent[0].Subject, "Mail")

	_, err = runner.RunNow(context.Background(), 9999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	t.Run("storage honors the json format", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		runner, dir := newRunner(t, db, c, nil)
		testsupport.InsertEvents(t, db, testsupport.PageView("s1", "id-1", "/", time.Date(2024, 11, 4, 12, 0, 0, 0, time.UTC)))

		rep := &reports.ScheduledReport{
			Name:           "Json",
			ReportType:     reports.TypeSummary,
			Schedule:       reports.ScheduleDaily,
			DateRange:      "yesterday",
			DeliveryMethod: reports.DeliveryStorage,
			Format:         reports.FormatJSON,
		}
		require.NoError(t, runner.Create(context.Background(), rep))

		hist, err := runner.RunNow(context.Background(), rep.ID)
		require.NoError(t, err)
		require.Equal(t, reports.StatusCompleted, hist.Status)

		name := strings.TrimPrefix(hist.FileURL, reports.FilesURLPrefix)
		assert.True(t, strings.HasSuffix(name, ".json"), name)
		assert.True(t, reports.IsStoredFile(name))

		body, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		var records []map[string]string
		require.NoError(t, json.Unmarshal(body, &records))
		require.Len(t, records, 1)
		assert.Equal(t, "2024-11-04", records[0]["date"])
		assert.Equal(t, "1", records[0]["page_views"])
		assert.Equal(t, int64(len(body)), hist.FileSize)
	})
}

func TestWarehouseExports(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)}
	rng, err := timeframe.Named(timeframe.RangeLabelLast7Days, c.t)
	require.NoError(t, err)
	q := reports.Query{Type: reports.TypeSummary, Range: rng}

	t.Run("queued as pending without credentials", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		runner, _ := newRunner(t, db, c, nil)
		assert.False(t, runner.WarehouseConfigured())

		exp, err := runner.RequestWarehouseExport(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, reports.StatusPending, exp.Status)
		assert.Equal(t, rng.StartDate(), exp.StartDate)

		flushed, err := runner.FlushPending(ctx)
		require.NoError(t, err)
		assert.Zero(t, flushed)
	})

	t.Run("pending rows flush once configured", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		queueing, _ := newRunner(t, db, c, nil)
		_, err := queueing.RequestWarehouseExport(ctx, q)
		require.NoError(t, err)

		wh := &fakeWarehouse{}
		runner, _ := newRunner(t, db, c, wh)
		flushed, err := runner.FlushPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, flushed)
		assert.Equal(t, 7, wh.rows)

		var stored reports.WarehouseExport
		require.NoError(t, db.First(&stored).Error)
		assert.Equal(t, reports.StatusCompleted, stored.Status)
		assert.Equal(t, 7, stored.RowsExported)
	})

	t.Run("push failure is recorded", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		runner, _ := newRunner(t, db, c, &fakeWarehouse{err: errors.New("connection refused")})

		exp, err := runner.RequestWarehouseExport(ctx, q)
		require.Error(t, err)
		require.NotNil(t, exp)
		assert.Equal(t, reports.StatusFailed, exp.Status)

		var stored reports.WarehouseExport
		require.NoError(t, db.First(&stored, exp.ID).Error)
		assert.Equal(t, "connection refused", stored.ErrorMessage)
	})

	t.Run("scheduled warehouse delivery queues", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		runner, _ := newRunner(t, db, c, nil)
		rep := createReport(t, runner, "Warehouse", reports.DeliveryWarehouse)

		hist, err := runner.RunNow(ctx, rep.ID)
		require.NoError(t, err)
		assert.Equal(t, reports.StatusCompleted, hist.Status)

		var count int64
		require.NoError(t, db.Model(&reports.WarehouseExport{}).Where("status = ?", reports.StatusPending).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}
