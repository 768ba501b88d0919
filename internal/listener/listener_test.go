package listener

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"meldung/internal"
	"meldung/internal/config"
	"meldung/internal/extract"
	"meldung/internal/incidents"
	"meldung/internal/locations"
	"meldung/internal/pipeline"
	"meldung/internal/storage"
)

type fakeConnector struct {
	calls    int
	messages []internal.FetchedMailMessage
}

func (f *fakeConnector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	f.calls++
	return f.messages, nil
}

const secondRaw = "Subject: Mannheim Store_ Sachbeschädigung\r\n" +
	"Message-ID: <m-2@example.test>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
	"Am 13.12.2024 um 07:40 Uhr wurde die Scheibe beschädigt.\r\n"

const reportRaw = "Subject: Karlsruhe Store_ Diebstahl\r\n" +
	"Message-ID: <k-1@example.test>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
	"Am 12.12.2024 um 18:05 Uhr wurde Ware entwendet.\r\n"

func newListener(t *testing.T, conn *fakeConnector) (*Service, *storage.DB, config.Config) {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.UpsertLocations(context.Background(), locations.DefaultSeed()))

	cfg := config.Config{
		RawMailDir:               filepath.Join(tmp, "raw"),
		OutputDir:                filepath.Join(tmp, "out"),
		DetectThreshold:          0.3,
		MatchAutoSubmitThreshold: 0.95,
		DefaultIncidentType:      incidents.TypeOther,
		MailListenerProvider:     "IMAP",
		MailListenerLabel:        "INBOX",
		MailListenerIntervalSec:  1,
		MailListenerFetchMax:     10,
		MailListenerProcessBatch: 10,
		MailListenerAutoExport:   true,
	}
	cache := locations.NewCache(db, nil)
	proc := pipeline.NewProcessingService(db, extract.NewEngine(cache, nil), incidents.NewService(db, cache, nil), cfg, nil)
	svc := NewService(db, cfg, conn, proc, nil)
	svc.now = func() time.Time { return time.Date(2025, 2, 9, 10, 0, 0, 0, time.UTC) }
	return svc, db, cfg
}

func TestRunCycleSubmitsAndExports(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<k-1@example.test>", Subject: "Karlsruhe Store_ Diebstahl", ReceivedAt: "2024-12-12T18:10:00Z", Raw: []byte(reportRaw)},
	}}
	svc, db, cfg := newListener(t, conn)

	res, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "listener", "incidents_20250209T100000Z.xlsx"), res.Exported)
	_, err = os.Stat(res.Exported)
	require.NoError(t, err)

	email, err := db.MustEmailByProviderMessageID(ctx, "imap", "<k-1@example.test>")
	require.NoError(t, err)
	assert.Equal(t, internal.EmailExported, email.Status)

	inc, err := db.GetIncidentByEmail(ctx, email.ID)
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.Equal(t, "2024-12-12", inc.IncidentDate)
	assert.Equal(t, "18:05", inc.IncidentTime)
	assert.Equal(t, 9, *inc.LocationID)

	// the same message again is neither re-processed nor re-exported
	res, err = svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, res.Exported)

	// an incident entered by hand stays out of listener workbooks
	_, err = db.InsertIncident(ctx, internal.Incident{Type: incidents.TypeOther, IncidentDate: "2024-12-01", IncidentTime: "10:00"})
	require.NoError(t, err)

	conn.messages = append(conn.messages, internal.FetchedMailMessage{
		Provider: "imap", MessageID: "<m-2@example.test>", Subject: "Mannheim Store_ Sachbeschädigung", ReceivedAt: "2024-12-13T08:00:00Z", Raw: []byte(secondRaw),
	})
	svc.now = func() time.Time { return time.Date(2025, 2, 9, 11, 0, 0, 0, time.UTC) }
	res, err = svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Submitted)
	require.Equal(t, filepath.Join(cfg.OutputDir, "listener", "incidents_20250209T110000Z.xlsx"), res.Exported)

	wb, err := excelize.OpenFile(res.Exported)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(wb.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 2, "header plus the new incident only")
	assert.Equal(t, "2024-12-13", rows[1][2])
	assert.Equal(t, "Mannheim", rows[1][7])
}

func TestRunStopsOnCancel(t *testing.T) {
	conn := &fakeConnector{}
	svc, _, _ := newListener(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.GreaterOrEqual(t, conn.calls, 1)
}
