package connectors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meldung/internal"
	"meldung/internal/config"
	"meldung/internal/storage"
)

type fakeConnector struct {
	messages []internal.FetchedMailMessage
	err      error
}

func (f *fakeConnector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if max > 0 && len(f.messages) > max {
		return f.messages[:max], nil
	}
	return f.messages, nil
}

func TestFetchAndStore(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	defer db.Close()

	conn := &fakeConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<1@example.test>", Subject: "Vorfall", Raw: []byte("Subject: Vorfall\r\n\r\nA")},
		{Provider: "imap", MessageID: "<2@example.test>", Subject: "Vorfall", Raw: []byte("Subject: Vorfall\r\n\r\nA")},
	}}
	rawDir := filepath.Join(tmp, "raw")
	svc := NewFetchService(db, rawDir, conn, nil)

	res, err := svc.FetchAndStore(ctx, "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 2, Stored: 2, New: 2}, res)

	// identical bodies share one raw file
	entries, err := os.ReadDir(rawDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	first, err := db.MustEmailByProviderMessageID(ctx, "imap", "<1@example.test>")
	require.NoError(t, err)
	require.NoError(t, db.UpdateEmailStatus(ctx, first.ID, internal.EmailSubmitted))

	res, err = svc.FetchAndStore(ctx, "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)

	again, err := db.GetEmailByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.EmailSubmitted, again.Status)
}

func TestFetchAndStoreConnectorError(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()

	svc := NewFetchService(db, t.TempDir(), &fakeConnector{err: errors.New("auth failed")}, nil)
	_, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.EqualError(t, err, "auth failed")
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(config.Config{}, "pop3")
	require.Error(t, err)
	_, err = New(config.Config{}, "IMAP")
	require.Error(t, err, "imap without credentials")
}
