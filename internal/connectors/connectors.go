// Package connectors fetches incident report mails from a mailbox and keeps
// their raw bytes on disk.
package connectors

import (
	"context"
	"fmt"
	"strings"

	"meldung/internal"
	"meldung/internal/config"
	gmailconnector "meldung/internal/connectors/gmail"
	imapconnector "meldung/internal/connectors/imap"
)

type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// New builds the connector for provider ("imap" or "gmail").
func New(cfg config.Config, provider string) (MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "imap":
		return imapconnector.NewConnector(cfg)
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}
