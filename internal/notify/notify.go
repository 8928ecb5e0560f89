// Package notify delivers operator notifications.
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Message is one outbound notification.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Channel sends messages. With dryRun set it prints instead of sending.
type Channel interface {
	Send(ctx context.Context, msg Message, dryRun bool) error
}

// printDryRun writes the message the way an operator would read it.
func printDryRun(w io.Writer, msg Message) error {
	_, err := fmt.Fprintf(w, "\n--- DRY RUN (no email sent) ---\nTo: %s\nSubject: %s\n%s\n",
		strings.Join(msg.To, ", "), msg.Subject, msg.Text)
	if err != nil {
		return fmt.Errorf("print dry run: %w", err)
	}
	return nil
}
