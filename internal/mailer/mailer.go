// Package mailer delivers invoice emails over SMTP.
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/jordan-wright/email"
)

// Categorized transport failures, inspected by callers deciding how to
// surface or retry a delivery.
var (
	ErrAuthFailed        = errors.New("mailer: authentication failed")
	ErrConnectionTimeout = errors.New("mailer: connection timed out")
	ErrConnectionRefused = errors.New("mailer: connection refused")
	ErrSocket            = errors.New("mailer: socket error")
)

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	// Attachment is an optional PDF payload.
	AttachmentName string
	Attachment     []byte
}

// Mailer wraps SMTP configuration for sending invoice emails.
type Mailer struct {
	host     string
	port     int
	user     string
	password string
	from     string
	addr     string
}

// New constructs a Mailer. user may be empty for unauthenticated
// relays such as a local test server.
func New(host string, port int, user, password, from string) *Mailer {
	return &Mailer{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		addr:     fmt.Sprintf("%s:%d", host, port),
	}
}

// Send delivers the message, classifying transport failures.
func (m *Mailer) Send(msg Message) error {
	e := email.NewEmail()
	e.From = m.from
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	if msg.TextBody != "" {
		e.Text = []byte(msg.TextBody)
	}
	if msg.HTMLBody != "" {
		e.HTML = []byte(msg.HTMLBody)
	}
	if len(msg.Attachment) > 0 {
		if _, err := e.Attach(bytes.NewReader(msg.Attachment), msg.AttachmentName, "application/pdf"); err != nil {
			return fmt.Errorf("mailer: attach: %w", err)
		}
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	if err := e.Send(m.addr, auth); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps transport-level errors onto the sentinel set.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if strings.Contains(opErr.Err.Error(), "connection refused") {
			return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
		}
		return fmt.Errorf("%w: %v", ErrSocket, err)
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && (protoErr.Code == 535 || protoErr.Code == 530) {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "auth") {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	return fmt.Errorf("%w: %v", ErrSocket, err)
}
