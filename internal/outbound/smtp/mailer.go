// Package smtp sends outbound mail through an authenticated SMTP relay.
package smtp

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

// Email is one outbound message.
type Email struct {
	To        string
	Subject   string
	BodyText  string
	BodyHTML  *string
	InReplyTo string // transport message id of the letter being answered, if any
}

// Mailer delivers emails. Implementations must return PermanentDeliveryError
// for rejections that will never succeed on retry.
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

// PermanentDeliveryError marks an SMTP rejection that retrying cannot fix,
// like a nonexistent mailbox or bad credentials.
type PermanentDeliveryError struct {
	Err error
}

func (e *PermanentDeliveryError) Error() string { return e.Err.Error() }
func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// GoMailer implements Mailer on wneessen/go-mail.
type GoMailer struct {
	host        string
	port        int
	username    string
	password    string
	fromAddress string
	fromName    string
}

func NewGoMailer(host string, port int, username, password, fromAddress, fromName string) *GoMailer {
	return &GoMailer{
		host:        host,
		port:        port,
		username:    username,
		password:    password,
		fromAddress: fromAddress,
		fromName:    fromName,
	}
}

func (g *GoMailer) Send(ctx context.Context, email *Email) error {
	opts := []mail.Option{
		mail.WithPort(g.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(g.username),
		mail.WithPassword(g.password),
	}
	// 465 is implicit TLS; everything else negotiates STARTTLS.
	if g.port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(g.host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(g.fromName, g.fromAddress); err != nil {
		return &PermanentDeliveryError{Err: fmt.Errorf("invalid from address: %w", err)}
	}
	if err := msg.To(email.To); err != nil {
		return &PermanentDeliveryError{Err: fmt.Errorf("invalid to address: %w", err)}
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextPlain, email.BodyText)
	if email.BodyHTML != nil {
		msg.AddAlternativeString(mail.TypeTextHTML, *email.BodyHTML)
	}
	if email.InReplyTo != "" {
		msg.SetGenHeader(mail.HeaderInReplyTo, email.InReplyTo)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if isPermanentSMTPError(err) {
			return &PermanentDeliveryError{Err: err}
		}
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

// isPermanentSMTPError recognizes rejections that will not succeed on retry:
// authentication failures and permanent recipient errors.
func isPermanentSMTPError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"535", "530", "550", "551", "553", "authentication failed", "invalid recipient", "no such user"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
