// Package pop3 adapts a POP3 mailbox to the fetcher's needs: list, retrieve
// and parse messages, delete them after ingestion.
package pop3

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"
	"golang.org/x/crypto/sha3"
)

// InboundMessage is one parsed mailbox message.
type InboundMessage struct {
	SeqID      int // POP3 sequence number, valid for this session only
	MessageID  string
	From       string
	Subject    string
	BodyText   string
	BodyHTML   *string
	ReceivedAt time.Time
}

// MailboxSession is one authenticated POP3 connection. Sequence ids are only
// meaningful within the session; Quit commits pending deletes.
type MailboxSession interface {
	List() ([]int, error)
	Fetch(seqID int) (*InboundMessage, error)
	Delete(seqID int) error
	Quit() error
}

// MailboxDialer opens authenticated mailbox sessions.
type MailboxDialer interface {
	Dial() (MailboxSession, error)
}

// Dialer connects to a POP3 mailbox with knadh/go-pop3.
type Dialer struct {
	client   *pop3.Client
	username string
	password string
}

func NewDialer(host string, port int, useTLS bool, username, password string) *Dialer {
	return &Dialer{
		client: pop3.New(pop3.Opt{
			Host:       host,
			Port:       port,
			TLSEnabled: useTLS,
		}),
		username: username,
		password: password,
	}
}

func (d *Dialer) Dial() (MailboxSession, error) {
	conn, err := d.client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connecting to mailbox: %w", err)
	}
	if err := conn.Auth(d.username, d.password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("authenticating to mailbox: %w", err)
	}
	return &session{conn: conn}, nil
}

type session struct {
	conn *pop3.Conn
}

func (s *session) List() ([]int, error) {
	msgs, err := s.conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("listing mailbox: %w", err)
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *session) Fetch(seqID int) (*InboundMessage, error) {
	entity, err := s.conn.Retr(seqID)
	if err != nil {
		return nil, fmt.Errorf("retrieving message %d: %w", seqID, err)
	}

	mr := mail.NewReader(entity)
	header := mr.Header

	msg := &InboundMessage{SeqID: seqID}

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date.UTC()
	} else {
		msg.ReceivedAt = time.Now().UTC()
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever parts parsed before the malformed one.
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if msg.BodyText == "" {
				msg.BodyText = string(body)
			}
		case "text/html":
			if msg.BodyHTML == nil {
				html := string(body)
				msg.BodyHTML = &html
			}
		}
	}

	if id, err := header.MessageID(); err == nil && id != "" {
		msg.MessageID = id
	} else {
		msg.MessageID = syntheticMessageID(msg.From, msg.Subject, msg.BodyText)
	}
	return msg, nil
}

func (s *session) Delete(seqID int) error {
	if err := s.conn.Dele(seqID); err != nil {
		return fmt.Errorf("deleting message %d: %w", seqID, err)
	}
	return nil
}

func (s *session) Quit() error {
	return s.conn.Quit()
}

// syntheticMessageID derives a stable id for messages missing a Message-ID
// header, so dedup still works across polls.
func syntheticMessageID(from, subject, body string) string {
	digest := sha3.Sum256([]byte(strings.Join([]string{from, subject, body}, "\x00")))
	return "synthetic-" + hex.EncodeToString(digest[:16])
}
