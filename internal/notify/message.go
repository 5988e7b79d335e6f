// Package notify renders reports into notification messages and hands them
// to a mail transport.
package notify

import "context"

// DefaultSubject is used when a watcher has no subject of its own.
const DefaultSubject = "Novas notificações - Diário Oficial"

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a rendered notification ready for a Transport.
type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Transport delivers messages. Implementations send a batch over a single
// connection.
type Transport interface {
	Send(ctx context.Context, msgs ...Message) error
}
