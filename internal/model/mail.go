package model

import "context"

// MessageKind tags outgoing mail for the delivery worker.
type MessageKind string

const (
	MessageVerification  MessageKind = "verification"
	MessagePasswordReset MessageKind = "password_reset"
)

// Message is a rendered email.
type Message struct {
	To      string      `json:"to"`
	Subject string      `json:"subject"`
	HTML    string      `json:"html"`
	Kind    MessageKind `json:"kind"`
}

// Mailer hands rendered mail to the delivery transport.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
