package mail

import "gopkg.in/gomail.v2"

type DealWonEmailData struct {
	Name             string
	Phone            string
	PropertyInterest string
	FromStage        string
	ChangedAt        string
}

// Dialer is satisfied by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailSender struct {
	From   string
	To     []string
	dialer Dialer
}
