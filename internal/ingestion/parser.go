package ingestion

import (
	"fmt"
	"strings"

	"CreditLedger/internal/event"
)

const (
	// CommandSubjectPrefix roots inbound command subjects:
	// credit.commands.<EventType>[.<market>]
	CommandSubjectPrefix = "credit.commands"
	// EventSubjectPrefix roots outbound ledger events:
	// credit.ledger.events.<EventType>[.<market>]
	EventSubjectPrefix = "credit.ledger.events"
)

// RawCommand is an undecoded command as received from a transport.
type RawCommand struct {
	Subject string
	Data    []byte
}

// ParseSubject returns the event type named by a command subject.
func ParseSubject(subject string) (event.EventType, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("subject %q is not a command subject", subject)
	}
	name, _, _ := strings.Cut(rest, ".")
	return event.ParseEventType(name)
}

// ParseRawCommand decodes a command using the event type in its subject.
func ParseRawCommand(raw RawCommand) (event.Event, error) {
	et, err := ParseSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(et.String(), raw.Data)
}

// ParseCommand decodes a JSON command of the named type.
func ParseCommand(eventType string, data []byte) (event.Event, error) {
	et, err := event.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	return event.Decode(et, data)
}

// CommandSubject is the subject a producer publishes evt on. Market commands
// carry the market as the last token so consumers can filter per market.
func CommandSubject(evt event.Event) string {
	return subjectFor(CommandSubjectPrefix, evt.EventType(), evt.MarketID())
}

func subjectFor(prefix string, et event.EventType, marketID *string) string {
	subject := prefix + "." + et.String()
	if marketID != nil {
		subject += "." + sanitizeToken(*marketID)
	}
	return subject
}

// sanitizeToken replaces characters NATS reserves in subject tokens.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
