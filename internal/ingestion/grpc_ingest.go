package ingestion

import (
	"context"
	"errors"
	"fmt"

	"CreditLedger/internal/core"
	"CreditLedger/internal/event"
)

// ErrInvalidCommand marks commands that could not be decoded. Transports map
// it to their "bad request" status.
var ErrInvalidCommand = errors.New("invalid command")

// CommandService is the synchronous ingest path used by the gRPC and HTTP
// surfaces. It is meant for admin and manual commands; bulk producers go
// through NATS.
type CommandService struct {
	submitter Submitter
}

func NewCommandService(submitter Submitter) *CommandService {
	return &CommandService{submitter: submitter}
}

// SubmitRaw decodes a JSON command of the named type and applies it.
func (s *CommandService) SubmitRaw(ctx context.Context, eventType string, payload []byte) (event.Event, core.Result, error) {
	evt, err := ParseCommand(eventType, payload)
	if err != nil {
		return nil, core.Result{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	res, err := s.submitter.Submit(ctx, evt)
	return evt, res, err
}

// Submit applies an already decoded command.
func (s *CommandService) Submit(ctx context.Context, evt event.Event) (core.Result, error) {
	if evt == nil {
		return core.Result{}, fmt.Errorf("%w: nil command", ErrInvalidCommand)
	}
	return s.submitter.Submit(ctx, evt)
}
