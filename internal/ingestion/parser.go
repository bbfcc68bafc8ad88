package ingestion

import (
	"Parimutuel/internal/event"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks messages that can never be processed; they are terminated, not redelivered
var ErrMalformed = errors.New("malformed command")

// ParseSubject splits pari.cmd.<operation>.<token>
func ParseSubject(subject string) (event.Operation, string, error) {
	rest, ok := strings.CutPrefix(subject, commandPrefix+".")
	if !ok {
		return "", "", fmt.Errorf("%w: subject %q outside %s", ErrMalformed, subject, commandPrefix)
	}
	op, token, ok := strings.Cut(rest, ".")
	if !ok || op == "" || token == "" {
		return "", "", fmt.Errorf("%w: subject %q has no token", ErrMalformed, subject)
	}
	for _, known := range event.Operations {
		if string(known) == op {
			return known, token, nil
		}
	}
	return "", "", fmt.Errorf("%w: unknown operation %q", ErrMalformed, op)
}

// ParseCommand decodes a raw message into a command. The subject is
// authoritative for operation and token; a body that disagrees is rejected.
// Messages without a command_id fall back to the Nats-Msg-Id header.
func ParseCommand(raw RawCommand) (*event.Command, error) {
	op, token, err := ParseSubject(raw.Subject)
	if err != nil {
		return nil, err
	}

	var cmd event.Command
	dec := json.NewDecoder(bytes.NewReader(raw.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, op, err)
	}

	if cmd.Operation == "" {
		cmd.Operation = op
	} else if cmd.Operation != op {
		return nil, fmt.Errorf("%w: body operation %q on %s subject", ErrMalformed, cmd.Operation, op)
	}
	if cmd.Token == "" {
		cmd.Token = token
	} else if cmd.Token != token {
		return nil, fmt.Errorf("%w: body token %q on subject for %q", ErrMalformed, cmd.Token, token)
	}
	if cmd.CommandID == "" {
		cmd.CommandID = raw.MsgID
	}
	return &cmd, nil
}
