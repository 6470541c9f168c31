package softsync

import (
	"encoding/json"
	"fmt"

	"lesson-notes-sync/internal/domain"
)

// Inbound is a decoded peer message: either *SoftSyncInbound or
// *UnknownMessage.
type Inbound interface {
	inbound()
}

type SoftSyncInbound struct {
	Message domain.SoftSyncMessage
}

type UnknownMessage struct {
	Kind string
}

func (*SoftSyncInbound) inbound() {}
func (*UnknownMessage) inbound()  {}

// ParseMessage decodes raw peer data. Only the kind decides the variant;
// field validation is left to the caller.
func ParseMessage(raw []byte) (Inbound, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode peer message: %w", err)
	}

	if probe.Kind != domain.SoftSyncKind {
		return &UnknownMessage{Kind: probe.Kind}, nil
	}

	var msg domain.SoftSyncMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode soft-sync message: %w", err)
	}
	return &SoftSyncInbound{Message: msg}, nil
}
