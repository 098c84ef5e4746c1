package api

import (
	"encoding/json"
	"fmt"
)

// EphemeralKind is the `type` discriminator of an ephemeral event.
type EphemeralKind string

// Ephemeral event kinds.
const (
	EphemeralActivity              EphemeralKind = "activity"
	EphemeralUsage                 EphemeralKind = "usage"
	EphemeralMachineActivity       EphemeralKind = "machine-activity"
	EphemeralMachineStatus         EphemeralKind = "machine-status"
	EphemeralACPSessionUpdate      EphemeralKind = "acp-session-update"
	EphemeralACPPermissionRequest  EphemeralKind = "acp-permission-request"
	EphemeralACPPermissionResponse EphemeralKind = "acp-permission-response"
)

// EphemeralEvent is implemented by every ephemeral variant. Only the
// identifier fields are decoded; the rest of the body is relayed as is.
type EphemeralEvent interface {
	Kind() EphemeralKind
	Address() Address
	// CarriesACP reports whether the event relays an opaque ACP payload.
	CarriesACP() bool
	validate() error
}

// ActivityEvent reports that a session is active or thinking.
type ActivityEvent struct {
	SID string `json:"sid"`
}

// UsageEvent reports token usage of a session.
type UsageEvent struct {
	SID string `json:"sid"`
}

// MachineActivityEvent is a machine keep-alive.
type MachineActivityEvent struct {
	MachineID string `json:"machineId"`
}

// MachineStatusEvent reports a machine's daemon status.
type MachineStatusEvent struct {
	MachineID string `json:"machineId"`
}

// ACPSessionUpdateEvent relays an opaque ACP session update.
type ACPSessionUpdateEvent struct {
	SID string `json:"sid"`
}

// ACPPermissionEvent relays an opaque ACP permission request or response.
type ACPPermissionEvent struct {
	kind      EphemeralKind
	SID       string `json:"sid"`
	RequestID string `json:"requestId"`
}

func (*ActivityEvent) Kind() EphemeralKind         { return EphemeralActivity }
func (*UsageEvent) Kind() EphemeralKind            { return EphemeralUsage }
func (*MachineActivityEvent) Kind() EphemeralKind  { return EphemeralMachineActivity }
func (*MachineStatusEvent) Kind() EphemeralKind    { return EphemeralMachineStatus }
func (*ACPSessionUpdateEvent) Kind() EphemeralKind { return EphemeralACPSessionUpdate }
func (e *ACPPermissionEvent) Kind() EphemeralKind  { return e.kind }

func (e *ActivityEvent) Address() Address         { return sessionAddress(e.SID) }
func (e *UsageEvent) Address() Address            { return sessionAddress(e.SID) }
func (e *MachineActivityEvent) Address() Address  { return machineAddress(e.MachineID) }
func (e *MachineStatusEvent) Address() Address    { return machineAddress(e.MachineID) }
func (e *ACPSessionUpdateEvent) Address() Address { return sessionAddress(e.SID) }
func (e *ACPPermissionEvent) Address() Address    { return sessionAddress(e.SID) }

func (*ActivityEvent) CarriesACP() bool         { return false }
func (*UsageEvent) CarriesACP() bool            { return false }
func (*MachineActivityEvent) CarriesACP() bool  { return false }
func (*MachineStatusEvent) CarriesACP() bool    { return false }
func (*ACPSessionUpdateEvent) CarriesACP() bool { return true }
func (*ACPPermissionEvent) CarriesACP() bool    { return true }

func (e *ActivityEvent) validate() error         { return requireID("sid", e.SID) }
func (e *UsageEvent) validate() error            { return requireID("sid", e.SID) }
func (e *MachineActivityEvent) validate() error  { return requireID("machineId", e.MachineID) }
func (e *MachineStatusEvent) validate() error    { return requireID("machineId", e.MachineID) }
func (e *ACPSessionUpdateEvent) validate() error { return requireID("sid", e.SID) }
func (e *ACPPermissionEvent) validate() error {
	if err := requireID("sid", e.SID); err != nil {
		return err
	}
	return requireID("requestId", e.RequestID)
}

var ephemeralVariants = map[EphemeralKind]func() EphemeralEvent{
	EphemeralActivity:         func() EphemeralEvent { return &ActivityEvent{} },
	EphemeralUsage:            func() EphemeralEvent { return &UsageEvent{} },
	EphemeralMachineActivity:  func() EphemeralEvent { return &MachineActivityEvent{} },
	EphemeralMachineStatus:    func() EphemeralEvent { return &MachineStatusEvent{} },
	EphemeralACPSessionUpdate: func() EphemeralEvent { return &ACPSessionUpdateEvent{} },
	EphemeralACPPermissionRequest: func() EphemeralEvent {
		return &ACPPermissionEvent{kind: EphemeralACPPermissionRequest}
	},
	EphemeralACPPermissionResponse: func() EphemeralEvent {
		return &ACPPermissionEvent{kind: EphemeralACPPermissionResponse}
	},
}

// IsEphemeralKind reports whether kind names an ephemeral variant.
func IsEphemeralKind(kind string) bool {
	_, ok := ephemeralVariants[EphemeralKind(kind)]
	return ok
}

// DecodeEphemeral decodes raw into its variant. Identifier fields must be
// present and strings; anything else in the body is left uninspected.
func DecodeEphemeral(raw json.RawMessage) (EphemeralEvent, error) {
	var header struct {
		Type EphemeralKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode ephemeral header: %w", err)
	}

	return DecodeEphemeralKind(header.Type, raw)
}

// DecodeEphemeralKind decodes raw as the given variant. It is used when the
// kind travels as the message type and the payload carries only the body.
func DecodeEphemeralKind(kind EphemeralKind, raw json.RawMessage) (EphemeralEvent, error) {
	newEvent, ok := ephemeralVariants[kind]
	if !ok {
		return nil, fmt.Errorf("unknown ephemeral kind %q", kind)
	}

	event := newEvent()
	if err := json.Unmarshal(raw, event); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	if err := event.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s event: %w", kind, err)
	}

	return event, nil
}
