package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UpdateKind is the `t` discriminator of a persistent update body.
type UpdateKind string

// Persistent update kinds.
const (
	UpdateNewMessage          UpdateKind = "new-message"
	UpdateNewSession          UpdateKind = "new-session"
	UpdateDeleteSession       UpdateKind = "delete-session"
	UpdateUpdateSession       UpdateKind = "update-session"
	UpdateUpdateAccount       UpdateKind = "update-account"
	UpdateNewMachine          UpdateKind = "new-machine"
	UpdateUpdateMachine       UpdateKind = "update-machine"
	UpdateNewArtifact         UpdateKind = "new-artifact"
	UpdateUpdateArtifact      UpdateKind = "update-artifact"
	UpdateDeleteArtifact      UpdateKind = "delete-artifact"
	UpdateRelationshipUpdated UpdateKind = "relationship-updated"
	UpdateNewFeedPost         UpdateKind = "new-feed-post"
	UpdateKVBatchUpdate       UpdateKind = "kv-batch-update"
)

// AddressCategory says which identifier an update or event is addressed by.
type AddressCategory string

const (
	AddressUser    AddressCategory = "user"
	AddressSession AddressCategory = "session"
	AddressMachine AddressCategory = "machine"
)

// Address is the target of an update or ephemeral event. ID is the sid for
// session-addressed variants, the machineId for machine-addressed ones and
// empty for user-addressed ones.
type Address struct {
	Category AddressCategory
	ID       string
}

// UpdateBody is implemented by every persistent update variant.
type UpdateBody interface {
	Kind() UpdateKind
	Address() Address
	validate() error
}

// ErrUnknownUpdateKind is returned for a body whose `t` is not a known update kind.
var ErrUnknownUpdateKind = errors.New("unknown update kind")

// ErrMissingIdentifier is returned when an addressed variant lacks its identifier.
var ErrMissingIdentifier = errors.New("missing identifier")

// Session-addressed variants.

// NewMessageBody is the body of `t == "new-message"`.
type NewMessageBody struct {
	SID     string          `json:"sid"`
	Message json.RawMessage `json:"message"`
}

// NewSessionBody is the body of `t == "new-session"`.
type NewSessionBody struct {
	SID        string          `json:"sid"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	AgentState json.RawMessage `json:"agentState,omitempty"`
}

// DeleteSessionBody is the body of `t == "delete-session"`.
type DeleteSessionBody struct {
	SID string `json:"sid"`
}

// UpdateSessionBody is the body of `t == "update-session"`.
type UpdateSessionBody struct {
	SID        string          `json:"sid"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	AgentState json.RawMessage `json:"agentState,omitempty"`
}

// Machine-addressed variants.

// NewMachineBody is the body of `t == "new-machine"`.
type NewMachineBody struct {
	MachineID string          `json:"machineId"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// UpdateMachineBody is the body of `t == "update-machine"`.
type UpdateMachineBody struct {
	MachineID   string          `json:"machineId"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	DaemonState json.RawMessage `json:"daemonState,omitempty"`
}

// User-addressed variants.

// UpdateAccountBody is the body of `t == "update-account"`.
type UpdateAccountBody struct {
	Settings json.RawMessage `json:"settings,omitempty"`
	Profile  json.RawMessage `json:"profile,omitempty"`
}

// ArtifactBody is the body of the new-artifact, update-artifact and
// delete-artifact kinds.
type ArtifactBody struct {
	kind       UpdateKind
	ArtifactID string          `json:"artifactId"`
	Header     json.RawMessage `json:"header,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// RelationshipUpdatedBody is the body of `t == "relationship-updated"`.
type RelationshipUpdatedBody struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

// NewFeedPostBody is the body of `t == "new-feed-post"`.
type NewFeedPostBody struct {
	Post json.RawMessage `json:"post"`
}

// KVBatchUpdateBody is the body of `t == "kv-batch-update"`.
type KVBatchUpdateBody struct {
	Changes json.RawMessage `json:"changes"`
}

func (*NewMessageBody) Kind() UpdateKind          { return UpdateNewMessage }
func (*NewSessionBody) Kind() UpdateKind          { return UpdateNewSession }
func (*DeleteSessionBody) Kind() UpdateKind       { return UpdateDeleteSession }
func (*UpdateSessionBody) Kind() UpdateKind       { return UpdateUpdateSession }
func (*NewMachineBody) Kind() UpdateKind          { return UpdateNewMachine }
func (*UpdateMachineBody) Kind() UpdateKind       { return UpdateUpdateMachine }
func (*UpdateAccountBody) Kind() UpdateKind       { return UpdateUpdateAccount }
func (b *ArtifactBody) Kind() UpdateKind          { return b.kind }
func (*RelationshipUpdatedBody) Kind() UpdateKind { return UpdateRelationshipUpdated }
func (*NewFeedPostBody) Kind() UpdateKind         { return UpdateNewFeedPost }
func (*KVBatchUpdateBody) Kind() UpdateKind       { return UpdateKVBatchUpdate }

func (b *NewMessageBody) Address() Address    { return sessionAddress(b.SID) }
func (b *NewSessionBody) Address() Address    { return sessionAddress(b.SID) }
func (b *DeleteSessionBody) Address() Address { return sessionAddress(b.SID) }
func (b *UpdateSessionBody) Address() Address { return sessionAddress(b.SID) }
func (b *NewMachineBody) Address() Address    { return machineAddress(b.MachineID) }
func (b *UpdateMachineBody) Address() Address { return machineAddress(b.MachineID) }

func (*UpdateAccountBody) Address() Address       { return Address{Category: AddressUser} }
func (*ArtifactBody) Address() Address            { return Address{Category: AddressUser} }
func (*RelationshipUpdatedBody) Address() Address { return Address{Category: AddressUser} }
func (*NewFeedPostBody) Address() Address         { return Address{Category: AddressUser} }
func (*KVBatchUpdateBody) Address() Address       { return Address{Category: AddressUser} }

func (b *NewMessageBody) validate() error    { return requireID("sid", b.SID) }
func (b *NewSessionBody) validate() error    { return requireID("sid", b.SID) }
func (b *DeleteSessionBody) validate() error { return requireID("sid", b.SID) }
func (b *UpdateSessionBody) validate() error { return requireID("sid", b.SID) }
func (b *NewMachineBody) validate() error    { return requireID("machineId", b.MachineID) }
func (b *UpdateMachineBody) validate() error { return requireID("machineId", b.MachineID) }
func (b *ArtifactBody) validate() error      { return requireID("artifactId", b.ArtifactID) }
func (b *RelationshipUpdatedBody) validate() error {
	return requireID("uid", b.UID)
}
func (*UpdateAccountBody) validate() error { return nil }
func (*NewFeedPostBody) validate() error   { return nil }
func (*KVBatchUpdateBody) validate() error { return nil }

func sessionAddress(sid string) Address {
	return Address{Category: AddressSession, ID: sid}
}

func machineAddress(machineID string) Address {
	return Address{Category: AddressMachine, ID: machineID}
}

func requireID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", ErrMissingIdentifier, field)
	}
	return nil
}

var updateVariants = map[UpdateKind]func() UpdateBody{
	UpdateNewMessage:          func() UpdateBody { return &NewMessageBody{} },
	UpdateNewSession:          func() UpdateBody { return &NewSessionBody{} },
	UpdateDeleteSession:       func() UpdateBody { return &DeleteSessionBody{} },
	UpdateUpdateSession:       func() UpdateBody { return &UpdateSessionBody{} },
	UpdateUpdateAccount:       func() UpdateBody { return &UpdateAccountBody{} },
	UpdateNewMachine:          func() UpdateBody { return &NewMachineBody{} },
	UpdateUpdateMachine:       func() UpdateBody { return &UpdateMachineBody{} },
	UpdateNewArtifact:         func() UpdateBody { return &ArtifactBody{kind: UpdateNewArtifact} },
	UpdateUpdateArtifact:      func() UpdateBody { return &ArtifactBody{kind: UpdateUpdateArtifact} },
	UpdateDeleteArtifact:      func() UpdateBody { return &ArtifactBody{kind: UpdateDeleteArtifact} },
	UpdateRelationshipUpdated: func() UpdateBody { return &RelationshipUpdatedBody{} },
	UpdateNewFeedPost:         func() UpdateBody { return &NewFeedPostBody{} },
	UpdateKVBatchUpdate:       func() UpdateBody { return &KVBatchUpdateBody{} },
}

// IsUpdateKind reports whether kind names a persistent update variant.
func IsUpdateKind(kind string) bool {
	_, ok := updateVariants[UpdateKind(kind)]
	return ok
}

// IncomingUpdate is a decoded update body together with the raw bytes that
// are stored and relayed unchanged.
type IncomingUpdate struct {
	Body UpdateBody
	// ProposedSeq is the sequence the sender expects this update to take, if any.
	ProposedSeq *int64
	Raw         json.RawMessage
}

// DecodeUpdateBody decodes raw into its variant and checks that the variant's
// identifier is present and a string.
func DecodeUpdateBody(raw json.RawMessage) (*IncomingUpdate, error) {
	var header struct {
		T   UpdateKind `json:"t"`
		Seq *int64     `json:"seq"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode update header: %w", err)
	}

	newBody, ok := updateVariants[header.T]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUpdateKind, header.T)
	}

	body := newBody()
	if err := json.Unmarshal(raw, body); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", header.T, err)
	}
	if err := body.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s body: %w", header.T, err)
	}

	return &IncomingUpdate{Body: body, ProposedSeq: header.Seq, Raw: raw}, nil
}

// Update is the envelope relayed to clients for a persisted update.
type Update struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Body      json.RawMessage `json:"body"`
	CreatedAt int64           `json:"createdAt"`
}

// UpdateRecord is a stored update. Records are append-only.
type UpdateRecord struct {
	StreamKey StreamKey
	UserID    string
	Seq       int64
	ID        string
	Kind      UpdateKind
	Body      json.RawMessage
	CreatedAt int64
}

// ToUpdate converts a stored record to its wire envelope.
func (r *UpdateRecord) ToUpdate() Update {
	return Update{ID: r.ID, Seq: r.Seq, Body: r.Body, CreatedAt: r.CreatedAt}
}

// StreamKey identifies an independently sequenced update stream.
type StreamKey string

// SessionStream is the stream of updates addressed to one session of a user.
func SessionStream(userID, sessionID string) StreamKey {
	return StreamKey("user#" + userID + "#session#" + sessionID)
}

// UserStream is the stream of every update not addressed to a session.
func UserStream(userID string) StreamKey {
	return StreamKey("user#" + userID)
}
