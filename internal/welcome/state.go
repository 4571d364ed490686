// Package welcome exposes the organizer and participant views of a deployed
// welcome contract.
package welcome

import (
	"bytes"
	"encoding/hex"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"welcome/internal/action"
	"welcome/internal/ephemeral"
	"welcome/internal/ledger"
)

// PrivateStateKey is the store key of the welcome private state.
const PrivateStateKey = "welcomePrivateState"

// PrivateState is never placed on chain. Organizers hold a secret key;
// participants learn their id once they have checked in.
type PrivateState struct {
	OrganizerSecretKey []byte  `cbor:"1,keyasint,omitempty"`
	ParticipantID      *string `cbor:"2,keyasint,omitempty"`
}

func NewOrganizerPrivateState(secretKey []byte) PrivateState {
	return PrivateState{OrganizerSecretKey: secretKey}
}

func NewParticipantPrivateState() PrivateState {
	return PrivateState{}
}

type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleSpectator Role = "spectator"
)

type OrganizerState struct {
	SecretKey string
	PublicKey string
	Role      Role
	Actions   action.History
}

func (s OrganizerState) History() action.History {
	return s.Actions
}

func (s OrganizerState) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("publicKey", s.PublicKey)
	enc.AddString("role", string(s.Role))
	return marshalLatest(enc, s.Actions)
}

type ParticipantState struct {
	ParticipantID *string
	IsCheckedIn   bool
	Actions       action.History
}

func (s ParticipantState) History() action.History {
	return s.Actions
}

func (s ParticipantState) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if s.ParticipantID != nil {
		enc.AddString("participantId", *s.ParticipantID)
	}
	enc.AddBool("isCheckedIn", s.IsCheckedIn)
	return marshalLatest(enc, s.Actions)
}

func marshalLatest(enc zapcore.ObjectEncoder, h action.History) error {
	enc.AddInt("actions", h.Len())
	latest, ok := h.Latest()
	if !ok {
		return nil
	}
	return enc.AddObject("latestAction", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("id", string(latest.ID))
		enc.AddString("action", string(latest.Action))
		enc.AddString("status", string(latest.Status))
		if latest.Error != "" {
			enc.AddString("error", latest.Error)
		}
		return nil
	}))
}

func DeriveOrganizerState(l ledger.Ledger, ps PrivateState, es ephemeral.State) OrganizerState {
	state := OrganizerState{Role: RoleSpectator, Actions: es.Actions}
	if ps.OrganizerSecretKey == nil {
		return state
	}
	pk := ledger.PublicKey(ps.OrganizerSecretKey)
	state.SecretKey = hex.EncodeToString(ps.OrganizerSecretKey)
	state.PublicKey = hex.EncodeToString(pk)
	if l.IsOrganizer(pk) {
		state.Role = RoleOrganizer
	}
	return state
}

func DeriveParticipantState(l ledger.Ledger, ps PrivateState, es ephemeral.State) ParticipantState {
	return ParticipantState{
		ParticipantID: ps.ParticipantID,
		IsCheckedIn:   ps.ParticipantID != nil && l.IsCheckedIn(*ps.ParticipantID),
		Actions:       es.Actions,
	}
}

// OrganizerStatesEqual ignores action timestamps and transaction payloads.
func OrganizerStatesEqual(a, b OrganizerState) bool {
	return a.SecretKey == b.SecretKey &&
		a.PublicKey == b.PublicKey &&
		a.Role == b.Role &&
		action.StatusesEqual(a.Actions, b.Actions)
}

// ParticipantStatesEqual ignores action timestamps and transaction payloads.
func ParticipantStatesEqual(a, b ParticipantState) bool {
	return optionalEqual(a.ParticipantID, b.ParticipantID) &&
		a.IsCheckedIn == b.IsCheckedIn &&
		action.StatusesEqual(a.Actions, b.Actions)
}

func optionalEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ledgerFields(l ledger.Ledger) []zap.Field {
	return []zap.Field{
		zap.Strings("organizerPks", l.OrganizerPks),
		zap.Strings("eligibleParticipants", l.EligibleParticipants),
		zap.Strings("checkedInParticipants", l.CheckedInParticipants),
	}
}

func privateStatesEqual(a, b PrivateState) bool {
	return bytes.Equal(a.OrganizerSecretKey, b.OrganizerSecretKey) && optionalEqual(a.ParticipantID, b.ParticipantID)
}
