// Package ledger models the public state of the welcome contract and the
// circuits that transition it.
package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/fxamacker/cbor/v2"

	apperrors "welcome/internal/errors"
)

// MaxInitialParticipants bounds the participants vector passed to the constructor.
const MaxInitialParticipants = 5000

const SecretKeyLength = 32

var (
	ErrNotOrganizer        = apperrors.New(apperrors.CodeTransactionFailure, "Not an organizer")
	ErrNotEligible         = apperrors.New(apperrors.CodeTransactionFailure, "Not eligible participant")
	ErrAlreadyCheckedIn    = apperrors.New(apperrors.CodeTransactionFailure, "Already checked in")
	ErrTooManyParticipants = apperrors.New(apperrors.CodeInvalidArgument, "too many initial participants")
	ErrInvalidPublicKey    = apperrors.New(apperrors.CodeInvalidArgument, "invalid organizer public key")
)

var publicKeyDomain = []byte("welcome:pk:")

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Ledger holds sets kept sorted, so equal ledgers encode to equal bytes.
type Ledger struct {
	OrganizerPks          []string `cbor:"1,keyasint"`
	EligibleParticipants  []string `cbor:"2,keyasint"`
	CheckedInParticipants []string `cbor:"3,keyasint"`
}

// PublicKey derives an organizer public key from its secret key.
func PublicKey(sk []byte) []byte {
	h := mimc.NewMiMC()
	h.Write(fieldBytes(publicKeyDomain))
	h.Write(fieldBytes(sk))
	return h.Sum(nil)
}

func fieldBytes(b []byte) []byte {
	var e fr.Element
	e.SetBytes(b)
	out := e.Bytes()
	return out[:]
}

func New(deployerPk []byte, initialParticipants []string) (Ledger, error) {
	if len(initialParticipants) > MaxInitialParticipants {
		return Ledger{}, fmt.Errorf("%w: %d > %d", ErrTooManyParticipants, len(initialParticipants), MaxInitialParticipants)
	}
	l := Ledger{
		OrganizerPks:          []string{hex.EncodeToString(deployerPk)},
		EligibleParticipants:  []string{},
		CheckedInParticipants: []string{},
	}
	for _, p := range initialParticipants {
		l.EligibleParticipants = insert(l.EligibleParticipants, p)
	}
	return l, nil
}

func (l Ledger) IsOrganizer(pk []byte) bool {
	return contains(l.OrganizerPks, hex.EncodeToString(pk))
}

func (l Ledger) IsEligible(participantID string) bool {
	return contains(l.EligibleParticipants, participantID)
}

func (l Ledger) IsCheckedIn(participantID string) bool {
	return contains(l.CheckedInParticipants, participantID)
}

func (l Ledger) AddParticipant(callerSK []byte, participantID string) (Ledger, error) {
	if !l.IsOrganizer(PublicKey(callerSK)) {
		return l, ErrNotOrganizer
	}
	next := l.clone()
	next.EligibleParticipants = insert(next.EligibleParticipants, participantID)
	return next, nil
}

func (l Ledger) AddOrganizer(callerSK []byte, organizerPk []byte) (Ledger, error) {
	if len(organizerPk) == 0 {
		return l, ErrInvalidPublicKey
	}
	if !l.IsOrganizer(PublicKey(callerSK)) {
		return l, ErrNotOrganizer
	}
	next := l.clone()
	next.OrganizerPks = insert(next.OrganizerPks, hex.EncodeToString(organizerPk))
	return next, nil
}

func (l Ledger) CheckIn(participantID string) (Ledger, error) {
	if !l.IsEligible(participantID) {
		return l, ErrNotEligible
	}
	if l.IsCheckedIn(participantID) {
		return l, ErrAlreadyCheckedIn
	}
	next := l.clone()
	next.CheckedInParticipants = insert(next.CheckedInParticipants, participantID)
	return next, nil
}

// Equal compares set membership.
func (l Ledger) Equal(other Ledger) bool {
	return slices.Equal(l.OrganizerPks, other.OrganizerPks) &&
		slices.Equal(l.EligibleParticipants, other.EligibleParticipants) &&
		slices.Equal(l.CheckedInParticipants, other.CheckedInParticipants)
}

func (l Ledger) Encode() ([]byte, error) {
	return encMode.Marshal(l)
}

func Decode(data []byte) (Ledger, error) {
	if len(data) == 0 {
		return Ledger{}, errors.New("decode ledger: empty contract state")
	}
	var l Ledger
	if err := cbor.Unmarshal(data, &l); err != nil {
		return Ledger{}, fmt.Errorf("decode ledger: %w", err)
	}
	return l, nil
}

func (l Ledger) clone() Ledger {
	return Ledger{
		OrganizerPks:          slices.Clone(l.OrganizerPks),
		EligibleParticipants:  slices.Clone(l.EligibleParticipants),
		CheckedInParticipants: slices.Clone(l.CheckedInParticipants),
	}
}

func contains(set []string, v string) bool {
	_, found := slices.BinarySearch(set, v)
	return found
}

func insert(set []string, v string) []string {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}
	return slices.Insert(set, i, v)
}
