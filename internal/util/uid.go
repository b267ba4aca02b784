package util

import (
	"math/big"

	"github.com/google/uuid"
)

// UIDRoot is the DICOM root for UUID-derived UIDs (PS3.5 B.2).
const UIDRoot = "2.25"

// UIDGenerator produces DICOM UIDs.
type UIDGenerator func() string

// NewUID returns a fresh UID of the form 2.25.<uuid as decimal>.
// The result is at most 44 characters, well under the 64 allowed.
func NewUID() string {
	return UIDFromUUID(uuid.New())
}

// UIDFromUUID converts u into its 2.25 UID form.
func UIDFromUUID(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	return UIDRoot + "." + n.String()
}

// DeterministicUID derives a stable UID from a seed string, for tests and
// reproducible dry runs.
func DeterministicUID(seed string) string {
	return UIDFromUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)))
}
