// Package keys derives MIFARE Classic sector authentication keys from a
// tag's UID using a fixed-parameter HKDF-SHA256 expansion, mirroring
// backend/crypto/kdf.py of the original BambuRFID implementation.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SectorCount is the number of sector keys a full derivation produces.
const SectorCount = 16

// KeyLength is the width, in bytes, of a single sector key.
const KeyLength = 6

// masterSalt is the fixed HKDF salt shared by every tag of this family.
var masterSalt = []byte{
	0x9A, 0x75, 0x9C, 0xF2, 0xC4, 0xF7, 0xCA, 0xFF,
	0x22, 0x2C, 0xB9, 0x76, 0x9B, 0x41, 0xBC, 0x96,
}

// info is the fixed HKDF context string, including its trailing NUL.
var info = []byte("RFID-A\x00")

// SectorKeys holds the sixteen derived sector keys in order.
type SectorKeys [SectorCount][KeyLength]byte

// Derive expands uid into sixteen 6-byte sector keys via HKDF-SHA256 with
// the fixed master salt and info constant. It never fails: any input,
// including an empty UID, produces a well-defined (if not meaningful) key
// set.
func Derive(uid []byte) SectorKeys {
	reader := hkdf.New(sha256.New, uid, masterSalt, info)

	okm := make([]byte, SectorCount*KeyLength)
	// hkdf.New's Reader never returns an error for a request within its
	// 255*hash-length limit, which 96 bytes is nowhere near.
	if _, err := io.ReadFull(reader, okm); err != nil {
		panic(fmt.Sprintf("keys: hkdf expansion failed unexpectedly: %v", err))
	}

	var keys SectorKeys
	for i := 0; i < SectorCount; i++ {
		copy(keys[i][:], okm[i*KeyLength:(i+1)*KeyLength])
	}
	return keys
}

// DeriveHex is a convenience wrapper over Derive for callers holding the UID
// as a hex string. Input is case-insensitive; output keys are upper-case
// hex.
func DeriveHex(uidHex string) ([SectorCount]string, error) {
	var out [SectorCount]string

	uid, err := hex.DecodeString(strings.TrimSpace(uidHex))
	if err != nil {
		return out, fmt.Errorf("keys: invalid UID hex: %w", err)
	}

	keys := Derive(uid)
	for i, k := range keys {
		out[i] = strings.ToUpper(hex.EncodeToString(k[:]))
	}
	return out, nil
}

// AuthPayload bundles one sector's derived key (used as key A) with the
// sector's default access bits, following backend/crypto/tag_auth.py's
// get_auth_payload.
type AuthPayload struct {
	Sector     int
	KeyA       [KeyLength]byte
	AccessBits [4]byte
}

// defaultAccessBits is the standard MIFARE Classic access-bits pattern that
// leaves key A usable for authentication and key B reserved for the
// transport value used when writing (C1 C2 C3 = 0 0 1, the common default
// shipped by card vendors).
var defaultAccessBits = [4]byte{0xFF, 0x07, 0x80, 0x69}

// SectorAuth builds the per-sector auth payload for sector, given a full set
// of derived keys. The bridge's write path (spec §4.5) does not use it: it
// sends all sixteen keys as hex strings from DeriveHex.
func SectorAuth(sector int, keys SectorKeys) AuthPayload {
	return AuthPayload{
		Sector:     sector,
		KeyA:       keys[sector],
		AccessBits: defaultAccessBits,
	}
}
