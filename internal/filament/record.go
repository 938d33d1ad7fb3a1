// Package filament implements the structural mapping between a MIFARE
// Classic 1K block array and the semantic fields of a Bambu Lab-style
// filament spool tag, grounded on backend/rfid/bambu_format.py of the
// original BambuRFID implementation.
//
// Every field is represented as a pointer so the zero value of its
// underlying type (empty string, 0, all-zero bytes) is distinguishable from
// "not set". Build uses that distinction to implement clone-preserving
// rebuild: only the byte ranges of fields explicitly set are overwritten.
package filament

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/openspool/tagbridge-agent/internal/mifare"
)

// Block is one 16-byte card block.
type Block = [mifare.BlockSize]byte

// Image is a full 64-block card dump.
type Image = [mifare.BlockCount]Block

// RSA signature spans the first 16 of the 18 data blocks across sectors
// 10-15 (6 sectors × 3 data blocks); 256 bytes = 16 × 16-byte blocks, so the
// last two data blocks of that span carry no signature bytes.
const rsaSignatureLength = 256

var rsaDataBlocks = func() []int {
	var blocks []int
	for sector := 10; sector <= 15; sector++ {
		d := mifare.DataBlocksOf(sector)
		blocks = append(blocks, d[0], d[1], d[2])
	}
	return blocks
}()

// FilamentData is the semantic view of one tag image (spec.md §3).
type FilamentData struct {
	UID                     *[4]byte
	ManufacturerData        *[12]byte
	MaterialVariantID       *string
	MaterialID              *string
	FilamentType            *string
	DetailedFilamentType    *string
	ColorRGBA               *[4]byte
	SpoolWeightG            *uint16
	FilamentDiameterMM      *float32
	DryingTempC             *uint16
	DryingTimeH             *uint16
	BedTempType             *uint16
	BedTempC                *uint16
	MaxHotendTempC          *uint16
	MinHotendTempC          *uint16
	XcamInfo                *[12]byte
	NozzleDiameterMM        *float32
	TrayUID                 *string
	SpoolWidthMM            *float64
	ProductionDateTime      *string
	ShortProductionDateTime *string
	FilamentLengthM         *uint16
	ColorFormat             *uint16
	ColorCount              *uint16
	SecondaryColorABGR      *[4]byte
	RSASignature            *[rsaSignatureLength]byte

	// RawBlocks is the backing image a parsed record was built from. It is
	// a read-only value the builder starts from when present; it is never
	// mutated in place and never exposed as a pointer back into the record
	// that produced it (spec.md §9 — not a back-pointer, a shared value).
	RawBlocks *Image
}

// ColorHex returns the colour as a "#RRGGBB" string, or "#000000" if unset.
func (fd *FilamentData) ColorHex() string {
	if fd.ColorRGBA == nil {
		return "#000000"
	}
	c := fd.ColorRGBA
	return fmt.Sprintf("#%02X%02X%02X", c[0], c[1], c[2])
}

// Errors returned by Parse. Named as kinds, not types, per spec.md §6.
var (
	ErrInvalidBlockCount = errors.New("filament: invalid block count")
	ErrInvalidBlockSize  = errors.New("filament: invalid block size")
)

// Parse decodes a 64×16-byte image into a FilamentData. It fails only on
// the two structural checks below; any other byte content is accepted and
// retained (spec.md §4.3).
func Parse(blocks [][]byte) (*FilamentData, error) {
	if len(blocks) != mifare.BlockCount {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidBlockCount, len(blocks), mifare.BlockCount)
	}

	var image Image
	for i, b := range blocks {
		if len(b) != mifare.BlockSize {
			return nil, fmt.Errorf("%w: block %d has %d bytes, want %d", ErrInvalidBlockSize, i, len(b), mifare.BlockSize)
		}
		copy(image[i][:], b)
	}

	fd := &FilamentData{RawBlocks: &image}

	fd.UID = ptrArray4(image[0][0:4])
	fd.ManufacturerData = ptrArray12(image[0][4:16])

	fd.MaterialVariantID = ptrString(decodeASCII(image[1][0:8]))
	fd.MaterialID = ptrString(decodeASCII(image[1][8:16]))

	fd.FilamentType = ptrString(decodeASCII(image[2][0:16]))

	fd.DetailedFilamentType = ptrString(decodeASCII(image[4][0:16]))

	fd.ColorRGBA = ptrArray4(image[5][0:4])
	fd.SpoolWeightG = ptrUint16(decodeUint16(image[5][4:6]))
	fd.FilamentDiameterMM = ptrFloat32(decodeFloat32(image[5][8:12]))

	fd.DryingTempC = ptrUint16(decodeUint16(image[6][0:2]))
	fd.DryingTimeH = ptrUint16(decodeUint16(image[6][2:4]))
	fd.BedTempType = ptrUint16(decodeUint16(image[6][4:6]))
	fd.BedTempC = ptrUint16(decodeUint16(image[6][6:8]))
	fd.MaxHotendTempC = ptrUint16(decodeUint16(image[6][8:10]))
	fd.MinHotendTempC = ptrUint16(decodeUint16(image[6][10:12]))

	fd.XcamInfo = ptrArray12(image[8][0:12])
	fd.NozzleDiameterMM = ptrFloat32(decodeFloat32(image[8][12:16]))

	fd.TrayUID = ptrString(decodeASCII(image[9][0:16]))

	rawWidth := decodeUint16(image[10][4:6])
	width := float64(rawWidth) / 100.0
	fd.SpoolWidthMM = &width

	fd.ProductionDateTime = ptrString(decodeASCII(image[12][0:16]))
	fd.ShortProductionDateTime = ptrString(decodeASCII(image[13][0:16]))

	fd.FilamentLengthM = ptrUint16(decodeUint16(image[14][4:6]))

	fd.ColorFormat = ptrUint16(decodeUint16(image[16][0:2]))
	fd.ColorCount = ptrUint16(decodeUint16(image[16][2:4]))
	if *fd.ColorFormat == 2 {
		fd.SecondaryColorABGR = ptrArray4(image[16][4:8])
	}

	var sig [rsaSignatureLength]byte
	offset := 0
	for _, blk := range rsaDataBlocks {
		if offset >= rsaSignatureLength {
			break
		}
		n := copy(sig[offset:], image[blk][:])
		offset += n
	}
	fd.RSASignature = &sig

	return fd, nil
}

// Build produces a 64×16-byte image from fd. If fd carries a full raw base
// image, the image starts from those bytes and only the byte ranges of
// explicitly-set fields are overwritten; otherwise it starts from zeroed
// blocks. Sector trailers are never written (spec.md §4.3): the reader
// device regenerates them from derived keys during the write transaction.
func Build(fd *FilamentData) Image {
	var image Image
	if fd.RawBlocks != nil {
		image = *fd.RawBlocks
	}

	if fd.UID != nil {
		copy(image[0][0:4], fd.UID[:])
	}
	if fd.ManufacturerData != nil {
		copy(image[0][4:16], fd.ManufacturerData[:])
	}
	if fd.MaterialVariantID != nil {
		encodeASCII(image[1][0:8], *fd.MaterialVariantID)
	}
	if fd.MaterialID != nil {
		encodeASCII(image[1][8:16], *fd.MaterialID)
	}
	if fd.FilamentType != nil {
		encodeASCII(image[2][0:16], *fd.FilamentType)
	}
	if fd.DetailedFilamentType != nil {
		encodeASCII(image[4][0:16], *fd.DetailedFilamentType)
	}
	if fd.ColorRGBA != nil {
		copy(image[5][0:4], fd.ColorRGBA[:])
	}
	if fd.SpoolWeightG != nil {
		encodeUint16(image[5][4:6], *fd.SpoolWeightG)
	}
	if fd.FilamentDiameterMM != nil {
		encodeFloat32(image[5][8:12], *fd.FilamentDiameterMM)
	}
	if fd.DryingTempC != nil {
		encodeUint16(image[6][0:2], *fd.DryingTempC)
	}
	if fd.DryingTimeH != nil {
		encodeUint16(image[6][2:4], *fd.DryingTimeH)
	}
	if fd.BedTempType != nil {
		encodeUint16(image[6][4:6], *fd.BedTempType)
	}
	if fd.BedTempC != nil {
		encodeUint16(image[6][6:8], *fd.BedTempC)
	}
	if fd.MaxHotendTempC != nil {
		encodeUint16(image[6][8:10], *fd.MaxHotendTempC)
	}
	if fd.MinHotendTempC != nil {
		encodeUint16(image[6][10:12], *fd.MinHotendTempC)
	}
	if fd.XcamInfo != nil {
		copy(image[8][0:12], fd.XcamInfo[:])
	}
	if fd.NozzleDiameterMM != nil {
		encodeFloat32(image[8][12:16], *fd.NozzleDiameterMM)
	}
	if fd.TrayUID != nil {
		encodeASCII(image[9][0:16], *fd.TrayUID)
	}
	if fd.SpoolWidthMM != nil {
		encodeUint16(image[10][4:6], uint16(math.Round(*fd.SpoolWidthMM*100)))
	}
	if fd.ProductionDateTime != nil {
		encodeASCII(image[12][0:16], *fd.ProductionDateTime)
	}
	if fd.ShortProductionDateTime != nil {
		encodeASCII(image[13][0:16], *fd.ShortProductionDateTime)
	}
	if fd.FilamentLengthM != nil {
		encodeUint16(image[14][4:6], *fd.FilamentLengthM)
	}
	if fd.ColorFormat != nil {
		encodeUint16(image[16][0:2], *fd.ColorFormat)
	}
	if fd.ColorCount != nil {
		encodeUint16(image[16][2:4], *fd.ColorCount)
	}
	// Secondary colour is only written when colour_format = 2 (spec.md §4.3).
	if fd.SecondaryColorABGR != nil && fd.ColorFormat != nil && *fd.ColorFormat == 2 {
		copy(image[16][4:8], fd.SecondaryColorABGR[:])
	}
	if fd.RSASignature != nil {
		offset := 0
		for _, blk := range rsaDataBlocks {
			if offset >= rsaSignatureLength {
				break
			}
			n := copy(image[blk][:], fd.RSASignature[offset:])
			offset += n
		}
	}

	return image
}

// --- pointer helpers (mirrors the aws.String/aws.Int convenience idiom for
// optional struct fields) ---

func StringPtr(s string) *string    { return &s }
func Uint16Ptr(v uint16) *uint16    { return &v }
func Float32Ptr(v float32) *float32 { return &v }
func Float64Ptr(v float64) *float64 { return &v }

func ptrString(s string) *string { return &s }
func ptrUint16(v uint16) *uint16 { return &v }
func ptrFloat32(v float32) *float32 { return &v }

func ptrArray4(b []byte) *[4]byte {
	var a [4]byte
	copy(a[:], b)
	return &a
}

func ptrArray12(b []byte) *[12]byte {
	var a [12]byte
	copy(a[:], b)
	return &a
}

// --- codec primitives ---

func decodeUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func encodeUint16(dst []byte, v uint16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}

func decodeFloat32(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func encodeFloat32(dst []byte, v float32) {
	bits := math.Float32bits(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}

// decodeASCII reads a NUL-terminated ASCII string: everything up to the
// first NUL byte, with non-ASCII bytes replaced (never an error), and
// trailing whitespace stripped.
func decodeASCII(b []byte) string {
	cut := b
	if i := indexByte(b, 0); i >= 0 {
		cut = b[:i]
	}
	var sb strings.Builder
	sb.Grow(len(cut))
	for _, c := range cut {
		if c < 0x80 {
			sb.WriteByte(c)
		} else {
			sb.WriteRune('�')
		}
	}
	return strings.TrimRight(sb.String(), " \t\r\n\v\f")
}

// encodeASCII truncates s to len(dst) bytes and right-pads with NUL.
func encodeASCII(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst, s)
	_ = n
}

func indexByte(b []byte, target byte) int {
	for i, c := range b {
		if c == target {
			return i
		}
	}
	return -1
}
