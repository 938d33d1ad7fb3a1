// Package transport implements the four external encodings of a full tag
// image: raw binary, hex text, per-block base-64/hex arrays, and the
// line-oriented forensic-dump text format used by Proxmark-style tools
// (spec.md §4.4), grounded on backend/rfid/tag_parser.py and
// backend/rfid/tag_builder.py of the original BambuRFID implementation.
package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openspool/tagbridge-agent/internal/mifare"
)

// Errors returned by the decoders below. Named as kinds, not types, per
// spec.md §6.
var (
	ErrInvalidBlockCount = errors.New("transport: invalid block count")
	ErrInvalidBlockSize  = errors.New("transport: invalid block size")
	ErrInvalidHex        = errors.New("transport: invalid hex")
	ErrInvalidBase64     = errors.New("transport: invalid base64")
)

// Blocks is a full 64×16-byte tag image.
type Blocks [mifare.BlockCount][mifare.BlockSize]byte

func validate(flat []byte) (Blocks, error) {
	if len(flat) != mifare.ImageSize {
		return Blocks{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidBlockCount, len(flat), mifare.ImageSize)
	}
	var out Blocks
	for i := 0; i < mifare.BlockCount; i++ {
		copy(out[i][:], flat[i*mifare.BlockSize:(i+1)*mifare.BlockSize])
	}
	return out, nil
}

func flatten(blocks Blocks) []byte {
	flat := make([]byte, 0, mifare.ImageSize)
	for _, b := range blocks {
		flat = append(flat, b[:]...)
	}
	return flat
}

// EncodeRaw concatenates all 64 blocks into the 1024-byte raw image.
func EncodeRaw(blocks Blocks) []byte {
	return flatten(blocks)
}

// DecodeRaw parses a raw 1024-byte image.
func DecodeRaw(data []byte) (Blocks, error) {
	return validate(data)
}

// EncodeHex renders the raw image as lower-case hex.
func EncodeHex(blocks Blocks) string {
	return hex.EncodeToString(flatten(blocks))
}

// DecodeHex parses hex text, tolerating surrounding/interleaved whitespace
// and either case.
func DecodeHex(text string) (Blocks, error) {
	cleaned := stripWhitespace(text)
	flat, err := hex.DecodeString(cleaned)
	if err != nil {
		return Blocks{}, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return validate(flat)
}

// EncodeBlocksBase64 renders each block as its own base-64 string.
func EncodeBlocksBase64(blocks Blocks) []string {
	out := make([]string, mifare.BlockCount)
	for i, b := range blocks {
		out[i] = base64.StdEncoding.EncodeToString(b[:])
	}
	return out
}

// DecodeBlocksBase64 parses a list of exactly 64 base-64 strings, each
// decoding to exactly 16 bytes.
func DecodeBlocksBase64(values []string) (Blocks, error) {
	if len(values) != mifare.BlockCount {
		return Blocks{}, fmt.Errorf("%w: got %d entries, want %d", ErrInvalidBlockCount, len(values), mifare.BlockCount)
	}
	var out Blocks
	for i, v := range values {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return Blocks{}, fmt.Errorf("%w: block %d: %v", ErrInvalidBase64, i, err)
		}
		if len(raw) != mifare.BlockSize {
			return Blocks{}, fmt.Errorf("%w: block %d has %d bytes, want %d", ErrInvalidBlockSize, i, len(raw), mifare.BlockSize)
		}
		copy(out[i][:], raw)
	}
	return out, nil
}

// EncodeBlocksHex renders each block as its own hex string.
func EncodeBlocksHex(blocks Blocks) []string {
	out := make([]string, mifare.BlockCount)
	for i, b := range blocks {
		out[i] = hex.EncodeToString(b[:])
	}
	return out
}

// DecodeBlocksHex parses a list of exactly 64 hex strings, each decoding to
// exactly 16 bytes.
func DecodeBlocksHex(values []string) (Blocks, error) {
	if len(values) != mifare.BlockCount {
		return Blocks{}, fmt.Errorf("%w: got %d entries, want %d", ErrInvalidBlockCount, len(values), mifare.BlockCount)
	}
	var out Blocks
	for i, v := range values {
		raw, err := hex.DecodeString(stripWhitespace(v))
		if err != nil {
			return Blocks{}, fmt.Errorf("%w: block %d: %v", ErrInvalidHex, i, err)
		}
		if len(raw) != mifare.BlockSize {
			return Blocks{}, fmt.Errorf("%w: block %d has %d bytes, want %d", ErrInvalidBlockSize, i, len(raw), mifare.BlockSize)
		}
		copy(out[i][:], raw)
	}
	return out, nil
}

// EncodeForensic renders the image as Proxmark3-style dump lines:
// "Block NN: HH HH ... HH" for each of the 64 blocks, in order.
func EncodeForensic(blocks Blocks) string {
	var sb strings.Builder
	for i, b := range blocks {
		fmt.Fprintf(&sb, "Block %02d: %s\n", i, formatHexBytes(b[:]))
	}
	return sb.String()
}

// DecodeForensic parses a line-oriented forensic dump. Blank lines and
// lines beginning with '#' are ignored; after filtering, exactly 64 data
// lines must remain, each with 16 space-separated hex byte pairs.
func DecodeForensic(text string) (Blocks, error) {
	var rows [][]byte
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, ":"); idx >= 0 {
			line = line[idx+1:]
		}
		fields := strings.Fields(line)
		if len(fields) != mifare.BlockSize {
			return Blocks{}, fmt.Errorf("%w: line has %d hex bytes, want %d", ErrInvalidBlockSize, len(fields), mifare.BlockSize)
		}
		row := make([]byte, mifare.BlockSize)
		for i, f := range fields {
			b, err := hex.DecodeString(f)
			if err != nil || len(b) != 1 {
				return Blocks{}, fmt.Errorf("%w: %q", ErrInvalidHex, f)
			}
			row[i] = b[0]
		}
		rows = append(rows, row)
	}

	if len(rows) != mifare.BlockCount {
		return Blocks{}, fmt.Errorf("%w: got %d data lines, want %d", ErrInvalidBlockCount, len(rows), mifare.BlockCount)
	}

	var out Blocks
	for i, row := range rows {
		copy(out[i][:], row)
	}
	return out, nil
}

func formatHexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = strconv.FormatUint(uint64(c), 16)
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	return strings.ToUpper(strings.Join(parts, " "))
}

func stripWhitespace(s string) string {
	var b bytes.Buffer
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\r', '\n', '\v', '\f':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
