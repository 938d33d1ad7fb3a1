// Package clone composes the bridge, library, filament, and key-derivation
// packages into the end-to-end cloning pipeline (spec.md §4.7). It holds no
// state of its own beyond one request: source image in, edited image out,
// written back through the bridge.
package clone

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openspool/tagbridge-agent/internal/bridge"
	"github.com/openspool/tagbridge-agent/internal/filament"
	"github.com/openspool/tagbridge-agent/internal/keys"
	"github.com/openspool/tagbridge-agent/internal/library"
	"github.com/openspool/tagbridge-agent/internal/mifare"
)

// Source selects where a clone's starting image comes from.
type Source int

const (
	// SourceLiveRead reads the source image from the tag currently on the
	// attached reader via the bridge.
	SourceLiveRead Source = iota
	// SourceCatalog downloads the source image from the community dump
	// catalog.
	SourceCatalog
)

var (
	// ErrInvalidUID is returned when the live-read UID fails mifare.ValidUID
	// before key derivation is attempted (spec.md §5 "Supplemented features").
	ErrInvalidUID = errors.New("clone: invalid UID read from source tag")
	// ErrNoCatalogEntry is returned when SourceCatalog is requested without
	// an entry to download.
	ErrNoCatalogEntry = errors.New("clone: catalog source requires an entry")
)

// Request describes one clone operation: a source image plus the field
// edits to apply before writing back.
type Request struct {
	Source Source
	Entry  library.TagEntry // required when Source == SourceCatalog

	Edits func(*filament.FilamentData)

	// Timeout bounds the live-read and the final write; zero keeps
	// bridge.DefaultRequestTimeout.
	Timeout time.Duration
}

// Result carries the data written back, and the record it was built from,
// for callers that want to show a before/after diff.
type Result struct {
	Source  *filament.FilamentData
	Written filament.Image
}

// Pipeline runs the clone flow against one bridge session and catalog.
type Pipeline struct {
	Session *bridge.Session
	Catalog *library.Catalog
}

// New constructs a Pipeline over the given session and catalog.
func New(session *bridge.Session, catalog *library.Catalog) *Pipeline {
	return &Pipeline{Session: session, Catalog: catalog}
}

// Run executes req: fetch the source image, parse it while preserving its
// raw blocks, apply edits, rebuild, and write back via the bridge
// (spec.md §4.7). Clone preservation (§4.3) guarantees that the signature
// and any untouched bytes survive the round trip because Build only
// overwrites the byte ranges of fields the caller explicitly sets.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	image, uid, err := p.fetchSource(ctx, req)
	if err != nil {
		return nil, err
	}

	blockPtrs := make([][]byte, mifare.BlockCount)
	for i := range image {
		blockPtrs[i] = image[i][:]
	}
	source, err := filament.Parse(blockPtrs)
	if err != nil {
		return nil, fmt.Errorf("clone: parsing source image: %w", err)
	}

	if req.Edits != nil {
		req.Edits(source)
	}

	built := filament.Build(source)

	if err := p.writeBack(ctx, req, uid, built); err != nil {
		return nil, err
	}

	return &Result{Source: source, Written: built}, nil
}

func (p *Pipeline) fetchSource(ctx context.Context, req Request) (filament.Image, string, error) {
	var image filament.Image

	switch req.Source {
	case SourceLiveRead:
		uidBytes, blocks, err := p.Session.ReadTag(ctx, req.Timeout)
		if err != nil {
			return image, "", fmt.Errorf("clone: reading source tag: %w", err)
		}
		uidHex := strings.ToUpper(hex.EncodeToString(uidBytes))
		if !mifare.ValidUID(uidBytes) {
			return image, "", fmt.Errorf("%w: %s", ErrInvalidUID, uidHex)
		}
		return filament.Image(blocks), uidHex, nil

	case SourceCatalog:
		if req.Entry.UID == "" {
			return image, "", ErrNoCatalogEntry
		}
		dump, err := p.Catalog.Download(ctx, req.Entry)
		if err != nil {
			return image, "", fmt.Errorf("clone: downloading catalog entry: %w", err)
		}
		image, err = library.BlocksOfDump(dump)
		if err != nil {
			return image, "", fmt.Errorf("clone: decoding catalog dump: %w", err)
		}
		return image, req.Entry.UID, nil

	default:
		return image, "", fmt.Errorf("clone: unknown source %d", req.Source)
	}
}

func (p *Pipeline) writeBack(ctx context.Context, req Request, uidHex string, built filament.Image) error {
	uidBytes, err := hex.DecodeString(uidHex)
	if err != nil || !mifare.ValidUID(uidBytes) {
		return fmt.Errorf("%w: %s", ErrInvalidUID, uidHex)
	}

	keyHexes, err := keys.DeriveHex(uidHex)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidUID, uidHex)
	}

	return p.Session.WriteTag(ctx, keyHexes, built, &uidHex, req.Timeout)
}
