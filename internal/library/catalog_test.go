package library

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openspool/tagbridge-agent/internal/mifare"
)

func newTestCatalog(t *testing.T, apiBody, rawBody map[string]string) (*Catalog, func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(apiBody["tree"]))
	})
	for path, body := range rawBody {
		path, body := path, body
		// Download requests the escaped path; a raw space is also not valid in a
		// ServeMux pattern.
		mux.HandleFunc("/"+escapePath(path), func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	server := httptest.NewServer(mux)

	cat := NewCatalog(t.TempDir(), server.URL, server.URL)
	return cat, server.Close
}

const sampleTree = `{"tree":[
  {"path":"PLA/PLA Matte/Charcoal/7AD43F1C/hf-mf-7AD43F1C-dump.json"},
  {"path":"PLA/PLA Matte/Ivory White/11223344/hf-mf-11223344-dump.json"},
  {"path":"PETG/PETG HF/Black/AABBCCDD/hf-mf-AABBCCDD-dump.json"},
  {"path":"README.md"},
  {"path":"too/short.json"}
]}`

func TestLoadIndexFromRemote(t *testing.T) {
	cat, closeFn := newTestCatalog(t, map[string]string{"tree": sampleTree}, nil)
	defer closeFn()

	if err := cat.LoadIndex(context.Background(), false); err != nil {
		t.Fatalf("LoadIndex returned error: %v", err)
	}
	if !cat.IsLoaded() {
		t.Fatal("catalog should report loaded")
	}

	entries := cat.Search("", "", "", "")
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 (README and short paths filtered)", len(entries))
	}

	materials := cat.Materials()
	if len(materials["PLA"]) != 1 || materials["PLA"][0] != "PLA Matte" {
		t.Errorf("materials[PLA] = %v, want [PLA Matte]", materials["PLA"])
	}
}

// TestLoadIndexStability reproduces testable property 10: load-save-load
// yields the same entries and material index.
func TestLoadIndexStability(t *testing.T) {
	cat, closeFn := newTestCatalog(t, map[string]string{"tree": sampleTree}, nil)
	defer closeFn()

	if err := cat.LoadIndex(context.Background(), false); err != nil {
		t.Fatalf("first LoadIndex returned error: %v", err)
	}
	firstEntries := cat.Search("", "", "", "")
	firstMaterials := cat.Materials()

	cat2 := NewCatalog(cat.cacheDir, "http://unused.invalid", "http://unused.invalid")
	if err := cat2.LoadIndex(context.Background(), false); err != nil {
		t.Fatalf("snapshot LoadIndex returned error: %v", err)
	}
	secondEntries := cat2.Search("", "", "", "")

	if len(firstEntries) != len(secondEntries) {
		t.Fatalf("entry count mismatch after snapshot reload: %d vs %d", len(firstEntries), len(secondEntries))
	}
	for i := range firstEntries {
		if firstEntries[i] != secondEntries[i] {
			t.Errorf("entry %d mismatch: %+v vs %+v", i, firstEntries[i], secondEntries[i])
		}
	}
	secondMaterials := cat2.Materials()
	if len(firstMaterials) != len(secondMaterials) {
		t.Error("material index mismatch after snapshot reload")
	}
}

func TestSearchFilters(t *testing.T) {
	cat, closeFn := newTestCatalog(t, map[string]string{"tree": sampleTree}, nil)
	defer closeFn()
	if err := cat.LoadIndex(context.Background(), false); err != nil {
		t.Fatalf("LoadIndex returned error: %v", err)
	}

	if got := cat.Search("pla", "", "", ""); len(got) != 2 {
		t.Errorf("Search(material=pla) = %d entries, want 2", len(got))
	}
	if got := cat.Search("", "", "ivory", ""); len(got) != 1 {
		t.Errorf("Search(color=ivory) = %d entries, want 1", len(got))
	}
	if got := cat.Search("", "", "", "aabbccdd"); len(got) != 1 {
		t.Errorf("Search(query=uid) = %d entries, want 1", len(got))
	}
}

func TestColors(t *testing.T) {
	cat, closeFn := newTestCatalog(t, map[string]string{"tree": sampleTree}, nil)
	defer closeFn()
	if err := cat.LoadIndex(context.Background(), false); err != nil {
		t.Fatalf("LoadIndex returned error: %v", err)
	}
	colors := cat.Colors("PLA", "PLA Matte")
	if len(colors) != 2 || colors[0] != "Charcoal" || colors[1] != "Ivory White" {
		t.Errorf("Colors = %v, want [Charcoal Ivory White]", colors)
	}
}

func TestDownloadCachesLocally(t *testing.T) {
	dumpJSON := `{"Card":{"uid":"7AD43F1C"},"blocks":{"0":"` + strings.Repeat("AA", 16) + `"}}`
	cat, closeFn := newTestCatalog(t, map[string]string{"tree": sampleTree}, map[string]string{
		"PLA/PLA Matte/Charcoal/7AD43F1C/hf-mf-7AD43F1C-dump.json": dumpJSON,
	})
	defer closeFn()
	if err := cat.LoadIndex(context.Background(), false); err != nil {
		t.Fatalf("LoadIndex returned error: %v", err)
	}

	entry := cat.Search("PLA", "PLA Matte", "Charcoal", "")[0]
	dump, err := cat.Download(context.Background(), entry)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if dump.Blocks["0"] != strings.Repeat("AA", 16) {
		t.Errorf("dump block 0 = %q", dump.Blocks["0"])
	}

	// Second call should be served from cache, not the (now-closed) server.
	closeFn()
	dump2, err := cat.Download(context.Background(), entry)
	if err != nil {
		t.Fatalf("cached Download returned error: %v", err)
	}
	if dump2.Blocks["0"] != dump.Blocks["0"] {
		t.Error("cached download mismatch")
	}
}

func TestBlocksOfDumpFillsMissingWithZero(t *testing.T) {
	dump := &Dump{Blocks: map[string]string{
		"0": strings.Repeat("AA", 16),
	}}
	blocks, err := BlocksOfDump(dump)
	if err != nil {
		t.Fatalf("BlocksOfDump returned error: %v", err)
	}
	if blocks[0][0] != 0xAA {
		t.Errorf("block 0 first byte = %x, want AA", blocks[0][0])
	}
	var zero [mifare.BlockSize]byte
	if blocks[1] != zero {
		t.Errorf("block 1 should be zeroed when missing from dump")
	}
}

func TestBlocksOfDumpInvalidHex(t *testing.T) {
	dump := &Dump{Blocks: map[string]string{"0": "not-hex"}}
	if _, err := BlocksOfDump(dump); err == nil {
		t.Fatal("expected error for malformed hex block")
	}
}
