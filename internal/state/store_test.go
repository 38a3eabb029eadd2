package state

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/compress"
	"github.com/therealutkarshpriyadarshi/dvblogparser/internal/logging"
	"github.com/therealutkarshpriyadarshi/dvblogparser/pkg/types"
)

func newStore(t *testing.T, mirrors ...compress.CompressionType) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "data.json")
	s, err := NewStore(path, mirrors, logging.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func sampleSet(t *testing.T) types.WorkingSet {
	t.Helper()
	payload, err := types.ParsePayload(`{"level":"ERROR","msg":"disk full","n":1.5}`)
	if err != nil {
		t.Fatalf("Failed to parse payload: %v", err)
	}
	return types.WorkingSet{
		"abc": {
			Hash:       "abc",
			Remote:     "10.0.0.1",
			IPv4:       "10.0.0.1",
			Time:       "01/Jan/2018:08:32:20 +0100",
			TimeParsed: time.Date(2018, 1, 1, 7, 32, 20, 0, time.UTC),
			UserAgent:  "Mozilla/5.0",
			Payload:    payload,
		},
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newStore(t)

	res, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !res.Fresh {
		t.Error("expected fresh result for missing snapshot")
	}
	if res.Set == nil || len(res.Set) != 0 {
		t.Errorf("expected empty working set, got %v", res.Set)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"empty file", ""},
		{"null", "null"},
		{"wrong shape", `[1,2,3]`},
		{"bad payload", `{"abc":{"hash":"abc","payload":}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(s.Path(), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			res, err := s.Load()
			if err != nil {
				t.Fatalf("Load() error = %v, corrupt state must not be fatal", err)
			}
			if !res.Fresh || len(res.Set) != 0 {
				t.Errorf("expected fresh empty set, got fresh=%v size=%d", res.Fresh, len(res.Set))
			}
		})
	}
}

func TestStore_LoadReadErrorIsFatal(t *testing.T) {
	s := newStore(t)
	// a directory where the snapshot should be
	if err := os.MkdirAll(s.Path(), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(); err == nil {
		t.Error("expected error when snapshot path is unreadable")
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newStore(t, compress.CompressionGzip)
	set := sampleSet(t)

	if err := s.Save(set); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	res, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if res.Fresh {
		t.Error("expected non-fresh result after save")
	}

	rec, ok := res.Set["abc"]
	if !ok {
		t.Fatal("record abc not found after load")
	}
	if !rec.TimeParsed.Equal(set["abc"].TimeParsed) {
		t.Errorf("TimeParsed = %v, want %v", rec.TimeParsed, set["abc"].TimeParsed)
	}
	if rec.Level() != "ERROR" {
		t.Errorf("Level() = %q, want ERROR", rec.Level())
	}
	if rec.IPv6 != "" || rec.IPv4 != "10.0.0.1" {
		t.Errorf("address fields = %q/%q", rec.IPv4, rec.IPv6)
	}
}

func TestStore_SnapshotFormat(t *testing.T) {
	s := newStore(t)
	if err := s.Save(sampleSet(t)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("snapshot is not a JSON object of records: %v", err)
	}
	rec := raw["abc"]
	if rec["timeParsed"] != "2018-01-01T07:32:20.000Z" {
		t.Errorf("timeParsed = %v, want ISO millis", rec["timeParsed"])
	}
	if _, ok := rec["ipv6"]; ok {
		t.Error("empty ipv6 should be omitted")
	}
	if !strings.Contains(string(data), `"payload":{"level":"ERROR","msg":"disk full","n":1.5}`) {
		t.Errorf("payload not preserved verbatim: %s", data)
	}
}

func TestStore_SaveIsDeterministic(t *testing.T) {
	s := newStore(t)
	set := sampleSet(t)

	if err := s.Save(set); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(s.Path())

	res, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(res.Set); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(s.Path())

	if !bytes.Equal(first, second) {
		t.Errorf("load/save changed snapshot bytes:\n%s\n%s", first, second)
	}
}

func TestStore_Mirrors(t *testing.T) {
	s := newStore(t, compress.CompressionGzip, compress.CompressionZstd, compress.CompressionSnappy)
	if err := s.Save(sampleSet(t)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	snapshot, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}

	paths := s.MirrorPaths()
	if len(paths) != 3 {
		t.Fatalf("MirrorPaths() = %v, want 3 paths", paths)
	}
	if paths[0] != s.Path()+".gz" {
		t.Errorf("gzip mirror path = %s", paths[0])
	}

	for _, p := range paths {
		compressed, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("mirror %s missing: %v", p, err)
		}
		c, err := compress.GetCompressor(compress.FromPath(p))
		if err != nil {
			t.Fatal(err)
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("mirror %s not decodable: %v", p, err)
		}
		if !bytes.Equal(decompressed, snapshot) {
			t.Errorf("mirror %s does not match snapshot", p)
		}
	}

	if _, err := os.Stat(s.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary snapshot file left behind")
	}
}

func TestStore_LoadRekeysByHash(t *testing.T) {
	s := newStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	content := `{"wrongkey":{"hash":"realhash","timeParsed":"2018-01-01T07:32:20.000Z","payload":{}},` +
		`"nohash":{"timeParsed":"2018-01-01T07:32:20Z","payload":null},"nil":null}`
	if err := os.WriteFile(s.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Set["realhash"]; !ok {
		t.Error("record not re-keyed by its hash")
	}
	if rec, ok := res.Set["nohash"]; !ok || rec.Hash != "nohash" {
		t.Error("record without hash should take its key")
	}
	if len(res.Set) != 2 {
		t.Errorf("set size = %d, want 2", len(res.Set))
	}
}
