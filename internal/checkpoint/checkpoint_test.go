package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestCheckpointManager(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "access.log.1.gz")
	writeFile(t, logPath, "rotated content")

	fp, err := Fingerprint(logPath)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if fp.Size != int64(len("rotated content")) {
		t.Errorf("Expected size %d, got %d", len("rotated content"), fp.Size)
	}

	mgr := NewManager(filepath.Join(tmpDir, "state", "files.json"))
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load() on missing file error = %v", err)
	}
	if mgr.Unchanged(fp) {
		t.Error("nothing recorded yet, file cannot be unchanged")
	}

	mgr.Record(fp)
	if err := mgr.Save(); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	// Second manager - load from disk
	mgr2 := NewManager(filepath.Join(tmpDir, "state", "files.json"))
	if err := mgr2.Load(); err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}

	fp2, err := Fingerprint(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !mgr2.Unchanged(fp2) {
		t.Error("Expected unchanged file after reload")
	}
}

func TestCheckpointDetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "access.log")
	writeFile(t, logPath, "line one\n")

	fp, err := Fingerprint(logPath)
	if err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(filepath.Join(tmpDir, "files.json"))
	mgr.Record(fp)
	if err := mgr.Save(); err != nil {
		t.Fatal(err)
	}

	mgr2 := NewManager(filepath.Join(tmpDir, "files.json"))
	if err := mgr2.Load(); err != nil {
		t.Fatal(err)
	}

	grown := *fp
	grown.Size += 10
	if mgr2.Unchanged(&grown) {
		t.Error("size change not detected")
	}

	touched := *fp
	touched.ModTime = fp.ModTime.Add(time.Second)
	if mgr2.Unchanged(&touched) {
		t.Error("mtime change not detected")
	}

	replaced := *fp
	replaced.Inode++
	if mgr2.Unchanged(&replaced) {
		t.Error("inode change not detected")
	}
}

func TestCheckpointSaveForgetsUnrecorded(t *testing.T) {
	tmpDir := t.TempDir()
	a := filepath.Join(tmpDir, "a.log")
	b := filepath.Join(tmpDir, "b.log")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	fpA, _ := Fingerprint(a)
	fpB, _ := Fingerprint(b)

	path := filepath.Join(tmpDir, "files.json")
	mgr := NewManager(path)
	mgr.Record(fpA)
	mgr.Record(fpB)
	if err := mgr.Save(); err != nil {
		t.Fatal(err)
	}

	// next run only sees a.log
	mgr2 := NewManager(path)
	if err := mgr2.Load(); err != nil {
		t.Fatal(err)
	}
	mgr2.Record(fpA)
	if err := mgr2.Save(); err != nil {
		t.Fatal(err)
	}

	mgr3 := NewManager(path)
	if err := mgr3.Load(); err != nil {
		t.Fatal(err)
	}
	if !mgr3.Unchanged(fpA) {
		t.Error("a.log should still be recorded")
	}
	if mgr3.Unchanged(fpB) {
		t.Error("b.log should have been forgotten")
	}
}

func TestCheckpointLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.json")
	writeFile(t, path, "{oops")

	if err := NewManager(path).Load(); err == nil {
		t.Error("Expected error for corrupt checkpoint file")
	}
}
