package config

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestReport(t *testing.T) *Report {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "report.zip"))
	if err != nil {
		t.Fatalf("failed to create report file: %v", err)
	}
	return &Report{entries: make(map[string]entry), file: f}
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open report: %v", err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestReportClose_RemovesStoredDirs(t *testing.T) {
	r := newTestReport(t)

	// scratch directories of an external layout engine
	dir1, err := os.MkdirTemp("", "test-scratch1-")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	dir2, err := os.MkdirTemp("", "test-scratch2-")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir1, "page.html"), []byte("<html/>"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	stored := filepath.Join(t.TempDir(), "kae.log")
	if err := os.WriteFile(stored, []byte("log"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	r.Store("scratch-1", dir1)
	r.Store("scratch-2", dir2)
	r.Store("final.log", stored)

	if err := r.Close(); err != nil {
		t.Fatalf("Report.Close() error: %v", err)
	}

	for _, dir := range []string{dir1, dir2} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			os.RemoveAll(dir)
			t.Errorf("expected %s to be removed", dir)
		}
	}
	if _, err := os.Stat(stored); err != nil {
		t.Errorf("stored file should not be removed, but got error: %v", err)
	}

	want := []string{"MANIFEST", "final.log", "scratch-1/page.html"}
	if diff := cmp.Diff(want, archiveNames(t, r.file.Name())); diff != "" {
		t.Errorf("archive entries mismatch (-want +got):\n%s", diff)
	}
}

func TestReportStoreCopy_RemovesScratch(t *testing.T) {
	r := newTestReport(t)

	src := filepath.Join(t.TempDir(), "document.html")
	if err := os.WriteFile(src, []byte("<html/>"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := r.StoreCopy("document.html", src); err != nil {
		t.Fatalf("StoreCopy() error: %v", err)
	}
	if len(r.scratch) != 1 {
		t.Fatalf("scratch = %v, want one directory", r.scratch)
	}
	scratch := r.scratch[0]

	if err := r.Close(); err != nil {
		t.Fatalf("Report.Close() error: %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		os.RemoveAll(scratch)
		t.Errorf("expected scratch %s to be removed", scratch)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source should not be removed, but got error: %v", err)
	}
}

func TestReportStoreData_Concurrent(t *testing.T) {
	r := newTestReport(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.StoreData(fmt.Sprintf("page-%d.png", i), []byte{byte(i + 1)})
		}()
	}
	wg.Wait()

	if err := r.Close(); err != nil {
		t.Fatalf("Report.Close() error: %v", err)
	}
	if got := len(archiveNames(t, r.file.Name())); got != 9 {
		t.Errorf("archive has %d entries, want 9", got)
	}
}

func TestReportStoreData_Duplicate(t *testing.T) {
	r := newTestReport(t)
	defer r.file.Close()

	r.StoreData("chapter.png", []byte{1})
	defer func() {
		if recover() == nil {
			t.Error("StoreData() with duplicate name should panic")
		}
	}()
	r.StoreData("chapter.png", []byte{2})
}

func TestReportClose_NilReport(t *testing.T) {
	var r *Report
	if err := r.Close(); err != nil {
		t.Errorf("Close on nil report should not error, got: %v", err)
	}
	r.StoreData("ignored", []byte{1})
	if r.Name() != "" {
		t.Errorf("Name() on nil report = %q, want empty", r.Name())
	}
}

func TestReportClose_NilFile(t *testing.T) {
	r := &Report{entries: make(map[string]entry)}
	if err := r.Close(); err != nil {
		t.Errorf("Close with nil file should not error, got: %v", err)
	}
}
