package assetproxy

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tiled-data/tiled/internal/catalogstore"
)

func TestServeBytesServesLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("hello asset bytes"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p := New()
	asset := catalogstore.Asset{DataURI: "file://" + path}
	req := httptest.NewRequest("GET", "/asset/bytes", nil)
	rec := httptest.NewRecorder()

	if err := p.ServeBytes(rec, req, asset); err != nil {
		t.Fatalf("serve bytes: %v", err)
	}
	if rec.Body.String() != "hello asset bytes" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestServeBytesHonorsRangeHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p := New()
	asset := catalogstore.Asset{DataURI: "file://" + path}
	req := httptest.NewRequest("GET", "/asset/bytes", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()

	if err := p.ServeBytes(rec, req, asset); err != nil {
		t.Fatalf("serve bytes: %v", err)
	}
	if rec.Code != 206 {
		t.Fatalf("expected 206 partial content, got %d", rec.Code)
	}
	if rec.Body.String() != "234" {
		t.Fatalf("expected range body \"234\", got %q", rec.Body.String())
	}
}

func TestServeBytesMissingFileIsNotFound(t *testing.T) {
	p := New()
	asset := catalogstore.Asset{DataURI: "file:///does/not/exist"}
	req := httptest.NewRequest("GET", "/asset/bytes", nil)
	rec := httptest.NewRecorder()

	err := p.ServeBytes(rec, req, asset)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestServeBytesRejectsUnsupportedScheme(t *testing.T) {
	p := New()
	asset := catalogstore.Asset{DataURI: "s3://bucket/key"}
	req := httptest.NewRequest("GET", "/asset/bytes", nil)
	rec := httptest.NewRecorder()

	if err := p.ServeBytes(rec, req, asset); err == nil {
		t.Fatalf("expected unsupported scheme to error")
	}
}

func TestManifestStatsLocalFilesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("abcde"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	assets := []catalogstore.Asset{
		{DataURI: "file://" + path, ParameterName: "data"},
		{DataURI: "https://example.com/remote.bin", ParameterName: "remote"},
	}
	entries := Manifest(assets)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SizeBytes != 5 {
		t.Fatalf("expected local file size 5, got %d", entries[0].SizeBytes)
	}
	if entries[1].SizeBytes != 0 {
		t.Fatalf("expected remote entry to carry no size, got %d", entries[1].SizeBytes)
	}
}
