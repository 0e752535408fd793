package request

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParsePageClampsLimit(t *testing.T) {
	q := url.Values{"page[limit]": {"5000"}}
	p, err := ParsePage(q, 100, 1000)
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	if p.Limit != 1000 {
		t.Fatalf("expected limit clamped to 1000, got %d", p.Limit)
	}
}

func TestParsePageDefaults(t *testing.T) {
	p, err := ParsePage(url.Values{}, 50, 1000)
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	if p.Offset != 0 || p.Limit != 50 {
		t.Fatalf("unexpected default page: %+v", p)
	}
}

func TestParseFieldsDefault(t *testing.T) {
	fs := ParseFields("")
	if !fs.Has(FieldMetadata) || !fs.Has(FieldStructure) {
		t.Fatalf("expected default fields to include metadata and structure, got %v", fs)
	}
}

func TestFieldSetCountOnly(t *testing.T) {
	fs := ParseFields("count")
	if !fs.CountOnly() {
		t.Fatalf("expected count-only to be detected")
	}
}

func TestSelectMetadata(t *testing.T) {
	out, err := SelectMetadata([]byte(`{"sample":{"name":"quartz"}}`), "sample.name")
	if err != nil {
		t.Fatalf("select metadata: %v", err)
	}
	if string(out) != `"quartz"` {
		t.Fatalf("expected quartz, got %s", out)
	}
}

func TestInlineLimits(t *testing.T) {
	l := InlineLimits{ContentsLimit: 500, DepthLimit: 5}
	if !l.ShouldInline(10, 1) {
		t.Fatalf("expected small container at shallow depth to inline")
	}
	if l.ShouldInline(1000, 1) {
		t.Fatalf("expected wide container to exceed contents limit")
	}
	if l.ShouldInline(10, 10) {
		t.Fatalf("expected deep recursion to exceed depth limit")
	}
}

func TestComputeETagDeterministic(t *testing.T) {
	a := ComputeETag("application/json", []byte(`{"x":1}`))
	b := ComputeETag("application/json", []byte(`{"x":1}`))
	if a != b {
		t.Fatalf("expected identical inputs to hash identically")
	}
	c := ComputeETag("application/x-msgpack", []byte(`{"x":1}`))
	if a == c {
		t.Fatalf("expected different media types to hash differently")
	}
}

func TestCheckConditionalReturnsNotModified(t *testing.T) {
	etag := ComputeETag("application/json", []byte("body"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()
	if !CheckConditional(w, req, etag, time.Minute) {
		t.Fatalf("expected matching ETag to short-circuit")
	}
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
}
