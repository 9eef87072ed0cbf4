package perception

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/okralabs/uiheal/uimap"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPNG encodes a blank frame of the given size.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestClientParseAgainstStub(t *testing.T) {
	stub := NewStubServer(nil, discardLogger())
	srv := httptest.NewServer(stub.Router())
	defer srv.Close()

	client := NewClient(srv.URL, WithLogger(discardLogger()))
	shot := testPNG(t, 800, 600)

	m, err := client.Parse(context.Background(), shot, &ParseMeta{TestID: "t1", StepName: "login"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// Tall frame: 9 base detections plus the table row.
	if len(m.Elements) != 13 {
		t.Fatalf("len(Elements) = %d, want 13", len(m.Elements))
	}
	if m.Screen.Width != 800 || m.Screen.Height != 600 {
		t.Errorf("Screen = %dx%d, want 800x600", m.Screen.Width, m.Screen.Height)
	}
	if m.Screen.Hash != uimap.ScreenHash(shot) {
		t.Errorf("Screen.Hash = %q, want client-side hash to agree", m.Screen.Hash)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	el, ok := m.Lookup("E000")
	if !ok || el.Text != "Poker Admin" {
		t.Errorf("Lookup(E000) = %+v, %v; want the header", el, ok)
	}
}

func TestClientParseCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, &uimap.UIMap{
			Screen:        uimap.Screen{Width: 100, Height: 100},
			ParserVersion: "test",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithLogger(discardLogger()))
	shot := []byte("same frame")

	for i := 0; i < 3; i++ {
		if _, err := client.Parse(context.Background(), shot, nil); err != nil {
			t.Fatalf("Parse %d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("service hits = %d, want 1 with caching", got)
	}

	if _, err := client.Parse(context.Background(), []byte("other frame"), nil); err != nil {
		t.Fatalf("Parse other: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("service hits = %d, want 2 after a new frame", got)
	}
}

func TestClientParseCacheDisabled(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, &uimap.UIMap{Screen: uimap.Screen{Width: 100, Height: 100}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithLogger(discardLogger()), WithCacheSize(0))
	for i := 0; i < 2; i++ {
		if _, err := client.Parse(context.Background(), []byte("frame"), nil); err != nil {
			t.Fatalf("Parse %d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("service hits = %d, want 2 with cache disabled", got)
	}
}

func TestClientParseRequestWire(t *testing.T) {
	shot := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req parseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil || !bytes.Equal(decoded, shot) {
			t.Errorf("image_base64 round trip = %v, %v", decoded, err)
		}
		if req.Metadata == nil || req.Metadata.TestID != "t42" || req.Metadata.Env != "staging" {
			t.Errorf("metadata = %+v, want t42/staging", req.Metadata)
		}
		writeJSON(w, http.StatusOK, &uimap.UIMap{Screen: uimap.Screen{Width: 1, Height: 1}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithLogger(discardLogger()))
	if _, err := client.Parse(context.Background(), shot, &ParseMeta{TestID: "t42", Env: "staging"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestClientParseServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusServiceUnavailable, "model loading")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithLogger(discardLogger()))
	_, err := client.Parse(context.Background(), []byte("frame"), nil)
	if err == nil {
		t.Fatal("Parse succeeded, want error on 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model loading") {
		t.Errorf("error = %v, want status and detail included", err)
	}
}

func TestClientHealth(t *testing.T) {
	stub := NewStubServer(nil, discardLogger())
	srv := httptest.NewServer(stub.Router())
	defer srv.Close()

	client := NewClient(srv.URL, WithLogger(discardLogger()))
	hs, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if hs.Status != "ok" || hs.Parser != "mock" || hs.Version != stubVersion {
		t.Errorf("Health = %+v", hs)
	}
}

func TestStubRejectsBadInput(t *testing.T) {
	stub := NewStubServer(nil, discardLogger())
	srv := httptest.NewServer(stub.Router())
	defer srv.Close()

	post := func(body string) int {
		resp, err := http.Post(srv.URL+"/parse", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("{not json"); code != http.StatusBadRequest {
		t.Errorf("malformed json = %d, want 400", code)
	}
	if code := post(`{"image_base64":"!!!"}`); code != http.StatusBadRequest {
		t.Errorf("bad base64 = %d, want 400", code)
	}
	notAnImage := base64.StdEncoding.EncodeToString([]byte("plain text"))
	if code := post(`{"image_base64":"` + notAnImage + `"}`); code != http.StatusBadRequest {
		t.Errorf("non-image payload = %d, want 400", code)
	}
}

func TestMockDetector(t *testing.T) {
	var det MockDetector

	short := det.Detect(nil, 800, 300)
	if len(short) != 9 {
		t.Errorf("short frame detections = %d, want 9", len(short))
	}

	tall := det.Detect(nil, 800, 600)
	if len(tall) != 13 {
		t.Fatalf("tall frame detections = %d, want 13", len(tall))
	}
	if tall[0].Text != "Poker Admin" || tall[0].Label != "text" {
		t.Errorf("first detection = %+v", tall[0])
	}
	if tall[12].Text != "Edit" || tall[12].Label != "button" {
		t.Errorf("last detection = %+v", tall[12])
	}

	// Output is deterministic.
	again := det.Detect([]byte("ignored"), 1024, 600)
	if len(again) != len(tall) {
		t.Errorf("detections vary across calls: %d vs %d", len(again), len(tall))
	}
	for i := range tall {
		if tall[i] != again[i] {
			t.Errorf("detection %d differs across calls", i)
		}
	}
}
