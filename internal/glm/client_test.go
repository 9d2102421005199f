package glm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/config"
)

func testClient(t *testing.T, chatURL, imageURL string) *Client {
	t.Helper()
	c := NewClient(config.GLMConfig{
		APIKey:         "test-key",
		ChatURL:        chatURL,
		ImageURL:       imageURL,
		ChatModel:      "glm-4.7",
		ImageModel:     "glm-image",
		MaxRetries:     2,
		BackoffBase:    time.Second,
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
	c.sleep = func(time.Duration) {} // no real backoff in tests
	return c
}

func chatOK(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}
}

func imageOK(url string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"url": url}},
		})
	}
}

func TestOptimizeSendsComposedMessage(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		chatOK("[Main Subject] a red bicycle")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	out, retries, err := c.Optimize(context.Background(), "a red bicycle", "3D Render")
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if retries != 0 {
		t.Errorf("retries = %d, want 0", retries)
	}
	if out != "[Main Subject] a red bicycle" {
		t.Errorf("unexpected optimized prompt %q", out)
	}
	if got.Model != "glm-4.7" || got.MaxTokens != 2048 || got.Temperature != 0.7 {
		t.Errorf("unexpected request params: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("expected system+user messages, got %+v", got.Messages)
	}
	want := `Create an image with the following description: "a red bicycle". The desired style is: 3D Render.`
	if got.Messages[1].Content != want {
		t.Errorf("user message = %q, want %q", got.Messages[1].Content, want)
	}
}

func TestGenerateRatioTable(t *testing.T) {
	cases := map[string]string{
		"1:1 Square":    "1280x1280",
		"16:9 Cinema":   "1728x960",
		"9:16 Portrait": "960x1728",
		"4:3 Standard":  "1472x1088",
		"3:4 Tall":      "1088x1472",
		"3:2":           "1568x1056",
		"2:3":           "1056x1568",
		"21:9 Ultra":    "1280x1280", // unknown falls back to square
		"":              "1280x1280",
	}
	for ratio, want := range cases {
		if got := SizeFor(ratio); got != want {
			t.Errorf("SizeFor(%q) = %q, want %q", ratio, got, want)
		}
	}
}

func TestGenerateSendsResolvedSize(t *testing.T) {
	var got imageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		imageOK("https://cdn.example.com/img.png")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	img, _, err := c.Generate(context.Background(), "optimized prompt", "16:9 Cinema")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Size != "1728x960" || img.Size != "1728x960" {
		t.Errorf("size = request %q result %q, want 1728x960", got.Size, img.Size)
	}
	if img.URL != "https://cdn.example.com/img.png" {
		t.Errorf("unexpected url %q", img.URL)
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"error":"server busy"}`, http.StatusInternalServerError)
			return
		}
		imageOK("https://cdn.example.com/img.png")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	img, retries, err := c.Generate(context.Background(), "p", "1:1 Square")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if retries != 2 {
		t.Errorf("retries = %d, want 2", retries)
	}
	if img.URL == "" {
		t.Error("expected image url")
	}
}

func TestRetryExhaustedSurfacesUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"server busy"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	_, _, err := c.Generate(context.Background(), "p", "1:1 Square")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("upstream called %d times, want 3 (1 attempt + 2 retries)", n)
	}
}

func TestPolicyRejectionNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"prompt violates content Policy"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	_, _, err := c.Generate(context.Background(), "p", "1:1 Square")
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("err = %v, want ErrPolicyViolation", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1 (policy is terminal)", n)
	}
}

func TestPolicyRejectionOnOptimize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"blocked by usage policy"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	_, _, err := c.Optimize(context.Background(), "something nasty", "")
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("err = %v, want ErrPolicyViolation", err)
	}
}

func TestEmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	_, _, err := c.Optimize(context.Background(), "p", "")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestSummarizeTruncatesOnRunes(t *testing.T) {
	long := strings.Repeat("é", 400)
	got := summarize([]byte("  " + long + "  "))
	if rs := []rune(got); len(rs) != 300 {
		t.Errorf("summarized to %d runes, want 300", len(rs))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid UTF-8")
	}
	if got != strings.Repeat("é", 300) {
		t.Error("unexpected truncated content")
	}

	if short := summarize([]byte(" short reason ")); short != "short reason" {
		t.Errorf("short body = %q, want trimmed passthrough", short)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, srv.URL)
	b, err := c.Download(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(b) != "png-bytes" {
		t.Errorf("unexpected body %q", b)
	}
}
