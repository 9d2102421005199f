package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/glm"
	"github.com/avelar/image-studio/internal/limiter"
	"github.com/avelar/image-studio/internal/model"
	"github.com/avelar/image-studio/internal/queue"
)

// mockUpstream scripts the two upstream stages and the image download.
type mockUpstream struct {
	optimizeErr   error
	generateErr   error
	downloadErr   error
	optimizeCalls int
	generateCalls int
	betterPrompt  string
	imageURL      string
}

func (m *mockUpstream) Optimize(ctx context.Context, prompt, style string) (string, int, error) {
	m.optimizeCalls++
	if m.optimizeErr != nil {
		return "", 0, m.optimizeErr
	}
	return m.betterPrompt, 0, nil
}

func (m *mockUpstream) Generate(ctx context.Context, prompt, ratio string) (glm.Image, int, error) {
	m.generateCalls++
	if m.generateErr != nil {
		return glm.Image{}, 0, m.generateErr
	}
	return glm.Image{URL: m.imageURL, Size: glm.SizeFor(ratio)}, 1, nil
}

func (m *mockUpstream) Download(ctx context.Context, url string) ([]byte, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	return []byte("png"), nil
}

type mockStore struct {
	created []model.Generation
	err     error
}

func (m *mockStore) Create(ctx context.Context, g model.Generation) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, g)
	return nil
}

type moderationEntry struct {
	userID uint64
	stage  string
}

type mockModeration struct {
	events []moderationEntry
}

func (m *mockModeration) Insert(ctx context.Context, userID uint64, prompt, stage, reason string) error {
	m.events = append(m.events, moderationEntry{userID: userID, stage: stage})
	return nil
}

type mockQuota struct {
	allowed  bool
	consumed int
}

func (m *mockQuota) Consume(ctx context.Context, userID uint64) (limiter.QuotaVerdict, error) {
	m.consumed++
	if !m.allowed {
		return limiter.QuotaVerdict{Allowed: false, Count: 20}, nil
	}
	return limiter.QuotaVerdict{Allowed: true, Count: 1, Remaining: 19}, nil
}

type mockFlight struct {
	busy     bool
	releases int
}

func (m *mockFlight) Acquire(ctx context.Context, userID uint64) (bool, error) {
	return !m.busy, nil
}

func (m *mockFlight) Release(ctx context.Context, userID uint64) { m.releases++ }

type mockObjects struct {
	err  error
	puts int
}

func (m *mockObjects) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.puts++
	if m.err != nil {
		return "", m.err
	}
	return "https://cdn.studio.example/" + key, nil
}

func (m *mockObjects) Delete(ctx context.Context, key string) error { return nil }

type fixture struct {
	upstream   *mockUpstream
	store      *mockStore
	moderation *mockModeration
	quota      *mockQuota
	flight     *mockFlight
	objects    *mockObjects
	events     []queue.GenerationCompletedEvent
	pipe       *Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		upstream: &mockUpstream{
			betterPrompt: "[Main Subject] a red bicycle",
			imageURL:     "https://provider.example/tmp/img.png",
		},
		store:      &mockStore{},
		moderation: &mockModeration{},
		quota:      &mockQuota{allowed: true},
		flight:     &mockFlight{},
		objects:    &mockObjects{},
	}
	publish := func(ctx context.Context, ev queue.GenerationCompletedEvent) error {
		f.events = append(f.events, ev)
		return nil
	}
	f.pipe = NewPipeline(f.upstream, f.store, f.moderation, f.quota, f.flight,
		f.objects, publish, "glm-image", zap.NewNop())
	return f
}

func TestRunSuccess(t *testing.T) {
	f := newFixture()
	res, err := f.pipe.Run(context.Background(), Request{
		UserID: 7, Prompt: "a red bicycle", Ratio: "1:1 Square",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Size != "1280x1280" {
		t.Errorf("size = %q, want 1280x1280", res.Size)
	}
	if res.GenerationID == "" || res.ImageURL == "" || res.BetterPrompt == "" {
		t.Errorf("incomplete result: %+v", res)
	}
	if !strings.HasPrefix(res.ImageURL, "https://cdn.studio.example/images/7/") {
		t.Errorf("image not rehosted: %q", res.ImageURL)
	}
	if len(f.store.created) != 1 {
		t.Fatalf("created %d records, want 1", len(f.store.created))
	}
	if rec := f.store.created[0]; rec.OriginalPrompt != "a red bicycle" || rec.Size != "1280x1280" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(f.events) != 1 {
		t.Errorf("published %d events, want 1", len(f.events))
	}
	if f.flight.releases != 1 {
		t.Errorf("flight released %d times, want 1", f.flight.releases)
	}
}

func TestRunRejectsInvalidPrompt(t *testing.T) {
	f := newFixture()
	for _, prompt := range []string{"", "   \n\t ", strings.Repeat("x", 3001)} {
		_, err := f.pipe.Run(context.Background(), Request{UserID: 1, Prompt: prompt})
		if !errors.Is(err, ErrInvalidPrompt) {
			t.Errorf("prompt %q: err = %v, want ErrInvalidPrompt", prompt[:min(len(prompt), 10)], err)
		}
	}
	if f.quota.consumed != 0 || f.upstream.optimizeCalls != 0 {
		t.Error("invalid prompt must not reach quota or upstream")
	}
}

func TestRunRejectsWhileInFlight(t *testing.T) {
	f := newFixture()
	f.flight.busy = true
	_, err := f.pipe.Run(context.Background(), Request{UserID: 1, Prompt: "p"})
	if !errors.Is(err, ErrInFlight) {
		t.Fatalf("err = %v, want ErrInFlight", err)
	}
	if f.quota.consumed != 0 || f.upstream.optimizeCalls != 0 {
		t.Error("in-flight rejection must not reach quota or upstream")
	}
}

func TestRunQuotaRejectedBeforeUpstream(t *testing.T) {
	f := newFixture()
	f.quota.allowed = false
	_, err := f.pipe.Run(context.Background(), Request{UserID: 1, Prompt: "p"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if f.upstream.optimizeCalls != 0 || f.upstream.generateCalls != 0 {
		t.Error("quota rejection must happen before any upstream call")
	}
}

func TestPolicyAtOptimizeSkipsGenerate(t *testing.T) {
	f := newFixture()
	f.upstream.optimizeErr = fmt.Errorf("%w: bad prompt", glm.ErrPolicyViolation)
	_, err := f.pipe.Run(context.Background(), Request{UserID: 9, Prompt: "p"})
	if !errors.Is(err, glm.ErrPolicyViolation) {
		t.Fatalf("err = %v, want ErrPolicyViolation", err)
	}
	if f.upstream.generateCalls != 0 {
		t.Error("generate must not run after a policy-rejected optimize")
	}
	if len(f.moderation.events) != 1 {
		t.Fatalf("recorded %d moderation events, want 1", len(f.moderation.events))
	}
	if ev := f.moderation.events[0]; ev.stage != model.StageOptimize || ev.userID != 9 {
		t.Errorf("unexpected moderation event %+v", ev)
	}
	if len(f.store.created) != 0 {
		t.Error("no generation record may exist after a policy rejection")
	}
}

func TestPolicyAtGenerateRecordsStage(t *testing.T) {
	f := newFixture()
	f.upstream.generateErr = fmt.Errorf("%w: unsafe content", glm.ErrPolicyViolation)
	_, err := f.pipe.Run(context.Background(), Request{UserID: 9, Prompt: "p"})
	if !errors.Is(err, glm.ErrPolicyViolation) {
		t.Fatalf("err = %v, want ErrPolicyViolation", err)
	}
	if len(f.moderation.events) != 1 || f.moderation.events[0].stage != model.StageGenerate {
		t.Errorf("unexpected moderation events %+v", f.moderation.events)
	}
	if len(f.store.created) != 0 {
		t.Error("no generation record may exist after a policy rejection")
	}
}

func TestUpstreamFailureWritesNoModerationEvent(t *testing.T) {
	f := newFixture()
	f.upstream.generateErr = fmt.Errorf("%w: api returned 502", glm.ErrUpstream)
	_, err := f.pipe.Run(context.Background(), Request{UserID: 1, Prompt: "p"})
	if !errors.Is(err, glm.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if len(f.moderation.events) != 0 {
		t.Error("transient upstream failures are not moderation events")
	}
}

func TestRehostFailureFallsBackToProviderURL(t *testing.T) {
	f := newFixture()
	f.objects.err = errors.New("bucket unavailable")
	res, err := f.pipe.Run(context.Background(), Request{UserID: 1, Prompt: "p", Ratio: "3:2"})
	if err != nil {
		t.Fatalf("rehost failure must not fail the run: %v", err)
	}
	if res.ImageURL != f.upstream.imageURL {
		t.Errorf("image url = %q, want provider url %q", res.ImageURL, f.upstream.imageURL)
	}
	if len(f.store.created) != 1 || f.store.created[0].ImageURL != f.upstream.imageURL {
		t.Error("record must carry the provider url when rehosting failed")
	}
}

func TestDownloadFailureFallsBackToProviderURL(t *testing.T) {
	f := newFixture()
	f.upstream.downloadErr = errors.New("connection reset")
	res, err := f.pipe.Run(context.Background(), Request{UserID: 1, Prompt: "p"})
	if err != nil {
		t.Fatalf("download failure must not fail the run: %v", err)
	}
	if res.ImageURL != f.upstream.imageURL {
		t.Errorf("image url = %q, want provider url", res.ImageURL)
	}
	if f.objects.puts != 0 {
		t.Error("nothing to upload when the download failed")
	}
}

func TestPersistFailureStillReturnsResult(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("db gone")
	res, err := f.pipe.Run(context.Background(), Request{UserID: 1, Prompt: "p"})
	if err != nil {
		t.Fatalf("persist failure must not fail the run: %v", err)
	}
	if res.ImageURL == "" {
		t.Error("result must still carry the image url")
	}
	if len(f.events) != 0 {
		t.Error("no completion event without a persisted record")
	}
}

func TestOptimizeOnlyPolicyRecordsEvent(t *testing.T) {
	f := newFixture()
	f.upstream.optimizeErr = fmt.Errorf("%w: nope", glm.ErrPolicyViolation)
	_, err := f.pipe.OptimizeOnly(context.Background(), 3, "p", "")
	if !errors.Is(err, glm.ErrPolicyViolation) {
		t.Fatalf("err = %v, want ErrPolicyViolation", err)
	}
	if len(f.moderation.events) != 1 || f.moderation.events[0].stage != model.StageOptimize {
		t.Errorf("unexpected moderation events %+v", f.moderation.events)
	}
}
