// Package service holds the generation orchestrator: the optimize ->
// generate -> rehost -> persist sequence behind POST /v1/generate.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelar/image-studio/internal/glm"
	"github.com/avelar/image-studio/internal/limiter"
	"github.com/avelar/image-studio/internal/model"
	"github.com/avelar/image-studio/internal/queue"
	"github.com/avelar/image-studio/internal/storage"
)

// promptMaxLen caps user prompts, in runes.
const promptMaxLen = 3000

// Stage names the pipeline's observable states. They appear in logs and in
// moderation events.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageOptimizing Stage = "optimizing"
	StageGenerating Stage = "generating"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// Upstream is the slice of the GLM client the pipeline needs. *glm.Client
// satisfies it; tests substitute mocks.
type Upstream interface {
	Optimize(ctx context.Context, prompt, style string) (string, int, error)
	Generate(ctx context.Context, prompt, ratio string) (glm.Image, int, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// GenerationStore persists successful generations.
type GenerationStore interface {
	Create(ctx context.Context, g model.Generation) error
}

// ModerationStore records content-policy rejections.
type ModerationStore interface {
	Insert(ctx context.Context, userID uint64, prompt, stage, reason string) error
}

// QuotaGate consumes one unit of the caller's daily generation quota.
type QuotaGate interface {
	Consume(ctx context.Context, userID uint64) (limiter.QuotaVerdict, error)
}

// FlightLock serializes generations per user.
type FlightLock interface {
	Acquire(ctx context.Context, userID uint64) (bool, error)
	Release(ctx context.Context, userID uint64)
}

// Publisher emits a completed-generation event. Failures are logged and
// ignored; event delivery never blocks the user-visible result.
type Publisher func(ctx context.Context, event queue.GenerationCompletedEvent) error

// Pipeline wires the full generation flow. All collaborators are
// interfaces so the sequencing rules are testable without Redis, MySQL,
// S3 or the upstream API.
type Pipeline struct {
	upstream   Upstream
	store      GenerationStore
	moderation ModerationStore
	quota      QuotaGate
	flight     FlightLock
	objects    storage.ObjectStore
	publish    Publisher
	modelTag   string
	logger     *zap.Logger
}

func NewPipeline(upstream Upstream, store GenerationStore, moderation ModerationStore,
	quota QuotaGate, flight FlightLock, objects storage.ObjectStore,
	publish Publisher, modelTag string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		upstream:   upstream,
		store:      store,
		moderation: moderation,
		quota:      quota,
		flight:     flight,
		objects:    objects,
		publish:    publish,
		modelTag:   modelTag,
		logger:     logger,
	}
}

// Request is the validated-by-the-pipeline input of one generation.
type Request struct {
	UserID uint64
	Prompt string
	Style  string
	Ratio  string
}

// Result is what a successful run returns to the handler.
type Result struct {
	GenerationID   string
	ImageURL       string
	BetterPrompt   string
	Size           string
	DurationMS     int64
	Retries        int
	QuotaRemaining int64
}

// Run executes one generation. Ordering is fixed: input validation and both
// admission gates come before any upstream spend; a generation row exists
// only when both upstream stages succeeded; rehosting and persistence are
// best-effort and never fail a produced image.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" || len([]rune(prompt)) > promptMaxLen {
		return Result{}, ErrInvalidPrompt
	}
	if req.Ratio == "" {
		req.Ratio = glm.DefaultRatio
	}

	ok, err := p.flight.Acquire(ctx, req.UserID)
	if err != nil {
		// Without the lock a replayed request could double-run; treat
		// the store outage as in-flight rather than racing.
		return Result{}, ErrInFlight
	}
	if !ok {
		return Result{}, ErrInFlight
	}
	defer p.flight.Release(ctx, req.UserID)

	quota, err := p.quota.Consume(ctx, req.UserID)
	if err != nil {
		// Quota gate fails closed: it caps spend on the paid upstream.
		return Result{}, ErrQuotaExceeded
	}
	if !quota.Allowed {
		return Result{}, ErrQuotaExceeded
	}

	start := time.Now()
	log := p.logger.With(zap.Uint64("user_id", req.UserID), zap.String("ratio", req.Ratio))

	log.Debug("pipeline stage", zap.String("stage", string(StageOptimizing)))
	better, optRetries, err := p.upstream.Optimize(ctx, prompt, req.Style)
	if err != nil {
		return Result{}, p.fail(ctx, req.UserID, prompt, model.StageOptimize, err, log)
	}

	log.Debug("pipeline stage", zap.String("stage", string(StageGenerating)))
	img, genRetries, err := p.upstream.Generate(ctx, better, req.Ratio)
	if err != nil {
		return Result{}, p.fail(ctx, req.UserID, prompt, model.StageGenerate, err, log)
	}

	id := uuid.NewString()
	imageURL := p.rehost(ctx, req.UserID, id, img.URL, log)
	duration := time.Since(start).Milliseconds()
	retries := optRetries + genRetries

	rec := model.Generation{
		ID:             id,
		UserID:         req.UserID,
		OriginalPrompt: prompt,
		BetterPrompt:   better,
		ImageURL:       imageURL,
		Style:          req.Style,
		Ratio:          req.Ratio,
		Size:           img.Size,
		Model:          p.modelTag,
		DurationMS:     duration,
		Retries:        retries,
	}
	if err := p.store.Create(ctx, rec); err != nil {
		// The image exists; losing the row is logged, not surfaced.
		log.Error("persist generation failed",
			zap.String("generation_id", id), zap.Error(err))
	} else if p.publish != nil {
		if err := p.publish(ctx, queue.GenerationCompletedEvent{
			GenerationID: id,
			UserID:       req.UserID,
			Ratio:        req.Ratio,
			Size:         img.Size,
			Model:        p.modelTag,
			DurationMS:   duration,
			Retries:      retries,
			CompletedAt:  time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			log.Warn("publish completion event failed", zap.Error(err))
		}
	}

	log.Info("pipeline stage", zap.String("stage", string(StageComplete)),
		zap.String("generation_id", id), zap.Int64("duration_ms", duration),
		zap.Int("retries", retries))

	return Result{
		GenerationID:   id,
		ImageURL:       imageURL,
		BetterPrompt:   better,
		Size:           img.Size,
		DurationMS:     duration,
		Retries:        retries,
		QuotaRemaining: quota.Remaining,
	}, nil
}

// OptimizeOnly serves POST /v1/optimize: the first pipeline stage alone,
// with the same moderation bookkeeping.
func (p *Pipeline) OptimizeOnly(ctx context.Context, userID uint64, prompt, style string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" || len([]rune(prompt)) > promptMaxLen {
		return "", ErrInvalidPrompt
	}
	better, _, err := p.upstream.Optimize(ctx, prompt, style)
	if err != nil {
		return "", p.fail(ctx, userID, prompt, model.StageOptimize, err,
			p.logger.With(zap.Uint64("user_id", userID)))
	}
	return better, nil
}

// fail logs a stage failure and, for policy rejections, records exactly one
// moderation event. The original error is passed through so handlers can
// classify it.
func (p *Pipeline) fail(ctx context.Context, userID uint64, prompt, stage string, err error, log *zap.Logger) error {
	log.Warn("pipeline stage", zap.String("stage", string(StageError)),
		zap.String("failed_at", stage), zap.String("class", classOf(err)))
	if isPolicy(err) {
		if mErr := p.moderation.Insert(ctx, userID, prompt, stage, err.Error()); mErr != nil {
			log.Error("record moderation event failed", zap.Error(mErr))
		}
	}
	return err
}

// rehost copies the provider-hosted image into object storage and returns
// the durable URL. Any failure falls back to the provider URL.
func (p *Pipeline) rehost(ctx context.Context, userID uint64, id, providerURL string, log *zap.Logger) string {
	data, err := p.upstream.Download(ctx, providerURL)
	if err != nil {
		log.Warn("image download failed, keeping provider url", zap.Error(err))
		return providerURL
	}
	url, err := p.objects.Put(ctx, storage.ImageKey(userID, id), data, "image/png")
	if err != nil {
		log.Warn("image rehost failed, keeping provider url", zap.Error(err))
		return providerURL
	}
	return url
}

func isPolicy(err error) bool {
	return err != nil && errors.Is(err, glm.ErrPolicyViolation)
}

func classOf(err error) string {
	switch {
	case errors.Is(err, glm.ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, glm.ErrUpstream):
		return "upstream_failure"
	default:
		return "internal"
	}
}
