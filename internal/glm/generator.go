package glm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// DefaultRatio is used when the client sends an unknown or empty ratio key.
const DefaultRatio = "1:1 Square"

// ratioMap maps human-readable aspect ratio keys to pixel dimensions.
// Per GLM-Image docs each dimension must be 512-2048 px and a multiple
// of 32. The table is part of the external contract and must not drift.
var ratioMap = map[string]struct{ width, height int }{
	"1:1 Square":    {1280, 1280},
	"16:9 Cinema":   {1728, 960},
	"9:16 Portrait": {960, 1728},
	"4:3 Standard":  {1472, 1088},
	"3:4 Tall":      {1088, 1472},
	"3:2":           {1568, 1056},
	"2:3":           {1056, 1568},
}

// SizeFor resolves a ratio key to the "WxH" string the image endpoint
// expects. Unknown keys fall back to the square entry.
func SizeFor(ratio string) string {
	d, ok := ratioMap[ratio]
	if !ok {
		d = ratioMap[DefaultRatio]
	}
	return fmt.Sprintf("%dx%d", d.width, d.height)
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Image is the result of a successful generation call. URL points at
// provider-hosted storage and may expire; callers rehost it.
type Image struct {
	URL  string
	Size string
}

// Generate submits a prompt to the image endpoint. The int return counts
// upstream retries spent.
func (c *Client) Generate(ctx context.Context, prompt, ratio string) (Image, int, error) {
	size := SizeFor(ratio)

	body, retries, err := c.postRetry(ctx, c.imageURL, "generate", imageRequest{
		Model:  c.imageModel,
		Prompt: prompt,
		Size:   size,
	})
	if err != nil {
		return Image{}, retries, err
	}

	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Image{}, retries, fmt.Errorf("decode image response: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return Image{}, retries, fmt.Errorf("%w: no image url", ErrEmptyResponse)
	}

	c.logger.Debug("image generation successful",
		zap.Int("retries", retries), zap.String("size", size))
	return Image{URL: resp.Data[0].URL, Size: size}, retries, nil
}

// Download fetches the provider-hosted image for rehosting. No retries:
// rehosting is best-effort and the caller falls back to the provider URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
