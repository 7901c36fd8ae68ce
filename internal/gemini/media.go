package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Media is a fetched binary payload ready to inline into a request.
type Media struct {
	MimeType string
	Base64   string
	Size     int
}

type mediaKind struct {
	name        string
	defaultMime string
	maxBytes    int
	tooLarge    func(sizeMB int) string
}

// FetchImage downloads a problem image and enforces the inline size cap.
func (c *Client) FetchImage(ctx context.Context, url string) (*Media, error) {
	return c.fetchMedia(ctx, url, mediaKind{
		name:        "image",
		defaultMime: "image/jpeg",
		maxBytes:    c.cfg.MaxImageBytes,
		tooLarge: func(sizeMB int) string {
			return fmt.Sprintf("image too large (%d MB). please try a smaller image.", sizeMB)
		},
	})
}

// FetchAudio downloads an audio recording for transcription.
func (c *Client) FetchAudio(ctx context.Context, url string) (*Media, error) {
	return c.fetchMedia(ctx, url, mediaKind{
		name:        "audio",
		defaultMime: "audio/mp4",
		maxBytes:    c.cfg.MaxAudioBytes,
		tooLarge: func(sizeMB int) string {
			return fmt.Sprintf("audio too large (%d MB). please try a shorter recording.", sizeMB)
		},
	})
}

func (c *Client) fetchMedia(ctx context.Context, url string, kind mediaKind) (*Media, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%s url is required", kind.name)
	}

	timeout := time.Duration(c.cfg.MediaFetchTimeoutMS) * time.Millisecond
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid %s url: %w", kind.name, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout fetching %s (%dms)", kind.name, c.cfg.MediaFetchTimeoutMS)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", kind.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: %d", kind.name, resp.StatusCode)
	}

	// Read one byte past the cap so oversized payloads are detected
	// without buffering the whole body.
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(kind.maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s body: %w", kind.name, err)
	}
	if len(data) > kind.maxBytes {
		return nil, fmt.Errorf("%s", kind.tooLarge(kind.maxBytes/1_000_000))
	}

	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = kind.defaultMime
	}

	return &Media{
		MimeType: mime,
		Base64:   base64.StdEncoding.EncodeToString(data),
		Size:     len(data),
	}, nil
}

// InlineMedia validates client-supplied base64 and applies the same cap
// as the fetch path. The decoded bytes are discarded; only the size check
// needs them.
func InlineMedia(b64, mimeType, defaultMime string, maxBytes int, tooLarge string) (*Media, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, fmt.Errorf("media data is required")
	}
	// data: URI prefixes come through from some clients.
	if strings.HasPrefix(b64, "data:") {
		if idx := strings.Index(b64, ","); idx >= 0 {
			meta := b64[len("data:"):idx]
			b64 = b64[idx+1:]
			if mimeType == "" {
				if semi := strings.Index(meta, ";"); semi >= 0 {
					mimeType = meta[:semi]
				} else {
					mimeType = meta
				}
			}
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 media data")
	}
	if len(decoded) > maxBytes {
		return nil, fmt.Errorf("%s", tooLarge)
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = defaultMime
	}
	return &Media{MimeType: mimeType, Base64: b64, Size: len(decoded)}, nil
}
