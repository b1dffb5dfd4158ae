package publish

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/rednote/pkg/logging"
	"github.com/entrhq/rednote/pkg/types"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

var imageExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true}

// Scratch tracks files written for one publish run.
type Scratch struct {
	dir   string
	mu    sync.Mutex
	files []string
}

// NewScratch ensures dir exists.
func NewScratch(dir string) (*Scratch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Path reserves a new file name "<uuid>.<ext>" in the scratch directory.
func (s *Scratch) Path(ext string) string {
	p := filepath.Join(s.dir, uuid.NewString()+"."+ext)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, p)
	return p
}

// Files returns the reserved paths.
func (s *Scratch) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Cleanup removes every reserved file. Missing files are ignored.
func (s *Scratch) Cleanup() error {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	var firstErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Downloader fetches remote images into scratch files.
type Downloader struct {
	client      *resty.Client
	concurrency int
	tracer      trace.Tracer
	logger      *logging.Logger
}

// NewDownloader creates a downloader running at most concurrency requests
// at once.
func NewDownloader(concurrency int, timeout time.Duration, logger *logging.Logger) (*Downloader, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.SetTimeout(timeout)
	client.SetHeader("user-agent", defaultUserAgent)
	client.SetRetryCount(1)

	d := &Downloader{
		client:      client,
		concurrency: concurrency,
		tracer:      otel.Tracer("rednote/publish/download"),
		logger:      logger,
	}
	client.OnAfterResponse(d.onAfterResponse)
	client.OnError(d.onError)
	return d, nil
}

// onAfterResponse and onError annotate the span that fetch owns; resty may
// call them once per attempt.
func (d *Downloader) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	span := trace.SpanFromContext(res.Request.Context())
	span.SetAttributes(
		attribute.Int("http.status_code", res.StatusCode()),
		attribute.Int("http.response_size", len(res.Body())),
	)
	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
	}
	return nil
}

func (d *Downloader) onError(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Download fetches every URL into scratch. The result is aligned with urls,
// with an empty path for each URL that failed; failures are reported and
// never abort the batch. Only cancellation of ctx is returned as an error.
func (d *Downloader) Download(ctx context.Context, urls []string, scratch *Scratch, rep *types.Reporter) ([]string, error) {
	paths := make([]string, len(urls))
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			paths[i], errs[i] = d.fetch(gctx, u, scratch)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ok := 0
	for i, u := range urls {
		if errs[i] != nil {
			d.logger.Warnf("image download failed for %s: %v", u, errs[i])
			rep.Logf("Failed to download image %s", u)
			paths[i] = ""
			continue
		}
		ok++
		rep.Logf("Downloaded image (%d/%d): %s", ok, len(urls), path.Base(u))
	}
	return paths, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL string, scratch *Scratch) (string, error) {
	ctx, span := d.tracer.Start(ctx, "download "+rawURL)
	defer span.End()

	res, err := d.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int("http.attempts", res.Request.Attempt))
	if res.IsError() {
		return "", fmt.Errorf("unexpected status %s", res.Status())
	}
	if len(res.Body()) == 0 {
		return "", fmt.Errorf("empty response body")
	}
	p := scratch.Path(ImageExtension(rawURL))
	if err := os.WriteFile(p, res.Body(), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", p, err)
	}
	return p, nil
}

// ImageExtension returns the URL's image extension, or "jpg" when it has
// none of jpg, jpeg, png or webp.
func ImageExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if imageExtensions[ext] {
		return ext
	}
	return "jpg"
}

// IsRemote reports whether an image entry is an http(s) URL.
func IsRemote(entry string) bool {
	return strings.HasPrefix(entry, "http://") || strings.HasPrefix(entry, "https://")
}
