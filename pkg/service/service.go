// Package service exposes the public operations. Each operation validates its
// input synchronously, then runs on its own goroutine and is observed through
// a Task: an outcome future plus an event stream.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/crawl"
	"github.com/entrhq/rednote/pkg/detail"
	"github.com/entrhq/rednote/pkg/logging"
	"github.com/entrhq/rednote/pkg/login"
	"github.com/entrhq/rednote/pkg/publish"
	"github.com/entrhq/rednote/pkg/session"
	"github.com/entrhq/rednote/pkg/types"
)

var (
	// ErrInvalidInput is returned synchronously for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLoginUndetermined is the failure of a check that saw neither an
	// identity nor a login prompt.
	ErrLoginUndetermined = errors.New("login state could not be determined")
)

// Components are the collaborators a Service drives.
type Components struct {
	Store     session.Store
	Browsers  *browser.Manager
	Login     *login.Machine
	Crawler   *crawl.Crawler
	Extractor *detail.Extractor
	Publisher *publish.Workflow
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger that mirrors operation log lines.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEventBuffer sets the event channel capacity of new tasks.
func WithEventBuffer(n int) Option {
	return func(s *Service) { s.eventBuffer = n }
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Service runs operations against a shared browser manager and session store.
type Service struct {
	c Components

	logger      *logging.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	eventBuffer int
	closers     []func() error

	wg sync.WaitGroup
}

// New creates a service around c.
func New(c Components, opts ...Option) *Service {
	s := &Service{
		c:           c,
		logger:      logging.Nop(),
		tracer:      otel.Tracer("rednote/service"),
		eventBuffer: DefaultEventBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search crawls the search results for keyword as userID.
func (s *Service) Search(ctx context.Context, userID, keyword string, l types.Listener) (*Task[*types.SearchResult], error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is empty", ErrInvalidInput)
	}
	attrs := []attribute.KeyValue{attribute.String("user.id", userID), attribute.String("search.keyword", keyword)}
	return start(s, ctx, "search", attrs, l, func(ctx context.Context, rep *types.Reporter) (*types.SearchResult, error) {
		return s.c.Crawler.Search(ctx, userID, keyword, rep, nil)
	}), nil
}

// Detail extracts the note at noteURL as userID.
func (s *Service) Detail(ctx context.Context, userID, noteURL string, l types.Listener) (*Task[*types.NoteDetail], error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if err := checkURL(noteURL); err != nil {
		return nil, err
	}
	attrs := []attribute.KeyValue{attribute.String("user.id", userID), attribute.String("note.url", noteURL)}
	return start(s, ctx, "detail", attrs, l, func(ctx context.Context, rep *types.Reporter) (*types.NoteDetail, error) {
		return s.c.Extractor.Fetch(ctx, userID, noteURL, rep)
	}), nil
}

// Publish posts req as userID.
func (s *Service) Publish(ctx context.Context, userID string, req types.PublishRequest, l types.Listener) (*Task[*types.PublishReceipt], error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is empty", ErrInvalidInput)
	}
	if len(req.ImagePaths) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", ErrInvalidInput)
	}
	attrs := []attribute.KeyValue{attribute.String("user.id", userID), attribute.Int("publish.images", len(req.ImagePaths))}
	return start(s, ctx, "publish", attrs, l, func(ctx context.Context, rep *types.Reporter) (*types.PublishReceipt, error) {
		return s.c.Publisher.Publish(ctx, userID, req, rep)
	}), nil
}

// Authenticate validates userID's stored session, or every stored session
// when userID is empty, falling back to interactive login.
func (s *Service) Authenticate(ctx context.Context, userID string, l types.Listener) (*Task[login.Result], error) {
	if userID != "" {
		if err := checkUserID(userID); err != nil {
			return nil, err
		}
	}
	attrs := []attribute.KeyValue{attribute.String("user.id", userID)}
	return start(s, ctx, "authenticate", attrs, l, func(ctx context.Context, rep *types.Reporter) (login.Result, error) {
		return s.c.Login.Authenticate(ctx, userID, rep)
	}), nil
}

// Check validates userID's stored cookies without falling back to
// interactive login. An expired session is a LoginExpired outcome.
func (s *Service) Check(ctx context.Context, userID string, l types.Listener) (*Task[login.Result], error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	attrs := []attribute.KeyValue{attribute.String("user.id", userID)}
	return start(s, ctx, "check", attrs, l, func(ctx context.Context, rep *types.Reporter) (login.Result, error) {
		res, err := s.c.Login.Validate(ctx, userID, rep)
		if err != nil {
			return res, err
		}
		switch res.State {
		case login.StateAuthenticated:
			return res, nil
		case login.StateIndeterminate:
			return res, fmt.Errorf("%w for user %s", ErrLoginUndetermined, userID)
		default:
			return res, fmt.Errorf("%w: user %s", login.ErrLoginExpired, userID)
		}
	}), nil
}

// Login opens an interactive login window for a new or returning user.
func (s *Service) Login(ctx context.Context, l types.Listener) *Task[login.Result] {
	return start(s, ctx, "login", nil, l, func(ctx context.Context, rep *types.Reporter) (login.Result, error) {
		return s.c.Login.Interactive(ctx, rep)
	})
}

// Users lists the stored sessions.
func (s *Service) Users(ctx context.Context) ([]*session.UserSession, error) {
	return s.c.Store.List(ctx)
}

// DeleteUser removes userID's stored session.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	if _, err := s.c.Store.Load(ctx, userID); err != nil {
		return err
	}
	if err := s.c.Store.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Infof("deleted session of %s", userID)
	return nil
}

// Close shuts the browser down and waits for running tasks until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	err := s.c.Browsers.Shutdown()

	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		err = errors.Join(err, context.Cause(ctx))
	}
	for _, closeFn := range s.closers {
		err = errors.Join(err, closeFn())
	}
	return err
}

// start runs fn on a new goroutine. The reporter always finishes, so the
// last progress event of every task is total/total.
func start[T any](s *Service, ctx context.Context, op string, attrs []attribute.KeyValue, l types.Listener, fn func(context.Context, *types.Reporter) (T, error)) *Task[T] {
	task := newTask[T](op, s.eventBuffer)
	logger := s.logger.With("operation", op, "task", task.ID())
	rep := types.NewReporter(types.DefaultProgressTotal, l, func(e *types.Event) {
		if e.IsLogEvent() {
			logger.Infof("%s", e.Message)
		}
		task.emit(e)
	})

	s.metrics.started(op)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		begin := time.Now()

		ctx, span := s.tracer.Start(ctx, "rednote."+op, trace.WithAttributes(append(attrs, attribute.String("task.id", task.ID()))...))
		outcome := invoke(ctx, rep, fn)
		rep.Finish(outcome.Status.String())

		span.SetAttributes(attribute.String("outcome", outcome.Status.String()))
		if !outcome.OK() {
			if outcome.Err != nil {
				span.RecordError(outcome.Err)
			}
			span.SetStatus(codes.Error, outcome.Reason)
			logger.Warnf("%s ended %s", op, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
			logger.Debugf("%s succeeded in %s", op, time.Since(begin).Round(time.Millisecond))
		}
		span.End()

		s.metrics.finished(op, outcome.Status, time.Since(begin), task.Dropped())
		task.complete(outcome)
	}()
	return task
}

func invoke[T any](ctx context.Context, rep *types.Reporter, fn func(context.Context, *types.Reporter) (T, error)) (o types.Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			o = types.Failed[T](fmt.Errorf("panic: %v", r))
		}
	}()
	v, err := fn(ctx, rep)
	if err != nil {
		return classify[T](err)
	}
	return types.Succeeded(v)
}

func checkUserID(userID string) error {
	if err := session.ValidateUserID(userID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidInput, raw)
	}
	return nil
}
