package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/time/rate"

	"feedscroll/config"
	"feedscroll/oops"
)

const maxInitialWaitTime = 15 * time.Second
const scrollEvalTimeout = 3 * time.Second

// RodSource renders targets in headless Chrome. It is shared by concurrent sessions: browser
// instances are bounded by MaxInstances and navigations by NavigationsPerMinute.
type RodSource struct {
	cfg            config.Browser
	logger         Logger
	browserLimitCh chan struct{}
	limiter        *rate.Limiter
}

func NewRodSource(cfg config.Browser, logger Logger) *RodSource {
	maxInstances := cfg.MaxInstances
	if maxInstances < 1 {
		maxInstances = 1
	}
	browserLimitCh := make(chan struct{}, maxInstances)
	for range maxInstances {
		browserLimitCh <- struct{}{}
	}

	limit := rate.Inf
	if cfg.NavigationsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.NavigationsPerMinute))
	}
	return &RodSource{
		cfg:            cfg,
		logger:         logger,
		browserLimitCh: browserLimitCh,
		limiter:        rate.NewLimiter(limit, 1),
	}
}

type rodHandle struct {
	target            Target
	launcher          *launcher.Launcher
	browser           *rod.Browser
	page              *rod.Page
	maybeHijackRouter *rod.HijackRouter
}

func (h *rodHandle) Target() Target {
	return h.target
}

func (s *RodSource) TargetUrl(target Target) string {
	baseUrl := strings.TrimRight(s.cfg.BaseUrl, "/")
	if target.Kind == TargetKindFeed && target.IncludeReplies {
		return fmt.Sprintf("%s/%s/with_replies", baseUrl, target.Handle)
	}
	return fmt.Sprintf("%s/%s", baseUrl, target.Handle)
}

func (s *RodSource) OpenTarget(ctx context.Context, target Target) (result Handle, retErr error) {
	openStart := time.Now()
	select {
	case <-s.browserLimitCh:
	default:
		s.logger.Warn("Out of browser instances (%d)", cap(s.browserLimitCh))
		select {
		case <-s.browserLimitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.logger.Info("Browser acquired in %v", time.Since(openStart))

	handle := &rodHandle{
		target:            target,
		launcher:          nil,
		browser:           nil,
		page:              nil,
		maybeHijackRouter: nil,
	}
	defer func() {
		if retErr != nil {
			_ = s.release(handle)
		}
	}()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	handle.launcher = launcher.New().Headless(s.cfg.Headless)
	if s.cfg.ChromeBin != "" {
		handle.launcher = handle.launcher.Bin(s.cfg.ChromeBin).NoSandbox(true)
	}
	browserUrl, err := handle.launcher.Launch()
	if err != nil {
		return nil, oops.Wrap(err)
	}
	handle.browser = rod.New().ControlURL(browserUrl)
	if err := handle.browser.Connect(); err != nil {
		return nil, oops.Wrap(err)
	}
	s.logger.Info("Connected to the browser")

	handle.page, err = handle.browser.Page(proto.TargetCreateTarget{}) //nolint:exhaustruct
	if err != nil {
		return nil, oops.Wrap(err)
	}
	//nolint:exhaustruct
	err = handle.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  s.cfg.WindowWidth,
		Height: s.cfg.WindowHeight,
	})
	if err != nil {
		return nil, oops.Wrap(err)
	}
	if s.cfg.UserAgent != "" {
		//nolint:exhaustruct
		err := handle.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: s.cfg.UserAgent,
		})
		if err != nil {
			return nil, oops.Wrap(err)
		}
	}
	if s.cfg.BlockImages {
		if err := s.blockHeavyRequests(handle); err != nil {
			return nil, err
		}
	}

	url := s.TargetUrl(target)
	page := handle.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, oops.Wrap(fmt.Errorf("%w: %s: %w", ErrTargetUnavailable, url, err))
	}
	s.logger.Info("Waiting till idle")
	waitRequestIdleStart := time.Now()
	page.Timeout(maxInitialWaitTime).WaitRequestIdle(500*time.Millisecond, []string{".+"}, nil, nil)()
	s.logger.Info("Waiting till idle took %v", time.Since(waitRequestIdleStart).Round(time.Second))
	return handle, nil
}

func (s *RodSource) blockHeavyRequests(handle *rodHandle) error {
	hijackRouter := handle.page.HijackRequests()
	for _, resourceType := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage, proto.NetworkResourceTypeFont, proto.NetworkResourceTypeMedia,
	} {
		err := hijackRouter.Add("*", resourceType, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
		if err != nil {
			return oops.Wrap(err)
		}
	}
	go hijackRouter.Run()
	handle.maybeHijackRouter = hijackRouter
	return nil
}

func (s *RodSource) ScrollAndCollect(
	ctx context.Context, handle Handle, pause time.Duration,
) ([]RawFragment, error) {
	h, ok := handle.(*rodHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle: %T", handle)
	}
	page := h.page.Context(ctx)

	var evalOptions rod.EvalOptions
	evalOptions.JS = "() => window.scrollBy(0, document.body.scrollHeight)"
	if _, err := page.Timeout(scrollEvalTimeout).Evaluate(&evalOptions); err != nil {
		return nil, classifyRodError(err)
	}

	timer := time.NewTimer(pause)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, Transient(ctx.Err())
	case <-timer.C:
	}

	content, err := page.HTML()
	if err != nil {
		return nil, classifyRodError(err)
	}
	fragments, err := ParseFragments(content)
	if err != nil {
		s.logger.Blob(fmt.Sprintf("%s_round.html", h.target.Handle), []byte(content))
		return nil, err
	}
	s.logger.Info("Collected %d fragments from %s", len(fragments), h.target)
	return fragments, nil
}

// A dead connection to the browser won't come back, everything else is worth another try.
func classifyRodError(err error) error {
	if opError := (&net.OpError{}); errors.As(err, &opError) { //nolint:exhaustruct
		return oops.Wrap(err)
	}
	return Transient(oops.Wrap(err))
}

func (s *RodSource) CloseTarget(handle Handle) error {
	h, ok := handle.(*rodHandle)
	if !ok {
		return fmt.Errorf("foreign handle: %T", handle)
	}
	return s.release(h)
}

func (s *RodSource) release(handle *rodHandle) error {
	var firstErr error
	if handle.maybeHijackRouter != nil {
		if err := handle.maybeHijackRouter.Stop(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Hijack stop error: %v", err)
		}
	}
	if handle.browser != nil {
		if err := handle.browser.Close(); err != nil {
			firstErr = oops.Wrap(err)
		}
	}
	if handle.launcher != nil {
		handle.launcher.Kill()
	}
	s.browserLimitCh <- struct{}{}
	return firstErr
}
