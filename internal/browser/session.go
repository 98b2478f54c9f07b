package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/config"
)

// Session is one Chrome tab driven over CDP. It implements schemas.BrowserDriver.
// Callers serialize access; a Session is never shared between runs.
type Session struct {
	id        string
	ctx       context.Context // Tab context; carries the CDP target.
	cancel    context.CancelFunc
	cfg       config.BrowserConfig
	extractor *Extractor
	logger    *zap.Logger

	onClose   func()
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

var _ schemas.BrowserDriver = (*Session)(nil)

func newSession(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, extractor *Extractor, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		ctx:       tabCtx,
		cancel:    cancel,
		cfg:       cfg,
		extractor: extractor,
		logger:    logger.Named("session").With(zap.String("session_id", id)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// initialize attaches to the tab and applies per-tab emulation.
func (s *Session) initialize(ctx context.Context) error {
	// The first Run allocates the target and must use the tab context itself,
	// otherwise the target would die with ctx.
	if err := chromedp.Run(s.ctx); err != nil {
		return err
	}
	var tasks chromedp.Tasks
	if s.cfg.Viewport.Width > 0 && s.cfg.Viewport.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(int64(s.cfg.Viewport.Width), int64(s.cfg.Viewport.Height), 1, false))
	}
	if s.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.cfg.UserAgent))
	}
	if len(tasks) == 0 {
		return nil
	}
	return s.run(ctx, tasks)
}

// -- Driver Operations --

// Snapshot stamps every element with a node ID and returns the tree.
func (s *Session) Snapshot(ctx context.Context) (*schemas.RawSnapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var raw string
	if err := s.run(ctx, chromedp.Evaluate(snapshotScript, &raw)); err != nil {
		return nil, s.mapError(ctx, err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return nil, err
	}
	snap.CapturedAt = time.Now()
	return snap, nil
}

// Dispatch performs one primitive and waits for the page to settle.
func (s *Session) Dispatch(ctx context.Context, p schemas.Primitive) (schemas.Outcome, error) {
	if err := s.checkOpen(); err != nil {
		return schemas.Outcome{}, err
	}

	var (
		out schemas.Outcome
		err error
	)
	switch p.Kind {
	case schemas.PrimitiveClick:
		out, err = s.click(ctx, p.Target)
	case schemas.PrimitiveType:
		out, err = s.typeText(ctx, p.Target, p.Text)
	case schemas.PrimitiveScroll:
		out, err = s.scroll(ctx, p.Target, p.Direction)
	case schemas.PrimitiveGoBack:
		out, err = s.goBack(ctx)
	case schemas.PrimitiveExtract:
		out, err = s.extract(ctx, p.Target)
	default:
		err = fmt.Errorf("unsupported primitive %q", p.Kind)
	}
	if err != nil {
		return schemas.Outcome{}, s.mapError(ctx, err)
	}
	s.settle(ctx)
	return out, nil
}

// Navigate loads url and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}
	s.logger.Debug("Navigating", zap.String("url", url))
	if err := s.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return s.mapError(navCtx, fmt.Errorf("navigation to %s failed: %w", url, err))
	}
	s.settle(ctx)
	return nil
}

// CurrentURL reports the location of the active document.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var u string
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return "", s.mapError(ctx, err)
	}
	return u, nil
}

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("Error while closing tab.", zap.Error(err))
		}
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Session closed.")
	})
	return nil
}

// -- Primitives --

func (s *Session) click(ctx context.Context, target *schemas.Locator) (schemas.Outcome, error) {
	sel, err := s.locate(ctx, target)
	if err != nil {
		return schemas.Outcome{}, err
	}
	var (
		before, after string
		covered       bool
	)
	err = s.run(ctx,
		chromedp.Location(&before),
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(coveredScript, sel), &covered),
	)
	if err != nil {
		return schemas.Outcome{}, err
	}
	if covered {
		return schemas.Outcome{}, fmt.Errorf("element is covered by another element: %w", schemas.ErrTransient)
	}
	if err := s.run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return schemas.Outcome{}, err
	}
	s.settle(ctx)
	if err := s.run(ctx, chromedp.Location(&after)); err == nil && after != before {
		return schemas.Outcome{Effect: "navigated to " + after}, nil
	}
	return schemas.Outcome{}, nil
}

// coveredScript reports whether another element receives clicks at the
// target's center point.
const coveredScript = `(el => {
	const r = el.getBoundingClientRect();
	const hit = document.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
	return !!hit && !el.contains(hit) && !hit.contains(el);
})(document.querySelector(%q))`

func (s *Session) typeText(ctx context.Context, target *schemas.Locator, text string) (schemas.Outcome, error) {
	sel, err := s.locate(ctx, target)
	if err != nil {
		return schemas.Outcome{}, err
	}
	clearScript := fmt.Sprintf(`(el => { if ("value" in el) { el.value = ""; } else { el.textContent = ""; } })(document.querySelector(%q))`, sel)
	err = s.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Evaluate(clearScript, nil),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
	return schemas.Outcome{}, err
}

func (s *Session) scroll(ctx context.Context, target *schemas.Locator, direction string) (schemas.Outcome, error) {
	sign := 1
	if direction == "up" {
		sign = -1
	}
	script := fmt.Sprintf(`window.scrollBy(0, %d * window.innerHeight)`, sign)
	if target != nil {
		sel, err := s.locate(ctx, target)
		if err != nil {
			return schemas.Outcome{}, err
		}
		script = fmt.Sprintf(`(el => el.scrollBy(0, %d * el.clientHeight))(document.querySelector(%q))`, sign, sel)
	}
	return schemas.Outcome{}, s.run(ctx, chromedp.Evaluate(script, nil))
}

func (s *Session) goBack(ctx context.Context) (schemas.Outcome, error) {
	var u string
	err := s.run(ctx,
		chromedp.NavigateBack(),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&u),
	)
	if err != nil {
		return schemas.Outcome{}, err
	}
	return schemas.Outcome{Effect: "navigated back to " + u}, nil
}

func (s *Session) extract(ctx context.Context, target *schemas.Locator) (schemas.Outcome, error) {
	sel := "html"
	if target != nil {
		var err error
		if sel, err = s.locate(ctx, target); err != nil {
			return schemas.Outcome{}, err
		}
	}
	var html, u string
	if err := s.run(ctx, chromedp.OuterHTML(sel, &html, chromedp.ByQuery), chromedp.Location(&u)); err != nil {
		return schemas.Outcome{}, err
	}
	md, err := s.extractor.Markdown(html, u)
	if err != nil {
		return schemas.Outcome{}, err
	}
	return schemas.Outcome{Content: md}, nil
}

// -- Helpers --

// locate returns the selector for target after checking the node still exists.
// chromedp query actions wait for a missing node until the deadline, so the
// check turns a vanished node into ErrStaleTarget immediately.
func (s *Session) locate(ctx context.Context, target *schemas.Locator) (string, error) {
	if target == nil {
		return "", errors.New("primitive requires a target")
	}
	sel := selector(target)
	var found bool
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, sel), &found)); err != nil {
		return "", err
	}
	if !found {
		return "", schemas.ErrStaleTarget
	}
	return sel, nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) settle(ctx context.Context) {
	if s.cfg.SettleTime <= 0 {
		return
	}
	timer := time.NewTimer(s.cfg.SettleTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	case <-timer.C:
	}
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return schemas.ErrPageClosed
	}
	return nil
}

// mapError translates CDP failures into the driver error vocabulary.
func (s *Session) mapError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, schemas.ErrStaleTarget):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%v: %w", err, ctx.Err())
	case s.ctx.Err() != nil:
		return fmt.Errorf("%v: %w", err, schemas.ErrPageClosed)
	case isNavigationError(err):
		return fmt.Errorf("%v: %w", err, schemas.ErrNavigating)
	case errors.Is(err, schemas.ErrTransient):
		return err
	case isTransientInteraction(err):
		return fmt.Errorf("%v: %w", err, schemas.ErrTransient)
	default:
		return err
	}
}
