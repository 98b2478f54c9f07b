package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome process and hands out one Session (tab) per run.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	parent      context.Context
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc

	extractor *Extractor

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup

	// Chrome is launched lazily on the first session.
	initOnce sync.Once
	initErr  error
}

// NewManager creates a manager. No browser is started until NewSession.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    logger.Named("browser_manager"),
		parent:    ctx,
		extractor: NewExtractor(),
		sessions:  make(map[*Session]struct{}),
	}
	m.logger.Info("Browser manager created (launch deferred).")
	return m
}

// AllocatorOptions translates the browser configuration into Chrome flags.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	for _, arg := range cfg.Args {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// splitFlag turns "--name=value" into ("name", "value") and "--name" into
// ("name", true).
func splitFlag(arg string) (string, any) {
	name, value, ok := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	if !ok {
		return name, true
	}
	return name, value
}

func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(m.parent, AllocatorOptions(m.cfg)...)
		m.browserCtx, m.browserStop = chromedp.NewContext(m.allocCtx)
		// The first Run on a fresh context starts the browser process.
		if err := chromedp.Run(m.browserCtx); err != nil {
			m.browserStop()
			m.allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// NewSession opens a new tab. The session is closed by Session.Close or by
// Shutdown, whichever comes first.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("browser manager is shut down")
	}
	if err := m.initialize(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	s := newSession(tabCtx, tabCancel, m.cfg, m.extractor, m.logger)

	initCtx, cancel := context.WithTimeout(ctx, m.navigationTimeout())
	defer cancel()
	if err := s.initialize(initCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s)
		m.mu.Unlock()
		m.wg.Done()
	}

	m.logger.Debug("Browser tab opened.", zap.String("session_id", s.ID()))
	return s, nil
}

func (m *Manager) navigationTimeout() time.Duration {
	if m.cfg.NavigationTimeout > 0 {
		return m.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// Shutdown closes every open session and stops Chrome.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager.", zap.Int("open_sessions", len(open)))
	for _, s := range open {
		_ = s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for sessions to close.")
	}

	if m.browserCtx == nil {
		return nil
	}

	// chromedp.Cancel blocks until the process exits, so bound it.
	cancelDone := make(chan error, 1)
	go func() { cancelDone <- chromedp.Cancel(m.browserCtx) }()
	var err error
	select {
	case err = <-cancelDone:
	case <-time.After(shutdownGracePeriod):
		err = fmt.Errorf("browser did not exit within %v", shutdownGracePeriod)
	}
	m.browserStop()
	m.allocCancel()
	if err != nil && err != context.Canceled {
		m.logger.Warn("Error while stopping browser.", zap.Error(err))
		return err
	}
	m.logger.Info("Browser stopped.")
	return nil
}
