// Package fetcher renders pages in headless Chrome so JavaScript-driven
// content is present before extraction. A crawl run opens one browser
// session and fetches its pages through it sequentially.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Page is the rendered result of one fetch.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Screenshot []byte
	Duration   time.Duration
}

// Options tune one fetch.
type Options struct {
	// Attempt feeds the timeout policy; the first try is attempt 1.
	Attempt int
	// Screenshot captures a full viewport PNG after render.
	Screenshot bool
}

// PageFetcher renders a single URL.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string, opts Options) (*Page, error)
}

// Config controls the browser allocator.
type Config struct {
	UserAgent   string
	MaxSessions int
	// SettleDelay waits after body readiness so late scripts can paint.
	SettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 2
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	return c
}

// Browser owns the Chrome exec allocator shared by all sessions.
type Browser struct {
	cfg         Config
	policy      TimeoutPolicy
	log         *zap.Logger
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

func NewBrowser(cfg Config, policy TimeoutPolicy, log *zap.Logger) *Browser {
	cfg = cfg.withDefaults()
	if policy == nil {
		policy = DefaultTimeoutPolicy()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		policy:      policy,
		log:         log.Named("fetcher"),
		slots:       make(chan struct{}, cfg.MaxSessions),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close tears down the allocator and every browser it spawned.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewSession reserves a browser slot and opens a tab context for one crawl
// run. The caller must Close the session on every exit path so the slot is
// returned.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}

	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	return &Session{
		browser: b,
		ctx:     tabCtx,
		cancel:  tabCancel,
	}, nil
}

// Session is one run's dedicated browser context.
type Session struct {
	browser *Browser

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Close releases the tab and its slot. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.browser.slots
	})
}

// Fetch navigates to pageURL and returns the rendered document. The
// deadline comes from the browser's timeout policy keyed on the page host
// and the attempt number.
func (s *Session) Fetch(ctx context.Context, pageURL string, opts Options) (*Page, error) {
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
	}
	timeout := s.browser.policy.Timeout(host, opts.Attempt)

	// Tie the navigation both to the caller's context and the tab.
	navCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(navCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
		shot     []byte
	)
	actions := []chromedp.Action{
		s.setupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.browser.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if opts.Screenshot {
		actions = append(actions, chromedp.CaptureScreenshot(&shot))
	}

	start := time.Now()
	if err := chromedp.Run(navCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	status, respURL := meta.snapshotWithFallbacks(pageURL, finalURL)
	page := &Page{
		URL:        pageURL,
		FinalURL:   respURL,
		StatusCode: status,
		HTML:       html,
		Screenshot: shot,
		Duration:   time.Since(start),
	}
	s.browser.log.Debug("page rendered",
		zap.String("url", pageURL),
		zap.Int("status", status),
		zap.Duration("took", page.Duration))
	return page, nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(s.browser.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// responseMeta captures the main document response from CDP network
// events. Headless navigation has no direct status code, so we record the
// first document-type response that arrives.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta { return &responseMeta{} }

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, respURL := m.status, m.url
	m.mu.RUnlock()

	switch {
	case respURL != "":
	case finalURL != "":
		respURL = finalURL
	default:
		respURL = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, respURL
}
