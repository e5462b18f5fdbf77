package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"

	"listing-geocoder/utils"
)

// ChromeOptions configures headless Chrome sessions.
type ChromeOptions struct {
	ExecPath          string
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	CaptureDelay      time.Duration
	ScrollSteps       int
}

// ChromeFactory starts one Chrome process per session.
type ChromeFactory struct {
	opts   ChromeOptions
	logger *utils.Logger
	seq    atomic.Int64
}

// NewChromeFactory fills in defaults and locates the browser binary.
func NewChromeFactory(opts ChromeOptions, logger *utils.Logger) *ChromeFactory {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 90 * time.Second
	}
	if opts.CaptureDelay < 0 {
		opts.CaptureDelay = 0
	}
	if opts.ScrollSteps <= 0 {
		opts.ScrollSteps = 2
	}
	if opts.ExecPath == "" {
		opts.ExecPath = FindChromeBinary()
	}
	logger.Info("[browser] Using browser binary: %s", opts.ExecPath)
	return &ChromeFactory{opts: opts, logger: logger}
}

// NewSession launches a browser and waits for it to come up. The browser is
// tied to its own background context so it outlives the request that
// created it; ctx only bounds the startup.
func (f *ChromeFactory) NewSession(ctx context.Context) (Session, error) {
	id := f.seq.Add(1)

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(pickUserAgent(f.opts.UserAgent)),
	)
	if f.opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(f.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), execOpts...)

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	stop := context.AfterFunc(ctx, cancelBrowser)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser: start chrome session %d: %w", id, err)
	}

	f.logger.Debug("[browser] Chrome session %d started", id)
	return &chromeSession{
		id:            id,
		opts:          f.opts,
		logger:        f.logger,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

type chromeSession struct {
	id     int64
	opts   ChromeOptions
	logger *utils.Logger

	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	closeOnce     sync.Once
}

// FetchPage opens a tab, loads the page, scrolls to trigger lazy cards and
// captures the DOM. Cancelling ctx closes the tab immediately.
func (s *chromeSession) FetchPage(ctx context.Context, req PageRequest) (*RawPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	runCtx, cancelTimeout := context.WithTimeout(tabCtx, s.opts.NavigationTimeout)
	defer cancelTimeout()

	actions := []chromedp.Action{
		chromedp.Navigate(req.URL),
		chromedp.Sleep(s.opts.CaptureDelay),
	}
	for i := 1; i <= s.opts.ScrollSteps; i++ {
		actions = append(actions,
			chromedp.Evaluate(fmt.Sprintf(`window.scrollTo(0, document.body.scrollHeight * %d / %d)`, i, s.opts.ScrollSteps), nil),
			chromedp.Sleep(time.Second),
		)
	}

	var html, finalURL string
	actions = append(actions,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)

	start := time.Now()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NavigationError{
			URL:     req.URL,
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
	}

	latency := time.Since(start)
	s.logger.Debug("[browser] session %d rendered %s in %v (%d bytes)", s.id, req.URL, latency, len(html))
	return NewRawPage(req, finalURL, html, latency)
}

// Close shuts the browser process down.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancelBrowser()
		s.cancelAlloc()
		s.logger.Debug("[browser] Chrome session %d closed", s.id)
	})
	return nil
}

// FindChromeBinary locates a Chrome/Chromium binary, returning "" when none
// is installed so chromedp can fall back to its own lookup.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
