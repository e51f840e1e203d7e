package rodpage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/pevans/plugcrawl/page"
)

// Options configures a Browser.
type Options struct {
	// ControlURL connects to an already running browser. Empty launches a
	// local Chrome.
	ControlURL string

	Headless   bool
	ProfileDir string
	UserAgent  string
	Headers    map[string]string
	Stealth    bool

	Width  int
	Height int

	// NavigationTimeout bounds Navigate plus the initial load wait.
	NavigationTimeout time.Duration
	// Settle is how long the network must be idle before a page counts as
	// loaded.
	Settle time.Duration

	Logger *slog.Logger
}

// Browser is a page.Opener backed by one Chrome instance. Each Open call
// creates a new tab.
type Browser struct {
	opts    Options
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// Launch starts (or connects to) Chrome.
func Launch(opts Options) (*Browser, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}

	b := &Browser{opts: opts}

	wsURL := opts.ControlURL
	if wsURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if path, ok := launcher.LookPath(); ok {
			l = l.Bin(path)
		}
		if opts.ProfileDir != "" {
			l = l.UserDataDir(opts.ProfileDir)
		}
		if opts.Stealth {
			l = l.Set("disable-blink-features", "AutomationControlled")
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		opts.Logger.Info("browser: launched local chrome", "url", wsURL, "headless", opts.Headless)
	}

	rb := rod.New().ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = rb
	return b, nil
}

// Open creates a tab, applies identity settings and navigates to url.
func (b *Browser) Open(ctx context.Context, url string) (page.Session, error) {
	log := b.opts.Logger

	var p *rod.Page
	var err error
	if b.opts.Stealth {
		p, err = stealth.Page(b.browser)
	} else {
		p, err = b.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if err := b.configure(p); err != nil {
		p.Close()
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(ctx, b.opts.NavigationTimeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(url); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	p.Context(navCtx).WaitRequestIdle(b.opts.Settle, nil, nil, nil)()

	return New(p, WithSettle(b.opts.Settle), WithLogger(log)), nil
}

func (b *Browser) configure(p *rod.Page) error {
	if b.opts.UserAgent != "" {
		err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent})
		if err != nil {
			return fmt.Errorf("browser: set user agent: %w", err)
		}
	}

	if len(b.opts.Headers) > 0 {
		dict := make([]string, 0, len(b.opts.Headers)*2)
		for k, v := range b.opts.Headers {
			dict = append(dict, k, v)
		}
		if _, err := p.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("browser: set headers: %w", err)
		}
	}

	err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	return nil
}

// Close shuts down the browser and, when it was launched locally, the Chrome
// process.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	b.cleanup()
	return err
}

func (b *Browser) cleanup() {
	if b.lnch != nil {
		b.lnch.Kill()
		// Cleanup removes the user data dir, which must survive for profiles.
		if b.opts.ProfileDir == "" {
			b.lnch.Cleanup()
		}
		b.lnch = nil
	}
}
