// Package chromedp implements the page executor with a headless browser. Each
// session owns one browser process routed through its proxy unit; tabs are
// opened per target and torn down after every check.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// Config controls navigation and extraction.
type Config struct {
	// UserAgent overrides the browser user agent when non-empty.
	UserAgent string
	// ContainerSelector locates the product container; a page without it
	// yields no data.
	ContainerSelector string
	// SlotsSelector matches the elements whose text becomes slot labels.
	SlotsSelector string
	// PurchasableSelector marks the page purchasable when present.
	PurchasableSelector string
	// ListedSelector marks the page listed when present.
	ListedSelector string
	// SettleDelay is extra wait after the document is ready, for late
	// client-side rendering (default 500ms).
	SettleDelay time.Duration
	// SnapshotTimeout bounds the best-effort DOM grab after a navigation
	// timeout (default 5s).
	SnapshotTimeout time.Duration
}

func (c Config) withDefaults() (Config, error) {
	if c.ContainerSelector == "" || c.SlotsSelector == "" {
		return c, fmt.Errorf("container and slots selectors are required")
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 5 * time.Second
	}
	return c, nil
}

// Executor opens one browser session per proxy unit.
type Executor struct {
	cfg Config
}

// New validates the config and builds the executor.
func New(cfg Config) (*Executor, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Executor{cfg: cfg}, nil
}

// NewSession launches a headless browser whose traffic egresses through the
// unit's proxy endpoint.
func (e *Executor) NewSession(ctx context.Context, unit *watch.ProxyUnit) (watch.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.ProxyServer(unit.Endpoint),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Launch eagerly so a broken proxy fails the session, not the first check.
	launchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser for unit %s: %w", unit.ID, err)
	}

	return &session{
		cfg:           e.cfg,
		browser:       browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type session struct {
	cfg           Config
	browser       context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// extractPayload is the JSON shape produced by the extraction script. A null
// payload means the product container never rendered.
type extractPayload struct {
	Slots       []string `json:"slots"`
	Purchasable bool     `json:"purchasable"`
	Listed      bool     `json:"listed"`
}

func (s *session) Execute(ctx context.Context, target watch.Target, timeout time.Duration) (*watch.StructuredResult, []byte, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browser)
	defer tabCancel()

	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	defer navCancel()

	if err := chromedp.Run(navCtx,
		s.userAgentAction(),
		chromedp.Navigate(target.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
	); err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("check canceled: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// The tab outlives the expired navigation deadline; grab whatever
			// rendered so the stall can be diagnosed offline.
			return nil, s.grabSnapshot(tabCtx), nil
		}
		return nil, nil, fmt.Errorf("navigate %s: %w", target.URL, err)
	}

	var payload *extractPayload
	if err := chromedp.Run(navCtx, chromedp.Evaluate(s.extractScript(), &payload)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, s.grabSnapshot(tabCtx), nil
		}
		return nil, nil, fmt.Errorf("extract %s: %w", target.URL, err)
	}
	if payload == nil {
		return nil, s.grabSnapshot(tabCtx), nil
	}
	return &watch.StructuredResult{
		Slots:       cleanSlots(payload.Slots),
		Purchasable: payload.Purchasable,
		Listed:      payload.Listed,
	}, nil, nil
}

func (s *session) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// extractScript builds the in-page extraction expression. A missing container
// evaluates to null, which the caller treats as no data.
func (s *session) extractScript() string {
	return fmt.Sprintf(`(() => {
	if (!document.querySelector(%q)) { return null; }
	const slots = Array.from(document.querySelectorAll(%q))
		.map((el) => el.textContent.trim())
		.filter(Boolean);
	return {
		slots: slots,
		purchasable: %s,
		listed: %s,
	};
})()`,
		s.cfg.ContainerSelector,
		s.cfg.SlotsSelector,
		presenceExpr(s.cfg.PurchasableSelector),
		presenceExpr(s.cfg.ListedSelector),
	)
}

func presenceExpr(selector string) string {
	if selector == "" {
		return "false"
	}
	return fmt.Sprintf("!!document.querySelector(%q)", selector)
}

// grabSnapshot best-effort captures the current DOM from a still-live tab.
func (s *session) grabSnapshot(tabCtx context.Context) []byte {
	snapCtx, cancel := context.WithTimeout(tabCtx, s.cfg.SnapshotTimeout)
	defer cancel()
	var html string
	if err := chromedp.Run(snapCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil
	}
	return []byte(html)
}

func (s *session) Close(context.Context) error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

func cleanSlots(slots []string) []string {
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		if trimmed := strings.TrimSpace(slot); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
