// Package collyexec implements a lightweight page executor using gocolly. It
// suits targets that render server-side; JavaScript-heavy pages need the
// browser executor instead.
package collyexec

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// Config controls collector behavior and extraction.
type Config struct {
	// UserAgent overrides the collector user agent when non-empty.
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
}

// Executor opens one collector session per proxy unit.
type Executor struct {
	cfg Config
}

// New validates the config and builds the executor.
func New(cfg Config) (*Executor, error) {
	if cfg.ContainerSelector == "" || cfg.SlotsSelector == "" {
		return nil, fmt.Errorf("container and slots selectors are required")
	}
	return &Executor{cfg: cfg}, nil
}

// NewSession builds a collector whose requests egress through the unit's
// proxy endpoint. An empty endpoint means direct connections.
func (e *Executor) NewSession(_ context.Context, unit *watch.ProxyUnit) (watch.Session, error) {
	base := colly.NewCollector(colly.Async(false))
	base.WithTransport(newHTTPTransport())
	base.IgnoreRobotsTxt = true
	if e.cfg.UserAgent != "" {
		base.UserAgent = e.cfg.UserAgent
	}
	return &session{cfg: e.cfg, base: base, proxy: unit.Endpoint}, nil
}

type session struct {
	cfg   Config
	base  *colly.Collector
	proxy string
}

func (s *session) Execute(ctx context.Context, target watch.Target, timeout time.Duration) (*watch.StructuredResult, []byte, error) {
	collector := s.base.Clone()
	collector.SetRequestTimeout(timeout)
	if s.proxy != "" {
		if err := collector.SetProxy(s.proxy); err != nil {
			return nil, nil, fmt.Errorf("set proxy %s: %w", s.proxy, err)
		}
	}

	var (
		body           []byte
		slots          []string
		containerFound bool
		purchasable    bool
		listed         bool
		fetchErr       error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnHTML(s.cfg.ContainerSelector, func(*colly.HTMLElement) {
		containerFound = true
	})
	collector.OnHTML(s.cfg.SlotsSelector, func(el *colly.HTMLElement) {
		if text := strings.TrimSpace(el.Text); text != "" {
			slots = append(slots, text)
		}
	})
	if s.cfg.PurchasableSelector != "" {
		collector.OnHTML(s.cfg.PurchasableSelector, func(*colly.HTMLElement) {
			purchasable = true
		})
	}
	if s.cfg.ListedSelector != "" {
		collector.OnHTML(s.cfg.ListedSelector, func(*colly.HTMLElement) {
			listed = true
		})
	}
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target.URL)
	}()
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("check canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, nil, fmt.Errorf("visit %s: %w", target.URL, err)
		}
	}
	if fetchErr != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", target.URL, fetchErr)
	}
	if !containerFound {
		return nil, body, nil
	}
	return &watch.StructuredResult{
		Slots:       slots,
		Purchasable: purchasable,
		Listed:      listed,
	}, nil, nil
}

// Close implements the Session interface; the collector holds no resources
// beyond pooled connections.
func (s *session) Close(context.Context) error {
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
