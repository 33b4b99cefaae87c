package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// HeadlessSolver passes the mitigation challenge by driving headless
// Chrome through the site root and exporting the cookies it earns.
type HeadlessSolver struct {
	userAgent   string
	navTimeout  time.Duration
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadlessSolver creates a solver backed by chromedp.
func NewHeadlessSolver(userAgent string, navTimeout time.Duration) *HeadlessSolver {
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessSolver{
		userAgent:   userAgent,
		navTimeout:  navTimeout,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close cancels the allocator context.
func (h *HeadlessSolver) Close() {
	h.allocCancel()
}

// Solve navigates to rootURL, waits for the interstitial to clear, and
// returns the browser's cookies for the origin.
func (h *HeadlessSolver) Solve(ctx context.Context, rootURL string) ([]*http.Cookie, error) {
	taskCtx, taskCancel := chromedp.NewContext(h.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, h.navTimeout)
	defer cancel()

	// chromedp contexts must descend from the allocator, so caller
	// cancellation is propagated by hand.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	actions := []chromedp.Action{
		h.userAgentAction(),
		chromedp.Navigate(rootURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// give the challenge script time to run and set its clearance cookie
		chromedp.Sleep(5 * time.Second),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("headless navigate: %w", err)
	}

	var cookies []*http.Cookie
	err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("read browser cookies: %w", err)
		}
		for _, c := range raw {
			cookies = append(cookies, &http.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("challenge produced no cookies")
	}
	return cookies, nil
}

func (h *HeadlessSolver) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if h.userAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(h.userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}
