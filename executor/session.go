package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/okralabs/uiheal/uimap"
)

// navTimeout bounds navigation plus load wait.
const navTimeout = 30 * time.Second

// Frame is one captured screenshot with its viewport dimensions and
// content hash, ready to hand to the perception client.
type Frame struct {
	PNG    []byte
	Width  int
	Height int
	Hash   string
}

// Session is one open tab. Sessions act on elements located by vision:
// clicks and keystrokes land at bounding-box centers, never at selectors.
type Session struct {
	page    *rod.Page
	browser *Browser
}

// NewSession opens a tab. With stealth enabled the page is created through
// the stealth bundle to blunt headless detection.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	r := b.rod()
	if r == nil {
		return nil, fmt.Errorf("executor: browser not started")
	}

	var page *rod.Page
	var err error
	if b.cfg.Stealth {
		page, err = stealth.Page(r)
	} else {
		page, err = r.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("executor: create tab: %w", err)
	}

	return &Session{page: page.Context(ctx), browser: b}, nil
}

// Navigate loads a URL and waits for the load event.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	page := s.page.Context(navCtx)
	if err := page.Navigate(pageURL); err != nil {
		return fmt.Errorf("executor: navigate %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		s.browser.cfg.Logger.Warn("executor: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// Capture takes a viewport screenshot and returns it with dimensions and
// content hash.
func (s *Session) Capture(ctx context.Context) (*Frame, error) {
	page := s.page.Context(ctx)

	png, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: screenshot: %w", err)
	}

	res, err := page.Eval(`() => [window.innerWidth, window.innerHeight]`)
	if err != nil {
		return nil, fmt.Errorf("executor: viewport size: %w", err)
	}
	dims := res.Value.Arr()
	if len(dims) != 2 {
		return nil, fmt.Errorf("executor: viewport size: unexpected result %v", res.Value)
	}

	return &Frame{
		PNG:    png,
		Width:  int(dims[0].Int()),
		Height: int(dims[1].Int()),
		Hash:   uimap.ScreenHash(png),
	}, nil
}

// Click moves the mouse to the element's bbox center and left-clicks.
func (s *Session) Click(ctx context.Context, el uimap.Element) error {
	x, y := el.BBox.Center()
	page := s.page.Context(ctx)

	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("executor: move to %s: %w", el.ID, err)
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("executor: click %s: %w", el.ID, err)
	}
	return nil
}

// Type clicks the element to focus it, then inserts text.
func (s *Session) Type(ctx context.Context, el uimap.Element, text string) error {
	if err := s.Click(ctx, el); err != nil {
		return err
	}
	if err := s.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("executor: type into %s: %w", el.ID, err)
	}
	return nil
}

// Close closes the tab.
func (s *Session) Close() error {
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}
