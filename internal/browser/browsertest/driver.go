// Package browsertest provides an in-memory BrowserDriver backed by static
// HTML pages, for exercising the agent without a real browser.
package browsertest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/dom/htmlsnap"
)

const notFoundPage = `<html><head><title>Not Found</title></head><body><h1>404</h1></body></html>`

// TypeEvent records text typed into an element.
type TypeEvent struct {
	URL    string
	NodeID int64
	Name   string // The element's name attribute, if any.
	Text   string
}

// Driver serves pages from a URL-keyed map. Clicking a link with an href
// follows it, typing is recorded, and go_back walks the navigation stack.
type Driver struct {
	mu         sync.Mutex
	pages      map[string]string
	current    string
	back       []string
	dispatched []schemas.Primitive
	navigated  []string
	typed      []TypeEvent
	snapshots  int
	closed     bool

	// OnDispatch runs before every primitive. A non-nil error is returned from
	// Dispatch without executing the primitive. It may call SetPage.
	OnDispatch func(p schemas.Primitive) error
	// OnSnapshot runs before every snapshot with a 1-based call count.
	OnSnapshot func(n int) error
}

var _ schemas.BrowserDriver = (*Driver)(nil)

// NewDriver creates a driver showing startURL. pages maps absolute URLs to HTML.
func NewDriver(startURL string, pages map[string]string) *Driver {
	d := &Driver{pages: make(map[string]string, len(pages)), current: startURL}
	for u, doc := range pages {
		d.pages[u] = doc
	}
	return d
}

// SetPage replaces (or adds) the document served at u.
func (d *Driver) SetPage(u, doc string) {
	d.mu.Lock()
	d.pages[u] = doc
	d.mu.Unlock()
}

// Snapshot parses the current page.
func (d *Driver) Snapshot(ctx context.Context) (*schemas.RawSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.snapshots++
	n := d.snapshots
	hook := d.OnSnapshot
	d.mu.Unlock()
	if hook != nil {
		if err := hook(n); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, schemas.ErrPageClosed
	}
	return htmlsnap.ParseString(d.document(), d.current)
}

// Dispatch performs p against the current page.
func (d *Driver) Dispatch(ctx context.Context, p schemas.Primitive) (schemas.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Outcome{}, err
	}
	d.mu.Lock()
	d.dispatched = append(d.dispatched, p)
	hook := d.OnDispatch
	d.mu.Unlock()
	if hook != nil {
		if err := hook(p); err != nil {
			return schemas.Outcome{}, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return schemas.Outcome{}, schemas.ErrPageClosed
	}

	var node *schemas.RawNode
	if p.Target != nil {
		snap, err := htmlsnap.ParseString(d.document(), d.current)
		if err != nil {
			return schemas.Outcome{}, err
		}
		if node = find(snap.Root, p.Target.NodeID); node == nil {
			return schemas.Outcome{}, schemas.ErrStaleTarget
		}
	}

	switch p.Kind {
	case schemas.PrimitiveClick:
		if node == nil {
			return schemas.Outcome{}, fmt.Errorf("click requires a target")
		}
		if href, ok := node.Attributes["href"]; ok && node.Tag == "a" {
			next, err := d.resolve(href)
			if err != nil {
				return schemas.Outcome{}, err
			}
			d.load(next)
			return schemas.Outcome{Effect: "navigated to " + next}, nil
		}
		return schemas.Outcome{}, nil
	case schemas.PrimitiveType:
		if node == nil {
			return schemas.Outcome{}, fmt.Errorf("type requires a target")
		}
		d.typed = append(d.typed, TypeEvent{URL: d.current, NodeID: node.NodeID, Name: node.Attributes["name"], Text: p.Text})
		return schemas.Outcome{}, nil
	case schemas.PrimitiveScroll:
		return schemas.Outcome{}, nil
	case schemas.PrimitiveGoBack:
		if len(d.back) == 0 {
			return schemas.Outcome{}, fmt.Errorf("no previous page")
		}
		d.current = d.back[len(d.back)-1]
		d.back = d.back[:len(d.back)-1]
		return schemas.Outcome{}, nil
	case schemas.PrimitiveExtract:
		root := node
		if root == nil {
			snap, err := htmlsnap.ParseString(d.document(), d.current)
			if err != nil {
				return schemas.Outcome{}, err
			}
			root = snap.Root
		}
		return schemas.Outcome{Content: text(root)}, nil
	default:
		return schemas.Outcome{}, fmt.Errorf("unsupported primitive %q", p.Kind)
	}
}

// Navigate loads u. Unknown URLs serve a 404 page.
func (d *Driver) Navigate(ctx context.Context, u string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return schemas.ErrPageClosed
	}
	d.load(u)
	return nil
}

// CurrentURL reports the URL of the page being shown.
func (d *Driver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

// Close marks the driver closed; later calls fail with ErrPageClosed.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// -- Inspection --

// Dispatched returns every primitive received, including failed ones.
func (d *Driver) Dispatched() []schemas.Primitive {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]schemas.Primitive(nil), d.dispatched...)
}

// Navigations returns every URL loaded by Navigate or a followed link.
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigated...)
}

// Typed returns every recorded type event.
func (d *Driver) Typed() []TypeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TypeEvent(nil), d.typed...)
}

// Snapshots returns how many snapshots were requested.
func (d *Driver) Snapshots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshots
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// -- Helpers (callers hold d.mu) --

func (d *Driver) document() string {
	if doc, ok := d.pages[d.current]; ok {
		return doc
	}
	return notFoundPage
}

func (d *Driver) load(u string) {
	d.back = append(d.back, d.current)
	d.current = u
	d.navigated = append(d.navigated, u)
}

func (d *Driver) resolve(href string) (string, error) {
	base, err := url.Parse(d.current)
	if err != nil {
		return "", fmt.Errorf("bad current url %q: %w", d.current, err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("bad href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func find(n *schemas.RawNode, id int64) *schemas.RawNode {
	if n == nil {
		return nil
	}
	if n.NodeID == id {
		return n
	}
	for _, c := range n.Children {
		if f := find(c, id); f != nil {
			return f
		}
	}
	return nil
}

func text(n *schemas.RawNode) string {
	var parts []string
	var walk func(*schemas.RawNode)
	walk = func(n *schemas.RawNode) {
		if !n.Visible {
			return
		}
		if t := strings.TrimSpace(n.Text); t != "" {
			parts = append(parts, t)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
