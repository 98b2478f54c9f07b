package schemas

import (
	"context"
	"errors"
)

// -- Collaborator Interfaces --

// BrowserDriver is the narrow capability set the agent consumes from a live
// browser. Implementations own a single page; callers serialize access.
type BrowserDriver interface {
	// Snapshot captures the current DOM tree of the page, annotated with
	// visibility and geometry. Node IDs are only meaningful for the snapshot
	// that produced them.
	Snapshot(ctx context.Context) (*RawSnapshot, error)
	// Dispatch performs one primitive interaction against the page.
	Dispatch(ctx context.Context, p Primitive) (Outcome, error)
	// Navigate loads the given URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// CurrentURL reports the URL of the active document.
	CurrentURL(ctx context.Context) (string, error)
	// Close releases the page and any resources tied to it.
	Close() error
}

// ChatModel is the single capability consumed from a language model provider.
// Provider specifics (wire format, auth, structured output flags) stay in adapters.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

// -- Driver Errors --

var (
	// ErrPageClosed is reported when the page or its target has gone away.
	ErrPageClosed = errors.New("page is closed")
	// ErrNavigating is reported when a snapshot is requested mid-navigation.
	ErrNavigating = errors.New("navigation in progress")
	// ErrStaleTarget is reported when a locator no longer resolves to a node.
	ErrStaleTarget = errors.New("target element is stale or detached from the document")
	// ErrTransient marks driver failures that are safe to retry (e.g. the node is
	// covered by an overlay that is animating away).
	ErrTransient = errors.New("transient driver failure")
)
