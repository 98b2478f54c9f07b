package browser

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

// nodeAttr is stamped on every element by the snapshot script so later
// dispatches can address the node by its snapshot ID.
const nodeAttr = "data-surfer-node"

const (
	maxAttrLength = 512
	maxTextLength = 300
)

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// snapshotScript walks the document in pre-order and returns a JSON string
// shaped like schemas.RawSnapshot. IDs restart at 1 on every call.
var snapshotScript = `(() => {
	const ATTR = "` + nodeAttr + `";
	const SKIP = new Set(["SCRIPT", "STYLE", "NOSCRIPT", "TEMPLATE", "HEAD", "SVG", "IFRAME"]);
	let next = 0;
	const clip = (s, n) => (s.length > n ? s.slice(0, n) : s);
	const walk = (el, parentVisible) => {
		const id = ++next;
		el.setAttribute(ATTR, String(id));
		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		const visible = parentVisible &&
			style.display !== "none" &&
			style.visibility !== "hidden" &&
			style.visibility !== "collapse" &&
			parseFloat(style.opacity || "1") > 0;
		const attrs = {};
		for (const a of el.attributes) {
			if (a.name !== ATTR) attrs[a.name] = clip(a.value, ` + strconv.Itoa(maxAttrLength) + `);
		}
		const tag = el.tagName.toLowerCase();
		if ((tag === "input" || tag === "textarea" || tag === "select") &&
			typeof el.value === "string" && (el.type || "").toLowerCase() !== "password") {
			attrs["value"] = clip(el.value, ` + strconv.Itoa(maxAttrLength) + `);
		}
		let text = "";
		for (const c of el.childNodes) {
			if (c.nodeType === Node.TEXT_NODE) text += c.textContent;
		}
		const node = {
			id: id,
			tag: tag,
			attrs: attrs,
			text: clip(text.replace(/\s+/g, " ").trim(), ` + strconv.Itoa(maxTextLength) + `),
			box: {x: rect.x + window.scrollX, y: rect.y + window.scrollY, width: rect.width, height: rect.height},
			visible: visible,
			children: [],
		};
		for (const c of el.children) {
			if (!SKIP.has(c.tagName.toUpperCase())) node.children.push(walk(c, visible));
		}
		return node;
	};
	const root = walk(document.documentElement, true);
	return JSON.stringify({url: location.href, title: document.title, root: root});
})()`

// decodeSnapshot parses the JSON produced by snapshotScript.
func decodeSnapshot(raw string) (*schemas.RawSnapshot, error) {
	var snap schemas.RawSnapshot
	if err := jsonAPI.UnmarshalFromString(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode page snapshot: %w", err)
	}
	if snap.Root == nil {
		return nil, fmt.Errorf("page snapshot has no root element")
	}
	return &snap, nil
}

// selector addresses a node stamped by the last snapshot.
func selector(l *schemas.Locator) string {
	return fmt.Sprintf(`[%s="%d"]`, nodeAttr, l.NodeID)
}

// isNavigationError reports CDP errors raised when the document went away
// while a script was running.
func isNavigationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution context was destroyed") ||
		strings.Contains(msg, "cannot find context with specified id") ||
		strings.Contains(msg, "inspected target navigated or closed")
}

// transientInteraction lists CDP failures for nodes that exist but cannot be
// interacted with yet: hidden, zero-sized, mid-layout or behind an overlay.
var transientInteraction = []string{
	"could not compute box model",
	"invalid box model",
	"invalid dimensions",
	"node does not have a layout object",
	"element is not visible",
	"element is not focusable",
	"element is covered",
}

func isTransientInteraction(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientInteraction {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
