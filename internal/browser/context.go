package browser

import (
	"context"
)

// combineContext derives a context from tabCtx, which carries the CDP target,
// that is also cancelled when opCtx is done. Values come from tabCtx only.
func combineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
