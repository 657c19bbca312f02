package globe

import (
	"time"

	"github.com/open-politics/globe/render"
)

// Clock schedules deferred work on the renderer's event loop. Tests swap in
// a manual implementation to drive the debounce and dwell timers.
type Clock interface {
	// AfterFunc runs fn on the event loop after d. The returned func cancels
	// the timer if it has not fired.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

type loopClock struct {
	r render.Renderer
}

// NewLoopClock returns a Clock backed by wall time that posts firings onto
// the renderer's event loop.
func NewLoopClock(r render.Renderer) Clock {
	return &loopClock{r: r}
}

func (c *loopClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		c.r.Post(fn)
	})
	return func() { t.Stop() }
}
