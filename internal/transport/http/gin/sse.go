package httpgin

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/notify"
)

// streamChannel serves one channel over Server-Sent Events. The
// subscription is registered before the snapshot is loaded, so an
// update racing the subscribe is queued rather than lost; the snapshot
// always goes out first. When the client disconnects, every
// subscription this observer holds is dropped.
func streamChannel(
	c *gin.Context,
	hub *notify.Hub,
	channel string,
	snapshotFn func() (domain.Event, error),
) {
	observerID := uuid.New().String()
	sub := hub.Subscribe(channel, observerID)
	defer hub.DropObserver(observerID)

	snapshot, err := snapshotFn()
	if err != nil {
		respondErr(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if snapshot.TsUnix == 0 {
		snapshot.TsUnix = time.Now().Unix()
	}

	c.SSEvent(snapshot.Type, snapshot)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		}
	})
}
