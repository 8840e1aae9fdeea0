package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/web/stream"
)

// keepAlive is the interval of comment frames on an idle event stream.
var keepAlive = 15 * time.Second

// events streams the committed writes of the caller's project.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	if a.opts.Events == nil {
		http.NotFound(w, r)
		return
	}
	// The server write timeout would cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch, cancel := a.opts.Events.Subscribe(string(project(r)))
	defer cancel()

	sse, err := stream.NewSSE(w)
	if err != nil {
		a.fail(w, err)
		return
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.Send(ev); err != nil {
				a.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := sse.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}
