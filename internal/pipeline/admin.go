package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/alphascan/internal/httputil"
)

// AttachAdminRoutes attaches pipeline debugging endpoints to the /debug/
// page of mux: stage states, a JSON status endpoint and, when b is non-nil,
// a server-sent event stream of emitted records. These routes are reachable
// only over localhost or Tailscale.
func (p *Pipeline) AttachAdminRoutes(mux *http.ServeMux, b *Broadcaster) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Stage "+StageA, func() any { return p.a.status().State })
	debug.KVFunc("Stage "+StageB, func() any { return p.b.status().State })
	debug.HandleFunc("pipeline", "Correlation stage status (JSON)", p.handleStatus)

	if b == nil {
		return
	}
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := b.Subscribe()
		defer b.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case rec, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(rec)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

type statusResponse struct {
	Stages      []StageStatus `json:"stages"`
	Tagged      int           `json:"tagged"`
	PendingObjs int           `json:"pending_objects"`
}

func (p *Pipeline) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Stages: p.Status(), Tagged: len(p.c.Tagged())}
	if objects := p.c.Objects(); objects != nil {
		if q, ok := objects.(interface{ Len() int }); ok {
			resp.PendingObjs = q.Len()
		}
	}
	httputil.WriteJSONOK(w, resp)
}
