package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/stream"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

const (
	recvTimeout   = 5 * time.Second
	infoHeartbeat = 15 * time.Second
	maxDatagram   = 65536
)

// heartbeatInterval spaces session TTL refreshes.
var heartbeatInterval = 10 * time.Second

// connectionInfoTypes are point-to-point, high-bandwidth protocols the
// proxy never relays; clients get connection metadata only.
var connectionInfoTypes = map[string]bool{
	"video": true, "ndi": true, "srt": true,
	"texture": true, "spout": true, "syphon": true,
}

// Proxy serves /streams/{id}/preview: one UDP socket and one upstream
// session per SSE client.
type Proxy struct {
	registry   *stream.Registry
	negotiator *stream.Negotiator
}

// NewProxy wires the proxy.
func NewProxy(registry *stream.Registry, negotiator *stream.Negotiator) *Proxy {
	return &Proxy{registry: registry, negotiator: negotiator}
}

// Serve runs a preview until the client disconnects. An error return
// before any SSE frame means nothing was written and the handler can
// still answer with a status code.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, streamID string) error {
	ctx := r.Context()
	s, err := p.registry.Get(ctx, streamID)
	if err != nil {
		return err
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		return err
	}

	if connectionInfoTypes[s.StreamType] {
		p.serveConnectionInfo(ctx, sse, s)
		return nil
	}
	p.serveProxied(ctx, sse, s)
	return nil
}

// serveConnectionInfo hands the client the endpoint and keeps the SSE
// channel warm; the client connects to the publisher directly.
func (p *Proxy) serveConnectionInfo(ctx context.Context, sse *sseWriter, s *model.Stream) {
	sse.send("info", map[string]any{
		"mode":        "connection_info",
		"stream_id":   s.ID,
		"name":        s.Name,
		"stream_type": s.StreamType,
		"protocol":    s.Protocol,
		"address":     s.Address,
		"port":        s.Port,
		"config":      s.Config,
	})

	ticker := time.NewTicker(infoHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.send("heartbeat", map[string]any{"stream_id": s.ID}); err != nil {
				return
			}
		}
	}
}

// serveProxied negotiates a session, receives datagrams on its own
// socket, and relays decoded frames. The socket closes on every exit
// path; the session is stopped best-effort.
func (p *Proxy) serveProxied(ctx context.Context, sse *sseWriter, s *model.Stream) {
	log := util.WithStream(s.ID).WithField("component", "preview")

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		sse.send("error", map[string]any{"detail": "socket bind failed: " + err.Error()})
		return
	}
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	offer, err := p.negotiator.Negotiate(ctx, s.ID, model.StreamRequest{
		ConsumerID:      "dashboard-preview-" + util.ShortID(s.ID),
		ConsumerAddress: util.LocalIP(),
		ConsumerPort:    port,
	})
	if err != nil {
		sse.send("error", map[string]any{"detail": err.Error()})
		return
	}
	defer func() {
		if err := p.negotiator.StopSession(context.Background(), offer.SessionID); err != nil && !util.IsNotFound(err) {
			log.WithError(err).Warn("preview session stop failed")
		}
	}()

	sse.send("info", map[string]any{
		"mode":             "proxy",
		"stream_id":        s.ID,
		"name":             s.Name,
		"stream_type":      s.StreamType,
		"session_id":       offer.SessionID,
		"publisher":        fmt.Sprintf("%s:%d", offer.PublisherAddress, offer.PublisherPort),
		"transport_config": offer.TransportConfig,
	})

	decode := DecoderFor(s.StreamType)
	buf := make([]byte, maxDatagram)
	lastBeat := time.Now()
	seq := 0

	// The session record expires on its TTL whether or not datagrams are
	// flowing, so both branches of the read loop refresh it.
	beat := func() {
		if time.Since(lastBeat) <= heartbeatInterval {
			return
		}
		if err := p.negotiator.SessionHeartbeat(ctx, offer.SessionID); err != nil {
			log.WithError(err).Warn("preview session heartbeat failed")
		}
		lastBeat = time.Now()
	}

	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				idle := time.Since(lastBeat) > heartbeatInterval
				beat()
				if idle {
					if err := sse.send("heartbeat", map[string]any{"session_id": offer.SessionID}); err != nil {
						return
					}
				}
				continue
			}
			if ctx.Err() == nil {
				sse.send("error", map[string]any{"detail": "socket read failed: " + err.Error()})
			}
			return
		}

		beat()
		frame := decode(buf[:n])
		frame["_seq"] = seq
		seq++
		if err := sse.send("preview", frame); err != nil {
			return
		}
	}
}

// sseWriter emits server-sent events with buffering disabled.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

func (s *sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
