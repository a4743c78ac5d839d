package bus

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordansnyder/maestra-core/pkg/util"
)

// NATSBus is the subject-tree flavour of the fan-out bus.
type NATSBus struct {
	nc *nats.Conn
}

// ConnectNATS dials the NATS server with reconnect enabled. The
// connection keeps retrying in the background after transient drops.
func ConnectNATS(url, name string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				util.WithComponent("nats").WithError(err).Warn("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			util.WithComponent("nats").Infof("reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, util.NewDependencyError("nats", err)
	}
	return &NATSBus{nc: nc}, nil
}

// Publish sends a payload on a dotted subject.
func (b *NATSBus) Publish(subject string, payload []byte) error {
	return b.nc.Publish(subject, payload)
}

// Request performs request/reply with a hard timeout.
func (b *NATSBus) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := b.nc.RequestWithContext(rctx, subject, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return nil, util.ErrUpstreamTimeout
		}
		return nil, err
	}
	return msg.Data, nil
}

// Subscribe registers a handler; subject may use * and > wildcards.
func (b *NATSBus) Subscribe(subject string, h Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscribeRequests registers a responder for request/reply subjects.
func (b *NATSBus) SubscribeRequests(subject string, r Responder) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply, err := r(msg.Subject, msg.Data)
		if err != nil {
			util.WithComponent("nats").WithError(err).Warnf("responder failed on %s", msg.Subject)
			return
		}
		if msg.Reply != "" {
			if err := msg.Respond(reply); err != nil {
				util.WithComponent("nats").WithError(err).Warn("reply publish failed")
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Connected reports whether the connection is currently up.
func (b *NATSBus) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close drains and closes the connection.
func (b *NATSBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
