// Package wire implements the monitor handshake over the MongoDB wire
// protocol: a "hello" command sent as OP_MSG on a dedicated monitoring
// connection.
package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/wiremessage"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/version"

	"go.ntppool.org/clustermon/address"
	"go.ntppool.org/clustermon/monitor"
)

const driverName = "clustermon"

// Dialer creates handshakers that keep one connection per server.
type Dialer struct {
	// Dialer defaults to an address.Dialer with the system resolver.
	Dialer  *address.Dialer
	AppName string
	Logger  *slog.Logger
}

// Handshaker returns the handshake source for addr. It satisfies the
// topology's handshaker factory signature.
func (d *Dialer) Handshaker(addr address.Address) monitor.Handshaker {
	log := d.Logger
	if log == nil {
		log = logger.Setup()
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = &address.Dialer{}
	}
	return &Handshaker{
		dialer:  dialer,
		appName: d.AppName,
		log:     log.With("address", addr.String()),
	}
}

// Handshaker sends hello over a connection it dials on first use and
// keeps for later heartbeats. Any error drops the connection so the next
// handshake redials.
type Handshaker struct {
	dialer  *address.Dialer
	appName string
	log     *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func (h *Handshaker) Handshake(ctx context.Context, addr address.Address) (*monitor.Reply, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fresh := false
	if h.conn == nil {
		conn, err := h.dialer.DialContext(ctx, addr)
		if err != nil {
			return nil, err
		}
		h.log.Debug("connected", "remote", conn.RemoteAddr())
		h.conn = conn
		fresh = true
	}

	reply, err := h.roundTrip(ctx, h.conn, fresh)
	if err != nil {
		h.conn.Close()
		h.conn = nil
		return nil, err
	}
	return reply, nil
}

func (h *Handshaker) roundTrip(ctx context.Context, conn net.Conn, fresh bool) (*monitor.Reply, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	cmd, err := h.helloCommand(fresh)
	if err != nil {
		return nil, err
	}
	requestID := wiremessage.NextRequestID()
	msg := appendMsg(nil, requestID, 0, cmd)

	start := time.Now()
	if _, err := conn.Write(msg); err != nil {
		return nil, h.wrap(ctx, "sending hello", err)
	}
	resp, err := readMsg(conn)
	if err != nil {
		return nil, h.wrap(ctx, "reading hello reply", err)
	}
	rtt := time.Since(start)

	_, responseTo, doc, err := parseMsg(resp)
	if err != nil {
		return nil, err
	}
	if responseTo != requestID {
		return nil, fmt.Errorf("%w: reply to request %d, expected %d", errMalformed, responseTo, requestID)
	}
	return &monitor.Reply{Document: doc, RTT: rtt}, nil
}

// wrap prefers the context error when the context ended the I/O.
func (h *Handshaker) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (h *Handshaker) helloCommand(withMetadata bool) ([]byte, error) {
	cmd := bson.D{
		{Key: "hello", Value: int32(1)},
		{Key: "helloOk", Value: true},
	}
	if withMetadata {
		cmd = append(cmd, bson.E{Key: "client", Value: clientMetadata(h.appName)})
	}
	cmd = append(cmd, bson.E{Key: "$db", Value: "admin"})
	return bson.Marshal(cmd)
}

func clientMetadata(appName string) bson.D {
	md := bson.D{}
	if appName != "" {
		md = append(md, bson.E{Key: "application", Value: bson.D{{Key: "name", Value: appName}}})
	}
	return append(md,
		bson.E{Key: "driver", Value: bson.D{
			{Key: "name", Value: driverName},
			{Key: "version", Value: version.Version()},
		}},
		bson.E{Key: "os", Value: bson.D{
			{Key: "type", Value: runtime.GOOS},
			{Key: "architecture", Value: runtime.GOARCH},
		}},
		bson.E{Key: "platform", Value: runtime.Version()},
	)
}

// Close drops the monitoring connection.
func (h *Handshaker) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}
