// Package transport implements the client Transport over TCP or TLS: URI
// parsing, the AMQP 0-9-1 connection handshake, heartbeats and frame I/O.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ottermq/otterclient/internal/core/amqp"
	amqperrors "github.com/ottermq/otterclient/internal/core/amqp/errors"
	"github.com/ottermq/otterclient/pkg/client"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Conn is a negotiated AMQP connection. It implements client.Transport.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	framer amqp.Framer

	writeMu sync.Mutex

	channelMax       uint16
	frameMax         uint32
	heartbeat        time.Duration
	serverProperties amqp091.Table
	alloc            *Allocator

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// Dialer returns a client.Dialer that dials cfg.URL.
func Dialer(cfg Config) client.Dialer {
	return func(ctx context.Context) (client.Transport, error) {
		return Dial(ctx, cfg)
	}
}

// Dial connects to cfg.URL and performs the handshake. amqps URLs use TLS.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	uri, err := amqp091.ParseURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	addr := net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port))
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if uri.Scheme == "amqps" {
		tlsCfg := cfg.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: uri.Host}
		}
		tc := tls.Client(nc, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		nc = tc
	}

	c, err := open(ctx, nc, cfg, uri)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	log.Info().Str("addr", addr).Str("vhost", uri.Vhost).Uint16("channel_max", c.channelMax).
		Uint32("frame_max", c.frameMax).Dur("heartbeat", c.heartbeat).Msg("Connected")
	return c, nil
}

// Open performs the handshake over an established net.Conn. Credentials and
// vhost come from cfg.URL.
func Open(ctx context.Context, nc net.Conn, cfg Config) (*Conn, error) {
	uri, err := amqp091.ParseURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	return open(ctx, nc, cfg, uri)
}

func open(ctx context.Context, nc net.Conn, cfg Config, uri amqp091.URI) (*Conn, error) {
	c := &Conn{
		conn:   nc,
		reader: bufio.NewReader(nc),
		framer: &amqp.DefaultFramer{},
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	if err := c.handshake(cfg, uri); err != nil {
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})

	c.alloc = NewAllocator(c.channelMax)
	hbCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, hbCtx = errgroup.WithContext(hbCtx)
	if c.heartbeat > 0 {
		c.group.Go(func() error { return c.sendHeartbeats(hbCtx) })
	}
	return c, nil
}

func (c *Conn) handshake(cfg Config, uri amqp091.URI) error {
	if _, err := c.conn.Write(amqp.PROTOCOL_HEADER); err != nil {
		return fmt.Errorf("send protocol header: %w", err)
	}

	// A broker that does not speak 0-9-1 answers with its own header.
	if peek, err := c.reader.Peek(1); err == nil && peek[0] == 'A' {
		header := make([]byte, len(amqp.PROTOCOL_HEADER))
		if _, err := io.ReadFull(c.reader, header); err != nil {
			return fmt.Errorf("read protocol header: %w", err)
		}
		return fmt.Errorf("broker rejected protocol version, offers %v", header[4:])
	}

	m, err := c.readMethod()
	if err != nil {
		return err
	}
	start, ok := m.(*amqp.ConnectionStartMessage)
	if !ok {
		return unexpected("connection.start", m)
	}
	if !strings.Contains(" "+start.Mechanisms+" ", " PLAIN ") {
		return fmt.Errorf("broker does not offer PLAIN authentication (offers %q)", start.Mechanisms)
	}
	c.serverProperties = start.ServerProperties

	locale := cfg.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	if err := c.writeMethod(&amqp.ConnectionStartOkMessage{
		ClientProperties: clientProperties(cfg.Properties),
		Mechanism:        "PLAIN",
		Response:         amqp.EncodeSecurityPlain(uri.Username, uri.Password),
		Locale:           locale,
	}); err != nil {
		return err
	}

	if m, err = c.readMethod(); err != nil {
		return err
	}
	tune, ok := m.(*amqp.ConnectionTuneMessage)
	if !ok {
		return unexpected("connection.tune", m)
	}
	tuned := amqp.NegotiateTune(amqp.ConnectionTuneOkMessage{
		ChannelMax: cfg.ChannelMax,
		FrameMax:   cfg.FrameMax,
		Heartbeat:  uint16(cfg.Heartbeat / time.Second),
	}, tune)
	if err := c.writeMethod(&tuned); err != nil {
		return err
	}
	c.channelMax = tuned.ChannelMax
	c.frameMax = tuned.FrameMax
	c.heartbeat = time.Duration(tuned.Heartbeat) * time.Second

	if err := c.writeMethod(&amqp.ConnectionOpenMessage{VirtualHost: uri.Vhost}); err != nil {
		return err
	}
	if m, err = c.readMethod(); err != nil {
		return err
	}
	if _, ok := m.(*amqp.ConnectionOpenOkMessage); !ok {
		return unexpected("connection.open-ok", m)
	}
	log.Debug().Str("vhost", uri.Vhost).Msg("Handshake complete")
	return nil
}

// readMethod reads the next channel-0 method during the handshake. A
// connection.close from the broker is returned as an AMQPError.
func (c *Conn) readMethod() (amqp.Method, error) {
	for {
		raw, err := c.framer.ReadFrame(c.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("broker closed the connection during handshake: %w", err)
			}
			return nil, fmt.Errorf("read handshake frame: %w", err)
		}
		frame, err := c.framer.ParseFrame(raw)
		if err != nil {
			return nil, err
		}
		switch f := frame.(type) {
		case *amqp.Heartbeat:
			continue
		case *amqp.MethodFrame:
			if closeMsg, ok := f.Method.(*amqp.ConnectionCloseMessage); ok {
				_ = c.writeMethod(&amqp.ConnectionCloseOkMessage{})
				return nil, amqperrors.NewConnectionError(closeMsg.ReplyText, closeMsg.ReplyCode, closeMsg.ClassID, closeMsg.MethodID)
			}
			return f.Method, nil
		default:
			return nil, fmt.Errorf("unexpected %T during handshake", frame)
		}
	}
}

func (c *Conn) writeMethod(m amqp.Method) error {
	return c.Send(c.framer.CreateMethodFrame(0, m))
}

func unexpected(want string, got amqp.Method) error {
	classID, methodID := got.ClassMethod()
	return fmt.Errorf("expected %s, got %s", want, amqp.MethodName(classID, methodID))
}

func (c *Conn) sendHeartbeats(ctx context.Context) error {
	ticker := time.NewTicker(c.heartbeat / 2)
	defer ticker.Stop()
	frame := c.framer.CreateHeartbeatFrame()
	for {
		select {
		case <-ticker.C:
			if err := c.Send(frame); err != nil {
				log.Error().Err(err).Msg("Heartbeat failed")
				return err
			}
		case <-ctx.Done():
			log.Debug().Msg("Heartbeat stopped")
			return nil
		}
	}
}

func (c *Conn) OpenChannel() (uint16, error) { return c.alloc.Next() }
func (c *Conn) ReleaseChannel(id uint16)     { c.alloc.Release(id) }

// FrameMax is the negotiated frame-max.
func (c *Conn) FrameMax() uint32 { return c.frameMax }

func (c *Conn) ChannelMax() uint16 { return c.channelMax }

// Heartbeat is the negotiated heartbeat interval, zero when disabled.
func (c *Conn) Heartbeat() time.Duration { return c.heartbeat }

func (c *Conn) ServerProperties() amqp091.Table { return c.serverProperties }

func (c *Conn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.SendFrame(c.conn, frame)
}

// Receive reads one frame. With heartbeats negotiated, silence for two
// intervals is a timeout. Frames larger than the negotiated frame-max are
// refused before their payload is read.
func (c *Conn) Receive() ([]byte, error) {
	if c.heartbeat > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.heartbeat))
	}
	if err := c.checkFrameSize(); err != nil {
		return nil, readError(err)
	}
	frame, err := c.framer.ReadFrame(c.reader)
	if err != nil {
		return nil, readError(err)
	}
	return frame, nil
}

func (c *Conn) checkFrameSize() error {
	if c.frameMax == 0 {
		return nil
	}
	header, err := c.reader.Peek(amqp.FRAME_HEADER_SIZE)
	if err != nil {
		return err
	}
	size := uint64(binary.BigEndian.Uint32(header[3:7])) + amqp.FRAME_HEADER_SIZE + 1
	if size > uint64(c.frameMax) {
		return fmt.Errorf("frame of %d bytes exceeds frame-max %d", size, c.frameMax)
	}
	return nil
}

func readError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("missed heartbeats from broker: %w", err)
	}
	return err
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.closeErr = c.conn.Close()
		if c.group != nil {
			if err := c.group.Wait(); err != nil {
				log.Debug().Err(err).Msg("Heartbeat goroutine ended with error")
			}
		}
	})
	return c.closeErr
}
