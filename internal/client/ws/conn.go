package ws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is a single established WebSocket connection.
type Conn interface {
	// Read blocks until the next data frame arrives.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error
}

// Dialer opens connections to a WebSocket endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// NetDialer dials with gobwas/ws.
type NetDialer struct {
	Dialer ws.Dialer
}

// Dial performs the client handshake.
func (d NetDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, br, _, err := d.Dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	var src io.Reader = conn
	if br != nil {
		// The handshake reader may hold the first frames already.
		src = io.MultiReader(br, conn)
	}
	return &netConn{conn: conn, src: src}, nil
}

// netConn frames data over a raw net.Conn on the client side.
type netConn struct {
	conn net.Conn
	src  io.Reader

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (c *netConn) Read(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	rd := wsutil.Reader{
		Source:         c.src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, &rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(&rd)
	}
}

// handleControl answers pings and close frames. The reply is compiled into
// one buffer so it cannot interleave with a concurrent Write.
func (c *netConn) handleControl(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	err := wsutil.ControlHandler{
		Src:   r,
		Dst:   &reply,
		State: ws.StateClientSide,
	}.Handle(hdr)
	if reply.Len() > 0 {
		if werr := c.writeRaw(time.Time{}, reply.Bytes()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (c *netConn) Write(ctx context.Context, data []byte) error {
	frame, err := ws.CompileFrame(ws.MaskFrame(ws.NewTextFrame(data)))
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	deadline, _ := ctx.Deadline()
	return c.writeRaw(deadline, frame)
}

func (c *netConn) writeRaw(deadline time.Time, p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(p)
	return err
}

func (c *netConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		if frame, cerr := ws.CompileFrame(ws.MaskFrame(ws.NewCloseFrame(body))); cerr == nil {
			_ = c.writeRaw(time.Now().Add(time.Second), frame)
		}
		err = c.conn.Close()
	})
	return err
}
