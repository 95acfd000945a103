package hub

import (
	"bytes"
	"errors"
	"io"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/hubrpc/internal/common/logger"
)

// Socket is the message-oriented duplex transport a Connection runs over.
// *websocket.Conn from gorilla/websocket satisfies it.
type Socket interface {
	NextReader() (messageType int, r io.Reader, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	Close() error
}

// keepaliveSocket is implemented by sockets that support deadlines and
// control frames; the pumps use it when available.
type keepaliveSocket interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

func (c *Connection) writePump() {
	defer c.writer.Done()

	ka, hasKeepalive := c.socket.(keepaliveSocket)
	var ping <-chan time.Time
	if hasKeepalive && c.cfg.pingPeriod > 0 {
		ticker := time.NewTicker(c.cfg.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer c.socket.Close()

	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(ka, hasKeepalive, message); err != nil {
				c.log.WithFields(c.ctx, logger.Fields{
					"connection_id": c.id,
					"action":        "hub_write_failed",
				}).Warnf("hub write failed: %v", err)
				go c.Close(err)
				return
			}

		case <-ping:
			if err := ka.WriteControl(gorillaWS.PingMessage, nil, time.Now().Add(c.cfg.writeWait)); err != nil {
				go c.Close(err)
				return
			}

		case <-c.done:
			c.flush(ka, hasKeepalive)
			if hasKeepalive {
				ka.WriteControl(
					gorillaWS.CloseMessage,
					gorillaWS.FormatCloseMessage(closeCode(c.reason), ""),
					time.Now().Add(c.cfg.writeWait),
				)
			}
			return
		}
	}
}

// flush writes whatever was queued before the connection closed.
func (c *Connection) flush(ka keepaliveSocket, hasKeepalive bool) {
	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(ka, hasKeepalive, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// writeMessage writes one complete text message; concurrent senders never
// reach the socket because only the pump calls this.
func (c *Connection) writeMessage(ka keepaliveSocket, hasKeepalive bool, message []byte) error {
	if hasKeepalive && c.cfg.writeWait > 0 {
		ka.SetWriteDeadline(time.Now().Add(c.cfg.writeWait))
	}
	w, err := c.socket.NextWriter(gorillaWS.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// readLoop reassembles each incoming message from its frames and hands the
// complete text to handle. It returns nil on a clean close.
func (c *Connection) readLoop(handle func(messageType int, text string) error) error {
	if ka, ok := c.socket.(keepaliveSocket); ok {
		if c.cfg.maxMessageSize > 0 {
			ka.SetReadLimit(c.cfg.maxMessageSize)
		}
		if c.cfg.pongWait > 0 {
			ka.SetReadDeadline(time.Now().Add(c.cfg.pongWait))
			ka.SetPongHandler(func(string) error {
				return ka.SetReadDeadline(time.Now().Add(c.cfg.pongWait))
			})
		}
	}

	buf := make([]byte, c.cfg.receiveBufferSize)
	var message bytes.Buffer

	for {
		messageType, r, err := c.socket.NextReader()
		if err != nil {
			return c.readError(err)
		}

		message.Reset()
		if err := readFrames(r, buf, &message); err != nil {
			return c.readError(err)
		}

		if err := handle(messageType, message.String()); err != nil {
			return err
		}
	}
}

// readFrames drains r, which yields the payload of one message frame by
// frame, into dst. The total size need not be known up front.
func readFrames(r io.Reader, buf []byte, dst *bytes.Buffer) error {
	for {
		n, err := r.Read(buf)
		if n > 0 {
			dst.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Connection) readError(err error) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	if errors.Is(err, io.EOF) || gorillaWS.IsCloseError(err, gorillaWS.CloseNormalClosure, gorillaWS.CloseGoingAway) {
		return nil
	}
	if gorillaWS.IsUnexpectedCloseError(err, gorillaWS.CloseGoingAway, gorillaWS.CloseAbnormalClosure) {
		c.log.WithFields(c.ctx, logger.Fields{
			"connection_id": c.id,
			"action":        "hub_read_failed",
		}).Warnf("hub read error: %v", err)
	}
	return err
}

func closeCode(reason error) int {
	if reason == nil {
		return gorillaWS.CloseNormalClosure
	}
	return gorillaWS.CloseProtocolError
}
