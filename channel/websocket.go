package channel

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/czx-lab/netpipe/buffer"
)

const closeGracePeriod = time.Second

// WebsocketTransport carries the byte stream in binary websocket messages.
// Message boundaries are not preserved for the pipeline; frames come from
// its decoder like on any stream.
type WebsocketTransport struct {
	ws     *websocket.Conn
	writer *asyncWriter
	done   chan struct{}
	start  sync.Once
	closed sync.Once
}

var _ Transport = (*WebsocketTransport)(nil)

// NewWebsocketTransport wraps ws. readLimit bounds a single message; 0
// keeps the gorilla default.
func NewWebsocketTransport(ws *websocket.Conn, readLimit int64) *WebsocketTransport {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	t := &WebsocketTransport{ws: ws, done: make(chan struct{})}
	t.writer = newAsyncWriter(func(bufs [][]byte) (int, error) {
		var n int
		for _, b := range bufs {
			if err := ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
				return n, err
			}
			n += len(b)
		}
		return n, nil
	})
	go t.writer.run()
	return t
}

func (t *WebsocketTransport) LocalAddr() net.Addr  { return t.ws.LocalAddr() }
func (t *WebsocketTransport) RemoteAddr() net.Addr { return t.ws.RemoteAddr() }

// Start implements Transport.
func (t *WebsocketTransport) Start(s Sink) {
	t.start.Do(func() {
		go t.readLoop(s)
	})
}

func (t *WebsocketTransport) readLoop(s Sink) {
	defer close(t.done)
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = net.ErrClosed
			}
			s.Failed(err)
			return
		}
		if len(data) > 0 {
			s.Received(buffer.Wrap(data))
		}
	}
}

// Write implements Transport.
func (t *WebsocketTransport) Write(bufs [][]byte, done func(int, error)) {
	t.writer.submit(bufs, done)
}

// Close implements Transport.
func (t *WebsocketTransport) Close() error {
	var err error
	t.closed.Do(func() {
		t.writer.close()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = t.ws.Close()
	})
	return err
}

// Done is closed when the reader exits.
func (t *WebsocketTransport) Done() <-chan struct{} {
	return t.done
}
