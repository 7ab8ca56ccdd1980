package bootstrap

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
	"github.com/xtaci/kcp-go/v5"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
)

func kcpBlock(conf KcpConf) (kcp.BlockCrypt, error) {
	key := sha256.Sum256([]byte(conf.CryptKey))
	return kcp.NewAESBlockCrypt(key[:])
}

func listen(conf ServerConf) (net.Listener, error) {
	switch conf.Network {
	case NetworkTCP, NetworkUnix:
		return net.Listen(conf.Network, conf.Addr)
	case NetworkKCP:
		block, err := kcpBlock(conf.Kcp)
		if err != nil {
			return nil, err
		}
		return kcp.ListenWithOptions(conf.Addr, block, conf.Kcp.DataShards, conf.Kcp.ParityShards)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, conf.Network)
}

// dial opens a transport for conf. kcp ignores ctx; it is connectionless
// until the first packet.
func dial(ctx context.Context, conf ClientConf, alloc buffer.Allocator) (channel.Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, conf.DialTimeout)
	defer cancel()

	switch conf.Network {
	case NetworkTCP, NetworkUnix:
		var d net.Dialer
		conn, err := d.DialContext(ctx, conf.Network, conf.Addr)
		if err != nil {
			return nil, err
		}
		return channel.NewStreamTransport(conn, conf.Channel.ReadBufferSize, alloc), nil
	case NetworkKCP:
		block, err := kcpBlock(conf.Kcp)
		if err != nil {
			return nil, err
		}
		sess, err := kcp.DialWithOptions(conf.Addr, block, conf.Kcp.DataShards, conf.Kcp.ParityShards)
		if err != nil {
			return nil, err
		}
		return channel.NewStreamTransport(sess, conf.Channel.ReadBufferSize, alloc), nil
	case NetworkWS:
		d := websocket.Dialer{HandshakeTimeout: conf.DialTimeout}
		ws, _, err := d.DialContext(ctx, conf.Addr, nil)
		if err != nil {
			return nil, err
		}
		return channel.NewWebsocketTransport(ws, conf.WsReadLimit), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, conf.Network)
}
