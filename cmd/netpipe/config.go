package main

import (
	"github.com/zeromicro/go-zero/core/conf"

	"github.com/czx-lab/netpipe"
	"github.com/czx-lab/netpipe/bootstrap"
	"github.com/czx-lab/netpipe/codec"
	"github.com/czx-lab/netpipe/idle"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/xlog"
)

const (
	transportStream = "stream"
	transportWs     = "ws"
	transportGnet   = "gnet"

	framingLine        = "line"
	framingLengthField = "length_field"
	framingFixed       = "fixed"

	modeEcho = "echo"
	modeChat = "chat"
)

type (
	Config struct {
		Log     xlog.Conf          `json:",optional"`
		Module  netpipe.ModuleConf `json:",optional"`
		Metrics MetricsConf        `json:",optional"`
		// server transport used by serve
		Transport string `json:",default=stream,options=stream|ws|gnet"`
		// echo writes frames back to their sender, chat relays them to every
		// connected peer
		Mode      string                   `json:",default=echo,options=echo|chat"`
		Server    bootstrap.ServerConf     `json:",optional"`
		Ws        bootstrap.WsServerConf   `json:",optional"`
		Gnet      bootstrap.GnetServerConf `json:",optional"`
		Client    bootstrap.ClientConf     `json:",optional"`
		Codec     CodecConf                `json:",optional"`
		Idle      idle.Conf                `json:",optional"`
		Heartbeat idle.HeartbeatConf       `json:",optional"`
		// log every pipeline event at debug level
		LogEvents bool `json:",optional"`
	}
	MetricsConf struct {
		Enabled bool `json:",optional"`
		metrics.ServeConf
	}
	CodecConf struct {
		Framing        string                `json:",default=line,options=line|length_field|fixed"`
		MaxFrameLength int                   `json:",default=8192"`
		FixedLength    int                   `json:",optional"`
		LengthField    codec.LengthFieldConf `json:",optional"`
		// width of the prepended length field for length_field framing
		PrependLength int `json:",default=4,options=1|2|3|4|8"`
		// KeepHeader delivers length_field frames with their header and
		// writes outbound messages as is, so they must carry their own.
		KeepHeader bool `json:",optional"`
	}
)

// loadConfig reads path, or fills the defaults when path is empty.
func loadConfig(path string) (Config, error) {
	var c Config
	var err error
	if path == "" {
		err = conf.FillDefault(&c)
	} else {
		err = conf.Load(path, &c)
	}
	if err != nil {
		return c, err
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9000"
	}
	if c.Ws.Addr == "" {
		c.Ws.Addr = ":9001"
	}
	if c.Gnet.Addr == "" {
		c.Gnet.Addr = ":9002"
	}
	if c.Client.Addr == "" {
		c.Client.Addr = "127.0.0.1:9000"
	}
	return c, xlog.Load(c.Log)
}
