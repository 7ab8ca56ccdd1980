package bootstrap

import (
	"time"

	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/metrics"
)

const (
	NetworkTCP  = "tcp"
	NetworkUnix = "unix"
	NetworkKCP  = "kcp"
	NetworkWS   = "ws"
)

const (
	defaultMaxConn      = 10000
	defaultCryptKey     = "netpipe_kcp_key"
	defaultDataShards   = 10
	defaultParityShards = 3
	defaultDialTimeout  = 5 * time.Second
	defaultWsPath       = "/"
	defaultWsTimeout    = 10 * time.Second
	defaultKeepAlive    = 2 * time.Minute
)

type (
	ServerConf struct {
		Network string                    `json:",default=tcp,options=tcp|unix|kcp"`
		Addr    string                    `json:",optional"`
		MaxConn int                       `json:",default=10000"`
		Channel channel.Conf              `json:",optional"`
		Loops   eventloop.GroupConf       `json:",optional"`
		Kcp     KcpConf                   `json:",optional"`
		Metrics metrics.ServerMetricsConf `json:",optional"`
	}
	KcpConf struct {
		// derived into an AES-256 key
		CryptKey     string `json:",default=netpipe_kcp_key"`
		DataShards   int    `json:",default=10"`
		ParityShards int    `json:",default=3"`
	}
	ClientConf struct {
		Network string `json:",default=tcp,options=tcp|unix|kcp|ws"`
		// host:port, socket path, or ws:// URL
		Addr        string              `json:",optional"`
		DialTimeout time.Duration       `json:",default=5s"`
		Channel     channel.Conf        `json:",optional"`
		Loops       eventloop.GroupConf `json:",optional"`
		Kcp         KcpConf             `json:",optional"`
		Reconnect   ReconnectConf       `json:",optional"`
		// bounds one websocket message
		WsReadLimit int64 `json:",optional"`
	}
	ReconnectConf struct {
		Enabled         bool          `json:",optional"`
		InitialInterval time.Duration `json:",default=100ms"`
		MaxInterval     time.Duration `json:",default=10s"`
		// 0 retries forever
		MaxElapsedTime time.Duration `json:",optional"`
	}
	WsServerConf struct {
		Addr     string `json:",optional"`
		Path     string `json:",default=/"`
		CertFile string `json:",optional"`
		KeyFile  string `json:",optional"`
		MaxConn  int    `json:",default=10000"`
		// http read/write timeout during the handshake
		Timeout   time.Duration             `json:",default=10s"`
		ReadLimit int64                     `json:",optional"`
		Channel   channel.Conf              `json:",optional"`
		Loops     eventloop.GroupConf       `json:",optional"`
		Metrics   metrics.ServerMetricsConf `json:",optional"`
	}
	GnetServerConf struct {
		// host:port, served over tcp
		Addr      string        `json:",optional"`
		Multicore bool          `json:",optional"`
		KeepAlive time.Duration `json:",default=2m"`
		NoDelay   bool          `json:",default=true"`
		MaxConn   int           `json:",default=10000"`
		// gnet engine and handler loops are separate; this sizes the latter
		Loops   eventloop.GroupConf       `json:",optional"`
		Channel channel.Conf              `json:",optional"`
		Metrics metrics.ServerMetricsConf `json:",optional"`
	}
)

func defaultKcpConf(conf *KcpConf) {
	if conf.CryptKey == "" {
		conf.CryptKey = defaultCryptKey
	}
	if conf.DataShards <= 0 {
		conf.DataShards = defaultDataShards
	}
	if conf.ParityShards <= 0 {
		conf.ParityShards = defaultParityShards
	}
}

func defaultServerConf(conf *ServerConf) {
	if conf.Network == "" {
		conf.Network = NetworkTCP
	}
	if conf.MaxConn <= 0 {
		conf.MaxConn = defaultMaxConn
	}
	defaultKcpConf(&conf.Kcp)
}

func defaultClientConf(conf *ClientConf) {
	if conf.Network == "" {
		conf.Network = NetworkTCP
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultDialTimeout
	}
	if conf.Reconnect.InitialInterval <= 0 {
		conf.Reconnect.InitialInterval = 100 * time.Millisecond
	}
	if conf.Reconnect.MaxInterval <= 0 {
		conf.Reconnect.MaxInterval = 10 * time.Second
	}
	defaultKcpConf(&conf.Kcp)
}

func defaultWsServerConf(conf *WsServerConf) {
	if conf.Path == "" {
		conf.Path = defaultWsPath
	}
	if conf.MaxConn <= 0 {
		conf.MaxConn = defaultMaxConn
	}
	if conf.Timeout <= 0 {
		conf.Timeout = defaultWsTimeout
	}
}

func defaultGnetServerConf(conf *GnetServerConf) {
	if conf.MaxConn <= 0 {
		conf.MaxConn = defaultMaxConn
	}
	if conf.KeepAlive <= 0 {
		conf.KeepAlive = defaultKeepAlive
	}
}
