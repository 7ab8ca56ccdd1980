package channel

const (
	defaultHighWaterMark   = 64 << 10
	defaultLowWaterMark    = 32 << 10
	defaultReadBufferSize  = 4096
	defaultMaxPendingReads = 4
	defaultWriteBatchSize  = 64
)

type Conf struct {
	// outbound bytes above which the channel turns not writable
	HighWaterMark int `json:",default=65536"`
	// outbound bytes below which it turns writable again
	LowWaterMark   int `json:",default=32768"`
	ReadBufferSize int `json:",default=4096"`
	// reads handed to the loop but not yet processed; the reader blocks
	// beyond this
	MaxPendingReads int `json:",default=4"`
	// buffers per transport write
	WriteBatchSize int `json:",default=64"`
}

func defaultConf(conf *Conf) {
	if conf.HighWaterMark <= 0 {
		conf.HighWaterMark = defaultHighWaterMark
	}
	if conf.LowWaterMark <= 0 {
		conf.LowWaterMark = defaultLowWaterMark
	}
	if conf.LowWaterMark > conf.HighWaterMark {
		conf.LowWaterMark = conf.HighWaterMark
	}
	if conf.ReadBufferSize <= 0 {
		conf.ReadBufferSize = defaultReadBufferSize
	}
	if conf.MaxPendingReads <= 0 {
		conf.MaxPendingReads = defaultMaxPendingReads
	}
	if conf.WriteBatchSize <= 0 {
		conf.WriteBatchSize = defaultWriteBatchSize
	}
}
