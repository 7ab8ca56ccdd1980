package netpipe

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/xlog"
)

var (
	defaultIsStackBuf  = false
	defaultStackBufLen = 4096
	mu                 sync.Mutex
	mods               []*module
)

type (
	ModuleConf struct {
		// log the stack when Destroy panics
		IsStackBuf  bool `json:",optional"`
		StackBufLen int  `json:",default=4096"`
	}
	// Module is a long-lived part of the process.
	Module interface {
		// Init prepares the module; a failure should panic, as nothing
		// else is running yet.
		Init()
		// Destroy releases what Init and Run acquired.
		Destroy()
		// Run serves until done is signalled.
		Run(done chan struct{})
	}
	// ModuleFuncs builds a Module from functions; nil fields are no-ops.
	ModuleFuncs struct {
		InitFunc    func()
		RunFunc     func(done chan struct{})
		DestroyFunc func()
	}

	module struct {
		mi  Module
		wg  sync.WaitGroup
		sig chan struct{}
	}
)

// MustConf sets the module defaults. Call before Init.
func MustConf(conf ModuleConf) {
	defaultIsStackBuf = conf.IsStackBuf
	if conf.StackBufLen > 0 {
		defaultStackBufLen = conf.StackBufLen
	}
}

// Register adds mi to the managed modules. Call before Init.
func Register(mi Module) {
	m := &module{mi: mi, sig: make(chan struct{}, 1)}
	mu.Lock()
	mods = append(mods, m)
	mu.Unlock()
}

// Init initializes every registered module in order, then runs each on
// its own goroutine.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	for i := range mods {
		mods[i].mi.Init()
	}
	for i := range mods {
		m := mods[i]
		m.wg.Add(1)
		go run(m)
	}
}

// Destroy signals, waits for and destroys the modules in reverse order.
func Destroy() {
	mu.Lock()
	defer mu.Unlock()
	for i := len(mods) - 1; i >= 0; i-- {
		m := mods[i]
		m.sig <- struct{}{}
		m.wg.Wait()
		destroy(m)
	}
	mods = nil
}

func run(m *module) {
	defer m.wg.Done()
	m.mi.Run(m.sig)
}

func destroy(m *module) {
	defer func() {
		if r := recover(); r != nil {
			if defaultIsStackBuf {
				buf := make([]byte, defaultStackBufLen)
				l := runtime.Stack(buf, false)
				xlog.Write().Sugar().Errorf("%v: %s", r, buf[:l])
			} else {
				xlog.Write().Error("module destroy panic", zap.Any("panic", r))
			}
		}
	}()

	m.mi.Destroy()
}

func (f ModuleFuncs) Init() {
	if f.InitFunc != nil {
		f.InitFunc()
	}
}

func (f ModuleFuncs) Run(done chan struct{}) {
	if f.RunFunc != nil {
		f.RunFunc(done)
		return
	}
	<-done
}

func (f ModuleFuncs) Destroy() {
	if f.DestroyFunc != nil {
		f.DestroyFunc()
	}
}
