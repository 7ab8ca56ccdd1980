package eventloop

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	ChooserRoundRobin  = "round_robin"
	ChooserLeastLoaded = "least_loaded"
)

type (
	GroupConf struct {
		Name string `json:",optional"`
		// number of loops; defaults to GOMAXPROCS
		Loops      int    `json:",optional"`
		Chooser    string `json:",default=round_robin,options=round_robin|least_loaded"`
		QueueSize  int    `json:",optional"`
		MaxPending int    `json:",optional"`
	}
	// Chooser picks the loop a new connection is pinned to.
	Chooser interface {
		Next(loops []*Loop) *Loop
	}
	roundRobin struct {
		idx atomic.Uint64
	}
	leastLoaded struct{}
	// Group owns a fixed set of loops.
	Group struct {
		loops   []*Loop
		chooser Chooser
	}
)

// Next implements Chooser.
func (r *roundRobin) Next(loops []*Loop) *Loop {
	return loops[(r.idx.Add(1)-1)%uint64(len(loops))]
}

// Next implements Chooser. Ties go to the lowest index.
func (leastLoaded) Next(loops []*Loop) *Loop {
	best := loops[0]
	for _, l := range loops[1:] {
		if l.Pending()+l.Scheduled() < best.Pending()+best.Scheduled() {
			best = l
		}
	}
	return best
}

// NewChooser resolves a chooser policy name.
func NewChooser(name string) (Chooser, error) {
	switch name {
	case "", ChooserRoundRobin:
		return &roundRobin{}, nil
	case ChooserLeastLoaded:
		return leastLoaded{}, nil
	}
	return nil, fmt.Errorf("eventloop: unknown chooser %q", name)
}

func NewGroup(conf GroupConf) (*Group, error) {
	if conf.Loops <= 0 {
		conf.Loops = runtime.GOMAXPROCS(0)
	}
	if conf.Name == "" {
		conf.Name = "loop"
	}
	chooser, err := NewChooser(conf.Chooser)
	if err != nil {
		return nil, err
	}
	g := &Group{chooser: chooser, loops: make([]*Loop, conf.Loops)}
	for i := range g.loops {
		g.loops[i] = NewLoop(LoopConf{
			Name:       fmt.Sprintf("%s-%d", conf.Name, i),
			QueueSize:  conf.QueueSize,
			MaxPending: conf.MaxPending,
		})
	}
	return g, nil
}

// WithChooser replaces the assignment policy.
func (g *Group) WithChooser(c Chooser) *Group {
	g.chooser = c
	return g
}

// Next returns the loop for a new connection.
func (g *Group) Next() *Loop {
	return g.chooser.Next(g.loops)
}

func (g *Group) Loops() []*Loop {
	return g.loops
}

// Shutdown stops every loop concurrently.
func (g *Group) Shutdown(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		eg.Go(func() error {
			return l.Shutdown(ctx)
		})
	}
	return eg.Wait()
}
