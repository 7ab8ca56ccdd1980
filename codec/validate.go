package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

// ErrUnencodable is wrapped by ValidateOutbound errors.
var ErrUnencodable = errors.New("codec: outbound type cannot reach the transport")

// TypedStage is an outbound stage declaring the message type it consumes
// and the type it produces in its place.
type TypedStage interface {
	InType() reflect.Type
	OutType() reflect.Type
}

var (
	bufferType = reflect.TypeFor[*buffer.Buffer]()
	bytesType  = reflect.TypeFor[[]byte]()
)

// ValidateOutbound walks p from tail to head for each written type and
// reports the types that would reach the head as something other than
// bytes. Untyped outbound stages are assumed to pass messages through.
func ValidateOutbound(p *pipeline.Pipeline, written ...reflect.Type) error {
	hs := p.Handlers()
	var errs []error
	for _, t := range written {
		cur := t
		for i := len(hs) - 1; i >= 0; i-- {
			if _, ok := hs[i].(pipeline.OutboundHandler); !ok {
				continue
			}
			st, ok := hs[i].(TypedStage)
			if !ok || !accepts(st.InType(), cur) {
				continue
			}
			cur = st.OutType()
		}
		if cur != bufferType && cur != bytesType {
			errs = append(errs, fmt.Errorf("%w: %v written as %v", ErrUnencodable, t, cur))
		}
	}
	return errors.Join(errs...)
}

func accepts(in, t reflect.Type) bool {
	if in == t {
		return true
	}
	return in.Kind() == reflect.Interface && t.Implements(in)
}
