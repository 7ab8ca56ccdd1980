package codec_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/codec"
	"github.com/czx-lab/netpipe/embedded"
	"github.com/czx-lab/netpipe/pipeline"
)

type point struct {
	X, Y int
}

func TestLengthFieldRoundTrip(t *testing.T) {
	cases := []struct {
		name           string
		width          int
		includesHeader bool
		littleEndian   bool
		conf           codec.LengthFieldConf
	}{
		{"Uint32", 4, false, false, codec.LengthFieldConf{MaxFrameLength: 4096, LengthFieldLength: 4, InitialBytesToStrip: 4}},
		{"Uint16LE", 2, false, true, codec.LengthFieldConf{MaxFrameLength: 4096, LengthFieldLength: 2, InitialBytesToStrip: 2, LittleEndian: true}},
		{"Uint24", 3, false, false, codec.LengthFieldConf{MaxFrameLength: 4096, LengthFieldLength: 3, InitialBytesToStrip: 3}},
		{"Uint64", 8, false, false, codec.LengthFieldConf{MaxFrameLength: 4096, LengthFieldLength: 8, InitialBytesToStrip: 8}},
		{"IncludesHeader", 2, true, false, codec.LengthFieldConf{MaxFrameLength: 4096, LengthFieldLength: 2, LengthAdjustment: -2, InitialBytesToStrip: 2}},
	}
	payloads := []string{"", "a", "hello", strings.Repeat("x", 1000)}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			prep, err := codec.NewLengthFieldPrepender(c.width, c.includesHeader, c.littleEndian)
			if err != nil {
				t.Fatal(err)
			}
			enc := embedded.New(codec.NewEncoderHandler[*buffer.Buffer](prep))
			dec := embedded.New(codec.NewDecoder(mustLengthField(t, c.conf)))
			for _, p := range payloads {
				if !enc.WriteOutbound(buffer.FromString(p)) {
					t.Fatalf("payload %q not written", p)
				}
				dec.WriteInbound(enc.ReadOutbound())
				if got := drain(t, dec); !reflect.DeepEqual(got, []string{p}) {
					t.Fatalf("payload %q decoded as %q", p, got)
				}
			}
		})
	}

	t.Run("LengthDoesNotFit", func(t *testing.T) {
		prep, err := codec.NewLengthFieldPrepender(1, false, false)
		if err != nil {
			t.Fatal(err)
		}
		ch := embedded.New(codec.NewEncoderHandler[*buffer.Buffer](prep))
		f := ch.Pipeline().WriteAndFlush(buffer.FromString(strings.Repeat("x", 256)))
		var ee *pipeline.EncodeError
		if !errors.As(f.Err(), &ee) {
			t.Fatalf("err = %v", f.Err())
		}
	})
}

func TestEncoderHandler(t *testing.T) {
	t.Run("OtherTypesPassThrough", func(t *testing.T) {
		ch := embedded.New(codec.NewEncoderHandler[string](codec.StringEncoder{}))
		ch.WriteOutbound([]byte("raw"))
		if out := ch.ReadOutbound(); out == nil || out.String() != "raw" {
			t.Fatalf("out = %v", out)
		}
	})

	t.Run("EncodeFailure", func(t *testing.T) {
		boom := errors.New("boom")
		ch := embedded.New(codec.NewEncoderHandler[string](codec.EncoderFunc[string](func(string, *buffer.Buffer) error {
			return boom
		})))
		f := ch.Pipeline().WriteAndFlush("x")
		var ee *pipeline.EncodeError
		if !errors.As(f.Err(), &ee) || !errors.Is(f.Err(), boom) {
			t.Fatalf("write err = %v", f.Err())
		}
		if err := ch.Err(); !errors.As(err, &ee) {
			t.Fatalf("raised err = %v", err)
		}
		if ch.OutboundLen() != 0 {
			t.Fatal("failed message reached the transport")
		}
	})

	t.Run("Sharability", func(t *testing.T) {
		shared := codec.NewEncoderHandler[string](codec.StringEncoder{})
		embedded.New(shared)
		if err := embedded.New().Pipeline().AddLast("enc", shared); err != nil {
			t.Fatalf("sharable encoder rejected: %v", err)
		}

		stateful := codec.NewEncoderHandler[string](codec.EncoderFunc[string](func(s string, out *buffer.Buffer) error {
			_, err := out.WriteString(s)
			return err
		}))
		embedded.New(stateful)
		if err := embedded.New().Pipeline().AddLast("enc", stateful); !errors.Is(err, pipeline.ErrNotSharable) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestStringCodec(t *testing.T) {
	lines, err := codec.NewLineDecoder(64, false)
	if err != nil {
		t.Fatal(err)
	}
	dec, enc := codec.NewStringCodec()
	ch := embedded.New(codec.NewDecoder(lines), dec, enc)

	feed(ch, "hi\nyo\n")
	for _, want := range []string{"hi", "yo"} {
		if got := ch.ReadInbound(); got != want {
			t.Fatalf("got %v, want %q", got, want)
		}
	}
	ch.WriteOutbound("reply")
	if out := ch.ReadOutbound(); out == nil || out.String() != "reply" {
		t.Fatalf("out = %v", out)
	}

	t.Run("StrictRejectsInvalidUTF8", func(t *testing.T) {
		ch := embedded.New(codec.NewMessageDecoder[*buffer.Buffer, string](codec.StringDecoder{Strict: true}))
		in := buffer.FromString("\xff\xfe")
		ch.WriteInbound(in)
		var de *codec.DecodeError
		if err := ch.Err(); !errors.As(err, &de) {
			t.Fatalf("err = %v", err)
		}
		if in.RefCnt() != 0 {
			t.Fatal("rejected frame not released")
		}
	})
}

func TestJSONCodec(t *testing.T) {
	dec, enc := codec.NewJSONCodec[point]()
	ch := embedded.New(dec, enc)

	ch.WriteOutbound(point{X: 1, Y: 2})
	if out := ch.ReadOutbound(); out == nil || out.String() != `{"X":1,"Y":2}` {
		t.Fatalf("out = %v", out)
	}

	ch.WriteInbound(buffer.FromString(`{"X":3,"Y":4}`))
	if got := ch.ReadInbound(); got != (point{X: 3, Y: 4}) {
		t.Fatalf("got %v", got)
	}

	ch.WriteInbound(buffer.FromString(`{"X":`))
	err := ch.Err()
	var de *codec.DecodeError
	if !errors.As(err, &de) || pipeline.ReasonOf(err) != pipeline.ReasonDecodeError {
		t.Fatalf("err = %v", err)
	}
}

func TestProtoCodec(t *testing.T) {
	dec, enc := codec.NewProtoCodec(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	ch := embedded.New(dec, enc)

	ch.WriteOutbound(wrapperspb.String("hello"))
	out := ch.ReadOutbound()
	if out == nil {
		t.Fatal("nothing written")
	}
	ch.WriteInbound(out)
	got, ok := ch.ReadInbound().(*wrapperspb.StringValue)
	if !ok || got.GetValue() != "hello" {
		t.Fatalf("got %v", got)
	}

	ch.WriteInbound(buffer.FromString("\xff"))
	if err := ch.Err(); pipeline.ReasonOf(err) != pipeline.ReasonDecodeError {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateOutbound(t *testing.T) {
	prep, err := codec.NewLengthFieldPrepender(4, false, false)
	if err != nil {
		t.Fatal(err)
	}
	ch := embedded.New(
		codec.NewEncoderHandler[*buffer.Buffer](prep),
		codec.NewEncoderHandler[string](codec.StringEncoder{}),
	)
	p := ch.Pipeline()

	if err := codec.ValidateOutbound(p, reflect.TypeFor[string](), reflect.TypeFor[*buffer.Buffer](), reflect.TypeFor[[]byte]()); err != nil {
		t.Fatalf("valid chain rejected: %v", err)
	}
	err = codec.ValidateOutbound(p, reflect.TypeFor[string](), reflect.TypeFor[point]())
	if !errors.Is(err, codec.ErrUnencodable) || !strings.Contains(err.Error(), "point") {
		t.Fatalf("err = %v", err)
	}

	t.Run("InterfaceInput", func(t *testing.T) {
		_, enc := codec.NewProtoCodec(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
		ch := embedded.New(enc)
		if err := codec.ValidateOutbound(ch.Pipeline(), reflect.TypeFor[*wrapperspb.StringValue]()); err != nil {
			t.Fatalf("err = %v", err)
		}
	})
}
