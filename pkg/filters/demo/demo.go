// Package demo provides two minimal filter implementations, a counter
// source and a stdout sink, used by fgraphctl's "run" command to exercise
// pkg/fsession end to end without any real media input.
package demo

import (
	"fmt"
	"io"

	"github.com/gpac-go/fgraph/pkg/caps"
	"github.com/gpac-go/fgraph/pkg/filter"
	"github.com/gpac-go/fgraph/pkg/fourcc"
	"github.com/gpac-go/fgraph/pkg/packet"
	"github.com/gpac-go/fgraph/pkg/props"
)

// StreamType is the demo capability code both the source and sink agree
// on, standing in for a real codec/stream-type 4CC.
var StreamType = fourcc.Make('D', 'E', 'M', 'O')

// SourceRegistration builds the registry entry for a counter source that
// emits count packets then EOS.
func SourceRegistration(count int) *filter.Registration {
	return &filter.Registration{
		Name: "counter",
		OutputBundles: []caps.Bundle{
			{caps.Descriptor{Code: StreamType, Value: props.NewUint32(1)}},
		},
		NewImpl: func() filter.Impl { return &Source{Count: count} },
	}
}

// SinkRegistration builds the registry entry for a sink that writes every
// packet's CTS to w.
func SinkRegistration(w io.Writer) *filter.Registration {
	return &filter.Registration{
		Name: "printer",
		InputBundles: []caps.Bundle{
			{caps.Descriptor{Code: StreamType, Value: props.NewUint32(1)}},
		},
		NewImpl: func() filter.Impl { return &Sink{Out: w} },
	}
}

// Source emits Count packets, ten timescale units apart, then sets EOS.
type Source struct {
	Count int
	out   *filter.PID
	sent  int
}

func (s *Source) Initialize(inst *filter.Instance) error {
	pid, err := inst.NewOutputPID("out")
	if err != nil {
		return err
	}
	s.out = pid
	return nil
}

func (s *Source) Finalize(inst *filter.Instance) {}

func (s *Source) Process(inst *filter.Instance) error {
	if s.Count > 0 && s.sent >= s.Count {
		s.out.Queue.SetEOS()
		return nil
	}
	p, _ := packet.New(0, 1000)
	p.SetCTS(uint64(s.sent * 10))
	s.out.Queue.Send(p)
	s.sent++
	inst.PostSelf()
	return nil
}

// Sink prints every packet's CTS to Out as it arrives.
type Sink struct {
	Out io.Writer
}

func (s *Sink) Initialize(inst *filter.Instance) error { return nil }
func (s *Sink) Finalize(inst *filter.Instance)         {}

func (s *Sink) Process(inst *filter.Instance) error {
	for _, in := range inst.Inputs {
		p, err := in.Queue.GetPacket()
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}
		fmt.Fprintf(s.Out, "packet cts=%d from %s\n", p.CTS(), in.Owner.ID)
		in.Queue.DropPacket()
	}
	return nil
}
