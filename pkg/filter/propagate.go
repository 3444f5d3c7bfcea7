package filter

import "github.com/gpac-go/fgraph/pkg/events"

// Propagate delivers ev starting at origin and walks the PID graph in ev's
// canonical direction (spec.md §4.G): downstream commands travel via each
// filter's input PIDs toward the source, upstream notifications travel via
// output PIDs toward the sink. Any filter along the path whose
// ProcessEvent returns cancel=true stops propagation past it (spec.md §8
// scenario 6).
func Propagate(origin *Instance, ev *events.Event) {
	deliver(origin, ev, events.DirectionOf(ev.Type), make(map[*Instance]bool))
}

func deliver(inst *Instance, ev *events.Event, dir events.Direction, visited map[*Instance]bool) {
	if inst == nil || visited[inst] {
		return
	}
	visited[inst] = true

	if inst.ProcessEvent(ev) {
		return
	}

	var neighbors []*PID
	if dir == events.Downstream {
		neighbors = inst.Inputs
	} else {
		neighbors = inst.Outputs
	}

	for _, pid := range neighbors {
		if ev.OnPID != "" && pid.Name != ev.OnPID {
			continue
		}
		deliver(pid.Peer, ev, dir, visited)
	}
}
