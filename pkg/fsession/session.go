// Package fsession implements the filter session facade (spec.md §4.H):
// the entry point that owns the registry, resolver, scheduler and event
// router for one running graph.
package fsession

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/events"
	"github.com/gpac-go/fgraph/pkg/eventtap"
	"github.com/gpac-go/fgraph/pkg/ferr"
	"github.com/gpac-go/fgraph/pkg/filter"
	"github.com/gpac-go/fgraph/pkg/pidqueue"
	"github.com/gpac-go/fgraph/pkg/resolver"
	"github.com/gpac-go/fgraph/pkg/scheduler"
)

// Option carries the session-creation flags named in spec.md §4.H, kept as
// discrete booleans rather than a generic options map (SPEC_FULL "session
// option flags").
type Option struct {
	LoadMetaFilters bool
	DisableBlocking bool
}

// Session is one running filter graph: a registry of loadable filter
// types, a resolver that wires unmatched PIDs, a scheduler that drives
// process tasks, and an event router (spec.md §4.H).
type Session struct {
	Registry *filter.Registry
	Events   *events.Topic

	resolver  *resolver.Resolver
	sched     *scheduler.Scheduler
	queueMode pidqueue.Mode

	opt  Option
	user any
	log  *logging.Entry

	mu        sync.Mutex
	instances []*filter.Instance
	nextID    map[string]int

	lastConnectErr atomic.Pointer[ferr.Error]
	lastProcessErr atomic.Pointer[ferr.Error]

	metrics *sessionMetrics
}

type sessionMetrics struct {
	registry      *prometheus.Registry
	filtersLoaded prometheus.Counter
	pidsConnected prometheus.Counter
	processErrors prometheus.Counter
}

// newSessionMetrics uses a private registry per session (rather than the
// package-level promauto.NewCounter the teacher's watcher/prometheus.go
// registers against) so that running more than one Session in a process —
// common in tests — never hits prometheus's duplicate-registration panic.
func newSessionMetrics() *sessionMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &sessionMetrics{
		registry: reg,
		filtersLoaded: f.NewCounter(prometheus.CounterOpts{
			Name: "fgraph_filters_loaded_total",
			Help: "Filters instantiated by the session.",
		}),
		pidsConnected: f.NewCounter(prometheus.CounterOpts{
			Name: "fgraph_pids_connected_total",
			Help: "Output PIDs resolved and wired to a consumer.",
		}),
		processErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "fgraph_process_errors_total",
			Help: "Errors returned by a filter's Process.",
		}),
	}
}

// queueModeFor maps a scheduler Mode onto the PID queue backing it implies
// (spec.md §4.F table's "Packet/property queues" column).
func queueModeFor(mode scheduler.Mode) pidqueue.Mode {
	switch mode {
	case scheduler.LockFree, scheduler.LockFreeX:
		return pidqueue.ModeLockFree
	default: // Direct, Lock, LockForce
		return pidqueue.ModeLocked
	}
}

// New creates a session (spec.md §4.H "new(nb_threads, mode, user,
// load_meta_filters, disable_blocking)").
func New(nbThreads int, mode scheduler.Mode, user any, opt Option, log *logging.Entry) *Session {
	reg := filter.NewRegistry()
	s := &Session{
		Registry:  reg,
		Events:    events.NewTopic(),
		resolver:  resolver.New(reg, log),
		sched:     scheduler.New(mode, nbThreads, log),
		queueMode: queueModeFor(mode),
		opt:       opt,
		user:      user,
		log:       log.WithField("component", "session"),
		nextID:    make(map[string]int),
		metrics:   newSessionMetrics(),
	}
	return s
}

// MetricsRegistry exposes the session's private prometheus registry, e.g.
// for pkg/admin's /metrics handler to merge in.
func (s *Session) MetricsRegistry() *prometheus.Registry { return s.metrics.registry }

// EventTapHandler returns an http.Handler that mirrors this session's
// event-router traffic to websocket clients connecting to /tap, for
// out-of-band debugging (SPEC_FULL "Event tap").
func (s *Session) EventTapHandler() http.Handler {
	return eventtap.NewServer(s.Events, s.log)
}

func (s *Session) allocID(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nextID[name]
	s.nextID[name] = n + 1
	return fmt.Sprintf("%s#%d", name, n)
}

// instantiate builds and initializes an Instance for reg, wiring its
// NewOutputPIDFunc back into this session and recording it for stats/GC
// (spec.md §4.D).
func (s *Session) instantiate(reg *filter.Registration) (*filter.Instance, error) {
	id := s.allocID(reg.Name)
	inst := filter.NewInstance(id, reg, s.log)
	inst.NewOutputPIDFunc = s.resolveOutputPID
	inst.PostSelfFunc = func(i *filter.Instance) { s.sched.PostProcessTask(i) }

	if err := inst.Impl.Initialize(inst); err != nil {
		fe := ferr.Wrap(ferr.ServiceError, err, "initializing %s", id)
		if inst.SetupFailureCB != nil {
			inst.SetupFailureCB(fe, inst.SetupUserCtx)
		}
		return nil, fe
	}

	s.mu.Lock()
	s.instances = append(s.instances, inst)
	s.mu.Unlock()
	s.metrics.filtersLoaded.Inc()
	s.log.WithField("filter", id).Info("filter loaded")
	// A freshly loaded filter gets one initial process task so a source
	// with no inputs starts pumping without waiting on a notify hook that
	// will never fire (spec.md §4.F trigger (a), "filter just got loaded").
	s.sched.PostProcessTask(inst)
	return inst, nil
}

// LoadFilter instantiates a registered filter type by name and parses
// provided arguments against its schema (spec.md §4.H "load_filter(name)").
func (s *Session) LoadFilter(name string, args map[string]string) (*filter.Instance, error) {
	reg, ok := s.Registry.Lookup(name)
	if !ok {
		err := ferr.New(ferr.FilterNotFound, "no filter registered under %q", name)
		s.lastConnectErr.Store(err)
		return nil, err
	}
	inst, err := s.instantiate(reg)
	if err != nil {
		s.recordConnectErr(err)
		return nil, err
	}
	if err := filter.ParseArgs(inst, args); err != nil {
		s.recordConnectErr(err)
		return nil, err
	}
	return inst, nil
}

// LoadSource instantiates whichever registered filter's ProbeURL best
// matches url/mime (spec.md §4.H "load_source(url, args, parent_url)").
// parentURL is added to the argument map under "parent_url" so a relative
// url can be resolved against it; ParseArgs only applies it when the
// registration declares an argument of that name, and it is otherwise
// opaque to the session.
func (s *Session) LoadSource(url, mime string, args map[string]string, parentURL string) (*filter.Instance, error) {
	reg, err := s.Registry.ProbeURL(url, mime)
	if err != nil {
		s.recordConnectErr(err)
		return nil, err
	}
	inst, err := s.instantiate(reg)
	if err != nil {
		s.recordConnectErr(err)
		return nil, err
	}
	merged := make(map[string]string, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	if parentURL != "" {
		merged["parent_url"] = parentURL
	}
	if err := filter.ParseArgs(inst, merged); err != nil {
		s.recordConnectErr(err)
		return nil, err
	}
	return inst, nil
}

func (s *Session) recordConnectErr(err error) {
	fe, ok := err.(*ferr.Error)
	if !ok {
		fe = ferr.Wrap(ferr.ServiceError, err, "connect error")
	}
	s.lastConnectErr.Store(fe)
}

// resolveOutputPID runs the graph resolver for a freshly declared output
// PID on producer (spec.md §4.E): ResolveConsumer picks the single
// best-matching registered filter, which is instantiated and wired as the
// consumer. No multi-hop chain is planned here; a chain forms one hop at a
// time when the instantiated consumer itself declares an output PID during
// Initialize.
func (s *Session) resolveOutputPID(producer *filter.Instance, outName string) (*filter.PID, error) {
	target, err := s.resolver.ResolveConsumer(producer.Reg.OutputBundles, false)
	if err != nil {
		s.recordConnectErr(err)
		return nil, err
	}
	consumer, err := s.instantiate(target)
	if err != nil {
		s.recordConnectErr(err)
		return nil, err
	}
	return s.wire(producer, outName, consumer)
}

// ConnectExplicit wires producer's output directly to an already-loaded
// consumer instance, running chain insertion if no direct capability match
// exists (spec.md §4.E steps 1-3). Unlike resolveOutputPID's organic,
// one-hop-at-a-time auto-wiring, this pre-instantiates the whole bridge
// chain in one pass, for callers that pin a specific link rather than
// letting the resolver pick any matching consumer.
func (s *Session) ConnectExplicit(producer *filter.Instance, outName string, consumer *filter.Instance) error {
	chain, err := s.resolver.ResolveToTarget(producer.Reg.OutputBundles, consumer.Reg, true)
	if err != nil {
		s.recordConnectErr(err)
		return err
	}

	upstream := producer
	for _, reg := range chain {
		bridge, err := s.instantiate(reg)
		if err != nil {
			return err
		}
		if _, err := s.wire(upstream, outName, bridge); err != nil {
			return err
		}
		upstream = bridge
		outName = "out"
	}
	_, err = s.wire(upstream, outName, consumer)
	return err
}

// wire connects producer's named output to a fresh input PID on consumer,
// creating the shared queue, dispatching configure_pid, and forking a
// clone if it returns RequiresNewInstance (spec.md §4.D, §4.E step 3,
// SPEC_FULL "REQUIRES_NEW_INSTANCE cloning").
func (s *Session) wire(producer *filter.Instance, outName string, consumer *filter.Instance) (*filter.PID, error) {
	q := pidqueue.New(s.queueMode, outName, producer.ID, consumer.ID, s.log)
	q.SetNotifyConsumer(func() { s.sched.PostProcessTask(consumer) })
	q.SetNotifyProducer(func() { s.sched.PostProcessTask(producer) })

	outPID := &filter.PID{Queue: q, Dir: pidqueue.DirOutput, Name: outName, Owner: producer, Peer: consumer}
	inPID := &filter.PID{Queue: q, Dir: pidqueue.DirInput, Name: outName, Owner: consumer, Peer: producer}

	producer.Outputs = append(producer.Outputs, outPID)

	if err := consumer.ConfigurePID(inPID, false); err != nil {
		if errorIs(err, ferr.RequiresNewInstance) {
			clone, cloneErr := s.cloneForPID(consumer)
			if cloneErr != nil {
				s.recordConnectErr(cloneErr)
				return nil, cloneErr
			}
			inPID.Owner = clone
			inPID.Peer = producer
			if err := clone.ConfigurePID(inPID, false); err != nil {
				s.recordConnectErr(err)
				return nil, err
			}
			clone.Inputs = append(clone.Inputs, inPID)
			s.wireReconfigure(q, clone, inPID)
			s.metrics.pidsConnected.Inc()
			return outPID, nil
		}
		s.recordConnectErr(err)
		return nil, err
	}

	consumer.Inputs = append(consumer.Inputs, inPID)
	s.wireReconfigure(q, consumer, inPID)
	s.metrics.pidsConnected.Inc()
	return outPID, nil
}

// wireReconfigure wires q's deferred-reconfiguration hook back onto
// owner's real ConfigurePID so a later structural property change on the
// producer side (spec.md §4.C, §4.E) re-invokes configure_pid(is_remove=
// false) through the same path wire used for the initial connect. A
// failing reconfigure implicitly removes the PID from owner's Inputs, the
// Go analogue of the PID silently dropping out from under a filter that
// rejected the new shape.
func (s *Session) wireReconfigure(q *pidqueue.Queue, owner *filter.Instance, inPID *filter.PID) {
	q.SetReconfigureFunc(func(*pidqueue.Queue) error {
		return owner.ConfigurePID(inPID, false)
	})
	q.SetOnRemove(func() {
		s.mu.Lock()
		owner.Inputs = removePIDByQueue(owner.Inputs, q)
		s.mu.Unlock()
	})
}

// removePIDByQueue returns list with the entry backed by q removed, if
// present. Matching on the shared Queue rather than pointer identity of
// the PID struct itself is required since an output PID and its paired
// input PID are distinct *filter.PID values over the same Queue.
func removePIDByQueue(list []*filter.PID, q *pidqueue.Queue) []*filter.PID {
	for i, p := range list {
		if p.Queue == q {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func errorIs(err error, code ferr.Code) bool {
	fe, ok := err.(*ferr.Error)
	return ok && fe.Code == code
}

// cloneForPID forks a new instance sharing orig's Registration, used when
// configure_pid reports RequiresNewInstance because orig is already bound
// to a different upstream PID and orig.Reg.Clonable allows forking
// (spec.md §9, SPEC_FULL "REQUIRES_NEW_INSTANCE cloning").
func (s *Session) cloneForPID(orig *filter.Instance) (*filter.Instance, error) {
	if !orig.Reg.Clonable {
		return nil, ferr.New(ferr.NotSupported, "filter %q is not clonable", orig.Reg.Name)
	}
	return s.instantiate(orig.Reg)
}

// SendEvent dispatches ev both through the filter graph, starting at
// origin, and to any session-level listeners registered on s.Events
// (spec.md §4.G "forward_event"/"send_event"). origin nil starts a
// Propagate walk, in ev's canonical direction, at every instance with no
// input PIDs.
func (s *Session) SendEvent(origin *filter.Instance, ev *events.Event) {
	s.Events.Send(ev)
	if origin != nil {
		filter.Propagate(origin, ev)
		return
	}
	s.mu.Lock()
	roots := make([]*filter.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if len(inst.Inputs) == 0 {
			roots = append(roots, inst)
		}
	}
	s.mu.Unlock()
	for _, root := range roots {
		filter.Propagate(root, ev)
	}
}

// Run blocks until Stop/Abort is called or ctx is done (spec.md §4.H
// "run"). Under Direct mode or with zero worker threads it also returns as
// soon as no task is queued; with worker threads, an idle task list does
// not end Run.
func (s *Session) Run(ctx context.Context) error {
	return s.sched.Run(ctx)
}

// RunStep executes one scheduler tick (spec.md §4.H "run_step").
func (s *Session) RunStep() { s.sched.RunStep() }

// Stop signals termination without an error (spec.md §4.H "stop").
func (s *Session) Stop() { s.sched.Stop() }

// Abort signals termination and records err as the session's abort cause
// (spec.md §4.H "session_abort(err)").
func (s *Session) Abort(err error) { s.sched.Abort(err) }

// GetLastConnectError surfaces the most recent resolver/load failure
// (spec.md §4.H).
func (s *Session) GetLastConnectError() error {
	if e := s.lastConnectErr.Load(); e != nil {
		return e
	}
	return nil
}

// GetLastProcessError surfaces an error recorded by an instance's Process
// call (spec.md §4.H, §7). Of the instances holding one, it returns the
// error of the instance loaded last, not the one that failed most
// recently. An instance's recorded error is cleared by its next successful
// Process call.
func (s *Session) GetLastProcessError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *ferr.Error
	for _, inst := range s.instances {
		if e := inst.LastProcessError.Load(); e != nil {
			latest = e
		}
	}
	if latest != nil {
		s.metrics.processErrors.Inc()
		return latest
	}
	return nil
}

// PrintStats dumps per-filter packet/byte counters, the Go analogue of
// spec.md §4.H "print_stats".
func (s *Session) PrintStats(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		for _, pid := range inst.Outputs {
			stats := pid.Queue.GetStatistics()
			fmt.Fprintf(w, "%s -> %s: %d packets, %d bytes, %d dropped\n",
				inst.ID, pid.Name, stats.PacketsSent, stats.BytesSent, stats.PacketsDropped)
		}
	}
}

// GC removes every ordinary (non-sticky, unconnected) instance, the Go
// analogue of the session's idle garbage-collection sweep (spec.md §4.D).
func (s *Session) GC() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.instances[:0]
	for _, inst := range s.instances {
		if inst.Removable() {
			inst.Impl.Finalize(inst)
			continue
		}
		kept = append(kept, inst)
	}
	s.instances = kept
}

// RemoveInstance tears down inst even while it is still wired to peers:
// every downstream consumer is notified via configure_pid(is_remove=true)
// on its input PID before inst's state is finalized and it drops out of
// the session (spec.md §4.D "PIDs torn down (inputs are signaled remove
// via configure_pid(is_remove=true) on the downstream end)"). Unlike GC,
// which only ever sweeps up already-unconnected instances, this is the
// path for an explicit, user-requested removal of a live filter.
func (s *Session) RemoveInstance(inst *filter.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(inst)
}

func (s *Session) teardownLocked(inst *filter.Instance) {
	for _, out := range inst.Outputs {
		consumer := out.Peer
		if consumer == nil {
			continue
		}
		var inPID *filter.PID
		for _, in := range consumer.Inputs {
			if in.Queue == out.Queue {
				inPID = in
				break
			}
		}
		if inPID == nil {
			continue
		}
		if err := consumer.ConfigurePID(inPID, true); err != nil {
			s.log.WithField("filter", consumer.ID).WithError(err).Warn("configure_pid(remove) returned an error during teardown")
		}
		consumer.Inputs = removePIDByQueue(consumer.Inputs, out.Queue)
	}
	inst.Outputs = nil
	inst.Impl.Finalize(inst)
	for i, cur := range s.instances {
		if cur == inst {
			s.instances = append(s.instances[:i:i], s.instances[i+1:]...)
			break
		}
	}
}

// Shutdown tears down every instance still loaded in the session, peers
// notified via RemoveInstance's configure_pid(is_remove=true) path, the Go
// analogue of a session-wide stop before process exit.
func (s *Session) Shutdown() {
	s.mu.Lock()
	instances := append([]*filter.Instance(nil), s.instances...)
	s.mu.Unlock()
	for _, inst := range instances {
		s.mu.Lock()
		still := false
		for _, cur := range s.instances {
			if cur == inst {
				still = true
				break
			}
		}
		if still {
			s.teardownLocked(inst)
		}
		s.mu.Unlock()
	}
}
