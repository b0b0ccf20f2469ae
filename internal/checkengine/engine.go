package checkengine

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/alepersan/hckworker/internal/ipc"
	"github.com/alepersan/hckworker/internal/proto"
	"github.com/alepersan/hckworker/internal/reactor"
	"github.com/alepersan/hckworker/internal/sockaddr"
)

// ipcListener is the narrow surface Engine needs from a listening
// socket, satisfied by *ipc.Listener and by fakes in tests.
type ipcListener interface {
	Accept() (int, error)
	FD() int
	Close() error
}

// MetricsRecorder receives observability counters from the reactor
// goroutine. Implementations must never block and must never touch
// Table or Pool directly.
type MetricsRecorder interface {
	RecordCheck(v proto.Verdict)
	RecordDial(tfo bool)
	RecordTFOFallback()
	RecordSweepEviction(reason string)
	SetPoolSize(n int)
	SetInflight(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordCheck(proto.Verdict)  {}
func (nopMetrics) RecordDial(bool)            {}
func (nopMetrics) RecordTFOFallback()         {}
func (nopMetrics) RecordSweepEviction(string) {}
func (nopMetrics) SetPoolSize(int)            {}
func (nopMetrics) SetInflight(int)            {}

// Engine is the check coordinator: it owns the reactor, the check
// table, and the keep-alive pool, and must only ever be driven from the
// single goroutine that calls Run.
type Engine struct {
	rx       *reactor.Reactor
	table    *Table
	pool     *Pool
	listener ipcListener

	// byClient tracks, for each accepted IPC fd with a check currently
	// in flight, the Entry it is waiting on. An fd present in clients
	// but absent here is connected and idle, waiting for its next
	// request frame.
	byClient map[int]*Entry
	clients  map[int]struct{}

	log     zerolog.Logger
	metrics MetricsRecorder

	// lastSweep is the wall-clock second sweep last ran for, so a busy
	// run of sub-second reactor wakeups doesn't re-scan the table on
	// every one of them.
	lastSweep int64
}

// NewEngine wires a reactor and a listener into a coordinator. A nil
// metrics recorder is replaced by a no-op implementation.
func NewEngine(rx *reactor.Reactor, listener ipcListener, log zerolog.Logger, metrics MetricsRecorder) *Engine {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Engine{
		rx:       rx,
		table:    NewTable(),
		pool:     NewPool(),
		listener: listener,
		byClient: make(map[int]*Entry),
		clients:  make(map[int]struct{}),
		log:      log,
		metrics:  metrics,
	}
}

// Start registers the listener with the reactor. Call once before Run.
func (e *Engine) Start() error {
	return e.rx.Add(e.listener.FD(), reactor.Read, e.handleListener)
}

// Run drives the reactor until stop is closed, running the once-a-
// second expiry sweep whenever the wall-clock second has advanced since
// the last one.
func (e *Engine) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			e.Shutdown()
			return nil
		default:
		}
		if _, err := e.rx.Wait(reactor.WaitTimeout); err != nil {
			return err
		}
		now := time.Now()
		if sec := now.Unix(); sec != e.lastSweep {
			e.lastSweep = sec
			e.sweep(now)
		}
	}
}

// Shutdown tears down the listener and fails every in-flight entry,
// per the cancellation contract: a shutdown signal drains the current
// tick, then every live check and client is rejected.
func (e *Engine) Shutdown() {
	_ = e.listener.Close()
	var fds []int
	e.table.Each(func(fd int, _ *Entry) { fds = append(fds, fd) })
	for _, fd := range fds {
		entry, ok := e.table.Get(fd)
		if !ok {
			continue
		}
		e.sendFailIfAttached(entry)
		e.destroyOutbound(fd, entry)
	}
	for fd := range e.clients {
		_ = e.rx.Remove(fd)
		_ = unix.Close(fd)
	}
	e.clients = make(map[int]struct{})
	e.byClient = make(map[int]*Entry)
}

func (e *Engine) updateGauges() {
	e.metrics.SetPoolSize(e.pool.Len())
	e.metrics.SetInflight(e.table.Len() - e.pool.Len())
}

// handleListener accepts every pending connection; a single readiness
// wakeup can carry several.
func (e *Engine) handleListener(events reactor.Events) {
	for {
		fd, err := e.listener.Accept()
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			e.log.Warn().Err(err).Msg("accept failed")
			return
		}
		e.clients[fd] = struct{}{}
		if err := e.rx.Add(fd, reactor.Read, func(ev reactor.Events) { e.handleClient(fd, ev) }); err != nil {
			e.log.Warn().Int("fd", fd).Err(err).Msg("reactor registration failed for accepted client")
			delete(e.clients, fd)
			_ = unix.Close(fd)
		}
	}
}

// handleClient reads one request frame per readiness wakeup and
// schedules a check for it; it never reads a second frame before the
// first check completes, preserving per-connection verdict ordering.
func (e *Engine) handleClient(fd int, events reactor.Events) {
	if events.has(reactor.Read) {
		if _, inFlight := e.byClient[fd]; inFlight {
			if hungUp(events) {
				e.disconnectClient(fd)
			}
			return
		}
		req, err := ipc.ReadRequest(fd)
		if err != nil {
			e.disconnectClient(fd)
			return
		}
		e.scheduleCheck(fd, req)
		return
	}
	if hungUp(events) {
		e.disconnectClient(fd)
	}
}

// disconnectClient severs a client from any in-flight check (the check
// continues so the pool still gets built) and closes its fd.
func (e *Engine) disconnectClient(fd int) {
	if entry, ok := e.byClient[fd]; ok {
		entry.ClientFD = NoClient
		delete(e.byClient, fd)
	}
	_ = e.rx.Remove(fd)
	_ = unix.Close(fd)
	delete(e.clients, fd)
}

// scheduleCheck looks up a pooled connection for the request's address,
// lending it into Recovery, or dials fresh and creates a new Entry.
func (e *Engine) scheduleCheck(clientFD int, req proto.Request) {
	req.Addr.Canonicalize(req.AddrLen)

	if remoteFD, ok := e.pool.Lookup(req.Addr); ok {
		e.lendPooled(clientFD, remoteFD)
		return
	}
	e.dialNew(clientFD, req)
}

// lendPooled transitions a pooled connection into Recovery for a new
// client, per the keep-alive pool's reuse rule.
func (e *Engine) lendPooled(clientFD, remoteFD int) {
	entry, ok := e.table.Get(remoteFD)
	if !ok {
		// Pool and table should never disagree; treat it as a
		// registration-level bug rather than silently redialling.
		e.log.Warn().Int("fd", remoteFD).Msg("pool entry missing from table")
		e.replyAndForget(clientFD, proto.VerdictFail)
		return
	}
	e.pool.Remove(entry.RemoteAddr)
	entry.State = StateRecovery
	entry.Position = 0
	entry.First = false
	entry.TFO = true
	entry.ClientFD = clientFD
	entry.ExpiresAt = time.Now().Add(DeadlineRecovery)
	e.byClient[clientFD] = entry

	if err := e.rx.Modify(remoteFD, armFor(entry.State)); err != nil {
		e.log.Warn().Int("fd", remoteFD).Err(err).Msg("reactor registration failed lending pooled connection")
		e.finishCheck(remoteFD, entry, proto.VerdictFail)
		return
	}
	e.updateGauges()
}

// dialNew creates a brand-new outbound check for req's address.
func (e *Engine) dialNew(clientFD int, req proto.Request) {
	addr, err := sockaddr.Decode(req.Addr, req.AddrLen)
	if err != nil {
		e.replyAndForget(clientFD, proto.VerdictFail)
		return
	}

	res, tfo, err := dialFresh(addr)
	if err != nil {
		e.log.Debug().Str("addr", addr.String()).Err(err).Msg("dial failed")
		e.replyAndForget(clientFD, proto.VerdictFail)
		return
	}
	e.metrics.RecordDial(tfo)

	entry := &Entry{
		RemoteAddr: req.Addr,
		AddrLen:    req.AddrLen,
		RemoteFD:   res.fd,
		ClientFD:   clientFD,
		State:      res.state,
		Position:   res.position,
		ExpiresAt:  time.Now().Add(DeadlineFreshDial),
		First:      true,
		TFO:        tfo,
	}
	e.table.Put(entry)
	e.byClient[clientFD] = entry

	if err := e.rx.Add(entry.RemoteFD, armFor(entry.State), func(ev reactor.Events) { e.handleOutbound(entry.RemoteFD, ev) }); err != nil {
		e.log.Warn().Int("fd", entry.RemoteFD).Err(err).Msg("reactor registration failed for fresh dial")
		e.table.Delete(entry.RemoteFD)
		delete(e.byClient, clientFD)
		_ = unix.Close(entry.RemoteFD)
		e.replyAndForget(clientFD, proto.VerdictFail)
		return
	}
	e.updateGauges()
}

// replyAndForget is used when a check ends without a live Entry to
// carry its verdict (bad address, immediate dial failure, or a
// registration failure after the new Entry's table membership has
// already been undone).
func (e *Engine) replyAndForget(clientFD int, v proto.Verdict) {
	e.metrics.RecordCheck(v)
	if clientFD == NoClient {
		return
	}
	if err := ipc.WriteVerdict(clientFD, v); err != nil {
		e.log.Debug().Int("fd", clientFD).Err(err).Msg("verdict write failed")
	}
}

// handleOutbound advances the entry owning fd by one reactor wakeup.
func (e *Engine) handleOutbound(fd int, events reactor.Events) {
	entry, ok := e.table.Get(fd)
	if !ok {
		return
	}
	res := stepOutbound(entry, events)
	switch res.action {
	case actionRearm:
		if err := e.rx.Modify(fd, armFor(entry.State)); err != nil {
			e.log.Warn().Int("fd", fd).Err(err).Msg("reactor registration failed")
			e.finishCheck(fd, entry, proto.VerdictFail)
		}
	case actionRedialPlain:
		e.redialPlain(entry, fd)
	case actionEvictSilent:
		e.destroyOutbound(fd, entry)
		e.pool.Remove(entry.RemoteAddr)
		e.updateGauges()
	case actionVerdict:
		e.finishCheck(fd, entry, res.verdict)
	}
}

// finishCheck delivers a verdict (if a client is still attached),
// pools the outbound connection on success, and otherwise destroys it.
func (e *Engine) finishCheck(fd int, entry *Entry, verdict proto.Verdict) {
	e.metrics.RecordCheck(verdict)
	e.deliverVerdict(entry, verdict)

	if verdict == proto.VerdictOK {
		e.poolEntry(fd, entry)
		return
	}
	e.destroyOutbound(fd, entry)
}

func (e *Engine) deliverVerdict(entry *Entry, verdict proto.Verdict) {
	if !entry.HasClient() {
		return
	}
	if err := ipc.WriteVerdict(entry.ClientFD, verdict); err != nil {
		e.log.Debug().Int("fd", entry.ClientFD).Err(err).Msg("verdict write failed")
	}
	delete(e.byClient, entry.ClientFD)
	entry.ClientFD = NoClient
}

func (e *Engine) sendFailIfAttached(entry *Entry) {
	e.metrics.RecordCheck(proto.VerdictFail)
	e.deliverVerdict(entry, proto.VerdictFail)
}

// poolEntry moves a successful entry into KeepAlive. If its address is
// already pooled, the new connection loses: it is closed and discarded
// while the old pooled one stays put.
func (e *Engine) poolEntry(fd int, entry *Entry) {
	if !e.pool.Insert(entry.RemoteAddr, fd) {
		e.destroyOutbound(fd, entry)
		return
	}
	entry.State = StateKeepAlive
	entry.Position = 0
	entry.ExpiresAt = time.Now().Add(DeadlineKeepAlive)
	if err := e.rx.Modify(fd, armFor(entry.State)); err != nil {
		e.log.Warn().Int("fd", fd).Err(err).Msg("reactor registration failed while pooling")
		e.pool.Remove(entry.RemoteAddr)
		e.destroyOutbound(fd, entry)
		return
	}
	e.updateGauges()
}

func (e *Engine) destroyOutbound(fd int, entry *Entry) {
	_ = e.rx.Remove(fd)
	_ = unix.Close(fd)
	e.table.Delete(fd)
	e.updateGauges()
}

// redialPlain implements the Connecting-state TFO fallback: close the
// failed fd, redial the same address with a classical connect, and
// rebind the table entry to the new fd, following the reactor
// registration across the swap.
func (e *Engine) redialPlain(entry *Entry, oldFD int) {
	e.metrics.RecordTFOFallback()
	_ = e.rx.Remove(oldFD)
	_ = unix.Close(oldFD)

	addr, err := sockaddr.Decode(entry.RemoteAddr, entry.AddrLen)
	if err != nil {
		e.table.Delete(oldFD)
		e.sendFailIfAttached(entry)
		e.updateGauges()
		return
	}
	res, dialErr := dialPlain(addr)
	if dialErr != nil {
		e.table.Delete(oldFD)
		e.sendFailIfAttached(entry)
		e.updateGauges()
		return
	}

	entry.RemoteFD = res.fd
	entry.State = res.state
	entry.Position = 0
	entry.TFO = false
	e.table.Rebind(oldFD, entry)

	if err := e.rx.Add(entry.RemoteFD, armFor(entry.State), func(ev reactor.Events) { e.handleOutbound(entry.RemoteFD, ev) }); err != nil {
		e.log.Warn().Int("fd", entry.RemoteFD).Err(err).Msg("reactor registration failed after TFO fallback redial")
		e.table.Delete(entry.RemoteFD)
		_ = unix.Close(entry.RemoteFD)
		e.sendFailIfAttached(entry)
	}
	e.updateGauges()
}

// sweep runs the once-a-second expiry pass.
func (e *Engine) sweep(now time.Time) {
	for _, due := range sweepExpired(e.table, now) {
		if due.idleTimeout {
			e.metrics.RecordSweepEviction("idle_timeout")
			e.pool.Remove(due.entry.RemoteAddr)
			e.destroyOutbound(due.fd, due.entry)
			continue
		}
		e.metrics.RecordSweepEviction("expired")
		e.sendFailIfAttached(due.entry)
		e.destroyOutbound(due.fd, due.entry)
	}
}
