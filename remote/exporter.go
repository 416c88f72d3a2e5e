package remote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"sync"
	"time"

	"github.com/guardmc/invguard/event"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
	uatomic "go.uber.org/atomic"
)

const protocolID = "invguard-events-v1"

// Exporter ships violation and resync events to an external collector over a
// QUIC uni-stream as newline-delimited JSON. Events are dropped rather than
// queued unboundedly when the collector is unreachable; the validation path
// never blocks on telemetry.
type Exporter struct {
	log  *logrus.Logger
	addr string
	tls  *tls.Config

	mu     sync.Mutex
	conn   quic.Connection
	enc    *json.Encoder
	queue  chan envelope
	closed *uatomic.Bool
}

type envelope struct {
	ID   string            `json:"id"`
	Time time.Time         `json:"time"`
	Data event.RemoteEvent `json:"data"`
}

// NewExporter creates an exporter targeting the collector at addr and starts
// its connection loop in the background. Pass its Send method to
// SetRemoteEventFunc.
func NewExporter(log *logrus.Logger, addr string, tlsConf *tls.Config) *Exporter {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{protocolID}

	e := &Exporter{
		log:    log,
		addr:   addr,
		tls:    tlsConf,
		queue:  make(chan envelope, 256),
		closed: uatomic.NewBool(false),
	}
	go e.run()
	return e
}

// Send enqueues an event for export. It never blocks: when the queue is full
// the event is dropped and counted against the log instead.
func (e *Exporter) Send(ev event.RemoteEvent) {
	if e.closed.Load() {
		return
	}
	select {
	case e.queue <- envelope{ID: ev.ID(), Time: time.Now(), Data: ev}:
	default:
		e.log.Debugf("event collector backlogged, dropping %s", ev.ID())
	}
}

// Close shuts the exporter down. Queued events that were not yet written are
// discarded.
func (e *Exporter) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.queue)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn.CloseWithError(0, "closed")
	}
	return nil
}

func (e *Exporter) run() {
	for env := range e.queue {
		if err := e.write(env); err != nil {
			e.log.Debugf("event export failed: %v", err)
			e.dropConn()
		}
	}
}

func (e *Exporter) write(env envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enc == nil {
		if err := e.dial(); err != nil {
			return err
		}
	}
	return e.enc.Encode(env)
}

func (e *Exporter) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, e.addr, e.tls, &quic.Config{
		Versions:        []quic.Version{quic.Version2},
		KeepAlivePeriod: time.Second,
		MaxIdleTimeout:  time.Minute,
	})
	if err != nil {
		return err
	}
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return err
	}

	e.conn = conn
	e.enc = json.NewEncoder(stream)
	e.log.Infof("connected to the event collector at %s", e.addr)
	return nil
}

func (e *Exporter) dropConn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		_ = e.conn.CloseWithError(0, "write failed")
	}
	e.conn = nil
	e.enc = nil
}
