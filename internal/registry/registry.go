// Package registry holds the in-memory signal/table model and the
// subscribe/unsubscribe state machine (§4.C): auto-subscribing a value
// signal's non-value table siblings, cascading the unsubscribe once a
// table's last value signal drops, and emitting the associated
// meta-messages under the same lock that mutates the state so a reader
// connected to the wire never observes them interleaved.
//
// Grounded on streaming_signals.c/.h: signals_add_table, signals_subscribe,
// signals_unsubscribe, signals_purge_stream, signal_get_signal_no.
package registry

import (
	"fmt"
	"sync"

	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
	"github.com/opendaq/streaming-endpoint/internal/streamerr"
)

// Signal is one entry in the registry: its static Definition plus the
// mutable subscription state (which stream, if any, currently owns it).
type Signal struct {
	def       signalmodel.Definition
	table     *Table
	available bool
	subscribed bool
	streamID  string
	signalNo  uint32
}

func (s *Signal) Definition() signalmodel.Definition { return s.def }
func (s *Signal) Name() string                       { return s.def.Name }
func (s *Signal) Available() bool                    { return s.available }
func (s *Signal) HasSubscription() bool              { return s.streamID != "" }
func (s *Signal) Table() *Table                      { return s.table }
func (s *Signal) SignalNo() uint32                   { return s.signalNo }
func (s *Signal) StreamID() string                   { return s.streamID }

// Table groups signals that share a common source (e.g. a value signal
// plus its time/status siblings).
type Table struct {
	id                         string
	signals                    []*Signal
	subscribedValueSignalCount int
}

func (t *Table) ID() string          { return t.id }
func (t *Table) Signals() []*Signal  { return t.signals }

// HostCallbacks lets the embedding application react to subscribe
// lifecycle events. OnSubscribe returns the valueIndex the new
// subscriber should resume from (0 for tables/related signals).
type HostCallbacks interface {
	OnConnect(streamID string)
	OnSubscribe(streamID string, sig *Signal) uint64
	OnUnsubscribe(streamID string, sig *Signal)
}

// Emitter sends the meta-messages a registry mutation produces. A single
// implementation (internal/stream) wires this to the packet/meta codecs
// so this package stays protocol-agnostic.
type Emitter interface {
	SendSubscribed(streamID string, sig *Signal) error
	SendUnsubscribed(streamID string, sig *Signal) error
	SendDefinition(streamID string, sig *Signal, valueIndex uint64) error
	SendAvailable(streamID string, signals []*Signal) error
	SendUnavailable(streamID string, signals []*Signal) error
}

// Registry is the process-wide signal/table store. One instance is
// shared by every active stream.
type Registry struct {
	mu               sync.Mutex
	signals          []*Signal
	tables           []*Table
	maxSignals       int
	maxTables        int
	signalNameLength int
	emitter          Emitter
	cbs              HostCallbacks
}

// NewRegistry returns an empty registry bounded to maxSignals/maxTables
// (the §6 STREAMING_MAX_SIGNALS/STREAMING_MAX_TABLES knobs). signalNameLength
// bounds each signal's name the way the original's fixed
// char signal_id[STREAMING_SIGNAL_NAME_LENGTH] buffer does; 0 disables the
// check.
func NewRegistry(maxSignals, maxTables, signalNameLength int, emitter Emitter, cbs HostCallbacks) *Registry {
	return &Registry{maxSignals: maxSignals, maxTables: maxTables, signalNameLength: signalNameLength, emitter: emitter, cbs: cbs}
}

// AddTable registers a new table of signals sharing tableID. Hidden
// definitions are added but start unavailable.
func (r *Registry) AddTable(defs []signalmodel.Definition, tableID string) (*Table, error) {
	if len(defs) == 0 {
		return nil, streamerr.ErrEmptyTable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tables) >= r.maxTables || len(r.signals)+len(defs) > r.maxSignals {
		return nil, streamerr.ErrRegistryFull
	}
	if r.signalNameLength > 0 {
		for _, def := range defs {
			if len(def.Name) > r.signalNameLength {
				return nil, fmt.Errorf("%w: %q exceeds %d bytes", streamerr.ErrSignalNameTooLong, def.Name, r.signalNameLength)
			}
		}
	}

	table := &Table{id: tableID}
	for _, def := range defs {
		sig := &Signal{
			def:       def,
			table:     table,
			available: !def.Hidden,
			signalNo:  uint32(len(r.signals) + 1),
		}
		table.signals = append(table.signals, sig)
		r.signals = append(r.signals, sig)
	}
	r.tables = append(r.tables, table)
	return table, nil
}

func (r *Registry) findByID(signalID string) *Signal {
	for _, s := range r.signals {
		if s.def.Name == signalID {
			return s
		}
	}
	return nil
}

// SignalByID looks up a registered signal by its definition name.
func (r *Registry) SignalByID(signalID string) (*Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.findByID(signalID)
	return s, s != nil
}

// Signals returns every registered signal, in registration order.
func (r *Registry) Signals() []*Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

// SubscribedCount returns the number of signals with an active
// subscription, for exposition as a gauge.
func (r *Registry) SubscribedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sig := range r.signals {
		if sig.subscribed {
			n++
		}
	}
	return n
}

// trySubscribe is _signal_subscribe: claim sig for streamID and emit the
// subscribed-ack plus its full definition. Must be called with mu held.
func (r *Registry) trySubscribe(streamID string, sig *Signal, valueIndex uint64) error {
	if sig.streamID != "" {
		return streamerr.ErrDuplicateSubscribe
	}
	sig.streamID = streamID
	sig.subscribed = true
	if err := r.emitter.SendSubscribed(streamID, sig); err != nil {
		return err
	}
	return r.emitter.SendDefinition(streamID, sig, valueIndex)
}

// tryUnsubscribe is _signal_unsubscribe. Must be called with mu held.
func (r *Registry) tryUnsubscribe(streamID string, sig *Signal) error {
	if sig.streamID != streamID {
		return streamerr.ErrNotSubscribed
	}
	sig.subscribed = false
	sig.streamID = ""
	return r.emitter.SendUnsubscribed(streamID, sig)
}

// Subscribe subscribes streamID to signalID. If signalID belongs to a
// table, every unsubscribed non-value sibling in that table is
// auto-subscribed first (valueIndex 0), whatever signalID's own type, so
// a client gets a table's time and status signals for free.
func (r *Registry) Subscribe(streamID, signalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sig := r.findByID(signalID)
	if sig == nil {
		return streamerr.ErrNotFound
	}

	table := sig.table
	if table != nil {
		for _, related := range table.signals {
			if related == sig {
				continue
			}
			if related.def.SignalType == signalmodel.TypeValue {
				continue
			}
			if related.subscribed {
				continue
			}
			if r.cbs != nil {
				r.cbs.OnSubscribe(streamID, related)
			}
			_ = r.trySubscribe(streamID, related, 0)
		}
		if !sig.subscribed && sig.def.SignalType == signalmodel.TypeValue {
			table.subscribedValueSignalCount++
		}
	}

	var valueIndex uint64
	if r.cbs != nil {
		valueIndex = r.cbs.OnSubscribe(streamID, sig)
	}
	return r.trySubscribe(streamID, sig, valueIndex)
}

// Unsubscribe releases streamID's subscription to signalID. When this
// was the table's last subscribed value signal, every auto-subscribed
// sibling is cascaded off too.
func (r *Registry) Unsubscribe(streamID, signalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sig := r.findByID(signalID)
	if sig == nil {
		return streamerr.ErrNotFound
	}
	if !sig.subscribed {
		return streamerr.ErrNotSubscribed
	}

	table := sig.table
	if table != nil && sig.def.SignalType == signalmodel.TypeValue {
		table.subscribedValueSignalCount--
		if table.subscribedValueSignalCount == 0 {
			for _, related := range table.signals {
				if related == sig {
					continue
				}
				if related.def.SignalType == signalmodel.TypeValue {
					continue
				}
				if !related.subscribed {
					continue
				}
				_ = r.tryUnsubscribe(streamID, related)
				if r.cbs != nil {
					r.cbs.OnUnsubscribe(streamID, related)
				}
			}
		}
	}

	err := r.tryUnsubscribe(streamID, sig)
	if r.cbs != nil {
		r.cbs.OnUnsubscribe(streamID, sig)
	}
	return err
}

// SendAllAvail emits the available-signals broadcast for streamID: every
// available, not-yet-subscribed signal across all tables.
func (r *Registry) SendAllAvail(streamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitter.SendAvailable(streamID, r.signals)
}

// PurgeStream drops every subscription streamID held, e.g. on
// disconnect. Table subscription counters reset to 0, matching the
// original's unconditional reset rather than per-signal decrement.
func (r *Registry) PurgeStream(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sig := range r.signals {
		if sig.streamID == streamID {
			sig.streamID = ""
			sig.subscribed = false
			if sig.table != nil {
				sig.table.subscribedValueSignalCount = 0
			}
		}
	}
}
