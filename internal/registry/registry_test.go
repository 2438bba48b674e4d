package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendaq/streaming-endpoint/internal/signalmodel"
	"github.com/opendaq/streaming-endpoint/internal/streamerr"
)

type fakeEmitter struct {
	subscribed   []string
	unsubscribed []string
	definitions  []string
	avail        int
	unavail      int
}

func (f *fakeEmitter) SendSubscribed(streamID string, sig *Signal) error {
	f.subscribed = append(f.subscribed, sig.Name())
	return nil
}

func (f *fakeEmitter) SendUnsubscribed(streamID string, sig *Signal) error {
	f.unsubscribed = append(f.unsubscribed, sig.Name())
	return nil
}

func (f *fakeEmitter) SendDefinition(streamID string, sig *Signal, valueIndex uint64) error {
	f.definitions = append(f.definitions, sig.Name())
	return nil
}

func (f *fakeEmitter) SendAvailable(streamID string, signals []*Signal) error {
	f.avail++
	return nil
}

func (f *fakeEmitter) SendUnavailable(streamID string, signals []*Signal) error {
	f.unavail++
	return nil
}

type fakeCallbacks struct {
	valueIndex uint64
}

func (c *fakeCallbacks) OnConnect(streamID string) {}
func (c *fakeCallbacks) OnSubscribe(streamID string, sig *Signal) uint64 {
	return c.valueIndex
}
func (c *fakeCallbacks) OnUnsubscribe(streamID string, sig *Signal) {}

func newTestRegistry() (*Registry, *fakeEmitter) {
	em := &fakeEmitter{}
	r := NewRegistry(12, 4, 32, em, &fakeCallbacks{valueIndex: 42})
	return r, em
}

func valueTableDefs() []signalmodel.Definition {
	return []signalmodel.Definition{
		{Name: "val", Rule: signalmodel.RuleExplicit, DataType: signalmodel.Real64, SignalType: signalmodel.TypeValue},
		{Name: "time", Rule: signalmodel.RuleLinear, DataType: signalmodel.Int64, SignalType: signalmodel.TypeTime},
		{Name: "status", Rule: signalmodel.RuleExplicit, DataType: signalmodel.Uint8, SignalType: signalmodel.TypeStatus},
	}
}

func TestSubscribeAutoSubscribesNonValueSiblings(t *testing.T) {
	r, em := newTestRegistry()
	_, err := r.AddTable(valueTableDefs(), "tbl")
	require.NoError(t, err)

	err = r.Subscribe("streamA", "val")
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"time", "status", "val"}, em.subscribed)
	require.ElementsMatch(t, []string{"time", "status", "val"}, em.definitions)

	sig, ok := r.SignalByID("time")
	require.True(t, ok)
	require.True(t, sig.HasSubscription())
}

func TestUnsubscribeCascadesWhenLastValueSignalLeaves(t *testing.T) {
	r, em := newTestRegistry()
	_, err := r.AddTable(valueTableDefs(), "tbl")
	require.NoError(t, err)
	require.NoError(t, r.Subscribe("streamA", "val"))

	err = r.Unsubscribe("streamA", "val")
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"time", "status", "val"}, em.unsubscribed)

	for _, name := range []string{"val", "time", "status"} {
		sig, ok := r.SignalByID(name)
		require.True(t, ok)
		require.False(t, sig.HasSubscription())
	}
}

func TestDuplicateSubscribeRejected(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.AddTable(valueTableDefs(), "tbl")
	require.NoError(t, err)
	require.NoError(t, r.Subscribe("streamA", "val"))

	err = r.Subscribe("streamB", "val")
	require.ErrorIs(t, err, streamerr.ErrDuplicateSubscribe)
}

func TestUnsubscribeUnknownSignal(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.AddTable(valueTableDefs(), "tbl")
	require.NoError(t, err)

	err = r.Unsubscribe("streamA", "nope")
	require.Error(t, err)
}

func TestPurgeStreamResetsSubscriptions(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.AddTable(valueTableDefs(), "tbl")
	require.NoError(t, err)
	require.NoError(t, r.Subscribe("streamA", "val"))

	r.PurgeStream("streamA")

	for _, name := range []string{"val", "time", "status"} {
		sig, ok := r.SignalByID(name)
		require.True(t, ok)
		require.False(t, sig.HasSubscription())
	}
}

func TestSignalNumbersAreStableOneBased(t *testing.T) {
	r, _ := newTestRegistry()
	tbl, err := r.AddTable(valueTableDefs(), "tbl")
	require.NoError(t, err)

	for i, sig := range tbl.Signals() {
		require.Equal(t, uint32(i+1), sig.SignalNo())
	}
}

func TestAddTableRejectsEmptyDefinitions(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.AddTable(nil, "tbl")
	require.Error(t, err)
}

func TestAddTableRejectsOverCapacity(t *testing.T) {
	r := NewRegistry(2, 4, 32, &fakeEmitter{}, &fakeCallbacks{})
	_, err := r.AddTable(valueTableDefs(), "tbl") // 3 signals > maxSignals(2)
	require.Error(t, err)
}

func TestAddTableRejectsSignalNameOverLength(t *testing.T) {
	r := NewRegistry(12, 4, 4, &fakeEmitter{}, &fakeCallbacks{})
	defs := []signalmodel.Definition{
		{Name: "toolong", Rule: signalmodel.RuleExplicit, DataType: signalmodel.Real64, SignalType: signalmodel.TypeValue},
	}
	_, err := r.AddTable(defs, "tbl")
	require.ErrorIs(t, err, streamerr.ErrSignalNameTooLong)
}

func TestAddTableAllowsSignalNameAtLength(t *testing.T) {
	r := NewRegistry(12, 4, 4, &fakeEmitter{}, &fakeCallbacks{})
	defs := []signalmodel.Definition{
		{Name: "fit4", Rule: signalmodel.RuleExplicit, DataType: signalmodel.Real64, SignalType: signalmodel.TypeValue},
	}
	_, err := r.AddTable(defs, "tbl")
	require.NoError(t, err)
}

func TestAddTableSignalNameCheckDisabledWhenZero(t *testing.T) {
	r := NewRegistry(12, 4, 0, &fakeEmitter{}, &fakeCallbacks{})
	defs := []signalmodel.Definition{
		{Name: "arbitrarily-long-signal-name", Rule: signalmodel.RuleExplicit, DataType: signalmodel.Real64, SignalType: signalmodel.TypeValue},
	}
	_, err := r.AddTable(defs, "tbl")
	require.NoError(t, err)
}
