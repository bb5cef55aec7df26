package liveness

import (
	"strconv"
	"strings"
	"testing"

	"github.com/mapnull/mqtt-serial-bridge/internal/proto"
	"github.com/mapnull/mqtt-serial-bridge/internal/registry"
)

type fakeBus struct {
	connected   bool
	published   []string // "topic|payload"
	unsubscribe []string
	failPublish bool
}

func (b *fakeBus) Connected() bool { return b.connected }

func (b *fakeBus) Publish(topic, payload string) error {
	if b.failPublish {
		return errTest
	}
	b.published = append(b.published, topic+"|"+payload)
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.unsubscribe = append(b.unsubscribe, topic)
	return nil
}

type fakeSerial struct {
	configured bool
	reinitErr  error
	reinitCnt  int
	writes     []string
}

func (s *fakeSerial) Configured() bool { return s.configured }
func (s *fakeSerial) Write(line string) error {
	s.writes = append(s.writes, line)
	return nil
}
func (s *fakeSerial) Reinit() error {
	s.reinitCnt++
	return s.reinitErr
}

var errTest = &testErr{"publish failed"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func newTestRegistry() *registry.Registry {
	b := registry.NewBridge("100000001")
	return registry.New(b)
}

func tickN(c *Clock, n int) {
	for i := 0; i < n; i++ {
		c.Tick()
	}
}

func TestDrainRunsEveryThirtyTicks(t *testing.T) {
	reg := newTestRegistry()
	bus := &fakeBus{connected: true}
	c := New(reg, bus, nil, nil, nil)

	drainedCount := 0
	for i := 0; i < 30; i++ {
		if c.Tick() {
			drainedCount++
		}
	}
	if drainedCount != 1 {
		t.Fatalf("expected exactly 1 drain in 30 ticks, got %d", drainedCount)
	}
}

func TestTimeoutAfterThreeDrains(t *testing.T) {
	reg := newTestRegistry()
	reg.AddDevice("000000001", registry.ModuleIDSerial)
	bus := &fakeBus{connected: true}
	c := New(reg, bus, nil, nil, nil)

	tickN(c, 30)
	tickN(c, 30)
	tickN(c, 30)

	d := reg.GetDevice("000000001")
	if d.Alive != 0 {
		t.Fatalf("Alive = %d, want 0 after 3 drains", d.Alive)
	}

	timeoutMsgs := 0
	want := "status/100000001|" + strconv.Itoa(int(proto.StTimeout)) + ",000000001"
	for _, p := range bus.published {
		if p == want {
			timeoutMsgs++
		}
	}
	if timeoutMsgs != 1 {
		t.Fatalf("expected exactly 1 timeout publish, got %d (published=%v)", timeoutMsgs, bus.published)
	}
}

func TestTimeoutUnsubscribesBusNode(t *testing.T) {
	reg := newTestRegistry()
	reg.AddDevice("000000001", registry.ModuleIDMQTT)
	bus := &fakeBus{connected: true}
	c := New(reg, bus, nil, nil, nil)

	tickN(c, 90)

	found := false
	for _, u := range bus.unsubscribe {
		if u == "status/000000001" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unsubscribe of status/000000001, got %v", bus.unsubscribe)
	}
}

func TestSerialTopicNotUnsubscribed(t *testing.T) {
	reg := newTestRegistry()
	reg.AddDevice("000000001", registry.ModuleIDSerial)
	bus := &fakeBus{connected: true}
	c := New(reg, bus, nil, nil, nil)

	tickN(c, 90)

	if len(bus.unsubscribe) != 0 {
		t.Fatalf("serial-reached device should never be unsubscribed, got %v", bus.unsubscribe)
	}
}

func TestControllerClearedWhenNoneSurvive(t *testing.T) {
	reg := newTestRegistry()
	reg.Bridge.Controller = true
	reg.Bridge.ModulesUpdate = true
	bus := &fakeBus{connected: true}
	c := New(reg, bus, nil, nil, nil)

	tickN(c, 30)

	if reg.Bridge.Controller {
		t.Fatal("expected Controller cleared when no controller device survives")
	}
	if reg.Bridge.ModulesUpdate {
		t.Fatal("expected ModulesUpdate cleared alongside Controller")
	}
}

func TestModulesUpPublishedAndCleared(t *testing.T) {
	reg := newTestRegistry()
	reg.AddModule(registry.ModuleIDMQTT, reg.Bridge.ID)
	// A live controller keeps the drain from clearing ModulesUpdate in
	// reconcileController before the liveness announcement.
	reg.AddDevice("200000001", registry.ModuleIDMQTT)
	bus := &fakeBus{connected: true}
	c := New(reg, bus, nil, nil, nil)

	if !reg.Bridge.ModulesUpdate {
		t.Fatal("expected ModulesUpdate set after AddModule")
	}
	tickN(c, 30)

	foundModulesUp := false
	for _, p := range bus.published {
		if strings.HasPrefix(p, "status/100000001|5") {
			foundModulesUp = true
		}
	}
	if !foundModulesUp {
		t.Fatalf("expected ST_MODULES_UP publish, got %v", bus.published)
	}
	if reg.Bridge.ModulesUpdate {
		t.Fatal("expected ModulesUpdate cleared after successful publish")
	}
}

func TestSerialHangDeclaredAfterAliveReachesZero(t *testing.T) {
	reg := newTestRegistry()
	reg.Bridge.SerialReady = true
	reg.Bridge.SerialAlive = 1
	reg.AddModule(registry.ModuleIDSerial, reg.Bridge.ID)
	bus := &fakeBus{connected: true}
	serial := &fakeSerial{configured: true}
	c := New(reg, bus, serial, nil, nil)

	tickN(c, 30)

	if reg.Bridge.SerialReady {
		t.Fatal("expected SerialReady=false after hang detection")
	}
	found := false
	for _, p := range bus.published {
		if strings.HasPrefix(p, "raw/100000001/024FFA1|0") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected '0' publish on serial module topic, got %v", bus.published)
	}
}

func TestSerialReinitAttemptedWhenNotReady(t *testing.T) {
	reg := newTestRegistry()
	reg.Bridge.SerialReady = false
	bus := &fakeBus{connected: true}
	serial := &fakeSerial{configured: true}
	c := New(reg, bus, serial, nil, nil)

	tickN(c, 30)

	if serial.reinitCnt != 1 {
		t.Fatalf("expected exactly 1 reinit attempt, got %d", serial.reinitCnt)
	}
	if !reg.Bridge.SerialReady {
		t.Fatal("expected SerialReady=true after successful reinit")
	}
}
