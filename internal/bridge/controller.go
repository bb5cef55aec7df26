// Package bridge implements the single-threaded cooperative event loop that
// ties the serial and bus transports to the dispatcher and liveness clock
// (§4.7, §5).
package bridge

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mapnull/mqtt-serial-bridge/internal/dispatch"
	"github.com/mapnull/mqtt-serial-bridge/internal/frame"
	"github.com/mapnull/mqtt-serial-bridge/internal/liveness"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
	"github.com/mapnull/mqtt-serial-bridge/internal/proto"
	"github.com/mapnull/mqtt-serial-bridge/internal/registry"
)

// usr2Window is the 2.0-second rule from §4.7: a USR2 arriving this long
// or less after a USR1 collapses into a single USR1 event.
const usr2Window = 2 * time.Second

// yieldInterval is the loop's per-iteration sleep, the 20 microsecond
// cooperative yield from §4.7 step 5.
const yieldInterval = 20 * time.Microsecond

// busReconnectDelay is the sleep after a failed bus pump, step 3.
const busReconnectDelay = 100 * time.Millisecond

// Serial is the subset of the serial transport the loop drives directly
// (beyond what the dispatcher/liveness clock need).
type Serial interface {
	Configured() bool
	ReadLine() (string, error)
	WriteLine(line string) error
	Open() error
	Close() error
}

// Bus is the subset of the bus transport the loop drives directly. The
// subscribe/announce side effects of a (re)connect are handled by the bus
// transport's own connect handler, not here (see transport.Bus).
type Bus interface {
	Connect() error
	Connected() bool
	Disconnect(quiesceMillis uint)
	Publish(topic, payload string) error
}

// Controller owns the loop: signal handling, transport polling, and
// periodic drain, wired to a Dispatcher and a Clock constructed by the
// caller (cmd/bridge).
type Controller struct {
	reg    *registry.Registry
	disp   *dispatch.Dispatcher
	clock  *liveness.Clock
	serial Serial // nil if no serial section configured
	bus    Bus    // nil if bus construction failed; loop still runs

	usr1Module string
	usr2Module string
}

// pendingSignal tracks an outstanding USR1 waiting to see whether a USR2
// follows within usr2Window, per §4.7's debounce rule.
type pendingSignal struct {
	active bool
	at     time.Time
}

func (p *pendingSignal) onUSR1(now time.Time) {
	p.active = true
	p.at = now
}

// onUSR2 resolves an incoming USR2 against any pending USR1. resolved is
// "usr1" or "usr2" naming which event actually fires; ok is false when the
// USR2 must be ignored (no preceding USR1).
func (p *pendingSignal) onUSR2(now time.Time) (resolved string, ok bool) {
	if !p.active {
		return "", false
	}
	p.active = false
	if now.Sub(p.at) > usr2Window {
		return "usr2", true
	}
	return "usr1", true
}

// New constructs a Controller. usr1Module/usr2Module are the module ids a
// resolved user signal targets, already defaulted to the sigusr1/sigusr2
// singletons or overridden by remap_usr1/remap_usr2 in configuration.
func New(reg *registry.Registry, disp *dispatch.Dispatcher, clock *liveness.Clock, serial Serial, bus Bus, usr1Module, usr2Module string) *Controller {
	return &Controller{
		reg: reg, disp: disp, clock: clock, serial: serial, bus: bus,
		usr1Module: usr1Module, usr2Module: usr2Module,
	}
}

// Run executes the loop until SIGINT/SIGTERM. A failed initial serial open
// or bus connect is logged and the loop runs anyway. Resources are released
// in LIFO order on the way out, per §5.
func (c *Controller) Run() error {
	if c.serial != nil && c.serial.Configured() {
		if err := c.serial.Open(); err != nil {
			logger.LogWarn("bridge: initial serial open failed: %v", err)
		} else {
			c.reg.Bridge.SerialReady = true
			c.reg.Bridge.SerialAlive = registry.AliveCount
		}
	}
	if c.bus != nil {
		if err := c.bus.Connect(); err != nil {
			logger.LogWarn("bridge: initial bus connect failed: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var pending pendingSignal

	run := true
	for run {
		// 1. serial poll
		if c.serial != nil && c.reg.Bridge.SerialReady {
			line, err := c.serial.ReadLine()
			switch {
			case err == nil:
				if derr := c.disp.HandleSerialLine(line); derr != nil {
					logger.LogWarn("bridge: handle serial line: %v", derr)
				}
			case errors.Is(err, io.ErrNoProgress):
				// bounded read timed out with nothing pending; not a hang.
			default:
				logger.LogWarn("bridge: serial read failed, declaring hang: %v", err)
				c.reg.Bridge.SerialReady = false
			}
		}

		// 2. user-signal resolution
	drainSignals:
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGINT, syscall.SIGTERM:
					run = false
				case syscall.SIGUSR1:
					pending.onUSR1(time.Now())
				case syscall.SIGUSR2:
					if resolved, ok := pending.onUSR2(time.Now()); ok {
						c.fireResolvedSignal(resolved)
					}
				}
			default:
				break drainSignals
			}
		}

		// 3. bus pump — paho runs its own goroutines and reconnects
		// automatically once a session has been established; this branch
		// only covers the case where the initial Connect in Run never
		// succeeded, so paho never got the chance to start reconnecting.
		// Re-subscribing to the bridge's own config topic and announcing
		// ST_ALIVE on every successful (re)connect is the bus transport's
		// own connect handler's job, not this loop's.
		if c.bus != nil && !c.bus.Connected() {
			time.Sleep(busReconnectDelay)
			if err := c.bus.Connect(); err != nil {
				logger.LogWarn("bridge: bus reconnect failed: %v", err)
			}
		}

		// 4. thirty-second drain
		select {
		case <-ticker.C:
			c.clock.Tick()
		default:
		}

		// 5. yield
		time.Sleep(yieldInterval)
	}

	return c.shutdown()
}

// fireResolvedSignal dispatches a debounce-resolved event ("usr1"/"usr2")
// to its configured target module.
func (c *Controller) fireResolvedSignal(resolved string) {
	if resolved == "usr2" {
		c.resolveUserSignal(c.usr2Module)
		return
	}
	c.resolveUserSignal(c.usr1Module)
}

// resolveUserSignal implements §4.7 step 2's second half: route a resolved
// signal to its target module, by whichever transport reaches its owner.
func (c *Controller) resolveUserSignal(moduleID string) {
	m := c.reg.GetModule(moduleID)
	if m == nil {
		return
	}

	if m.Device != c.reg.Bridge.ID {
		if owner := c.reg.GetDevice(m.Device); owner != nil &&
			owner.MDDeps == registry.ModuleIDSerial && c.reg.Bridge.SerialReady && c.serial != nil {
			line := frame.EncodeSerialMessage(owner.ID, int(proto.MDRaw), m.ID, "1")
			if err := c.serial.WriteLine(line); err != nil {
				logger.LogWarn("bridge: signal serial write: %v", err)
			}
			return
		}
	}

	if c.bus != nil && c.bus.Connected() {
		if err := c.bus.Publish(m.Topic, "1"); err != nil {
			logger.LogWarn("bridge: signal publish: %v", err)
		}
	}
}

// shutdown releases resources in LIFO order relative to acquisition in
// Run: bus first, then serial.
func (c *Controller) shutdown() error {
	if c.bus != nil {
		c.bus.Disconnect(250)
	}
	if c.serial != nil && c.reg.Bridge.SerialReady {
		if err := c.serial.Close(); err != nil {
			logger.LogWarn("bridge: serial close: %v", err)
		}
	}
	return nil
}
