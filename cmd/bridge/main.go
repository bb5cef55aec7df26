// Command bridge runs the MQTT/serial gateway: it loads a configuration
// file, wires the configured transports and local modules, and drives the
// event loop until a termination signal arrives.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mapnull/mqtt-serial-bridge/internal/bandwidth"
	"github.com/mapnull/mqtt-serial-bridge/internal/bridge"
	"github.com/mapnull/mqtt-serial-bridge/internal/config"
	"github.com/mapnull/mqtt-serial-bridge/internal/dispatch"
	"github.com/mapnull/mqtt-serial-bridge/internal/liveness"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
	"github.com/mapnull/mqtt-serial-bridge/internal/metrics"
	"github.com/mapnull/mqtt-serial-bridge/internal/proto"
	"github.com/mapnull/mqtt-serial-bridge/internal/registry"
	"github.com/mapnull/mqtt-serial-bridge/internal/script"
	"github.com/mapnull/mqtt-serial-bridge/internal/transport"
)

// metricsAddr is where the Prometheus /metrics endpoint listens, matching
// the default the pack's other services use.
const metricsAddr = ":9090"

func main() {
	var configPath string
	var quiet bool
	flag.StringVar(&configPath, "c", "", "path to configuration file")
	flag.StringVar(&configPath, "config", "", "path to configuration file (long form)")
	flag.BoolVar(&quiet, "quiet", false, "force debug level 0 and suppress the startup configuration dump")
	flag.Parse()

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "bridge: -c <config-file> is required")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}

	if quiet {
		cfg.Debug = 0
	}
	logger.NewLogger(cfg.Debug, "")

	if !quiet {
		if dump, err := config.DumpYAML(cfg); err != nil {
			logger.LogWarn("bridge: dump config: %v", err)
		} else {
			fmt.Println("--- effective configuration ---")
			fmt.Print(dump)
			fmt.Println("--------------------------------")
		}
	}

	mc := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	go serveMetrics()

	b := registry.NewBridge(cfg.ID)
	reg := registry.New(b)

	var sampler *bandwidth.Sampler
	if cfg.Interface != "" {
		sampler = bandwidth.New(cfg.Interface)
	}

	var serialTransport *transport.Serial
	if cfg.Serial.Port != "" {
		serialTransport = transport.NewSerial(cfg.Serial.Port, cfg.Serial.Baudrate, time.Duration(cfg.Serial.Timeout)*time.Millisecond)
	}

	var scriptRunner *script.Runner
	if cfg.ScriptsFolder != "" {
		scriptRunner = script.NewRunner(cfg.ScriptsFolder)
	}

	var disp *dispatch.Dispatcher
	var busTransport *transport.Bus
	busTransport = transport.NewBus(
		transport.BusConfig{Host: cfg.MQTTHost, Port: cfg.MQTTPort, ClientID: cfg.ID, QoS: byte(cfg.MQTTQoS)},
		b.StatusTopic,
		func(topic, payload string) {
			if disp == nil {
				return
			}
			if err := disp.HandleBusMessage(topic, payload); err != nil {
				logger.LogWarn("bridge: handle bus message on %s: %v", topic, err)
			}
		},
		func() {
			// Re-arm the bridge's own config subscription and announce
			// ST_ALIVE immediately on every (re)connect — §6, SPEC_FULL.md §3.
			if err := busTransport.Subscribe(b.ConfigTopic); err != nil {
				logger.LogWarn("bridge: subscribe own config topic: %v", err)
			}
			alive := fmt.Sprintf("%d,%d", proto.StAlive, reg.ModuleCount())
			if err := busTransport.Publish(b.StatusTopic, alive); err != nil {
				logger.LogWarn("bridge: publish ST_ALIVE on connect: %v", err)
			}
			mc.SetBusConnected(true)
		},
		func() {
			// Clear connection-dependent state immediately rather than
			// waiting for the next 30-second drain.
			b.Controller = false
			mc.SetBusConnected(false)
		},
	)

	registerLocalModules(reg, cfg, serialTransport != nil, sampler != nil, scriptRunner != nil)

	var bwSource dispatch.BandwidthSource
	if sampler != nil {
		bwSource = sampler
	}
	var serialForDispatch dispatch.Serial
	if serialTransport != nil {
		serialForDispatch = serialTransport
	}
	var scriptForDispatch dispatch.ScriptRunner
	if scriptRunner != nil {
		scriptForDispatch = scriptRunner
	}
	disp = dispatch.New(reg, cfg.DevicesFolder, busTransport, serialForDispatch, scriptForDispatch, bwSource, mc)

	var serialForClock liveness.Serial
	if serialTransport != nil {
		serialForClock = serialTransport
	}
	clock := liveness.New(reg, busTransport, serialForClock, sampler, mc)

	usr1Module := registry.ModuleIDSigusr1
	if cfg.RemapUsr1 != "" {
		usr1Module = cfg.RemapUsr1
	}
	usr2Module := registry.ModuleIDSigusr2
	if cfg.RemapUsr2 != "" {
		usr2Module = cfg.RemapUsr2
	}

	var serialForController bridge.Serial
	if serialTransport != nil {
		serialForController = serialTransport
	}
	controller := bridge.New(reg, disp, clock, serialForController, busTransport, usr1Module, usr2Module)

	if err := controller.Run(); err != nil {
		logger.LogError("bridge: event loop exited with error: %v", err)
		os.Exit(1)
	}
}

// registerLocalModules registers the bridge's fixed singleton modules:
// mqtt/sigusr1/sigusr2 unconditionally, and script/bandwidth/serial only
// when their backing configuration is present (§4.1).
func registerLocalModules(reg *registry.Registry, cfg *config.Config, hasSerial, hasBandwidth, hasScript bool) {
	must := func(id string) {
		if _, err := reg.AddModule(id, reg.Bridge.ID); err != nil {
			logger.LogWarn("bridge: register local module %s: %v", id, err)
		}
	}
	must(registry.ModuleIDMQTT)
	must(registry.ModuleIDSigusr1)
	must(registry.ModuleIDSigusr2)
	if hasScript {
		must(registry.ModuleIDScript)
	}
	if hasBandwidth {
		must(registry.ModuleIDBandwidth)
	}
	if hasSerial {
		must(registry.ModuleIDSerial)
	}
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         metricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogWarn("bridge: metrics server: %v", err)
	}
}
