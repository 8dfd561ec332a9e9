// Command docanuds is a standalone DoCAN/UDS diagnostic server: it opens a
// SocketCAN interface, wires up the transport layer over one static
// request/response routing entry, and answers a small fixed set of UDS
// services — the demo harness this module ships in place of the teacher's
// cmd/canopen, following the same flag/state-machine/cyclic-goroutine shape
// (cmd/canopen/main.go).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan"
	"github.com/vitalwire/docan/pkg/candev"
	"github.com/vitalwire/docan/pkg/codec"
	"github.com/vitalwire/docan/pkg/config"
	"github.com/vitalwire/docan/pkg/safety"
	"github.com/vitalwire/docan/pkg/transport"
	"github.com/vitalwire/docan/pkg/uds"
)

const (
	defaultCANInterface  = "can0"
	defaultTesterAddress = 0x7E0
	defaultECUAddress    = 0x7E8
	defaultConfigPath    = ""

	messagePoolBufferSize = 4096
)

// cyclicNoop is the [safety.MemoryProtection]/[safety.WatchdogSource] stand-in
// used when this demo has no real MPU or watchdog hardware to gate: locked
// outside a safety cyclic and unlocked inside it, always serviced, config
// always valid, so the safety cyclic never trips limp-home on its own.
type cyclicNoop struct{ unlocked bool }

func (c *cyclicNoop) IsLocked() bool      { return !c.unlocked }
func (c *cyclicNoop) Lock()               { c.unlocked = false }
func (c *cyclicNoop) Unlock()             { c.unlocked = true }
func (cyclicNoop) ServiceCounter() uint32 { return 0 }
func (cyclicNoop) Service()               {}
func (cyclicNoop) ConfigValid() bool      { return true }

// processLifecycle is the [uds.LifecycleConnector] this binary actually
// has: a process, not an ECU, so "reset" means exit and let whatever
// supervises this process (systemd, a shell loop) restart it.
type processLifecycle struct{}

func (processLifecycle) ModeChangePossible() bool { return true }

func (processLifecycle) RequestShutdown(hard bool) {
	log.Warnf("docanuds: lifecycle requested shutdown (hard=%v), exiting", hard)
	os.Exit(0)
}

// layerSender breaks the construction cycle between the transport layer
// (which needs the dispatcher as its [docan.ProcessedListener]) and the
// dispatcher (which needs the layer as its [uds.Sender]): the dispatcher
// holds this box instead of the layer directly, and main fills it in once
// the layer actually exists.
type layerSender struct {
	layer *transport.Layer
}

func (s *layerSender) Send(pair docan.TransportAddressPair, msg *docan.TransportMessage, listener docan.ProcessedListener) error {
	return s.layer.Send(pair, msg, listener)
}

func main() {
	log.SetLevel(log.InfoLevel)

	canInterface := flag.String("i", defaultCANInterface, "socketcan interface e.g. can0, vcan0")
	testerAddr := flag.Uint("tester", defaultTesterAddress, "tester (client) transport address")
	ecuAddr := flag.Uint("ecu", defaultECUAddress, "this ECU's transport address")
	configPath := flag.String("c", defaultConfigPath, "optional INI config path (see pkg/config)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	params := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Printf("docanuds: failed to load config %v: %v\n", *configPath, err)
			os.Exit(1)
		}
		params = loaded
	}

	bus, err := candev.NewBus(*canInterface)
	if err != nil {
		fmt.Printf("docanuds: could not open interface %v: %v\n", *canInterface, err)
		os.Exit(1)
	}

	source := uint16(*testerAddr)
	target := uint16(*ecuAddr)
	addresses := docan.NewStaticAddressConverter([]docan.RoutingEntry{
		{
			Codec:     codec.NewClassical(),
			DataLink:  docan.NewDataLinkAddressPair(docan.DataLinkAddress(target), docan.DataLinkAddress(source)),
			Transport: docan.NewTransportAddressPair(source, target),
		},
	})

	pool := transport.NewMessagePool(params.ReceiverPoolSize+params.TransmitterPoolSize, messagePoolBufferSize)

	now := func() uint32 { return uint32(time.Now().UnixMilli()) }
	nowUs := func() uint32 { return uint32(time.Now().UnixMicro()) }

	lifecycle := processLifecycle{}
	sessionManager := uds.NewSessionManager(params.TesterPresentTimeoutMs, nil, lifecycle, now)

	sender := &layerSender{}
	dispatcher := uds.NewDispatcher(buildJobTree(sessionManager), sessionManager, sender, pool, messagePoolBufferSize, params.UDSParameters(), now)

	layer := transport.New(bus, addresses, pool, dispatcher, params.ReceiverPoolSize, params.TransmitterPoolSize,
		params.ReceiverParameters(), params.TransmitterParameters(), nowUs)
	sender.layer = layer

	if err := layer.Init(); err != nil {
		fmt.Printf("docanuds: failed to init transport layer: %v\n", err)
		os.Exit(1)
	}

	supervisor := safety.NewSupervisor()
	watchdog := safety.NewWatchdog(supervisor, cyclicNoop{})
	manager := safety.NewManager(supervisor, watchdog, &cyclicNoop{})
	manager.Init()

	log.Infof("docanuds: listening on %s, tester=0x%03X ecu=0x%03X", *canInterface, source, target)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	safetyPeriod := 10 * time.Millisecond
	cyclicPeriod := time.Millisecond
	lastCyclic := time.Now()
	lastSafety := time.Now()

	for {
		select {
		case <-quit:
			layer.Shutdown()
			return
		default:
			now := time.Now()
			if now.Sub(lastCyclic) >= cyclicPeriod {
				lastCyclic = now
				layer.CyclicTask()
				layer.Tick()
				sessionManager.CyclicTask()
			}
			if now.Sub(lastSafety) >= safetyPeriod {
				lastSafety = now
				manager.Cyclic()
			}
			time.Sleep(time.Millisecond)
		}
	}
}
