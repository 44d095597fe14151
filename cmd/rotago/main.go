package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/RotaGo/internal/config"
	"github.com/cjeanneret/RotaGo/internal/debug"
	"github.com/cjeanneret/RotaGo/internal/hw/gpio"
	"github.com/cjeanneret/RotaGo/internal/hw/panel"
	"github.com/cjeanneret/RotaGo/internal/logic/motion"
	"github.com/cjeanneret/RotaGo/internal/rotator"
	"github.com/cjeanneret/RotaGo/internal/schedule"
	"github.com/cjeanneret/RotaGo/internal/sdk"
	"github.com/cjeanneret/RotaGo/internal/sdk/ble"
	"github.com/cjeanneret/RotaGo/internal/sdk/simulator"
	"github.com/cjeanneret/RotaGo/internal/tracer"
	"github.com/cjeanneret/RotaGo/internal/web"
)

// ledBlink is the LED half-period while scanning or connecting.
const ledBlink = 250 * time.Millisecond

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	scanTimeoutMs := flag.Int("scan_timeout", 0, "override scan timeout in milliseconds")
	backend := flag.String("backend", "", "override SDK backend (simulator or ble)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{ScanTimeoutMs: *scanTimeoutMs, Backend: *backend}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Logging.DebugLevel, cfg.Logging.Format)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Logging.DebugLevel)
	debug.Value("Backend", cfg.SDK.Backend)

	if err := run(ctx, cfg, webPort.port(), os.Stdout); err != nil {
		log.Fatalf("rotago: %v", err)
	}
}

// run wires the backend, the coordinator and the enabled surfaces, and blocks
// until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, port int, out io.Writer) error {
	debug.Step(1, "Initializing tracer")
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			debug.Error("tracer shutdown", err)
		}
	}()

	debug.Step(2, "Initializing rotator SDK")
	backend, closeBackend, err := newBackend(cfg)
	if err != nil {
		return fmt.Errorf("init %s backend: %w", cfg.SDK.Backend, err)
	}
	defer closeBackend()

	observers := rotator.Observers{consoleObserver{w: out}}

	var broadcaster *web.StatusBroadcaster
	if port > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stderr, web.BroadcastWriter(broadcaster)))
		observers = append(observers, broadcaster)
	}

	var gpioDriver gpio.Driver
	if cfg.Panel.Enabled {
		debug.Step(3, "Initializing GPIO panel")
		debug.Value("Mock GPIO", cfg.Panel.MockGPIO)
		gpioDriver, err = gpio.NewDriver(cfg.Panel.MockGPIO)
		if err != nil {
			return fmt.Errorf("init GPIO: %w", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				debug.Error("closing GPIO driver failed", err)
			}
		}()
		if cfg.Panel.LEDPin > 0 {
			led, err := panel.NewLED(gpioDriver, cfg.Panel.LEDPin, ledBlink)
			if err != nil {
				return fmt.Errorf("init LED: %w", err)
			}
			defer led.Close()
			observers = append(observers, led)
		}
	}

	debug.Step(4, "Starting coordinator")
	loop := rotator.NewLoop(nil)
	defer loop.Close()
	coord := rotator.New(backend, loop, observers, coordinatorOptions(cfg))
	defer coord.Close()
	debug.PrintStruct("Scan config", cfg.Scan)

	if gpioDriver != nil {
		btn, err := panel.NewButton(gpioDriver, cfg.Panel.ButtonPin, cfg.PanelPoll(), cfg.PanelDebounce(), coord)
		if err != nil {
			return fmt.Errorf("init button: %w", err)
		}
		go btn.Run(ctx)
	}

	if cfg.Scan.Schedule != "" {
		sched, err := schedule.New(cfg.Scan.Schedule, coord)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Scan.OnStart {
		coord.DiscoverIfIdle()
	}

	if port > 0 {
		if cfg.Web.MDNS {
			go func() {
				txt := map[string]string{"backend": cfg.SDK.Backend}
				if err := web.Advertise(ctx, cfg.Web.InstanceName, port, txt); err != nil {
					debug.Error("mdns advertisement failed", err)
				}
			}()
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.Motion.CommandsPerSecond), cfg.Motion.Burst)
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, coord, formConfig(cfg), limiter)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	<-ctx.Done()
	debug.Section("Shutting down")
	return nil
}

// newBackend selects the SDK implementation from configuration. The returned
// func releases backend resources.
func newBackend(cfg *config.Config) (sdk.SDK, func(), error) {
	switch cfg.SDK.Backend {
	case config.BackendSimulator:
		sim, err := simulator.New(cfg.SDK.Simulator)
		if err != nil {
			return nil, nil, err
		}
		debug.PrintStruct("Simulated rotators", cfg.SDK.Simulator.Rotators)
		return sim, sim.Close, nil
	case config.BackendBLE:
		b, err := ble.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend: %s", cfg.SDK.Backend)
	}
}

func coordinatorOptions(cfg *config.Config) rotator.Options {
	policy := rotator.AutoConnect
	if cfg.Scan.SingleResult == config.SingleReport {
		policy = rotator.ReportOnly
	}
	return rotator.Options{
		Scan: rotator.ScanOptions{
			Timeout:     cfg.ScanTimeout(),
			WarmUp:      cfg.ScanWarmUp(),
			StopOnFirst: cfg.Scan.StopOnFirst,
		},
		SingleResult: policy,
		DefaultSpeed: cfg.Motion.DefaultSpeed,
	}
}

func formConfig(cfg *config.Config) web.FormConfig {
	return web.FormConfig{
		Backend:       cfg.SDK.Backend,
		ScanTimeoutMs: cfg.Scan.TimeoutMs,
		SingleResult:  cfg.Scan.SingleResult,
		DefaultSpeed:  cfg.Motion.DefaultSpeed,
		MaxAngle:      motion.MaxAngle,
		MaxSpeed:      motion.MaxSpeed,
	}
}

// consoleObserver prints status lines and alerts for headless runs.
type consoleObserver struct {
	rotator.NopObserver
	w io.Writer
}

func (c consoleObserver) UpdateStatus(st rotator.Status) {
	fmt.Fprintln(c.w, st.Text)
}

func (c consoleObserver) Alert(title, message string) {
	fmt.Fprintf(c.w, "%s: %s\n", title, message)
}

// cliOverrides holds values given on the command line. Zero values mean "use config".
type cliOverrides struct {
	ScanTimeoutMs int
	Backend       string
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
func validateCLIOverrides(o cliOverrides) error {
	if o.ScanTimeoutMs < 0 || o.ScanTimeoutMs > 600000 {
		return fmt.Errorf("scan_timeout must be between 1 and 600000 ms, got %d", o.ScanTimeoutMs)
	}
	switch o.Backend {
	case "", config.BackendSimulator, config.BackendBLE:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", config.BackendSimulator, config.BackendBLE, o.Backend)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.ScanTimeoutMs > 0 {
		cfg.Scan.TimeoutMs = o.ScanTimeoutMs
	}
	if o.Backend != "" {
		cfg.SDK.Backend = o.Backend
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
