package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"ublox-bridge/internal/ubx"
)

// ConfigState is the configurator lifecycle.
type ConfigState int

const (
	StateDisconnected ConfigState = iota
	StateConnected
	StateConfiguring
	StateReady
	StateFailed
)

func (s ConfigState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ConfiguratorOptions are the resolved settings that shape the step list.
type ConfiguratorOptions struct {
	DeviceType     string
	DeadReckoning  bool
	DynamicModel   string
	UpdateRateHz   int
	Constellations string

	HighRate      bool
	HNRRateHz     int
	SensorFusion  bool
	SatelliteInfo bool
	Covariance    bool

	DisableNMEA bool
	Save        bool
	SaveMasks   ubx.SaveMasks

	// StepDelay paces outbound frames so the receiver can answer each one.
	StepDelay time.Duration
}

// IsF9R reports whether the device variant supports dead reckoning.
func (o ConfiguratorOptions) IsF9R() bool {
	return strings.Contains(strings.ToUpper(o.DeviceType), "F9R")
}

// Step is one outbound configuration frame.
type Step struct {
	Name  string
	Frame []byte
}

// Key is the class/id the receiver will acknowledge.
func (s Step) Key() ubx.Key {
	return ubx.Key{Class: s.Frame[2], ID: s.Frame[3]}
}

// BuildSteps returns the configuration sequence in send order. Steps that
// cannot be built are returned as *ConfigurationError and left out.
func BuildSteps(o ConfiguratorOptions) ([]Step, []error) {
	var (
		steps []Step
		errs  []error
	)
	add := func(name string, frame []byte) { steps = append(steps, Step{Name: name, Frame: frame}) }

	model, known := ubx.DynamicModelCode(o.DynamicModel)
	if !known && strings.TrimSpace(o.DynamicModel) != "" {
		log.Printf("gps: unknown dynamic model %q, using automotive", o.DynamicModel)
	}
	switch {
	case o.DeadReckoning && o.IsF9R():
		f, err := ubx.ValSet(ubx.LayerRAM|ubx.LayerBBR,
			ubx.KeyValue{Key: ubx.KeySFCoreUseSF, Value: 1},
			ubx.KeyValue{Key: ubx.KeySFIMUAutoMntAlg, Value: 1},
		)
		if err != nil {
			errs = append(errs, &ConfigurationError{Step: "navigation engine", Err: err})
		} else {
			add("navigation engine", f)
		}
		add("dynamic model", ubx.CfgNav5Dynamic(model))
	case o.DeadReckoning:
		errs = append(errs, &ConfigurationError{Step: "navigation engine", Err: fmt.Errorf("dead reckoning needs a ZED-F9R, device is %q", o.DeviceType)})
		add("dynamic model", ubx.CfgNav5Dynamic(model))
	case strings.TrimSpace(o.DynamicModel) != "":
		add("dynamic model", ubx.CfgNav5Dynamic(model))
	}

	if o.UpdateRateHz > 0 {
		add("measurement rate", ubx.CfgRate(ubx.MeasPeriodMs(o.UpdateRateHz), 1))
	}

	if set, err := ubx.ParseConstellations(o.Constellations); err != nil {
		errs = append(errs, &ConfigurationError{Step: "constellations", Err: err})
	} else {
		add("constellations", ubx.CfgGNSS(set))
	}

	enable := func(class, id byte) {
		key := ubx.Key{Class: class, ID: id}
		add("enable "+key.String(), ubx.CfgMsg(class, id, 1))
	}
	enable(ubx.ClassNAV, ubx.IDNavPVT)
	enable(ubx.ClassNAV, ubx.IDNavHPPOSLLH)
	enable(ubx.ClassNAV, ubx.IDNavStatus)
	if o.HighRate {
		rate := o.HNRRateHz
		if rate <= 0 || rate > 30 {
			rate = 10
		}
		add("high navigation rate", ubx.CfgHNR(uint8(rate)))
		enable(ubx.ClassHNR, ubx.IDHnrPVT)
	}
	if o.SensorFusion {
		enable(ubx.ClassESF, ubx.IDEsfIns)
		enable(ubx.ClassESF, ubx.IDEsfStatus)
	}
	if o.SatelliteInfo {
		enable(ubx.ClassNAV, ubx.IDNavSat)
	}
	if o.Covariance {
		enable(ubx.ClassNAV, ubx.IDNavCov)
	}

	if o.DisableNMEA {
		f, err := ubx.ValSet(ubx.LayerRAM|ubx.LayerBBR,
			ubx.KeyValue{Key: ubx.KeyUART1OutProtNMEA, Value: 0},
			ubx.KeyValue{Key: ubx.KeyUSBOutProtNMEA, Value: 0},
			ubx.KeyValue{Key: ubx.KeyI2COutProtNMEA, Value: 0},
		)
		if err != nil {
			errs = append(errs, &ConfigurationError{Step: "disable NMEA output", Err: err})
		} else {
			add("disable NMEA output", f)
		}
	}
	if o.Save {
		add("save configuration", ubx.CfgCfg(o.SaveMasks))
	}
	return steps, errs
}

// ConfiguratorStats is a diagnostic view of the configurator.
type ConfiguratorStats struct {
	State     string   `json:"state"`
	Steps     int      `json:"steps"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Acked     int      `json:"acked"`
	Rejected  []string `json:"rejected,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// Configurator sends the configuration sequence and matches the receiver's
// acknowledgements to the steps that caused them.
type Configurator struct {
	w    io.Writer
	opts ConfiguratorOptions

	mu      sync.Mutex
	state   ConfigState
	pending map[ubx.Key][]string
	stats   ConfiguratorStats
}

// NewConfigurator writes through w, which must serialize whole frames.
func NewConfigurator(w io.Writer, opts ConfiguratorOptions) *Configurator {
	if opts.StepDelay <= 0 {
		opts.StepDelay = 100 * time.Millisecond
	}
	return &Configurator{w: w, opts: opts, pending: make(map[ubx.Key][]string)}
}

func (c *Configurator) State() ConfigState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetConnected marks the serial channel open.
func (c *Configurator) SetConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		c.state = StateConnected
	}
}

// MarkReady skips configuration for a receiver that is already set up.
func (c *Configurator) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		c.state = StateReady
	}
}

// Fail moves to the terminal Failed state.
func (c *Configurator) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailed
	if err != nil {
		c.stats.LastError = err.Error()
	}
}

// Run sends every step. Build failures are counted and skipped; a write
// failure is a lost connection and ends the run with *ConnectionError.
func (c *Configurator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("configurator: cannot configure in state %s", st)
	}
	c.state = StateConfiguring
	c.mu.Unlock()

	steps, buildErrs := BuildSteps(c.opts)
	c.mu.Lock()
	c.stats.Steps = len(steps) + len(buildErrs)
	c.stats.Failed += len(buildErrs)
	for _, err := range buildErrs {
		log.Printf("gps: %v", err)
		c.stats.LastError = err.Error()
	}
	c.mu.Unlock()

	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.expect(st)
		if _, err := c.w.Write(st.Frame); err != nil {
			c.unexpect(st)
			var cerr *ConnectionError
			if !errors.As(err, &cerr) {
				cerr = &ConnectionError{Op: "write", Err: err}
			}
			c.Fail(cerr)
			return cerr
		}
		c.mu.Lock()
		c.stats.Sent++
		c.mu.Unlock()
		debugf("sent configuration step %q (%s)", st.Name, st.Key())

		if i < len(steps)-1 {
			t := time.NewTimer(c.opts.StepDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}

	// Version query so the status page can show module and firmware.
	if _, err := c.w.Write(ubx.Poll(ubx.ClassMON, ubx.IDMonVer)); err != nil {
		cerr := &ConnectionError{Op: "write", Err: err}
		c.Fail(cerr)
		return cerr
	}

	c.mu.Lock()
	c.state = StateReady
	sent, failed := c.stats.Sent, c.stats.Failed
	c.mu.Unlock()
	log.Printf("gps: configuration sent steps=%d failed=%d", sent, failed)
	return nil
}

func (c *Configurator) expect(st Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := st.Key()
	c.pending[k] = append(c.pending[k], st.Name)
}

func (c *Configurator) unexpect(st Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := st.Key()
	if q := c.pending[k]; len(q) > 0 {
		c.pending[k] = q[:len(q)-1]
	}
}

// HandleAck matches an ACK-ACK/ACK-NAK to the oldest outstanding step for
// the same class/id. Rejections are logged, never retried.
func (c *Configurator) HandleAck(a ubx.Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := a.Key()
	name := k.String()
	if q := c.pending[k]; len(q) > 0 {
		name = q[0]
		c.pending[k] = q[1:]
	}
	if a.OK {
		c.stats.Acked++
		debugf("receiver accepted %q", name)
		return
	}
	c.stats.Failed++
	c.stats.Rejected = append(c.stats.Rejected, name)
	c.stats.LastError = (&ConfigurationError{Step: name, Err: errors.New("rejected by receiver")}).Error()
	log.Printf("gps: receiver rejected configuration step %q (%s)", name, k)
}

func (c *Configurator) Stats() ConfiguratorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.State = c.state.String()
	out.Rejected = append([]string(nil), c.stats.Rejected...)
	return out
}
