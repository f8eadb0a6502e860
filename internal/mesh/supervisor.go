package mesh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Pilotkosinus/mesh2gram/internal/core/domain"
)

// Phase is the supervisor's connection phase.
type Phase int32

const (
	// PhaseDisconnected means no session exists and the device is not
	// known to be reachable.
	PhaseDisconnected Phase = iota

	// PhaseProbing means a reachability probe is in flight.
	PhaseProbing

	// PhaseWaitingReady means the port answered after an outage and the
	// supervisor is absorbing the device boot window.
	PhaseWaitingReady

	// PhaseConnecting means a full session attempt is in flight.
	PhaseConnecting

	// PhaseConnected means a live session is being monitored.
	PhaseConnected
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseProbing:
		return "probing"
	case PhaseWaitingReady:
		return "waiting_ready"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SupervisorConfig tunes the connection supervisor. Zero values fall back
// to production defaults.
type SupervisorConfig struct {
	Host string
	Port int

	// ProbeTimeout bounds one reachability probe.
	ProbeTimeout time.Duration

	// NetworkCheckInterval paces probes while the device is offline.
	NetworkCheckInterval time.Duration

	// ReadyWindow bounds the device boot absorption after the port
	// first answers again.
	ReadyWindow time.Duration

	// ReadyPollInterval paces probes inside the ready window.
	ReadyPollInterval time.Duration

	// MinAttemptInterval is the minimum spacing between session attempts.
	MinAttemptInterval time.Duration

	// MonitorTick paces the connected-state health checks.
	MonitorTick time.Duration

	// HeartbeatInterval paces liveness writes on a connected session.
	// Reachability is re-probed at twice this interval.
	HeartbeatInterval time.Duration

	// ReconnectBaseDelay and ReconnectMaxDelay bound the retry backoff.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// TimeoutEscalation is the consecutive-timeout count that triggers a
	// full teardown and cooldown. Repeated dial timeouts against a
	// reachable port mean the firmware TCP stack is wedged.
	TimeoutEscalation int

	// EscalationCooldown is the teardown pause before starting over.
	EscalationCooldown time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.NetworkCheckInterval <= 0 {
		c.NetworkCheckInterval = 5 * time.Second
	}
	if c.ReadyWindow <= 0 {
		c.ReadyWindow = 30 * time.Second
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = time.Second
	}
	if c.MinAttemptInterval <= 0 {
		c.MinAttemptInterval = 3 * time.Second
	}
	if c.MonitorTick <= 0 {
		c.MonitorTick = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 3 * time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.TimeoutEscalation <= 0 {
		c.TimeoutEscalation = 3
	}
	if c.EscalationCooldown <= 0 {
		c.EscalationCooldown = 10 * time.Second
	}
	return c
}

// State is a snapshot of the supervisor for status reporting.
type State struct {
	Phase               Phase
	Connected           bool
	ConsecutiveFailures int
	ConsecutiveTimeouts int
	ReconnectDelay      time.Duration
}

// Supervisor keeps one mesh session alive across network loss, device
// reboots and firmware lockups.
//
// It runs a phase loop: probe until the device answers, absorb the boot
// window, establish a session, then monitor it with heartbeats and
// periodic reachability probes. All sends go through the supervisor so a
// dead session degrades to an error instead of a crash.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	// dial and probe are injectable for tests.
	dial  func(ctx context.Context, host string, port int, logger *slog.Logger) (Session, error)
	probe func(ctx context.Context, host string, port int, timeout time.Duration) error

	// OnConnected fires after a session is established.
	OnConnected func(Session)

	// OnDisconnected fires when a live session is lost or a send fails
	// on a dead transport.
	OnDisconnected func(reason string)

	// OnEscalation fires when repeated connect timeouts force a full
	// teardown and cooldown.
	OnEscalation func()

	mu              sync.Mutex
	sess            Session
	phase           Phase
	failures        int
	timeouts        int
	lastAttempt     time.Time
	reconnectDelay  time.Duration
	deviceWasOnline bool
	offlineLogged   bool
	onPacket        func(Packet)
}

// NewSupervisor creates a supervisor for the given device.
func NewSupervisor(cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		dial: func(ctx context.Context, host string, port int, logger *slog.Logger) (Session, error) {
			return Dial(ctx, host, port, logger)
		},
		probe:          Probe,
		reconnectDelay: cfg.ReconnectBaseDelay,
	}
}

// OnPacket registers the receiver for inbound text packets. The callback
// survives reconnects; it is rewired onto every new session.
func (s *Supervisor) OnPacket(fn func(Packet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPacket = fn
	if s.sess != nil {
		s.sess.OnPacket(fn)
	}
}

// Run drives the phase loop until ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.dropSession()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch s.State().Phase {
		case PhaseDisconnected, PhaseProbing:
			if err := s.stepDisconnected(ctx); err != nil {
				return err
			}
		case PhaseWaitingReady:
			if err := s.stepWaitingReady(ctx); err != nil {
				return err
			}
		case PhaseConnecting:
			if err := s.stepConnecting(ctx); err != nil {
				return err
			}
		case PhaseConnected:
			if err := s.stepConnected(ctx); err != nil {
				return err
			}
		}
	}
}

// stepDisconnected probes until the device answers.
func (s *Supervisor) stepDisconnected(ctx context.Context) error {
	s.setPhase(PhaseProbing)

	err := s.probe(ctx, s.cfg.Host, s.cfg.Port, s.cfg.ProbeTimeout)
	if err != nil {
		s.mu.Lock()
		logged := s.offlineLogged
		s.offlineLogged = true
		s.mu.Unlock()
		if !logged {
			s.logger.Warn("mesh device unreachable",
				"host", s.cfg.Host,
				"error", err)
		}
		s.setPhase(PhaseDisconnected)
		return s.sleep(ctx, s.cfg.NetworkCheckInterval)
	}

	s.mu.Lock()
	wasOnline := s.deviceWasOnline
	s.offlineLogged = false
	s.mu.Unlock()

	if wasOnline {
		// Same boot, just a dropped stream. Skip the ready window.
		s.setPhase(PhaseConnecting)
		return nil
	}

	s.logger.Info("mesh device answering, waiting for boot to settle",
		"host", s.cfg.Host,
		"window", s.cfg.ReadyWindow)
	s.setPhase(PhaseWaitingReady)
	return nil
}

// stepWaitingReady re-probes inside the boot window. Ports on rebooting
// devices flap, so one positive probe is confirmed by polling.
func (s *Supervisor) stepWaitingReady(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.ReadyWindow)

	for time.Now().Before(deadline) {
		if err := s.sleep(ctx, s.cfg.ReadyPollInterval); err != nil {
			return err
		}
		if err := s.probe(ctx, s.cfg.Host, s.cfg.Port, s.cfg.ProbeTimeout); err == nil {
			s.setPhase(PhaseConnecting)
			return nil
		}
	}

	s.logger.Warn("mesh device did not settle within ready window",
		"host", s.cfg.Host,
		"window", s.cfg.ReadyWindow)
	s.setPhase(PhaseDisconnected)
	return nil
}

// stepConnecting makes one session attempt.
func (s *Supervisor) stepConnecting(ctx context.Context) error {
	// Enforce minimum spacing between attempts.
	s.mu.Lock()
	since := time.Since(s.lastAttempt)
	s.mu.Unlock()
	if since < s.cfg.MinAttemptInterval {
		if err := s.sleep(ctx, s.cfg.MinAttemptInterval-since); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	sess, err := s.dial(ctx, s.cfg.Host, s.cfg.Port, s.logger)
	if err != nil {
		return s.handleConnectFailure(ctx, err)
	}

	s.mu.Lock()
	s.sess = sess
	s.failures = 0
	s.timeouts = 0
	s.reconnectDelay = s.cfg.ReconnectBaseDelay
	s.deviceWasOnline = true
	if s.onPacket != nil {
		sess.OnPacket(s.onPacket)
	}
	s.mu.Unlock()

	s.logger.Info("mesh connection established", "host", s.cfg.Host)
	if s.OnConnected != nil {
		s.OnConnected(sess)
	}

	s.setPhase(PhaseConnected)
	return nil
}

// handleConnectFailure books one failed attempt and decides between
// backoff and full escalation.
func (s *Supervisor) handleConnectFailure(ctx context.Context, err error) error {
	s.mu.Lock()
	s.failures++
	if isTimeoutError(err) {
		s.timeouts++
	} else {
		s.timeouts = 0
	}
	failures, timeouts := s.failures, s.timeouts
	s.mu.Unlock()

	s.logger.Warn("mesh connect attempt failed",
		"host", s.cfg.Host,
		"failures", failures,
		"timeouts", timeouts,
		"error", err)

	// Repeated dial timeouts against a reachable port mean the firmware
	// TCP stack is wedged. Tear everything down and start cold.
	if timeouts >= s.cfg.TimeoutEscalation {
		s.logger.Error("escalating after repeated connect timeouts",
			"host", s.cfg.Host,
			"timeouts", timeouts,
			"cooldown", s.cfg.EscalationCooldown)
		s.dropSession()
		if s.OnEscalation != nil {
			s.OnEscalation()
		}
		s.notifyDisconnected("connect timeouts escalated")

		if err := s.sleep(ctx, s.cfg.EscalationCooldown); err != nil {
			return err
		}

		s.mu.Lock()
		s.failures = 0
		s.timeouts = 0
		s.reconnectDelay = s.cfg.ReconnectBaseDelay
		s.deviceWasOnline = false
		s.mu.Unlock()

		s.setPhase(PhaseDisconnected)
		return nil
	}

	reachable := s.probe(ctx, s.cfg.Host, s.cfg.Port, s.cfg.ProbeTimeout) == nil
	delay := s.nextDelay(reachable)
	s.logger.Info("mesh reconnect scheduled",
		"host", s.cfg.Host,
		"reachable", reachable,
		"delay", delay)

	if err := s.sleep(ctx, delay); err != nil {
		return err
	}
	if !reachable {
		s.mu.Lock()
		s.deviceWasOnline = false
		s.mu.Unlock()
		s.setPhase(PhaseDisconnected)
	}
	return nil
}

// nextDelay computes the retry delay for the current failure count.
//
// While the device is reachable the delay scales with the failure count
// from the base. While unreachable a compounding delay grows toward the
// cap so a dead device is not hammered.
func (s *Supervisor) nextDelay(reachable bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reachable {
		d := time.Duration(s.failures) * time.Second
		if d < s.cfg.ReconnectBaseDelay {
			d = s.cfg.ReconnectBaseDelay
		}
		if d > s.cfg.ReconnectMaxDelay {
			d = s.cfg.ReconnectMaxDelay
		}
		return d
	}

	d := s.reconnectDelay + time.Duration(s.failures)*time.Second
	if d > s.cfg.ReconnectMaxDelay {
		d = s.cfg.ReconnectMaxDelay
	}

	s.reconnectDelay = time.Duration(float64(s.reconnectDelay) * 1.3)
	if s.reconnectDelay > s.cfg.ReconnectMaxDelay {
		s.reconnectDelay = s.cfg.ReconnectMaxDelay
	}
	return d
}

// stepConnected monitors the live session until it dies or ctx ends.
func (s *Supervisor) stepConnected(ctx context.Context) error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		s.setPhase(PhaseDisconnected)
		return nil
	}

	ticker := time.NewTicker(s.cfg.MonitorTick)
	defer ticker.Stop()

	lastBeat := time.Now()
	lastProbe := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-sess.Done():
			s.sessionLost("stream closed", true)
			return nil

		case <-ticker.C:
			if time.Since(lastBeat) >= s.cfg.HeartbeatInterval {
				if err := sess.Ping(); err != nil {
					s.logger.Warn("mesh heartbeat failed", "error", err)
					s.sessionLost("heartbeat failed", true)
					return nil
				}
				lastBeat = time.Now()
			}

			if time.Since(lastProbe) >= 2*s.cfg.HeartbeatInterval {
				if err := s.probe(ctx, s.cfg.Host, s.cfg.Port, s.cfg.ProbeTimeout); err != nil {
					s.logger.Warn("mesh device unreachable while connected", "error", err)
					s.sessionLost("device unreachable", false)
					return nil
				}
				lastProbe = time.Now()
			}
		}
	}
}

// sessionLost tears the session down and returns to Disconnected.
// keepOnline preserves the same-boot hint so the next probe success can
// skip the ready window.
func (s *Supervisor) sessionLost(reason string, keepOnline bool) {
	s.dropSession()

	s.mu.Lock()
	if !keepOnline {
		s.deviceWasOnline = false
	}
	s.mu.Unlock()

	s.notifyDisconnected(reason)
	s.setPhase(PhaseDisconnected)
}

// Send transmits a direct text message through the live session.
// With no session it fails fast instead of panicking.
func (s *Supervisor) Send(ctx context.Context, text string, dest uint32) error {
	return s.guardedSend(func(sess Session) error {
		return sess.SendText(ctx, text, dest)
	})
}

// SendChannel broadcasts a text message on a channel index.
func (s *Supervisor) SendChannel(ctx context.Context, text string, channel uint32) error {
	return s.guardedSend(func(sess Session) error {
		return sess.SendChannel(ctx, text, channel)
	})
}

func (s *Supervisor) guardedSend(send func(Session) error) error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()

	if sess == nil {
		return domain.ErrNotConnected
	}

	if err := send(sess); err != nil {
		if isTransportError(err) {
			// The monitor loop notices the dead stream shortly; the
			// notification here covers the gap.
			s.logger.Warn("mesh send failed on dead transport", "error", err)
			s.notifyDisconnected("send failed")
		}
		return domain.ErrSendFailed.WithCause(err)
	}
	return nil
}

// Node resolves cached node info from the live session.
func (s *Supervisor) Node(num uint32) (NodeInfo, bool) {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return NodeInfo{}, false
	}
	return sess.Node(num)
}

// ChannelIndex resolves a channel name from the live session's channel
// table.
func (s *Supervisor) ChannelIndex(name string) (uint32, bool) {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return 0, false
	}
	return sess.ChannelIndex(name)
}

// State returns a snapshot for status reporting.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Phase:               s.phase,
		Connected:           s.sess != nil,
		ConsecutiveFailures: s.failures,
		ConsecutiveTimeouts: s.timeouts,
		ReconnectDelay:      s.reconnectDelay,
	}
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	old := s.phase
	s.phase = p
	s.mu.Unlock()
	if old != p {
		s.logger.Debug("mesh supervisor phase change", "from", old.String(), "to", p.String())
	}
}

// dropSession closes and forgets the current session, if any.
func (s *Supervisor) dropSession() {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

func (s *Supervisor) notifyDisconnected(reason string) {
	if s.OnDisconnected != nil {
		s.OnDisconnected(reason)
	}
}

// sleep waits for d or until ctx ends.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
