package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ziutek/telnet"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// maxGPONOutput caps how much a single command may print before its prompt.
const maxGPONOutput = 64 << 10

var (
	decimalRe       = regexp.MustCompile(`\d+\.\d+`)
	signedDecimalRe = regexp.MustCompile(`-?\d+\.\d+`)
	onuStateRe      = regexp.MustCompile(`ONU state: (.*)`)
)

// onuStates maps the state codes printed by the stick to numbers.
// Some firmware prints the letter O in place of a zero for state 5.
var onuStates = map[string]float64{
	"01": 1,
	"02": 2,
	"03": 3,
	"04": 4,
	"05": 5,
	"O5": 5,
	"06": 6,
	"07": 7,
}

type gponCommand struct {
	command string
	metric  string
	help    string
	parse   func(out string) (float64, bool)
}

var gponCommands = []gponCommand{
	{"diag pon get transceiver bias-current", "gpon_bias_current_mA", "Bias Current of the GPON device in mA", matchFloat(decimalRe)},
	{"diag pon get transceiver rx-power", "gpon_rx_power_dbm", "Rx Power of the GPON device in dBm", matchFloat(signedDecimalRe)},
	{"diag pon get transceiver temperature", "gpon_temperature_celsius", "Temperature of the GPON device in Celsius", matchFloat(decimalRe)},
	{"diag pon get transceiver tx-power", "gpon_tx_power_dbm", "Tx Power of the GPON device in dBm", matchFloat(signedDecimalRe)},
	{"diag pon get transceiver voltage", "gpon_voltage_volts", "Voltage of the GPON device in Volts", matchFloat(decimalRe)},
	{"diag gpon get onu-state", "gpon_onu_state", "ONU State of the GPON device", parseONUState},
}

func matchFloat(re *regexp.Regexp) func(string) (float64, bool) {
	return func(out string) (float64, bool) {
		m := re.FindString(out)
		if m == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(m, 64)
		return v, err == nil
	}
}

// parseONUState returns 0 for codes outside the known set, the way the
// device's own tooling does; only a missing state line is a parse failure.
func parseONUState(out string) (float64, bool) {
	m := onuStateRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	return onuStates[strings.TrimSpace(m[1])], true
}

// GPONCollector logs into a GPON ONT stick over telnet and reads its optical
// transceiver diagnostics. Every sample carries an ip label with the host.
type GPONCollector struct {
	host           string
	port           int
	username       string
	password       string
	commandTimeout time.Duration
	retries        int
	logger         *zap.Logger
}

// NewGPONCollector creates a collector for one GPON device.
func NewGPONCollector(t config.GPONTarget, logger *zap.Logger) *GPONCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	stepTimeout := t.CommandTimeout.Duration
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	return &GPONCollector{
		host:           t.Host,
		port:           t.Port,
		username:       t.Username,
		password:       t.Password,
		commandTimeout: stepTimeout,
		retries:        t.Retries,
		logger:         logger,
	}
}

func newGPON(cfg config.JobConfig, logger *zap.Logger) (Collector, error) {
	if cfg.GPON == nil {
		return nil, errors.New("missing gpon section")
	}
	return NewGPONCollector(*cfg.GPON, logger), nil
}

// Name returns the collector identifier.
func (c *GPONCollector) Name() string { return "gpon" }

// IsAvailable returns true; telnet works everywhere.
func (c *GPONCollector) IsAvailable() bool { return true }

// Collect runs the diagnostic commands in one telnet session. A command
// whose output cannot be parsed is skipped and reported; a broken session
// aborts the run with the samples gathered so far.
func (c *GPONCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	raw, err := dialWithRetry(ctx, addr, c.retries)
	if err != nil {
		return nil, err
	}
	defer raw.Close()
	// Unblock any pending read once the run is cancelled or times out.
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	conn, err := telnet.NewConn(raw)
	if err != nil {
		return nil, targetError(ctx, addr, err)
	}
	s := &gponSession{conn: conn, raw: raw, ctx: ctx, stepTimeout: c.commandTimeout}

	if err := s.login(c.username, c.password); err != nil {
		if s.runExpired() {
			return nil, targetError(ctx, addr, err)
		}
		// The device answered but never offered the expected prompt.
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, addr, err)
	}
	c.logger.Debug("Logged into GPON device", zap.String("address", addr))

	labels := map[string]string{"ip": c.host}
	var samples []models.Sample
	var errs error
	for _, cmd := range gponCommands {
		out, err := s.exec(cmd.command)
		if err != nil {
			return samples, multierr.Append(errs, targetError(ctx, addr, fmt.Errorf("%s: %w", cmd.command, err)))
		}
		v, ok := cmd.parse(out)
		if !ok {
			errs = multierr.Append(errs, parseError("%s: %q", cmd.command, truncate(out, 120)))
			continue
		}
		samples = append(samples, models.Gauge(cmd.metric, cmd.help, v, labels))
	}
	return samples, errs
}

type gponSession struct {
	conn        *telnet.Conn
	raw         net.Conn
	ctx         context.Context
	stepTimeout time.Duration
}

func (s *gponSession) login(username, password string) error {
	if _, err := s.readUntil(containsAny("login:", "username:")); err != nil {
		return fmt.Errorf("waiting for login prompt: %w", err)
	}
	if err := s.send(username); err != nil {
		return err
	}
	if _, err := s.readUntil(containsAny("password:")); err != nil {
		return fmt.Errorf("waiting for password prompt: %w", err)
	}
	if err := s.send(password); err != nil {
		return err
	}
	if _, err := s.readUntil(shellPrompt); err != nil {
		return fmt.Errorf("waiting for shell prompt: %w", err)
	}
	return nil
}

func (s *gponSession) exec(command string) (string, error) {
	if err := s.send(command); err != nil {
		return "", err
	}
	return s.readUntil(shellPrompt)
}

func (s *gponSession) send(line string) error {
	if err := s.raw.SetWriteDeadline(s.deadline()); err != nil {
		return err
	}
	_, err := s.conn.Write([]byte(line + "\r\n"))
	return err
}

// readUntil reads until done reports a prompt, the step deadline passes or
// the output grows past maxGPONOutput.
func (s *gponSession) readUntil(done func(string) bool) (string, error) {
	if err := s.raw.SetReadDeadline(s.deadline()); err != nil {
		return "", err
	}
	var buf strings.Builder
	chunk := make([]byte, 1024)
	for {
		n, err := s.conn.Read(chunk)
		buf.Write(chunk[:n])
		if done(buf.String()) {
			return buf.String(), nil
		}
		if err != nil {
			return buf.String(), err
		}
		if buf.Len() > maxGPONOutput {
			return buf.String(), parseError("no prompt within %d bytes", maxGPONOutput)
		}
	}
}

// runExpired reports whether the run context is done or its deadline has passed.
func (s *gponSession) runExpired() bool {
	if s.ctx.Err() != nil {
		return true
	}
	d, ok := s.ctx.Deadline()
	return ok && !time.Now().Before(d)
}

// deadline is the earlier of the step timeout and the run deadline.
func (s *gponSession) deadline() time.Time {
	d := time.Now().Add(s.stepTimeout)
	if runDeadline, ok := s.ctx.Deadline(); ok && runDeadline.Before(d) {
		return runDeadline
	}
	return d
}

func containsAny(needles ...string) func(string) bool {
	return func(buf string) bool {
		lower := strings.ToLower(buf)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}

// shellPrompt matches output ending in a $, # or > prompt.
func shellPrompt(buf string) bool {
	trimmed := strings.TrimRight(buf, " ")
	return strings.HasSuffix(trimmed, "$") || strings.HasSuffix(trimmed, "#") || strings.HasSuffix(trimmed, ">")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
