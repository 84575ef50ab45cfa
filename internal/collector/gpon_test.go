package collector

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// fakeONT is a minimal telnet-speaking ONT stick. It serves one session per
// connection using the given command responses; with no responses it
// accepts connections and never prompts.
type fakeONT struct {
	ln        net.Listener
	responses map[string]string
	silent    bool
}

func startFakeONT(t *testing.T, responses map[string]string) *fakeONT {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeONT{ln: ln, responses: responses, silent: responses == nil}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeONT) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.session(conn)
	}
}

func (f *fakeONT) session(conn net.Conn) {
	defer conn.Close()
	if f.silent {
		_, _ = bufio.NewReader(conn).ReadString('\n')
		return
	}
	r := bufio.NewReader(conn)
	readLine := func() (string, bool) {
		line, err := r.ReadString('\n')
		return strings.TrimSpace(line), err == nil
	}

	_, _ = conn.Write([]byte("\r\nLogin: "))
	if _, ok := readLine(); !ok {
		return
	}
	_, _ = conn.Write([]byte("Password: "))
	if _, ok := readLine(); !ok {
		return
	}
	_, _ = conn.Write([]byte("\r\nRTK.0> "))
	for {
		cmd, ok := readLine()
		if !ok {
			return
		}
		_, _ = conn.Write([]byte(f.responses[cmd] + "\r\nRTK.0> "))
	}
}

func (f *fakeONT) target() config.GPONTarget {
	host, port, _ := net.SplitHostPort(f.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.GPONTarget{
		Host:           host,
		Port:           p,
		Username:       "admin",
		Password:       "secret",
		CommandTimeout: config.Duration{Duration: 2 * time.Second},
	}
}

func healthyONT() map[string]string {
	return map[string]string{
		"diag pon get transceiver bias-current": "Bias Current: 12.345 mA",
		"diag pon get transceiver rx-power":     "Rx Power: -21.50 dBm",
		"diag pon get transceiver temperature":  "Temperature: 47.25 C",
		"diag pon get transceiver tx-power":     "Tx Power: 2.10 dBm",
		"diag pon get transceiver voltage":      "Voltage: 3.30 V",
		"diag gpon get onu-state":               "ONU state: O5",
	}
}

func byName(samples []models.Sample) map[string]models.Sample {
	out := make(map[string]models.Sample, len(samples))
	for _, s := range samples {
		out[s.Identity.Name()] = s
	}
	return out
}

func TestGPONCollector_Collect(t *testing.T) {
	ont := startFakeONT(t, healthyONT())
	c := NewGPONCollector(ont.target(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	samples, err := c.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 6)

	got := byName(samples)
	assert.Equal(t, 12.345, got["gpon_bias_current_mA"].Value)
	assert.Equal(t, -21.5, got["gpon_rx_power_dbm"].Value)
	assert.Equal(t, 47.25, got["gpon_temperature_celsius"].Value)
	assert.Equal(t, 2.1, got["gpon_tx_power_dbm"].Value)
	assert.Equal(t, 3.3, got["gpon_voltage_volts"].Value)
	assert.Equal(t, 5.0, got["gpon_onu_state"].Value)
	for _, s := range samples {
		assert.Equal(t, models.KindGauge, s.Kind)
		assert.Equal(t, "127.0.0.1", s.Identity.Label("ip"))
		assert.NotEmpty(t, s.Help)
	}
}

func TestGPONCollector_PartialParseFailure(t *testing.T) {
	responses := healthyONT()
	responses["diag pon get transceiver voltage"] = "command not supported"
	ont := startFakeONT(t, responses)
	c := NewGPONCollector(ont.target(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	samples, err := c.Collect(ctx)
	require.ErrorIs(t, err, ErrParse)
	assert.Len(t, samples, 5)
	assert.NotContains(t, byName(samples), "gpon_voltage_volts")
}

func TestGPONCollector_UnknownONUState(t *testing.T) {
	responses := healthyONT()
	responses["diag gpon get onu-state"] = "ONU state: 09"
	ont := startFakeONT(t, responses)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	samples, err := NewGPONCollector(ont.target(), nil).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, byName(samples)["gpon_onu_state"].Value)
}

func TestGPONCollector_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	c := NewGPONCollector(config.GPONTarget{Host: "127.0.0.1", Port: addr.Port, Username: "u"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Collect(ctx)
	require.ErrorIs(t, err, ErrTargetUnreachable)
}

func TestGPONCollector_HonoursDeadline(t *testing.T) {
	ont := startFakeONT(t, nil)
	c := NewGPONCollector(ont.target(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Collect(ctx)
	require.ErrorIs(t, err, ErrTargetTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestParseONUState(t *testing.T) {
	tests := []struct {
		out    string
		want   float64
		wantOK bool
	}{
		{"ONU state: 01\r\n", 1, true},
		{"ONU state: O5\r\n", 5, true},
		{"ONU state: 05", 5, true},
		{"ONU state: 07", 7, true},
		{"ONU state: bogus", 0, true},
		{"no state here", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseONUState(tt.out)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseONUState(%q) = %v, %v; want %v, %v", tt.out, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestGPONCollector_NoLoginPrompt(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("Welcome to BusyBox\r\n"))
		_, _ = bufio.NewReader(conn).ReadString('\n')
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := NewGPONCollector(config.GPONTarget{
		Host:           "127.0.0.1",
		Port:           addr.Port,
		Username:       "admin",
		CommandTimeout: config.Duration{Duration: 200 * time.Millisecond},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Collect(ctx)
	require.ErrorIs(t, err, ErrParse)
}
