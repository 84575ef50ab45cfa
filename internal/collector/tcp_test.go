package collector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/vitalis/exporter/internal/config"
)

func TestTCPCollector(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	samples, err := NewTCPCollector(config.TCPTarget{Address: ln.Addr().String()}, nil).Collect(ctx)
	require.NoError(t, err)
	got := byName(samples)
	assert.Equal(t, 1.0, got["tcp_probe_up"].Value)
	assert.Contains(t, got, "tcp_probe_connect_seconds")

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := closed.Addr().String()
	closed.Close()

	samples, err = NewTCPCollector(config.TCPTarget{Address: addr}, nil).Collect(ctx)
	require.ErrorIs(t, err, ErrTargetUnreachable)
	require.Len(t, samples, 1)
	assert.Equal(t, 0.0, samples[0].Value)
}
