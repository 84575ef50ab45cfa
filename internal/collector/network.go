// Network I/O collector: gathers per-interface RX/TX byte counters.
// Uses gopsutil for cross-platform network metrics.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// NetworkCollector collects network I/O counters (bytes and packets received/transmitted).
// Counter resets after an interface flap are handled by the job.
type NetworkCollector struct{}

// NewNetworkCollector creates a new network collector.
func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{}
}

// Name returns the collector identifier.
func (c *NetworkCollector) Name() string { return "network" }

// Collect gathers cumulative network I/O per interface.
func (c *NetworkCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, targetError(ctx, "network", err)
	}

	samples := make([]models.Sample, 0, 4*len(counters))
	for _, nic := range counters {
		labels := map[string]string{"interface": nic.Name}
		samples = append(samples,
			models.Counter("host_network_receive_bytes_total", "Bytes received on the interface.", float64(nic.BytesRecv), labels),
			models.Counter("host_network_transmit_bytes_total", "Bytes transmitted on the interface.", float64(nic.BytesSent), labels),
			models.Counter("host_network_receive_packets_total", "Packets received on the interface.", float64(nic.PacketsRecv), labels),
			models.Counter("host_network_transmit_packets_total", "Packets transmitted on the interface.", float64(nic.PacketsSent), labels),
		)
	}
	return samples, nil
}

// IsAvailable returns true; network metrics are available on all platforms.
func (c *NetworkCollector) IsAvailable() bool { return true }
