// Temperature collector: gathers thermal sensor readings.
// Uses gopsutil host sensors. Every plausible sensor is reported, plus the
// maximum (hottest) CPU and GPU reading as the worst-case thermal state.
package collector

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// Sensor name substrings used to identify CPU temperature sensors across platforms.
// Linux:  coretemp_core_0_input, k10temp_tctl_input, acpitz_temp1_input, zenpower_tctl_input
// macOS:  TC0P (CPU proximity), TC0D (CPU die), TCXC (CPU core)
// Windows: CPU Package, CPU Core #0, etc.
var cpuSensorKeys = []string{
	"cpu", "core", "package",
	"tctl", "tdie", "k10temp", "coretemp",
	"tc0p", "tc0d", "tcxc",
	"acpitz", "zenpower",
}

// Sensor name substrings used to identify GPU temperature sensors across platforms.
// Linux:  amdgpu_edge_input, nouveau_temp1_input
// macOS:  TG0P (GPU proximity), TG0D (GPU die)
// Windows: GPU, nvidia, radeon, etc.
var gpuSensorKeys = []string{
	"gpu", "nvidia", "amd", "radeon",
	"tg0p", "tg0d",
	"amdgpu", "nouveau",
}

// minValidTemp is the minimum temperature (°C) considered valid.
const minValidTemp = 0.0

// maxValidTemp is the maximum temperature (°C) considered valid.
// Readings above this are likely sensor errors.
const maxValidTemp = 150.0

// TemperatureCollector collects temperature readings from host sensors.
type TemperatureCollector struct {
	logger   *zap.Logger
	gpuQuery func(ctx context.Context) ([]byte, error)
}

// NewTemperatureCollector creates a new temperature collector.
// The logger parameter is used for debug logging. Pass nil for no logging.
func NewTemperatureCollector(logger *zap.Logger) *TemperatureCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemperatureCollector{logger: logger, gpuQuery: queryNvidiaSMI}
}

// Name returns the collector identifier.
func (c *TemperatureCollector) Name() string { return "temperature" }

// Collect reports each valid sensor and the hottest CPU and GPU reading.
// Hosts without sensors produce no samples rather than an error; gopsutil
// returns partial readings with a warning error on some platforms.
func (c *TemperatureCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, targetError(ctx, "temperature", err)
		}
		c.logger.Debug("Temperature sensors not fully available via gopsutil",
			zap.Error(err))
	}

	var samples []models.Sample
	var cpuMax, gpuMax float64
	cpuFound, gpuFound := false, false
	seen := make(map[string]bool, len(temps))

	for _, t := range temps {
		if !isValidTemperature(t.Temperature) {
			continue
		}

		name := strings.ToLower(t.SensorKey)
		if !seen[name] {
			seen[name] = true
			samples = append(samples, models.Gauge("host_temperature_celsius",
				"Sensor temperature in degrees Celsius.", t.Temperature,
				map[string]string{"sensor": name}))
		}

		if matchesSensor(name, cpuSensorKeys) && (!cpuFound || t.Temperature > cpuMax) {
			cpuMax = t.Temperature
			cpuFound = true
		}
		if matchesSensor(name, gpuSensorKeys) && (!gpuFound || t.Temperature > gpuMax) {
			gpuMax = t.Temperature
			gpuFound = true
		}
	}

	// Discrete NVIDIA cards are invisible to gopsutil on Windows.
	if !gpuFound {
		for i, temp := range c.nvidiaTemperatures(ctx) {
			samples = append(samples, models.Gauge("host_temperature_celsius",
				"Sensor temperature in degrees Celsius.", temp,
				map[string]string{"sensor": fmt.Sprintf("nvidia_gpu%d", i)}))
			if !gpuFound || temp > gpuMax {
				gpuMax = temp
				gpuFound = true
			}
		}
	}

	const maxHelp = "Hottest sensor reading per device class in degrees Celsius."
	if cpuFound {
		samples = append(samples, models.Gauge("host_temperature_max_celsius", maxHelp, cpuMax,
			map[string]string{"class": "cpu"}))
	} else {
		c.logger.Debug("No CPU temperature sensor found")
	}
	if gpuFound {
		samples = append(samples, models.Gauge("host_temperature_max_celsius", maxHelp, gpuMax,
			map[string]string{"class": "gpu"}))
	}

	return samples, nil
}

// IsAvailable returns true; always registered; reports nothing if sensors are unavailable.
func (c *TemperatureCollector) IsAvailable() bool { return true }

func queryNvidiaSMI(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=temperature.gpu", "--format=csv,noheader,nounits").Output()
}

// nvidiaTemperatures returns one reading per GPU, or nothing when
// nvidia-smi is missing or prints something unexpected.
func (c *TemperatureCollector) nvidiaTemperatures(ctx context.Context) []float64 {
	if c.gpuQuery == nil {
		return nil
	}
	out, err := c.gpuQuery(ctx)
	if err != nil {
		return nil
	}
	return parseNvidiaSMI(out)
}

func parseNvidiaSMI(out []byte) []float64 {
	var temps []float64
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		temp, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil || !isValidTemperature(temp) {
			continue
		}
		temps = append(temps, temp)
	}
	return temps
}

// matchesSensor checks if the sensor name contains any of the given key substrings.
func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

// isValidTemperature returns true if the temperature is within a plausible range.
func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
