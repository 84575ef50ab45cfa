package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// GPON_* variables describe one or more telnet-managed ONT sticks as
// parallel comma-separated lists. Each host becomes a job named gpon-<host>.
const (
	envGPONHosts     = "GPON_HOSTNAMES"
	envGPONPorts     = "GPON_PORTS"
	envGPONUsers     = "GPON_USERS"
	envGPONPasswords = "GPON_PASSWORDS"
	envGPONPort      = "GPON_WEBSERVER_PORT"
	envGPONInterval  = "GPON_FETCH_INTERVAL"
)

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if addr := os.Getenv("VITALIS_LISTEN_ADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}
	if path := os.Getenv("VITALIS_METRICS_PATH"); path != "" {
		cfg.MetricsPath = path
	}
	if level := os.Getenv("VITALIS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if port := os.Getenv(envGPONPort); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("%s: invalid port %q", envGPONPort, port)
		}
		cfg.ListenAddress = ":" + port
	}
	return applyGPONEnv(cfg)
}

func applyGPONEnv(cfg *Config) error {
	hosts := splitList(os.Getenv(envGPONHosts))
	if len(hosts) == 0 {
		return nil
	}
	users := splitList(os.Getenv(envGPONUsers))
	passwords := splitList(os.Getenv(envGPONPasswords))
	ports := splitList(os.Getenv(envGPONPorts))

	if len(users) != len(hosts) || len(passwords) != len(hosts) {
		return fmt.Errorf("%s, %s and %s must list the same number of entries (got %d, %d, %d)",
			envGPONHosts, envGPONUsers, envGPONPasswords, len(hosts), len(users), len(passwords))
	}
	if len(ports) != 0 && len(ports) != len(hosts) {
		return fmt.Errorf("%s must be empty or list one port per host (got %d for %d hosts)",
			envGPONPorts, len(ports), len(hosts))
	}

	interval := defaultJobInterval
	if v := os.Getenv(envGPONInterval); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envGPONInterval, err)
		}
		interval = d
	}

	for i, host := range hosts {
		port := defaultGPONPort
		if len(ports) > 0 {
			p, err := strconv.Atoi(ports[i])
			if err != nil {
				return fmt.Errorf("%s: invalid port %q for %s", envGPONPorts, ports[i], host)
			}
			port = p
		}
		cfg.Jobs = append(cfg.Jobs, JobConfig{
			Name:     "gpon-" + host,
			Type:     "gpon",
			Interval: Duration{interval},
			Timeout:  Duration{min(interval/2, maxDefaultJobTimeout)},
			GPON: &GPONTarget{
				Host:           host,
				Port:           port,
				Username:       users[i],
				Password:       passwords[i],
				CommandTimeout: Duration{defaultCommandTimeout},
			},
		})
	}
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
