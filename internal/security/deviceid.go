package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// DeviceIDPrefix marks identifiers generated by this package.
const DeviceIDPrefix = "dev_"

// deviceIDHashLen is the number of hex characters kept from the host digest.
const deviceIDHashLen = 20

// DeviceIDGenerator derives a device identifier from stable host properties.
// The result is persisted by the caller, so later host changes do not affect
// an existing installation.
type DeviceIDGenerator struct {
	hostname func() (string, error)
	mac      func() (string, error)
	goos     string
	goarch   string
	random   func() string
	logger   *slog.Logger
}

// NewDeviceIDGenerator creates a generator reading the local host.
func NewDeviceIDGenerator(logger *slog.Logger) *DeviceIDGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceIDGenerator{
		hostname: hostname,
		mac:      primaryMACAddress,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
		random:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		logger:   logger.With(slog.String("component", "device_id")),
	}
}

// Generate returns a new device identifier.
func (g *DeviceIDGenerator) Generate() string {
	host, err := g.hostname()
	if err != nil {
		g.logger.Debug("hostname unavailable", slog.String("error", err.Error()))
		host = ""
	}
	mac, err := g.mac()
	if err != nil {
		g.logger.Debug("mac address unavailable", slog.String("error", err.Error()))
		mac = ""
	}

	if host == "" && mac == "" {
		id := DeviceIDPrefix + g.random()
		g.logger.Warn("no stable host properties, using random device id",
			slog.String("device_id", id),
		)
		return id
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{host, mac, g.goos, g.goarch}, "|")))
	id := DeviceIDPrefix + hex.EncodeToString(sum[:])[:deviceIDHashLen]

	g.logger.Info("device id generated",
		slog.String("device_id", id),
		slog.Bool("has_hostname", host != ""),
		slog.Bool("has_mac", mac != ""),
	)
	return id
}

func hostname() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return h, nil
}

// primaryMACAddress returns the first usable hardware address, preferring
// interfaces that are up and not loopback.
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var fallback string
	for _, iface := range interfaces {
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 {
			return mac, nil
		}
		if fallback == "" {
			fallback = mac
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("no valid MAC address found")
}
