package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"licensegate/internal/infrastructure"
)

// Signal names that make up the default fingerprint
const (
	SignalMAC       = "mac_address"
	SignalHostname  = "hostname"
	SignalCPU       = "cpu_id"
	SignalMachineID = "machine_id"
	SignalPlatform  = "platform"
)

// SignalFunc reads one hardware signal
type SignalFunc func() (string, error)

// DeviceFingerprint is the computed hardware id plus the signals behind it
type DeviceFingerprint struct {
	Fingerprint string            `json:"fingerprint"`
	Components  map[string]string `json:"components"`
	Fallbacks   []string          `json:"fallbacks,omitempty"`
	Skipped     []string          `json:"skipped,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// FingerprintManager derives a stable hardware id for this machine. The id is
// computed once per manager and never fails: any signal that cannot be read
// is replaced by a fixed fallback token. When the anchor signal (machine_id by
// default) is readable, volatile signals such as the MAC address and hostname
// are left out so a new network interface or a rename keeps the same id.
type FingerprintManager struct {
	signals  map[string]SignalFunc
	anchor   string
	volatile map[string]bool
	salt     string
	logger   *slog.Logger

	once sync.Once
	fp   DeviceFingerprint
}

// FingerprintOption configures a FingerprintManager
type FingerprintOption func(*FingerprintManager)

// WithSignals replaces the default signal set
func WithSignals(signals map[string]SignalFunc) FingerprintOption {
	return func(fm *FingerprintManager) { fm.signals = signals }
}

// WithAnchor names the signal that, when readable, makes the volatile signals
// redundant. An empty anchor always uses every signal.
func WithAnchor(anchor string, volatile ...string) FingerprintOption {
	return func(fm *FingerprintManager) {
		fm.anchor = anchor
		fm.volatile = make(map[string]bool, len(volatile))
		for _, name := range volatile {
			fm.volatile[name] = true
		}
	}
}

// WithSalt namespaces the hash so different products derive different ids
func WithSalt(salt string) FingerprintOption {
	return func(fm *FingerprintManager) { fm.salt = salt }
}

// WithFingerprintLogger sets the logger
func WithFingerprintLogger(logger *slog.Logger) FingerprintOption {
	return func(fm *FingerprintManager) { fm.logger = logger }
}

// NewFingerprintManager creates a manager reading the default signals
func NewFingerprintManager(opts ...FingerprintOption) *FingerprintManager {
	fm := &FingerprintManager{
		signals:  DefaultSignals(),
		anchor:   SignalMachineID,
		volatile: map[string]bool{SignalMAC: true, SignalHostname: true},
		salt:     "licensegate",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(fm)
	}
	fm.logger = infrastructure.WithComponent(fm.logger, "fingerprint")
	return fm
}

// DefaultSignals returns the hardware signals used in production
func DefaultSignals() map[string]SignalFunc {
	return map[string]SignalFunc{
		SignalMAC:       GetMACAddress,
		SignalHostname:  GetHostname,
		SignalCPU:       GetCPUID,
		SignalMachineID: GetMachineID,
		SignalPlatform:  func() (string, error) { return runtime.GOOS + "/" + runtime.GOARCH, nil },
	}
}

// HardwareID returns the hex encoded fingerprint
func (fm *FingerprintManager) HardwareID() string {
	return fm.Fingerprint().Fingerprint
}

// Fingerprint returns the full fingerprint, generating it on first use
func (fm *FingerprintManager) Fingerprint() DeviceFingerprint {
	fm.once.Do(fm.generate)
	out := fm.fp
	out.Components = make(map[string]string, len(fm.fp.Components))
	for k, v := range fm.fp.Components {
		out.Components[k] = v
	}
	out.Fallbacks = slices.Clone(fm.fp.Fallbacks)
	out.Skipped = slices.Clone(fm.fp.Skipped)
	return out
}

func (fm *FingerprintManager) generate() {
	start := time.Now()

	names := make([]string, 0, len(fm.signals))
	for name := range fm.signals {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]string, len(names))
	errs := make(map[string]error)
	read := func(name string) {
		value, err := fm.signals[name]()
		value = strings.ToLower(strings.TrimSpace(value))
		if err == nil && value == "" {
			err = errors.New("empty value")
		}
		if err != nil {
			errs[name] = err
			return
		}
		values[name] = value
	}

	anchored := false
	if _, ok := fm.signals[fm.anchor]; ok && fm.anchor != "" {
		read(fm.anchor)
		_, anchored = values[fm.anchor]
	}

	components := make(map[string]string, len(names))
	var fallbacks, skipped []string
	parts := []string{fm.salt}

	for _, name := range names {
		if anchored && fm.volatile[name] {
			skipped = append(skipped, name)
			continue
		}
		if name != fm.anchor {
			read(name)
		}
		value, ok := values[name]
		if !ok {
			fm.logger.Warn("hardware signal unavailable, using fallback",
				slog.String("signal", name),
				slog.String("error", errs[name].Error()))
			value = "unknown-" + name
			fallbacks = append(fallbacks, name)
		}
		components[name] = value
		parts = append(parts, name+"="+value)
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	fm.fp = DeviceFingerprint{
		Fingerprint: hex.EncodeToString(hash[:]),
		Components:  components,
		Fallbacks:   fallbacks,
		Skipped:     skipped,
		GeneratedAt: time.Now(),
	}

	fm.logger.Info("device fingerprint generated",
		slog.String("fingerprint", fm.fp.Fingerprint[:12]),
		slog.Int("signals", len(components)),
		slog.Int("fallbacks", len(fallbacks)),
		slog.Int("skipped", len(skipped)),
		slog.Duration("generation_time", time.Since(start)))
}

// GetMACAddress returns the lowest hardware address among non-loopback
// interfaces, so the choice does not depend on interface order or link state
func GetMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "00:00:00:00:00:00" {
			continue
		}
		macs = append(macs, mac)
	}

	if len(macs) == 0 {
		return "", errors.New("no valid MAC address found")
	}
	sort.Strings(macs)
	return macs[0], nil
}

// GetHostname returns the normalized machine hostname
func GetHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", errors.New("hostname is empty")
	}
	return hostname, nil
}

// GetCPUID returns a short hash of the processor description (OS-specific)
func GetCPUID() (string, error) {
	var raw string
	switch runtime.GOOS {
	case "windows":
		raw = os.Getenv("PROCESSOR_IDENTIFIER")
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "", fmt.Errorf("failed to read cpuinfo: %w", err)
		}
		raw = cpuModelLine(string(data))
	}
	if raw == "" {
		return "", fmt.Errorf("no cpu identifier on %s", runtime.GOOS)
	}

	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:8]), nil
}

// cpuModelLine picks the first "model name" line, ignoring per-core fields
func cpuModelLine(cpuinfo string) string {
	for _, line := range strings.Split(cpuinfo, "\n") {
		if strings.HasPrefix(line, "model name") {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// machineIDPaths are read in order by GetMachineID
var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// GetMachineID returns the OS installation id where one exists
func GetMachineID() (string, error) {
	for _, p := range machineIDPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", errors.New("machine id not available")
}
