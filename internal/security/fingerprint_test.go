package security

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixed(v string) SignalFunc {
	return func() (string, error) { return v, nil }
}

func failing() (string, error) {
	return "", errors.New("unreadable")
}

func TestFingerprint_Deterministic(t *testing.T) {
	signals := map[string]SignalFunc{
		SignalMAC:      fixed("aa:bb:cc:dd:ee:ff"),
		SignalHostname: fixed("workstation"),
	}

	a := NewFingerprintManager(WithSignals(signals), WithFingerprintLogger(quietLogger()))
	b := NewFingerprintManager(WithSignals(signals), WithFingerprintLogger(quietLogger()))

	assert.Equal(t, a.HardwareID(), b.HardwareID())
	assert.Len(t, a.HardwareID(), 64)
	assert.Equal(t, a.HardwareID(), a.HardwareID())
}

func TestFingerprint_DifferentSignalsDiffer(t *testing.T) {
	a := NewFingerprintManager(
		WithSignals(map[string]SignalFunc{SignalHostname: fixed("one")}),
		WithFingerprintLogger(quietLogger()))
	b := NewFingerprintManager(
		WithSignals(map[string]SignalFunc{SignalHostname: fixed("two")}),
		WithFingerprintLogger(quietLogger()))

	assert.NotEqual(t, a.HardwareID(), b.HardwareID())
}

func TestFingerprint_SaltNamespaces(t *testing.T) {
	signals := map[string]SignalFunc{SignalHostname: fixed("host")}
	a := NewFingerprintManager(WithSignals(signals), WithSalt("product-a"), WithFingerprintLogger(quietLogger()))
	b := NewFingerprintManager(WithSignals(signals), WithSalt("product-b"), WithFingerprintLogger(quietLogger()))

	assert.NotEqual(t, a.HardwareID(), b.HardwareID())
}

func TestFingerprint_NormalizesValues(t *testing.T) {
	a := NewFingerprintManager(
		WithSignals(map[string]SignalFunc{SignalHostname: fixed("  Workstation\n")}),
		WithFingerprintLogger(quietLogger()))
	b := NewFingerprintManager(
		WithSignals(map[string]SignalFunc{SignalHostname: fixed("workstation")}),
		WithFingerprintLogger(quietLogger()))

	assert.Equal(t, a.HardwareID(), b.HardwareID())
}

func TestFingerprint_FallbackIsStable(t *testing.T) {
	newManager := func() *FingerprintManager {
		return NewFingerprintManager(WithSignals(map[string]SignalFunc{
			SignalHostname: fixed("host"),
			SignalMAC:      failing,
			SignalCPU:      fixed(""),
		}), WithFingerprintLogger(quietLogger()))
	}

	fp := newManager().Fingerprint()
	assert.Equal(t, "unknown-"+SignalMAC, fp.Components[SignalMAC])
	assert.Equal(t, "unknown-"+SignalCPU, fp.Components[SignalCPU])
	assert.ElementsMatch(t, []string{SignalMAC, SignalCPU}, fp.Fallbacks)
	assert.Equal(t, fp.Fingerprint, newManager().HardwareID())
}

func TestFingerprint_ComputedOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	fm := NewFingerprintManager(WithSignals(map[string]SignalFunc{
		SignalHostname: func() (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return "host", nil
		},
	}), WithFingerprintLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fm.HardwareID()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestFingerprint_ComponentsAreCopied(t *testing.T) {
	fm := NewFingerprintManager(
		WithSignals(map[string]SignalFunc{SignalHostname: fixed("host")}),
		WithFingerprintLogger(quietLogger()))

	fp := fm.Fingerprint()
	fp.Components[SignalHostname] = "tampered"

	assert.Equal(t, "host", fm.Fingerprint().Components[SignalHostname])
}

func TestDefaultSignals_NeverFail(t *testing.T) {
	fm := NewFingerprintManager(WithFingerprintLogger(quietLogger()))

	fp := fm.Fingerprint()
	require.Len(t, fp.Fingerprint, 64)
	for _, name := range []string{SignalCPU, SignalMachineID, SignalPlatform} {
		assert.NotEmpty(t, fp.Components[name], name)
	}
	for _, name := range []string{SignalMAC, SignalHostname} {
		if slices.Contains(fp.Skipped, name) {
			assert.NotContains(t, fp.Components, name)
		} else {
			assert.NotEmpty(t, fp.Components[name], name)
		}
	}
	assert.NotContains(t, fp.Fallbacks, SignalPlatform)
}

func TestFingerprint_AnchorIgnoresVolatileSignals(t *testing.T) {
	withHost := func(hostname, mac string) *FingerprintManager {
		return NewFingerprintManager(WithSignals(map[string]SignalFunc{
			SignalMachineID: fixed("0123abcd"),
			SignalCPU:       fixed("xeon"),
			SignalHostname:  fixed(hostname),
			SignalMAC:       fixed(mac),
		}), WithFingerprintLogger(quietLogger()))
	}

	before := withHost("workstation", "aa:bb:cc:dd:ee:ff").Fingerprint()
	after := withHost("renamed", "02:42:ac:11:00:02").Fingerprint()

	assert.Equal(t, before.Fingerprint, after.Fingerprint)
	assert.ElementsMatch(t, []string{SignalHostname, SignalMAC}, before.Skipped)
	assert.NotContains(t, before.Components, SignalHostname)
	assert.Equal(t, "0123abcd", before.Components[SignalMachineID])
}

func TestFingerprint_VolatileSignalsUsedWithoutAnchor(t *testing.T) {
	withHost := func(hostname string) *FingerprintManager {
		return NewFingerprintManager(WithSignals(map[string]SignalFunc{
			SignalMachineID: failing,
			SignalHostname:  fixed(hostname),
		}), WithFingerprintLogger(quietLogger()))
	}

	fp := withHost("workstation").Fingerprint()
	assert.Empty(t, fp.Skipped)
	assert.Equal(t, "workstation", fp.Components[SignalHostname])
	assert.Equal(t, []string{SignalMachineID}, fp.Fallbacks)
	assert.NotEqual(t, fp.Fingerprint, withHost("renamed").HardwareID())

	// without an anchor every signal counts
	all := NewFingerprintManager(WithSignals(map[string]SignalFunc{
		SignalMachineID: fixed("0123abcd"),
		SignalHostname:  fixed("workstation"),
	}), WithAnchor(""), WithFingerprintLogger(quietLogger()))
	assert.Empty(t, all.Fingerprint().Skipped)
	assert.Equal(t, "workstation", all.Fingerprint().Components[SignalHostname])
}

func TestGetHostname_Normalized(t *testing.T) {
	hostname, err := GetHostname()
	if err != nil {
		t.Skipf("hostname unavailable: %v", err)
	}
	assert.Equal(t, strings.ToLower(hostname), hostname)
	assert.Equal(t, strings.TrimSpace(hostname), hostname)
}

func TestGetMACAddress_Format(t *testing.T) {
	mac, err := GetMACAddress()
	if err != nil {
		t.Skipf("no usable interface: %v", err)
	}
	assert.NotEqual(t, "00:00:00:00:00:00", mac)
	assert.Contains(t, mac, ":")
}

func TestCPUModelLine(t *testing.T) {
	cpuinfo := "processor\t: 0\nvendor_id\t: GenuineIntel\nmodel name\t: Intel(R) Xeon(R)\ncpu MHz\t\t: 2200.000\n" +
		"processor\t: 1\nmodel name\t: Intel(R) Xeon(R)\ncpu MHz\t\t: 2199.998\n"

	assert.Equal(t, "model name\t: Intel(R) Xeon(R)", cpuModelLine(cpuinfo))
	assert.Empty(t, cpuModelLine("processor\t: 0\n"))
}

func TestGetMachineID(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	present := filepath.Join(dir, "machine-id")
	require.NoError(t, os.WriteFile(present, []byte("0123abcd\n"), 0o600))

	orig := machineIDPaths
	t.Cleanup(func() { machineIDPaths = orig })

	machineIDPaths = []string{missing, present}
	id, err := GetMachineID()
	require.NoError(t, err)
	assert.Equal(t, "0123abcd", id)

	machineIDPaths = []string{missing}
	_, err = GetMachineID()
	assert.Error(t, err)
}
