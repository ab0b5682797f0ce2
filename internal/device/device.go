// Package device describes the compute device a run targets and scopes a
// step's execution to it.
package device

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Device is a CPU execution target. Threads bounds the parallelism the Go
// runtime may use while the device is active.
type Device struct {
	Name     string
	Brand    string
	Threads  int
	Features []string
}

// String renders the device as "cpu" or "cpu:<threads>".
func (d Device) String() string {
	if d.Threads <= 0 || d.Threads == runtime.NumCPU() {
		return d.Name
	}
	return fmt.Sprintf("%s:%d", d.Name, d.Threads)
}

// Equal reports whether two devices select the same execution target.
func (d Device) Equal(other Device) bool {
	return d.Name == other.Name && d.Threads == other.Threads
}

var vectorFeatures = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"sse4.2", cpuid.SSE42},
	{"avx", cpuid.AVX},
	{"avx2", cpuid.AVX2},
	{"fma3", cpuid.FMA3},
	{"avx512f", cpuid.AVX512F},
	{"avx512dq", cpuid.AVX512DQ},
	{"asimd", cpuid.ASIMD},
}

// Default describes the host CPU with every logical core available.
func Default() Device {
	d := Device{Name: "cpu", Brand: cpuid.CPU.BrandName, Threads: runtime.NumCPU()}
	for _, f := range vectorFeatures {
		if cpuid.CPU.Supports(f.id) {
			d.Features = append(d.Features, f.name)
		}
	}
	return d
}

// Parse reads "cpu" or "cpu:<threads>".
func Parse(spec string) (Device, error) {
	d := Default()
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" || spec == "cpu" {
		return d, nil
	}
	name, threads, ok := strings.Cut(spec, ":")
	if name != "cpu" || !ok {
		return Device{}, fmt.Errorf("device: unsupported device %q", spec)
	}
	n, err := strconv.Atoi(threads)
	if err != nil || n <= 0 {
		return Device{}, fmt.Errorf("device: invalid thread count in %q", spec)
	}
	d.Threads = n
	return d, nil
}

var scopeMu sync.Mutex

// Enter activates target for the duration of a step when it differs from
// the default device. The returned func restores the previous state and
// must be deferred.
func Enter(target Device) func() {
	if target.Threads <= 0 || target.Equal(Default()) {
		return func() {}
	}
	scopeMu.Lock()
	previous := runtime.GOMAXPROCS(target.Threads)
	return func() {
		runtime.GOMAXPROCS(previous)
		scopeMu.Unlock()
	}
}
