// Package memory estimates whether a model is likely to fit in the system's
// available memory before it is loaded. Estimates are advisory: the
// registry never refuses a load based on them, it only surfaces a warning
// through the load endpoint.
package memory

import (
	"github.com/docker/go-units"
	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"

	"github.com/shimmy-run/shimmy/pkg/inference"
)

// Requirement is the estimated RAM/VRAM a model needs once loaded.
type Requirement struct {
	RAM  uint64
	VRAM uint64
}

// String renders the requirement in human-readable units, e.g. "4.2GiB RAM,
// 0B VRAM".
func (r Requirement) String() string {
	return units.BytesSize(float64(r.RAM)) + " RAM, " + units.BytesSize(float64(r.VRAM)) + " VRAM"
}

// Available is the memory currently detected on the host.
type Available struct {
	RAM  uint64
	VRAM uint64
}

// DetectAvailable queries the host for available RAM via go-sysinfo and
// estimates VRAM availability by the presence of dedicated GPU devices via
// ghw. VRAM capacity itself is not reliably enumerable across platforms, so
// a present GPU contributes a conservative fixed allowance rather than 0;
// absence of any GPU leaves VRAM at 0 so VRAM-bound estimates always fail
// closed (treated as "no headroom") rather than silently passing.
func DetectAvailable() (Available, error) {
	var avail Available

	host, err := sysinfo.Host()
	if err != nil {
		return avail, inference.Wrap(inference.ErrorInternal, "detecting host memory", err)
	}
	mem, err := host.Memory()
	if err != nil {
		return avail, inference.Wrap(inference.ErrorInternal, "reading host memory info", err)
	}
	avail.RAM = mem.Available

	if gpuInfo, err := ghw.GPU(); err == nil && gpuInfo != nil && len(gpuInfo.GraphicsCards) > 0 {
		const conservativeVRAMPerCard = 4 * units.GiB
		avail.VRAM = uint64(len(gpuInfo.GraphicsCards)) * conservativeVRAMPerCard
	}

	return avail, nil
}

// EstimateForSpec returns a rough memory requirement for spec, derived from
// the size of its base model file on disk (a GGUF file's on-disk size is
// dominated by its quantized weights, so it is a reasonable proxy for
// resident memory once loaded) plus a fixed per-context overhead scaled by
// the spec's context length.
func EstimateForSpec(spec inference.ModelSpec, baseFileSizeBytes uint64) Requirement {
	const bytesPerContextToken = 512 // KV-cache overhead approximation

	req := Requirement{RAM: baseFileSizeBytes}
	req.RAM += uint64(spec.ContextLength) * bytesPerContextToken

	if spec.DeviceHint == "gpu" || spec.DeviceHint == "cuda" || spec.DeviceHint == "rocm" {
		req.VRAM = req.RAM
		req.RAM = 0
	}
	return req
}

// Fits reports whether req is no larger than avail on the one axis req
// uses: if req carries a VRAM figure (EstimateForSpec sets one for a GPU
// device hint), only VRAM is checked; otherwise only RAM is checked.
func Fits(req Requirement, avail Available) bool {
	if req.VRAM > 0 {
		return req.VRAM <= avail.VRAM
	}
	return req.RAM <= avail.RAM
}
