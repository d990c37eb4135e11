package transcriber

import "os"

// DeviceCUDA and DeviceCPU are the two compute devices a worker can bind.
const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// PickDevice resolves the configured device. "auto" probes for an NVIDIA
// device node, matching the platform's per-call GPU binding: a worker either
// has a GPU for its whole lifetime or it does not.
func PickDevice(configured string) string {
	switch configured {
	case DeviceCUDA, DeviceCPU:
		return configured
	}
	if _, err := os.Stat("/dev/nvidiactl"); err == nil {
		return DeviceCUDA
	}
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return DeviceCUDA
	}
	return DeviceCPU
}
