package session

import "runtime"

const (
	ProviderDistributedCenter = "distributed_notification_center"
	ProviderStub              = "stub"
)

// Environment summarises session notification backend support.
type Environment struct {
	Provider  string
	Available bool
	Message   string
}

// DetectEnvironment reports whether a real notification backend is compiled in.
func DetectEnvironment() Environment {
	return detectEnvironment(runtime.GOOS)
}

func detectEnvironment(goos string) Environment {
	if goos == "darwin" && nativeBackend {
		return Environment{
			Provider:  ProviderDistributedCenter,
			Available: true,
			Message:   "observing system-wide distributed notifications",
		}
	}
	return Environment{
		Provider:  ProviderStub,
		Available: false,
		Message:   ErrUnsupportedPlatform.Error(),
	}
}
