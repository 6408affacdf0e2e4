//go:build !darwin

package session

import "context"

const nativeBackend = false

type stubSource struct{}

// NewSource returns the platform notification source.
func NewSource() Source {
	return stubSource{}
}

func (stubSource) Register(string, func(Notification)) error {
	return ErrUnsupportedPlatform
}

func (stubSource) Run(context.Context) error {
	return ErrUnsupportedPlatform
}
