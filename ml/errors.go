package ml

import "errors"

var (
	// ErrNoDriver is returned when a driver name is not registered.
	ErrNoDriver = errors.New("ml: no such driver")

	// ErrNoDevice is returned when a device index is out of range.
	ErrNoDevice = errors.New("ml: no such device")

	// ErrInvalidBinary is returned when a program binary cannot be loaded.
	ErrInvalidBinary = errors.New("ml: invalid program binary")

	// ErrInvalidKernel is returned for unknown or released kernels.
	ErrInvalidKernel = errors.New("ml: invalid kernel")

	// ErrBuildFailure is matched by compiler and linker failures.
	ErrBuildFailure = errors.New("ml: build failure")

	// ErrProgramNotBuilt is returned when kernels are requested from a
	// program whose build did not succeed.
	ErrProgramNotBuilt = errors.New("ml: program not built")

	// ErrInvalidBuffer is returned for released or foreign device buffers.
	ErrInvalidBuffer = errors.New("ml: invalid device buffer")

	// ErrSizeMismatch is returned when a transfer does not match the buffer size.
	ErrSizeMismatch = errors.New("ml: transfer size mismatch")

	// ErrDeviceLost is returned after a device has been closed.
	ErrDeviceLost = errors.New("ml: device lost")
)
