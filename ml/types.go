// types.go - Zugriffsmodi und Build-Status
package ml

import "fmt"

// Access classifies how a kernel uses an argument buffer.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
	AccessReadWrite
)

func (a Access) String() string {
	switch a {
	case AccessNone:
		return "NONE"
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	case AccessReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// Reads reports whether the kernel reads the buffer before writing it.
func (a Access) Reads() bool {
	return a == AccessRead || a == AccessReadWrite
}

// Writes reports whether the kernel writes results into the buffer.
func (a Access) Writes() bool {
	return a == AccessWrite || a == AccessReadWrite
}

// ParseAccess parses READ, WRITE or READ_WRITE (case-insensitive forms
// like "rw" are accepted too).
func ParseAccess(s string) (Access, error) {
	switch s {
	case "READ", "read", "r":
		return AccessRead, nil
	case "WRITE", "write", "w":
		return AccessWrite, nil
	case "READ_WRITE", "read_write", "rw":
		return AccessReadWrite, nil
	}
	return AccessNone, fmt.Errorf("unknown access mode %q", s)
}

type BuildStatus int

const (
	BuildNone BuildStatus = iota
	BuildInProgress
	BuildSuccess
	BuildError
)

func (s BuildStatus) String() string {
	switch s {
	case BuildNone:
		return "CL_BUILD_NONE"
	case BuildInProgress:
		return "CL_BUILD_IN_PROGRESS"
	case BuildSuccess:
		return "CL_BUILD_SUCCESS"
	case BuildError:
		return "CL_BUILD_ERROR"
	default:
		return fmt.Sprintf("BuildStatus(%d)", int(s))
	}
}
