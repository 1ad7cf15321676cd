package sink

import "syscall"

// errInterrupted and syscallNotEmpty classify the two transient/expected
// errno values the cleanup and open paths need to distinguish from fatal
// I/O failures.
var (
	errInterrupted  error = syscall.EINTR
	syscallNotEmpty error = syscall.ENOTEMPTY
)
