package util

import "os"

const (
	ExitCodeStartFailed      = 1001
	ExitCodeInvalidConfig    = 1002
	ExitCodeShutdownFailed   = 1003
	ExitCodeHttpServerFailed = 1004
)

// OsExit is replaced in tests to observe exit codes without terminating.
var OsExit = os.Exit
