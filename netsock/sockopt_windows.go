package netsock

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// setBroadcastOption enables SO_BROADCAST on fd, the way the teacher's
// sys_windows.go swaps in the windows-specific syscall package where unix
// has no equivalent.
func setBroadcastOption(fd uintptr) error {
	on := int32(1)
	return windows.Setsockopt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, (*byte)(unsafe.Pointer(&on)), int32(unsafe.Sizeof(on)))
}
