package netsock

import "golang.org/x/sys/unix"

// setBroadcastOption enables SO_BROADCAST on fd, the way the teacher's
// sys_linux.go configures platform-specific socket/interface state.
func setBroadcastOption(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
}
