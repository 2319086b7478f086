//go:build unix

package rtp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlVoiceSocket возвращает Control для net.ListenConfig: SO_REUSEADDR
// и DSCP в поле TOS.
func controlVoiceSocket(dscp int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
				return
			}
			if dscp == 0 {
				return
			}
			// DSCP в старших шести битах TOS; ошибки в контейнерах не критичны
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
