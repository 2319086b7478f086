//go:build !unix

package rtp

import "syscall"

func controlVoiceSocket(int) func(network, address string, c syscall.RawConn) error {
	return nil
}
