// Package gameport allocates the managed server's game port when the
// config leaves it unset.
package gameport

import (
	"fmt"
	"net"
)

// PickFree asks the OS for a currently unused TCP port. The listener
// is released before returning, so a small race with other processes
// exists; the managed server reports a bind failure through its own
// output if it loses that race.
func PickFree() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("probing for a free port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
