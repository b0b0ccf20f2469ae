//go:build !linux

package checkengine

import "net"

// tfoAvailable is false on platforms without TCP_FASTOPEN_CONNECT.
const tfoAvailable = false

// dialFresh falls back to a classical connect. The resulting entry
// still starts with TFO "claimed" (tfo=true) even though no TFO
// attempt was made: this grants exactly one extra reconnect if the
// Connecting socket reports failure before becoming writable, the same
// one-shot leniency a TFO build gets from a rejected fast-open cookie.
func dialFresh(addr *net.TCPAddr) (dialResult, bool, error) {
	res, err := dialPlain(addr)
	if err != nil {
		return dialResult{}, false, err
	}
	return res, true, nil
}
