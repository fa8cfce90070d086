package skeleton

import (
	"fmt"

	pkgerrors "rootprep/pkg/errors"
)

const (
	// machineIDLen is the number of machine-id hex characters consumed
	// when deriving the machine name.
	machineIDLen = 28

	// hostsLineMax bounds the synthesized /etc/hosts line.
	hostsLineMax = 128
)

// machineName reformats the leading machine-id characters as
// rkt-XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXX.
func machineName(machineID []byte) (string, error) {
	if len(machineID) < machineIDLen {
		return "", pkgerrors.Newf(pkgerrors.MachineIDFailed,
			"machine-id has %d characters, want at least %d", len(machineID), machineIDLen)
	}
	id := machineID[:machineIDLen]
	return fmt.Sprintf("rkt-%s-%s-%s-%s-%s",
		id[0:8], id[8:12], id[12:16], id[16:20], id[20:28]), nil
}

// hostsLine synthesizes the single line written to a fresh etc/hosts.
func hostsLine(name string) (string, error) {
	line := fmt.Sprintf("%s\t%s\t%s\t%s\n",
		"127.0.0.1", name, "localhost", "localhost.localdomain")
	if len(line) >= hostsLineMax {
		return "", pkgerrors.Newf(pkgerrors.HostsFileFailed,
			"hosts line too long: %q", line)
	}
	return line, nil
}
