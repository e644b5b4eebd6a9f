// Package remote wraps the system ssh and scp clients for non-interactive
// use against a single host. All invocations run with BatchMode and relaxed
// host-key checking so automation never blocks on a prompt.
package remote

import (
	"fmt"
	"strconv"
)

// Target identifies the remote host for one operation. Values are copied in
// from config or flags and never mutated.
type Target struct {
	Host    string
	User    string
	KeyFile string
	Port    int

	// ConnectTimeoutSec, when positive, adds -o ConnectTimeout to ssh
	// invocations. Used by connection diagnostics; ordinary commands run
	// without a client-side timeout.
	ConnectTimeoutSec int

	// Verbose adds -v, used only for diagnostic probes.
	Verbose bool
}

// Validate reports the first missing required field. Callers check this
// before any process is spawned.
func (t Target) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("remote target: host is empty")
	}
	if t.User == "" {
		return fmt.Errorf("remote target: user is empty")
	}
	return nil
}

// Addr returns the user@host string ssh and scp expect.
func (t Target) Addr() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}

// baseOptions are passed to every ssh/scp invocation.
var baseOptions = []string{
	"-o", "BatchMode=yes",
	"-o", "StrictHostKeyChecking=no",
	"-o", "UserKnownHostsFile=/dev/null",
}

// SSHArgs builds the argument list for running a command on t, up to but not
// including the remote command itself.
func (t Target) SSHArgs() []string {
	args := append([]string{}, baseOptions...)
	if t.ConnectTimeoutSec > 0 {
		args = append(args, "-o", "ConnectTimeout="+strconv.Itoa(t.ConnectTimeoutSec))
	}
	if t.Verbose {
		args = append(args, "-v")
	}
	if t.Port > 0 {
		args = append(args, "-p", strconv.Itoa(t.Port))
	}
	if t.KeyFile != "" {
		args = append(args, "-i", t.KeyFile)
	}
	return append(args, t.Addr())
}

// SCPArgs builds the option part of an scp invocation against t. scp spells
// the port flag -P, unlike ssh.
func (t Target) SCPArgs() []string {
	args := append([]string{}, baseOptions...)
	if t.Port > 0 {
		args = append(args, "-P", strconv.Itoa(t.Port))
	}
	if t.KeyFile != "" {
		args = append(args, "-i", t.KeyFile)
	}
	return args
}

// SSHTransport renders the ssh command string handed to rsync via -e.
func (t Target) SSHTransport() string {
	cmd := "ssh -o BatchMode=yes -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null"
	if t.Port > 0 {
		cmd += " -p " + strconv.Itoa(t.Port)
	}
	if t.KeyFile != "" {
		cmd += " -i " + Quote(t.KeyFile)
	}
	return cmd
}
