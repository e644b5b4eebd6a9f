// Package diagnose classifies SSH connection failures and suggests
// remediation. Classification is by matching the failure phrases the
// OpenSSH client actually prints, so it works on the combined output of a
// failed ssh invocation without any structured error channel.
package diagnose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/remoterun/internal/ctxlog"
	"github.com/user/remoterun/internal/remote"
)

// Class is the category of a connection failure.
type Class int

const (
	ClassUnknown Class = iota
	ClassTimeout
	ClassPermissionDenied
	ClassNoRoute
	ClassConnectionRefused
	ClassHostKeyMismatch
	ClassNetworkUnreachable
)

func (c Class) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassPermissionDenied:
		return "permission-denied"
	case ClassNoRoute:
		return "no-route"
	case ClassConnectionRefused:
		return "connection-refused"
	case ClassHostKeyMismatch:
		return "host-key-mismatch"
	case ClassNetworkUnreachable:
		return "network-unreachable"
	default:
		return "unknown"
	}
}

// Hint returns the operator remediation for the class.
func (c Class) Hint() string {
	switch c {
	case ClassTimeout:
		return "Connection timed out. Check that the instance is powered on and that its firewall allows SSH from your address."
	case ClassPermissionDenied:
		return "Authentication failed. Check the username and that the configured private key matches a key installed on the host."
	case ClassNoRoute:
		return "No route to host. The instance may still be booting, or its IP changed; re-check the target address."
	case ClassConnectionRefused:
		return "Connection refused. sshd may not be running yet, or SSH listens on a non-default port."
	case ClassHostKeyMismatch:
		return "Host key changed. The instance was likely rebuilt; remove the stale known_hosts entry if you manage one outside this tool."
	case ClassNetworkUnreachable:
		return "Network unreachable. Check your local connectivity (VPN, proxy, DNS) before retrying."
	default:
		return "Unclassified failure. Inspect the raw ssh output above."
	}
}

// NetworkLayer reports whether the class points at the network rather than
// authentication; only those classes are worth a verbose probe.
func (c Class) NetworkLayer() bool {
	switch c {
	case ClassTimeout, ClassNoRoute, ClassConnectionRefused, ClassNetworkUnreachable:
		return true
	}
	return false
}

var phraseClasses = []struct {
	phrase string
	class  Class
}{
	{"connection timed out", ClassTimeout},
	{"operation timed out", ClassTimeout},
	{"permission denied", ClassPermissionDenied},
	{"no route to host", ClassNoRoute},
	{"connection refused", ClassConnectionRefused},
	{"remote host identification has changed", ClassHostKeyMismatch},
	{"host key verification failed", ClassHostKeyMismatch},
	{"network is unreachable", ClassNetworkUnreachable},
}

// Classify matches output against the known failure phrases.
func Classify(output string) Class {
	lower := strings.ToLower(output)
	for _, pc := range phraseClasses {
		if strings.Contains(lower, pc.phrase) {
			return pc.class
		}
	}
	return ClassUnknown
}

// Diagnostics runs a verbose connection probe and reports classified hints.
type Diagnostics struct {
	Runner remote.Runner
	// ConnectTimeout bounds only the probe's TCP connect, separate from any
	// command timeout.
	ConnectTimeout time.Duration
	// LogDir receives probe transcripts; empty disables saving.
	LogDir string
}

// Report is what the operator gets after a failed connection.
type Report struct {
	Class   Class
	Hint    string
	LogPath string
}

// Explain classifies a failure and, for network-layer classes, runs a
// verbose probe whose transcript is saved for later inspection.
func (d *Diagnostics) Explain(ctx context.Context, target remote.Target, output string) Report {
	logger := ctxlog.From(ctx)
	class := Classify(output)
	rep := Report{Class: class, Hint: class.Hint()}
	logger.Warn("connection failure classified", "class", class.String(), "host", target.Host)

	if !class.NetworkLayer() || d.Runner == nil {
		return rep
	}
	path, err := d.probe(ctx, target)
	if err != nil {
		logger.Warn("diagnostic probe failed", "error", err)
		return rep
	}
	rep.LogPath = path
	return rep
}

// probe runs `true` over ssh with -v and a short connect timeout, capturing
// the client's negotiation chatter.
func (d *Diagnostics) probe(ctx context.Context, target remote.Target) (string, error) {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeTarget := target
	probeTarget.ConnectTimeoutSec = int(timeout.Seconds())
	probeTarget.Verbose = true

	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	res, runErr := d.Runner.Run(ctx, probeTarget, "true")
	if runErr != nil && res.Output == "" {
		return "", runErr
	}

	if d.LogDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(d.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("create diagnostics dir: %w", err)
	}
	name := fmt.Sprintf("ssh-diagnose-%s-%s.log", sanitizeHost(target.Host), time.Now().Format("20060102-150405"))
	path := filepath.Join(d.LogDir, name)
	body := fmt.Sprintf("target: %s\nexit code: %d\n\n%s", target.Addr(), res.ExitCode, res.Output)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("save diagnostics: %w", err)
	}
	return path, nil
}

func sanitizeHost(host string) string {
	return strings.ReplaceAll(host, ".", "-")
}
