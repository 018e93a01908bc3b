package firewall

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/exec"
)

// IPTables permits addresses by inserting an ACCEPT rule into a chain.
type IPTables struct {
	Binary string // defaults to "iptables"
	Chain  string // defaults to "INPUT"
	Logger *log.Logger
}

func (f *IPTables) binary() string {
	if f.Binary == "" {
		return "iptables"
	}
	return f.Binary
}

func (f *IPTables) chain() string {
	if f.Chain == "" {
		return "INPUT"
	}
	return f.Chain
}

// Permit inserts an ACCEPT rule for addr. The rule is checked first so
// repeated permits do not stack duplicate rules.
func (f *IPTables) Permit(ctx context.Context, addr string) error {
	if net.ParseIP(addr) == nil {
		return &EnforcerError{Addr: addr, Err: fmt.Errorf("not an IP address")}
	}

	// iptables -C exits non-zero when the rule is absent.
	check := exec.CommandContext(ctx, f.binary(), "-C", f.chain(), "-s", addr, "-j", "ACCEPT")
	if err := check.Run(); err == nil {
		f.Logger.Printf("permit %s: rule already present", addr)
		return nil
	}

	insert := exec.CommandContext(ctx, f.binary(), "-I", f.chain(), "-s", addr, "-j", "ACCEPT")
	if out, err := insert.CombinedOutput(); err != nil {
		return &EnforcerError{Addr: addr, Err: fmt.Errorf("%v: %s", err, out)}
	}
	f.Logger.Printf("permitted %s on chain %s", addr, f.chain())
	return nil
}
