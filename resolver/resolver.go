// Package resolver finds the operator's current public address by
// looking up a dynamic-DNS hostname against an authoritative server after
// flushing the host's DNS cache.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"knockbot/logger"
	"knockbot/shell"
)

// Mode selects how the lookup itself is performed.
type Mode string

const (
	// ModeDig shells out to "dig +short".
	ModeDig Mode = "dig"
	// ModeNative sends the query in-process.
	ModeNative Mode = "native"
)

// Result is either resolved (non-empty Addr) or unavailable.
type Result struct {
	Addr string
}

func (r Result) Resolved() bool {
	return r.Addr != ""
}

// Exchanger sends a DNS message to a server. *dns.Client implements it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

type Resolver struct {
	Exec      shell.Executor
	Refresher Refresher
	Host      string
	// Server is the authoritative resolver, "1.1.1.1", "@1.1.1.1" or
	// "1.1.1.1:5353".
	Server string
	Mode   Mode
	// Exchanger is used in ModeNative; a 5s UDP client when nil.
	Exchanger Exchanger
}

// Resolve runs the cache refresh followed by the lookup. Every failure
// yields an unavailable Result.
func (r *Resolver) Resolve(ctx context.Context) Result {
	if r.Mode == ModeNative {
		return r.resolveNative(ctx)
	}
	return r.resolveDig(ctx)
}

// DigCommand is the composite refresh-then-lookup command line. The
// lookup runs whatever the refresh exit status, and the refresh output is
// discarded so only dig's answer is captured.
func (r *Resolver) DigCommand() string {
	host, port := r.server()
	lookup := fmt.Sprintf("dig +short %s @%s", r.Host, host)
	if port != "53" {
		lookup += " -p " + port
	}
	return "{ " + r.Refresher.Command + "; } >/dev/null 2>&1; " + lookup
}

func (r *Resolver) resolveDig(ctx context.Context) Result {
	log := logger.WithComponent("resolver")
	command := r.DigCommand()
	log.Infof("Executing dig command: %s", command)

	status, output, err := r.Exec.Run(ctx, command)
	if err != nil {
		log.WithError(err).Error("dig command could not be executed")
		return Result{}
	}
	log.Infof("dig command output: %s", output)

	output = strings.TrimSpace(output)
	if status != 0 || output == "" {
		log.Warnf("Failed to get IP with status %d: %s", status, output)
		return Result{}
	}
	return Result{Addr: output}
}

func (r *Resolver) resolveNative(ctx context.Context) Result {
	log := logger.WithComponent("resolver")

	if r.Refresher.Command != "" {
		status, output, err := r.Exec.Run(ctx, r.Refresher.Command)
		if err != nil {
			log.WithError(err).Warn("refresh command could not be executed")
		} else if status != 0 {
			log.Warnf("refresh command exited with status %d: %s", status, output)
		}
	}

	ex := r.Exchanger
	if ex == nil {
		ex = &dns.Client{Net: "udp", Timeout: 5 * time.Second}
	}

	host, port := r.server()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(r.Host), dns.TypeA)

	resp, _, err := ex.ExchangeContext(ctx, m, net.JoinHostPort(host, port))
	if err != nil {
		log.WithError(err).Warnf("lookup of %s failed", r.Host)
		return Result{}
	}
	if resp == nil || resp.Rcode != dns.RcodeSuccess {
		rcode := -1
		if resp != nil {
			rcode = resp.Rcode
		}
		log.Warnf("lookup of %s returned rcode %d", r.Host, rcode)
		return Result{}
	}

	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			log.Infof("%s resolved to %s", r.Host, a.A)
			return Result{Addr: a.A.String()}
		}
	}
	log.Warnf("no A record for %s", r.Host)
	return Result{}
}

// server splits Server into host and port, defaulting the port to 53.
func (r *Resolver) server() (string, string) {
	s := strings.TrimPrefix(r.Server, "@")
	if host, port, err := net.SplitHostPort(s); err == nil {
		return host, port
	}
	return s, "53"
}
