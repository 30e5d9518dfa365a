// Package rules turns firewall rule templates into one composite shell
// command for a given address and runs it.
package rules

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"knockbot/logger"
	"knockbot/shell"
)

// Placeholder is replaced by the address in every template.
const Placeholder = "{ip}"

// errorMarker in the command output marks the run as failed even on a
// zero exit status. Legitimate output containing the word is misread as a
// failure.
const errorMarker = "Error"

// ErrInvalidAddress is returned for arguments that are neither an IP
// literal nor a CIDR prefix. Nothing is executed in that case.
var ErrInvalidAddress = errors.New("invalid IP address")

// ApplyError carries the raw command output of a failed application.
type ApplyError struct {
	Status int
	Output string
}

func (e *ApplyError) Error() string {
	return "Error: " + e.Output
}

// Compose substitutes addr into each template and chains the results
// with "&&".
func Compose(templates []string, addr string) string {
	cmds := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		cmds = append(cmds, strings.ReplaceAll(tmpl, Placeholder, addr))
	}
	return strings.Join(cmds, " && ")
}

// Validate checks that every template carries exactly one placeholder.
func Validate(templates []string) error {
	if len(templates) == 0 {
		return errors.New("no rule templates")
	}
	for i, tmpl := range templates {
		if n := strings.Count(tmpl, Placeholder); n != 1 {
			return fmt.Errorf("rule %d: want exactly one %s placeholder, found %d", i, Placeholder, n)
		}
	}
	return nil
}

type Applier struct {
	exec      shell.Executor
	templates []string
}

func New(exec shell.Executor, templates []string) *Applier {
	return &Applier{
		exec:      exec,
		templates: append([]string(nil), templates...),
	}
}

// Templates returns a copy of the configured templates.
func (a *Applier) Templates() []string {
	return append([]string(nil), a.templates...)
}

// Apply whitelists addr by running all templates as one command.
func (a *Applier) Apply(ctx context.Context, addr string) error {
	log := logger.WithComponent("rules").WithField("ip", addr)

	if !validAddress(addr) {
		log.Warn("refusing to apply rules for invalid address")
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	command := Compose(a.templates, addr)
	log.Infof("Executing iptables commands: %s", command)

	status, output, err := a.exec.Run(ctx, command)
	if err != nil {
		log.WithError(err).Error("rule command could not be executed")
		return fmt.Errorf("executing rules: %w", err)
	}
	log.Infof("iptables command output: %s", output)

	if status != 0 || strings.Contains(output, errorMarker) {
		return &ApplyError{Status: status, Output: output}
	}
	return nil
}

// validAddress accepts what iptables -s takes without letting shell
// syntax through: a single address or a network prefix.
func validAddress(s string) bool {
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	_, err := netip.ParsePrefix(s)
	return err == nil
}
