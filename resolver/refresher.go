package resolver

import (
	"context"
	"errors"
	"fmt"

	"knockbot/shell"
)

// ErrNoNetworkTool is returned by Detect when none of the supported
// network managers is installed.
var ErrNoNetworkTool = errors.New("no recognized network manager")

// Refresher is a network manager able to drop the host's cached DNS
// answers before a lookup.
type Refresher struct {
	Tool    string
	Command string
}

func (r Refresher) String() string {
	return r.Tool
}

// Refreshers lists the supported network managers in detection order.
var Refreshers = []Refresher{
	{Tool: "nmcli", Command: "sudo /usr/bin/nmcli general reload dns-full"},
	{Tool: "resolvectl", Command: "sudo /usr/bin/resolvectl flush-caches"},
	{Tool: "ifup", Command: "sudo /sbin/ifup --force"},
	{Tool: "networkctl", Command: "sudo /usr/bin/networkctl reload"},
	{Tool: "netplan", Command: "sudo /usr/sbin/netplan apply"},
}

// Detect checks Refreshers in order with "command -v" and returns the
// first one present on the host.
func Detect(ctx context.Context, exec shell.Executor) (Refresher, error) {
	for _, r := range Refreshers {
		status, _, err := exec.Run(ctx, fmt.Sprintf("command -v %s", r.Tool))
		if err == nil && status == 0 {
			return r, nil
		}
	}
	return Refresher{}, ErrNoNetworkTool
}
