// File: admission/rule.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address+mask rules and their ordered evaluation.

package admission

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/momentics/sockcore/api"
)

// Rule matches addresses whose masked bits equal IP's masked bits.
type Rule struct {
	IP   uint32
	Mask uint32
}

// Match reports whether ip falls inside the rule.
func (r Rule) Match(ip uint32) bool {
	return ip&r.Mask == r.IP&r.Mask
}

func (r Rule) String() string {
	if r.Mask == 0 && r.IP == 0 {
		return "all"
	}
	return api.FormatIPv4(r.IP) + "/" + api.FormatIPv4(r.Mask)
}

// ParseRule accepts "all", "a.b.c.d", "a.b.c.d/n" and "a.b.c.d/m.m.m.m".
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return Rule{}, nil
	}
	addr, mask, hasMask := strings.Cut(s, "/")
	ip, err := api.ParseIPv4(addr)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: admission: invalid address in %q", api.ErrInvalidArgument, s)
	}
	if !hasMask {
		return Rule{IP: ip, Mask: 0xFFFFFFFF}, nil
	}
	if strings.Contains(mask, ".") {
		m, err := api.ParseIPv4(mask)
		if err != nil {
			return Rule{}, fmt.Errorf("%w: admission: invalid mask in %q", api.ErrInvalidArgument, s)
		}
		return Rule{IP: ip, Mask: m}, nil
	}
	bits, err := strconv.Atoi(mask)
	if err != nil || bits < 0 || bits > 32 {
		return Rule{}, fmt.Errorf("%w: admission: invalid prefix length in %q", api.ErrInvalidArgument, s)
	}
	var m uint32
	if bits > 0 {
		m = ^uint32(0) << (32 - bits)
	}
	return Rule{IP: ip, Mask: m}, nil
}

// Order selects how allow and deny matches combine.
type Order int

const (
	// DenyAllow rejects deny matches first, then unconditionally accepts allow matches.
	DenyAllow Order = iota
	// AllowDeny unconditionally accepts allow matches first, then rejects deny matches.
	AllowDeny
	// MutualFailure accepts only allow matches that are not deny matches.
	MutualFailure
)

func (o Order) String() string {
	switch o {
	case AllowDeny:
		return "allow,deny"
	case MutualFailure:
		return "mutual-failure"
	}
	return "deny,allow"
}

// ParseOrder reads the textual order directive.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deny,allow":
		return DenyAllow, nil
	case "allow,deny":
		return AllowDeny, nil
	case "mutual-failure":
		return MutualFailure, nil
	}
	return DenyAllow, fmt.Errorf("%w: admission: unknown order %q", api.ErrInvalidArgument, s)
}

// Verdict is the outcome of rule evaluation.
type Verdict int

const (
	Reject Verdict = iota
	Accept
	// AcceptUnconditional accepts even addresses flagged by the rate gate.
	AcceptUnconditional
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case AcceptUnconditional:
		return "accept-unconditional"
	}
	return "reject"
}

// Policy is the ordered allow/deny rule set.
type Policy struct {
	Order Order
	Allow []Rule
	Deny  []Rule
}

// firstMatch returns the index of the first rule matching ip, or -1.
func firstMatch(rules []Rule, ip uint32) int {
	for i, r := range rules {
		if r.Match(ip) {
			return i
		}
	}
	return -1
}

// Evaluate combines the first allow and deny matches under the order.
func (p Policy) Evaluate(ip uint32) Verdict {
	allowed := firstMatch(p.Allow, ip) >= 0
	denied := firstMatch(p.Deny, ip) >= 0
	switch p.Order {
	case AllowDeny:
		if allowed {
			return AcceptUnconditional
		}
		if denied {
			return Reject
		}
		return Accept
	case MutualFailure:
		if allowed && !denied {
			return AcceptUnconditional
		}
		return Reject
	default:
		if denied {
			return Reject
		}
		if allowed {
			return AcceptUnconditional
		}
		return Accept
	}
}
