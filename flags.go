// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"math/bits"
	"strings"
)

// ContextFlag is a set of context facilities, either requested by the initiator or
// reported as available.  The values are those of the C bindings (RFC 2744 § 3.9.3);
// the low five bits travel in the Kerberos authenticator checksum.
type ContextFlag uint32

const (
	ContextFlagDeleg     ContextFlag = 1 << iota // delegate credentials to the acceptor
	ContextFlagMutual                            // acceptor authenticates itself
	ContextFlagReplay                            // detect replayed per-message tokens
	ContextFlagSequence                          // detect out of sequence per-message tokens
	ContextFlagConf                              // confidentiality available
	ContextFlagInteg                             // integrity available
	ContextFlagAnon                              // initiator identity not revealed
	ContextFlagProtReady                         // per-message protection is available
	ContextFlagTrans                             // context can be exported
)

var flagNames = map[ContextFlag]string{
	ContextFlagDeleg:     "Delegation",
	ContextFlagMutual:    "Mutual authentication",
	ContextFlagReplay:    "Message replay detection",
	ContextFlagSequence:  "Out of sequence message detection",
	ContextFlagConf:      "Confidentiality",
	ContextFlagInteg:     "Integrity",
	ContextFlagAnon:      "Anonymous",
	ContextFlagProtReady: "Protection ready",
	ContextFlagTrans:     "Transferable",
}

// FlagList splits f into its individual flags, lowest first.
func FlagList(f ContextFlag) []ContextFlag {
	var fl []ContextFlag
	for f != 0 {
		bit := ContextFlag(1) << bits.TrailingZeros32(uint32(f))
		fl = append(fl, bit)
		f &^= bit
	}
	return fl
}

func flagName(f ContextFlag) string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return "Unknown"
}

// String lists the names of the flags in f, separated by commas.
func (f ContextFlag) String() string {
	fl := FlagList(f)
	names := make([]string, len(fl))
	for i, flag := range fl {
		names[i] = flagName(flag)
	}
	return strings.Join(names, ", ")
}
