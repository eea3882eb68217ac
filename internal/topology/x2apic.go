// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

// Leaf holds the output registers of a CPUID query
type Leaf struct {
	EAX, EBX, ECX, EDX uint32
}

// x2APIC topology enumeration leaf and its levels
const (
	extendedTopologyLeaf = 0xB
	smtLevel             = 0
	coreLevel            = 1
)

// DecodeX2APIC splits the x2APIC id reported by CPUID leaf 0xB into
// package, core and SMT ids. smt and core are the outputs of sub-leaf 0
// and 1; EAX[4:0] of each is the number of id bits below the next level.
func DecodeX2APIC(smt, core Leaf) (pkgID, coreID, smtID int) {
	smtWidth := smt.EAX & 0x1f
	smtMask := uint32(1)<<smtWidth - 1
	smtID = int(smt.EDX & smtMask)

	coreWidth := core.EAX & 0x1f
	coreMask := (uint32(1)<<coreWidth - 1) ^ smtMask
	coreID = int((core.EDX & coreMask) >> smtWidth)

	pkgMask := ^(uint32(1)<<coreWidth - 1)
	pkgID = int((core.EDX & pkgMask) >> coreWidth)
	return pkgID, coreID, smtID
}
