package iface

import "crypto/sha256"

// Hash is an interface hash (spec.md "InterfaceHash ... a 32-byte content
// hash... Equality is byte-wise"): a fixed-size opaque value, not a string or
// a narrowed integer digest of one. The wire format hands the kernel 32 raw
// bytes directly (internal/extrinsic reads them straight out of the calling
// process's memory); HashName exists only so the kernel's own fixed set of
// named interfaces (time, random, kernel-log, hardware-io, the registration
// protocol, kernel debug metrics) can be identified by a stable value derived
// from their name instead of a hardcoded literal at every call site.
type Hash [32]byte

// HashName derives the 32-byte Hash for one of the kernel's own named
// interfaces. sha256 is a convenient fixed-32-byte digest already reachable
// through the standard library; nothing about its being cryptographic is
// load-bearing here, since the only property this package relies on is that
// two different names produce different Hash values.
func HashName(name string) Hash {
	return sha256.Sum256([]byte(name))
}
