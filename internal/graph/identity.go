package graph

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// WorkspaceVersion marks a crate built from a local workspace rather than a
// published release.
const WorkspaceVersion = "workspace"

// Identity names one documentation unit.
type Identity struct {
	Name     string
	Version  string
	Revision int
}

// NormalizeName folds the dash/underscore distinction between Cargo package
// names and Rust library names.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// SameCrateName reports whether a and b name the same crate.
func SameCrateName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// Key is the registry key for the identity. The revision is an attribute of
// the loaded export and is carried by the Fingerprint instead.
func (id Identity) Key() string {
	v := id.Version
	if v == "" {
		v = "latest"
	}
	return NormalizeName(id.Name) + "@" + v
}

func (id Identity) IsWorkspace() bool {
	return id.Version == WorkspaceVersion
}

func (id Identity) String() string {
	if id.Version == "" {
		return id.Name
	}
	return id.Name + "@" + id.Version
}

// Fingerprint ties a derived artifact to the exact export it came from.
type Fingerprint struct {
	Version  string
	Revision int
	Digest   uint64
}

// NewFingerprint hashes the raw export bytes for id.
func NewFingerprint(id Identity, data []byte) Fingerprint {
	return Fingerprint{
		Version:  id.Version,
		Revision: id.Revision,
		Digest:   xxhash.Sum64(data),
	}
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/r%d/%016x", f.Version, f.Revision, f.Digest)
}
