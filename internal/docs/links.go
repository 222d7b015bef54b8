package docs

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/markdown"
)

// docsRsCrateNameRe extracts the package name and version from a docs.rs
// html_root_url.
// Example: "https://docs.rs/tracing-core/0.1.36/x86_64-unknown-linux-gnu/" → "tracing-core", "0.1.36"
var docsRsCrateNameRe = regexp.MustCompile(`^https?://docs\.rs/([^/]+)/(?:([^/]+)/)?`)

// crateName prefers the name in html_root_url, since Name is the lib name
// (underscores) and the package name may use hyphens.
func (e externalCrate) crateName() string {
	if m := docsRsCrateNameRe.FindStringSubmatch(e.HTMLRootURL); m != nil {
		return m[1]
	}
	return e.Name
}

// version is the dependency version pinned by html_root_url, or "" when the
// URL names none or says "latest".
func (e externalCrate) version() string {
	m := docsRsCrateNameRe.FindStringSubmatch(e.HTMLRootURL)
	if m == nil || m[2] == "latest" {
		return ""
	}
	return m[2]
}

func (n *normalizer) externalByName(name string) (externalCrate, bool) {
	for _, ext := range n.crate.ExternalCrates {
		if graph.SameCrateName(ext.Name, name) || graph.SameCrateName(ext.crateName(), name) {
			return ext, true
		}
	}
	return externalCrate{}, false
}

// refs lists the references in an item's docs. Links rustdoc resolved are
// bound through the item's links table; docs.rs and std documentation URLs
// become external targets; other code-like links stay symbolic for the
// link resolver. Resolved links whose span cannot be found are appended
// with Start and End set to -1.
func (n *normalizer) refs(it *rustdocItem) []graph.Ref {
	docs := it.docs()
	if docs == "" && len(it.Links) == 0 {
		return nil
	}

	var refs []graph.Ref
	used := make(map[string]bool)
	for _, l := range markdown.Links(docs) {
		ref := graph.Ref{Text: l.Text, Dest: l.Dest, Start: l.Start, End: l.End}
		if key, rid, ok := matchLink(it.Links, l); ok {
			used[key] = true
			ref.Target = n.target(rid)
		} else if t, ok := docsRsTarget(l.Dest); ok {
			ref.Target = t
		} else if codeLike(l.Dest) {
			ref.Target = n.symbolic(l.Dest)
		} else {
			continue
		}
		refs = append(refs, ref)
	}

	var rest []string
	for key := range it.Links {
		if !used[key] {
			rest = append(rest, key)
		}
	}
	slices.Sort(rest)
	for _, key := range rest {
		refs = append(refs, graph.Ref{Text: key, Dest: key, Start: -1, End: -1, Target: n.target(it.Links[key])})
	}
	return refs
}

// matchLink finds the links table entry for a markdown link. rustdoc keys
// the table by the destination as written, which for shortcut links is the
// bracket text including any backticks.
func matchLink(links map[string]uint32, l markdown.Link) (string, uint32, bool) {
	if len(links) == 0 {
		return "", 0, false
	}
	for _, key := range []string{l.Dest, l.Text, "`" + l.Text + "`", strings.Trim(l.Dest, "`")} {
		if rid, ok := links[key]; ok {
			return key, rid, true
		}
	}
	return "", 0, false
}

var codePathRe = regexp.MustCompile(`^(?:[a-z]+@)?[A-Za-z_][A-Za-z0-9_]*(?:::[A-Za-z_][A-Za-z0-9_]*)*(?:\(\)|!)?$`)

// codeLike reports whether a link destination reads as a Rust path rather
// than prose: it is wrapped in backticks, or uses path or call syntax.
func codeLike(dest string) bool {
	bare := strings.Trim(dest, "`")
	if !codePathRe.MatchString(bare) {
		return false
	}
	return bare != dest || strings.Contains(bare, "::") || strings.Contains(bare, "@") ||
		strings.HasSuffix(bare, "()") || strings.HasSuffix(bare, "!")
}

// symbolic builds an unbound target from a code-like destination.
func (n *normalizer) symbolic(dest string) graph.Target {
	bare := strings.Trim(dest, "`")
	bare = strings.TrimSuffix(strings.TrimSuffix(bare, "()"), "!")
	return n.targetFromSource(bare)
}

// docsRsTarget converts a docs.rs or doc.rust-lang.org item URL into an
// external target. Crate info pages and URLs without a crate path are not
// convertible.
func docsRsTarget(rawURL string) (graph.Target, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return graph.Target{}, false
	}

	path := strings.Trim(u.Path, "/")
	var crate, version string
	var segments []string
	switch u.Host {
	case "docs.rs":
		// Skip /crate/ info pages
		if strings.HasPrefix(path, "crate/") {
			return graph.Target{}, false
		}
		parts := strings.SplitN(path, "/", 3)
		if len(parts) < 3 {
			return graph.Target{}, false
		}
		crate, version = parts[0], parts[1]
		segments = strings.Split(parts[2], "/")
	case "doc.rust-lang.org":
		parts := strings.Split(path, "/")
		if len(parts) > 0 && isChannel(parts[0]) {
			if parts[0] != "stable" && parts[0] != "beta" && parts[0] != "nightly" {
				version = parts[0]
			}
			parts = parts[1:]
		}
		if len(parts) == 0 || !slices.Contains([]string{"std", "core", "alloc", "proc_macro", "test"}, parts[0]) {
			return graph.Target{}, false
		}
		crate, segments = parts[0], parts
	default:
		return graph.Target{}, false
	}
	if version == "latest" {
		version = ""
	}

	// Trim empty trailing segments
	for len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return graph.Target{}, false
	}
	// segments[0] is the lib name of the crate
	segments = segments[1:]

	t := graph.Target{Kind: graph.TargetExternal, Crate: crate, Version: version}
	// Handle last segment: index.html (module) or {kind}.{Name}.html (item)
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		if strings.HasSuffix(last, ".html") {
			base := strings.TrimSuffix(last, ".html")
			if base == "index" {
				segments = segments[:len(segments)-1]
				t.RawKind = "mod"
			} else if kind, name, ok := strings.Cut(base, "."); ok {
				segments[len(segments)-1] = name
				t.RawKind = summaryDiscriminator(kind)
			}
		}
	}
	if kind, name, ok := strings.Cut(u.Fragment, "."); ok && name != "" {
		switch kind {
		case "method", "tymethod":
			segments = append(segments, name)
			t.RawKind = "fn"
		case "variant", "structfield", "associatedtype", "associatedconstant":
			segments = append(segments, name)
			t.RawKind = ""
		}
	}
	t.Path = segments
	return t, true
}

func isChannel(s string) bool {
	switch s {
	case "stable", "beta", "nightly":
		return true
	}
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}
