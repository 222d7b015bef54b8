package navigator

import (
	"fmt"
	"strings"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

const scheme = "rsdoc://"

// Request addresses one item: a crate identity, a path inside it and an
// optional page section.
type Request struct {
	Crate    graph.Identity
	Path     string
	Fragment string
}

func (r Request) String() string {
	return URI(r.Crate, r.Path) + fragmentSuffix(r.Fragment)
}

func fragmentSuffix(f string) string {
	if f == "" {
		return ""
	}
	return "#" + f
}

// URI renders rsdoc://crate/version[/path]. An empty version becomes
// "latest".
func URI(id graph.Identity, path string) string {
	version := id.Version
	if version == "" {
		version = "latest"
	}
	if path == "" {
		return fmt.Sprintf("%s%s/%s", scheme, id.Name, version)
	}
	return fmt.Sprintf("%s%s/%s/%s", scheme, id.Name, version, path)
}

// ParseCrate parses "name" or "name@version".
func ParseCrate(s string) (graph.Identity, error) {
	name, version, _ := strings.Cut(strings.TrimSpace(s), "@")
	if !validCrateName(name) {
		return graph.Identity{}, fmt.Errorf("%w: invalid crate name %q", ErrInvalidRequest, name)
	}
	if strings.ContainsAny(version, "/#") {
		return graph.Identity{}, fmt.Errorf("%w: invalid version %q", ErrInvalidRequest, version)
	}
	return graph.Identity{Name: name, Version: version}, nil
}

func validCrateName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// ParseRequest accepts
//
//	rsdoc://crate/version/path[#fragment]
//	crate/version/path[#fragment]
//	crate[@version][::path][#fragment]
func ParseRequest(s string) (Request, error) {
	s = strings.TrimSpace(s)
	var fragment string
	if idx := strings.LastIndex(s, "#"); idx >= 0 {
		s, fragment = s[:idx], s[idx+1:]
	}

	trimmed := strings.TrimPrefix(s, scheme)
	head, _, _ := strings.Cut(trimmed, "::")
	if trimmed != s || strings.Contains(head, "/") {
		parts := strings.SplitN(trimmed, "/", 3)
		if len(parts) < 2 || parts[1] == "" {
			return Request{}, fmt.Errorf("%w: %q needs crate/version/path", ErrInvalidRequest, s)
		}
		id, err := ParseCrate(parts[0])
		if err != nil {
			return Request{}, err
		}
		id.Version = parts[1]
		req := Request{Crate: id, Fragment: fragment}
		if len(parts) == 3 {
			req.Path = parts[2]
		}
		return req, nil
	}

	spec, path, _ := strings.Cut(s, "::")
	id, err := ParseCrate(spec)
	if err != nil {
		return Request{}, err
	}
	return Request{Crate: id, Path: path, Fragment: fragment}, nil
}
