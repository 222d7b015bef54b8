package docs

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// adapter maps one format revision's field layout onto the canonical shape.
// Adding a revision means adding an adapter here and nothing else.
type adapter interface {
	revision() int
	// pathName returns the name a rustdoc Path was written with.
	pathName(p *rustdocPath) string
	attrs(raw json.RawMessage) ([]string, error)
}

// rustdocPath is a reference to another item inside a type. Revision 55
// names it with `name`; later revisions renamed the field to `path`.
type rustdocPath struct {
	Name *string         `json:"name"`
	Path *string         `json:"path"`
	ID   uint32          `json:"id"`
	Args json.RawMessage `json:"args"`
}

// rev55 carries attributes as raw source strings and names paths with `name`.
type rev55 struct{}

func (rev55) revision() int { return 55 }

func (rev55) pathName(p *rustdocPath) string {
	if p.Name == nil {
		return ""
	}
	return *p.Name
}

func (rev55) attrs(raw json.RawMessage) ([]string, error) {
	return stringAttrs(raw)
}

// rev56 renamed Path.name to Path.path.
type rev56 struct{ rev55 }

func (rev56) revision() int { return 56 }

func (rev56) pathName(p *rustdocPath) string {
	if p.Path == nil {
		return ""
	}
	return *p.Path
}

// rev57 replaced string attributes with a tagged enum.
type rev57 struct{ rev56 }

func (rev57) revision() int { return 57 }

func (rev57) attrs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		var unit string
		if err := json.Unmarshal(a, &unit); err == nil {
			out = append(out, "#["+unit+"]")
			continue
		}
		var tagged map[string]json.RawMessage
		if err := json.Unmarshal(a, &tagged); err != nil {
			return nil, fmt.Errorf("attribute is neither a string nor an object: %w", err)
		}
		for key, val := range tagged {
			if key == "other" {
				var s string
				if err := json.Unmarshal(val, &s); err != nil {
					return nil, fmt.Errorf("attribute %q: %w", key, err)
				}
				out = append(out, s)
				continue
			}
			out = append(out, "#["+key+"]")
		}
	}
	return out, nil
}

func stringAttrs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var attrs []string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

var adapters = map[int]adapter{
	55: rev55{},
	56: rev56{},
	57: rev57{},
}

// SupportedRevisions lists the rustdoc format revisions Normalize accepts.
func SupportedRevisions() []int {
	revs := make([]int, 0, len(adapters))
	for r := range adapters {
		revs = append(revs, r)
	}
	slices.Sort(revs)
	return revs
}

// IsSupported reports whether rev has an adapter.
func IsSupported(rev int) bool {
	_, ok := adapters[rev]
	return ok
}

// Header is the part of an export that identifies it.
type Header struct {
	FormatVersion int
	CrateVersion  string
}

// PeekHeader reads only the identifying fields of an export.
func PeekHeader(data []byte) (Header, error) {
	var head struct {
		FormatVersion *int    `json:"format_version"`
		CrateVersion  *string `json:"crate_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Header{}, malformed("", err)
	}
	if head.FormatVersion == nil {
		return Header{}, malformed("format_version", errors.New("missing"))
	}
	h := Header{FormatVersion: *head.FormatVersion}
	if head.CrateVersion != nil {
		h.CrateVersion = *head.CrateVersion
	}
	return h, nil
}

// PeekRevision reads only the format_version field of an export.
func PeekRevision(data []byte) (int, error) {
	h, err := PeekHeader(data)
	return h.FormatVersion, err
}

// visibility renders the canonical visibility string, which is the same
// across all supported revisions.
func visibility(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "public":
			return "pub", nil
		case "crate":
			return "pub(crate)", nil
		default:
			return s, nil
		}
	}
	var r struct {
		Restricted *struct {
			Parent uint32 `json:"parent"`
			Path   string `json:"path"`
		} `json:"restricted"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}
	if r.Restricted == nil {
		return "", errors.New("unknown visibility shape")
	}
	path := strings.TrimPrefix(r.Restricted.Path, "::")
	if path == "" {
		path = strconv.FormatUint(uint64(r.Restricted.Parent), 10)
	}
	return "pub(in " + path + ")", nil
}

func isHidden(attrs []string) bool {
	for _, a := range attrs {
		if strings.ReplaceAll(a, " ", "") == "#[doc(hidden)]" {
			return true
		}
	}
	return false
}
