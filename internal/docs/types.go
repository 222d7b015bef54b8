package docs

import "github.com/goccy/go-json"

// rustdocCrate is the top-level envelope of rustdoc JSON output. Items are
// kept raw so that decoding errors can be pinned to a single item.
type rustdocCrate struct {
	Root           *uint32                    `json:"root"`
	CrateVersion   *string                    `json:"crate_version"`
	Index          map[string]json.RawMessage `json:"index"`
	Paths          map[string]rustdocSummary  `json:"paths"`
	ExternalCrates map[string]externalCrate   `json:"external_crates"`
	FormatVersion  int                        `json:"format_version"`
}

// externalCrate identifies a dependency crate by name.
type externalCrate struct {
	Name        string `json:"name"`
	HTMLRootURL string `json:"html_root_url"`
}

// rustdocItem is a single item in the rustdoc index.
type rustdocItem struct {
	ID          uint32             `json:"id"`
	CrateID     uint32             `json:"crate_id"`
	Name        *string            `json:"name"`
	Docs        *string            `json:"docs"`
	Links       map[string]uint32  `json:"links"` // markdown link target → item ID
	Attrs       json.RawMessage    `json:"attrs"`
	Visibility  json.RawMessage    `json:"visibility"`
	Deprecation *rustdocDeprecated `json:"deprecation"`
	Inner       json.RawMessage    `json:"inner"`
}

type rustdocDeprecated struct {
	Since *string `json:"since"`
	Note  *string `json:"note"`
}

// rustdocSummary provides the path and kind for an item, including items
// from other crates.
type rustdocSummary struct {
	CrateID uint32   `json:"crate_id"`
	Path    []string `json:"path"`
	Kind    string   `json:"kind"`
}

func (it *rustdocItem) name() string {
	if it.Name == nil {
		return ""
	}
	return *it.Name
}

func (it *rustdocItem) docs() string {
	if it.Docs == nil {
		return ""
	}
	return *it.Docs
}
