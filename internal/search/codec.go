package search

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jcdickinson/ferrisdoc/internal/graph"
)

// FormatVersion changes whenever the serialized layout does.
const FormatVersion = 1

var magic = [4]byte{'F', 'D', 'I', 'X'}

var ErrStaleIndex = errors.New("stale search index")

// StaleIndexError reports a serialized index that was built for different
// input or by a different index format. Callers rebuild instead of using it.
type StaleIndexError struct {
	Reason string
}

func (e *StaleIndexError) Error() string {
	return "stale search index: " + e.Reason
}

func (e *StaleIndexError) Unwrap() error { return ErrStaleIndex }

func stale(format string, args ...any) error {
	return &StaleIndexError{Reason: fmt.Sprintf(format, args...)}
}

type payload struct {
	Crate    graph.Identity       `json:"crate"`
	Docs     []Doc                `json:"docs"`
	Postings map[string][]Posting `json:"postings"`
}

// Serialize writes the index as a binary header followed by a JSON payload.
// The header carries the magic, the format version, the fingerprint and the
// minimum token length; all of them must match on Deserialize.
func Serialize(idx *Index) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.Write(binary.AppendUvarint(nil, FormatVersion))
	writeString(&buf, idx.fp.Version)
	buf.Write(binary.AppendUvarint(nil, uint64(idx.fp.Revision)))
	buf.Write(binary.LittleEndian.AppendUint64(nil, idx.fp.Digest))
	buf.Write(binary.AppendUvarint(nil, uint64(idx.opts.MinTokenLength)))

	body, err := json.Marshal(payload{Crate: idx.crate, Docs: idx.docs, Postings: idx.postings})
	if err != nil {
		return nil, fmt.Errorf("encoding index payload: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// Deserialize restores an index serialized for fp with the same token
// options. Any header mismatch yields a *StaleIndexError.
func Deserialize(data []byte, fp graph.Fingerprint, opts Options) (*Index, error) {
	opts = opts.withDefaults()
	r := bytes.NewReader(data)

	var m [4]byte
	if _, err := r.Read(m[:]); err != nil || m != magic {
		return nil, stale("not a search index")
	}
	version, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, stale("truncated header")
	}
	if version != FormatVersion {
		return nil, stale("format version %d, want %d", version, FormatVersion)
	}

	var got graph.Fingerprint
	if got.Version, err = readString(r); err != nil {
		return nil, stale("truncated header")
	}
	rev, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, stale("truncated header")
	}
	got.Revision = int(rev)
	var digest [8]byte
	if _, err := r.Read(digest[:]); err != nil {
		return nil, stale("truncated header")
	}
	got.Digest = binary.LittleEndian.Uint64(digest[:])
	if got != fp {
		return nil, stale("built for %s, want %s", got, fp)
	}
	minLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, stale("truncated header")
	}
	if int(minLen) != opts.MinTokenLength {
		return nil, stale("minimum token length %d, want %d", minLen, opts.MinTokenLength)
	}

	var p payload
	if err := json.Unmarshal(data[len(data)-r.Len():], &p); err != nil {
		return nil, fmt.Errorf("decoding index payload: %w", err)
	}
	if p.Postings == nil {
		p.Postings = make(map[string][]Posting)
	}
	b := newBuilder(p.Crate, fp, opts)
	b.idx.docs = p.Docs
	b.idx.postings = p.Postings
	for tok, list := range p.Postings {
		for _, post := range list {
			if int(post.Doc) >= len(p.Docs) {
				return nil, fmt.Errorf("decoding index payload: token %q references document %d of %d", tok, post.Doc, len(p.Docs))
			}
		}
	}
	return b.finish(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", errors.New("string length exceeds input")
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}
