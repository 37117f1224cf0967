package types

import (
	"fmt"
	"time"
)

// Kind partitions records into the two application lists.
type Kind string

const (
	KindDownloaded Kind = "downloaded"
	KindSigned     Kind = "signed"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDownloaded || k == KindSigned
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// Record is the durable description of a tracked application.
type Record struct {
	ID               string        `json:"id"`
	Kind             Kind          `json:"kind"`
	Name             string        `json:"name"`
	BundleIdentifier string        `json:"bundle_identifier"`
	Version          string        `json:"version"`
	DateAdded        time.Time     `json:"date_added"`
	IconRelativePath *string       `json:"icon_path,omitempty"` // nil means placeholder
	SigningStatus    SigningStatus `json:"signing_status"`
}

// Details is a record together with the size of its application directory.
type Details struct {
	*Record
	SizeBytes int64 `json:"size_bytes"`
}

// HasIcon reports whether the record references an icon file.
func (r *Record) HasIcon() bool {
	return r.IconRelativePath != nil && *r.IconRelativePath != ""
}

// Metadata describes a bundle being committed to the registry.
type Metadata struct {
	Kind             Kind   `json:"kind"`
	Name             string `json:"name"`
	BundleIdentifier string `json:"bundle_identifier"`
	Version          string `json:"version"`
	Icon             []byte `json:"-"`
}

// Source is an entry in the application source list.
type Source struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	URL       string    `json:"url" yaml:"url"`
	IconURL   string    `json:"icon_url,omitempty" yaml:"icon_url"`
	DateAdded time.Time `json:"date_added" yaml:"-"`
}
