package soil

import (
	"bytes"
	_ "embed"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed data/profiles.yaml
var embeddedProfiles []byte

// Table maps soil types to profiles. It is immutable once decoded and safe
// for concurrent readers.
type Table struct {
	profiles map[Type]Profile
	def      Profile
	types    []Type
}

type tableFile struct {
	Default  *Profile         `yaml:"default"`
	Profiles map[Type]Profile `yaml:"profiles"`
}

// NewTable builds a table from a profile map and the default profile.
func NewTable(profiles map[Type]Profile, def Profile) *Table {
	t := &Table{
		profiles: make(map[Type]Profile, len(profiles)),
		def:      def,
		types:    make([]Type, 0, len(profiles)),
	}
	for k, p := range profiles {
		t.profiles[k] = p
		t.types = append(t.types, k)
	}
	sort.Slice(t.types, func(i, j int) bool { return t.types[i] < t.types[j] })
	return t
}

// Decode reads a YAML table with a required "default" profile and a
// "profiles" map keyed by soil type.
func Decode(r io.Reader) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, eris.Wrap(err, "soil: decode table")
	}
	if f.Default == nil {
		return nil, eris.New("soil: table has no default profile")
	}
	for k := range f.Profiles {
		if k == "" {
			return nil, eris.New("soil: table has an empty soil type key")
		}
	}
	return NewTable(f.Profiles, *f.Default), nil
}

// LoadFile decodes a table from a YAML file.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "soil: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Decode(f)
}

var defaultTable = sync.OnceValues(func() (*Table, error) {
	return Decode(bytes.NewReader(embeddedProfiles))
})

// Default returns the table built from the embedded reference data. It is
// decoded once per process.
func Default() (*Table, error) {
	return defaultTable()
}

// Lookup returns the profile for t. Unknown types yield the default profile
// and false; this is an expected condition, not an error.
func (tb *Table) Lookup(t Type) (Profile, bool) {
	if p, ok := tb.profiles[t]; ok {
		return p, true
	}
	return tb.def, false
}

// Profile returns the profile for t, falling back to the default profile.
func (tb *Table) Profile(t Type) Profile {
	p, _ := tb.Lookup(t)
	return p
}

// Has reports whether t has its own profile.
func (tb *Table) Has(t Type) bool {
	_, ok := tb.profiles[t]
	return ok
}

// DefaultProfile returns the profile used for unknown soil types.
func (tb *Table) DefaultProfile() Profile {
	return tb.def
}

// Types returns the profiled soil types in sorted order.
func (tb *Table) Types() []Type {
	out := make([]Type, len(tb.types))
	copy(out, tb.types)
	return out
}

// Len returns the number of profiled soil types.
func (tb *Table) Len() int {
	return len(tb.profiles)
}
