// Package catalog maps user-facing target names to compose/chroot/distro triples.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"enge/internal/config"
)

// ErrUnknownTarget is returned when a requested target is not configured.
var ErrUnknownTarget = errors.New("requested target not found in the configured mapping")

// EPELVersions are the EPEL major versions Brew volumes are bucketed into.
var EPELVersions = []string{"9", "10"}

type Entry struct {
	Key     string
	Compose string
	Chroot  string
	Distro  string
}

// Catalog is immutable after New.
type Catalog struct {
	entries map[string]Entry
	keys    []string
}

func New(composes map[string]config.ComposeEntry) Catalog {
	c := Catalog{entries: make(map[string]Entry, len(composes))}
	for key, ce := range composes {
		c.entries[key] = Entry{Key: key, Compose: ce.Compose, Chroot: ce.Chroot, Distro: ce.Distro}
		c.keys = append(c.keys, key)
	}
	sort.Strings(c.keys)
	return c
}

func (c Catalog) Keys() []string {
	return append([]string(nil), c.keys...)
}

func (c Catalog) Lookup(key string) (Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// Select resolves the requested keys; no keys selects the whole catalog.
func (c Catalog) Select(keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		keys = c.keys
	}
	out := make([]Entry, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		e, ok := c.entries[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q (configured targets: %s)", ErrUnknownTarget, k, strings.Join(c.keys, ", "))
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out, nil
}

// EPELComposes buckets the catalog composes by the Brew volume they can be
// installed from, e.g. "rhel-9" holds every compose whose chroot mentions "epel-9".
// The match is a plain substring test on the chroot.
func (c Catalog) EPELComposes() map[string][]string {
	buckets := make(map[string][]string, len(EPELVersions))
	for _, v := range EPELVersions {
		volume := "rhel-" + v
		buckets[volume] = []string{}
		for _, k := range c.keys {
			e := c.entries[k]
			if strings.Contains(e.Chroot, "epel-"+v) {
				buckets[volume] = append(buckets[volume], e.Compose)
			}
		}
	}
	return buckets
}

// LongestCompose is used to align compose names in log output.
func (c Catalog) LongestCompose() int {
	n := 0
	for _, e := range c.entries {
		if len(e.Compose) > n {
			n = len(e.Compose)
		}
	}
	return n
}
