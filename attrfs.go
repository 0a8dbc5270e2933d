package main

// This file implements the in-process attribute tree the pin is published
// in.  It plays the part sysfs plays for a kernel driver: named groups of
// readable/writable endpoints, each backed by a show and a store callback.

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxGroups bounds the number of groups a registry will hold.
const DefaultMaxGroups = 64

// Caller identifies who is accessing an attribute.  Owners are checked
// against the owner bits of an attribute's mode, everybody else against the
// "other" bits.
type Caller struct {
	Name  string
	Owner bool
}

// Anonymous is the caller assumed when a context carries none.
var Anonymous = Caller{Name: "anonymous"}

type callerKey struct{}

// ContextWithCaller returns a copy of ctx carrying c.
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, or Anonymous.
func CallerFrom(ctx context.Context) Caller {
	if ctx != nil {
		if c, ok := ctx.Value(callerKey{}).(Caller); ok {
			return c
		}
	}
	return Anonymous
}

// Attribute is one endpoint inside a group.  Show renders the value for a
// read; Store consumes a write buffer and returns the number of bytes used.
// Either callback may be nil, in which case that direction is refused
// regardless of Perm.
type Attribute struct {
	Name  string
	Perm  os.FileMode
	Show  func(ctx context.Context) (string, error)
	Store func(ctx context.Context, buf []byte) (int, error)
}

func (a Attribute) readable(c Caller) bool {
	if a.Show == nil {
		return false
	}
	if c.Owner {
		return a.Perm&0400 != 0
	}
	return a.Perm&0004 != 0
}

func (a Attribute) writable(c Caller) bool {
	if a.Store == nil {
		return false
	}
	if c.Owner {
		return a.Perm&0200 != 0
	}
	return a.Perm&0002 != 0
}

// AttributeGroup is the handle returned by CreateGroup.
type AttributeGroup struct {
	Name   string
	Parent string
	attrs  map[string]Attribute
}

// Path returns the group's location, e.g. "ebb/gpio76".
func (g *AttributeGroup) Path() string {
	return path.Join(g.Parent, g.Name)
}

// AttributeNames returns the group's attribute names in sorted order.
func (g *AttributeGroup) AttributeNames() []string {
	names := make([]string, 0, len(g.attrs))
	for n := range g.attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GroupInfo describes a registered group for listings.
type GroupInfo struct {
	Path       string   `json:"path"`
	Attributes []string `json:"attributes"`
}

// AttributeRegistry holds the registered groups.  It is safe for concurrent
// use; the callbacks themselves are invoked without the registry lock held so
// a slow store does not block unrelated reads.
type AttributeRegistry struct {
	mu        sync.RWMutex
	groups    map[string]*AttributeGroup
	maxGroups int
}

// NewAttributeRegistry creates a registry that accepts at most maxGroups
// groups.  A non-positive maxGroups selects DefaultMaxGroups.
func NewAttributeRegistry(maxGroups int) *AttributeRegistry {
	if maxGroups <= 0 {
		maxGroups = DefaultMaxGroups
	}
	return &AttributeRegistry{groups: make(map[string]*AttributeGroup), maxGroups: maxGroups}
}

func cleanPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// CreateGroup registers attrs as a group called name below parent.
func (r *AttributeRegistry) CreateGroup(name, parent string, attrs []Attribute) (*AttributeGroup, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: bad group name %q", ErrInvalidInput, name)
	}
	g := &AttributeGroup{Name: name, Parent: cleanPath(parent), attrs: make(map[string]Attribute, len(attrs))}
	for _, a := range attrs {
		if a.Name == "" || strings.Contains(a.Name, "/") {
			return nil, fmt.Errorf("%w: bad attribute name %q", ErrInvalidInput, a.Name)
		}
		g.attrs[a.Name] = a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := g.Path()
	if _, ok := r.groups[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupExists, key)
	}
	if len(r.groups) >= r.maxGroups {
		return nil, fmt.Errorf("%w: %d groups registered", ErrResourceExhausted, len(r.groups))
	}
	r.groups[key] = g
	return g, nil
}

// RemoveGroup unregisters g.  Removing a group twice is harmless.
func (r *AttributeRegistry) RemoveGroup(g *AttributeGroup) {
	if g == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.groups[g.Path()]; ok && cur == g {
		delete(r.groups, g.Path())
	}
}

// Lookup returns the group registered at p.
func (r *AttributeRegistry) Lookup(p string) (*AttributeGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[cleanPath(p)]
	return g, ok
}

func (r *AttributeRegistry) attribute(p string) (Attribute, error) {
	p = cleanPath(p)
	dir, name := path.Split(p)
	g, ok := r.Lookup(dir)
	if !ok {
		return Attribute{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	a, ok := g.attrs[name]
	if !ok {
		return Attribute{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return a, nil
}

// Read invokes the show callback of the attribute at p, e.g.
// "ebb/gpio76/mode", on behalf of the caller carried by ctx.
func (r *AttributeRegistry) Read(ctx context.Context, p string) (string, error) {
	a, err := r.attribute(p)
	if err != nil {
		return "", err
	}
	if !a.readable(CallerFrom(ctx)) {
		return "", fmt.Errorf("%w: read %s", ErrPermission, cleanPath(p))
	}
	return a.Show(ctx)
}

// Write invokes the store callback of the attribute at p with data.
func (r *AttributeRegistry) Write(ctx context.Context, p string, data []byte) (int, error) {
	a, err := r.attribute(p)
	if err != nil {
		return 0, err
	}
	if !a.writable(CallerFrom(ctx)) {
		return 0, fmt.Errorf("%w: write %s", ErrPermission, cleanPath(p))
	}
	return a.Store(ctx, data)
}

// Groups lists the registered groups ordered by path.
func (r *AttributeRegistry) Groups() []GroupInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]GroupInfo, 0, len(r.groups))
	for key, g := range r.groups {
		out = append(out, GroupInfo{Path: key, Attributes: g.AttributeNames()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
