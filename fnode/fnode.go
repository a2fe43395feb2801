// Package fnode implements the directory/file tree node of spec.md §3:
// a file carries a bounded ring buffer of Versions, a directory carries
// named child entries. Fnode is used as a cow.Cow payload (it implements
// cow.Cloneable) so the repo layer gets versioned, transactional updates
// for free from the cow package built earlier.
package fnode

import (
	glob "github.com/ryanuber/go-glob"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/eid"
)

// Kind distinguishes a directory fnode from a file fnode.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
)

// Version is one immutable, content-addressed snapshot of a file's bytes
// (spec.md §3 "Version"). Version numbers start at 1 and strictly
// increase even across evictions.
type Version struct {
	Num        uint32
	ContentID  eid.ID
	Len        int64
	Ctime      int64
	MerkleRoot [32]byte
}

// DirEntry names one child of a directory fnode.
type DirEntry struct {
	ID   eid.ID
	Kind Kind
	Name string
}

// Fnode is a directory or file node (spec.md §3 "Fnode"). The zero value
// is not meaningful; construct with NewFile or NewDir.
type Fnode struct {
	Kind Kind

	// File-only fields.
	VersionLimit uint8 // 1..255; 0 is forbidden for files
	Versions     []Version
	NextVersion  uint32

	// Directory-only fields.
	Children []DirEntry
}

// NewFile builds an empty file fnode with the given version retention
// bound (spec.md §3: "bounded by version_limit (1..=255; 0 forbidden for
// files)").
func NewFile(versionLimit uint8) (*Fnode, error) {
	if versionLimit == 0 {
		return nil, sealedfs.New(sealedfs.KindInvalidArgument, "fnode.NewFile")
	}
	return &Fnode{Kind: KindFile, VersionLimit: versionLimit}, nil
}

// NewDir builds an empty directory fnode (VersionLimit is always 0 for
// directories, per spec.md §3).
func NewDir() *Fnode {
	return &Fnode{Kind: KindDir}
}

// CloneNew implements cow.Cloneable: it deep-copies the node's slices so
// the CoW "other slot" clone can be mutated independently of the live
// one. newID is the clone's storage slot id, tracked by the owning
// cow.Cow wrapper, not by Fnode itself.
func (f Fnode) CloneNew(newID eid.ID) Fnode {
	clone := f
	clone.Versions = append([]Version(nil), f.Versions...)
	clone.Children = append([]DirEntry(nil), f.Children...)
	return clone
}

func (f *Fnode) IsDir() bool  { return f.Kind == KindDir }
func (f *Fnode) IsFile() bool { return f.Kind == KindFile }

// AddVersion appends a new version to a file's history, evicting the
// oldest once the ring buffer exceeds VersionLimit (spec.md testable
// property 9: "after N+1 successful writes... exactly N versions are
// readable and the oldest has been fully unlinked"). The evicted
// version's ContentID is returned so the caller can unlink its content.
func (f *Fnode) AddVersion(contentID eid.ID, length int64, ctime int64, merkleRoot [32]byte) (evicted eid.ID, didEvict bool, err error) {
	if f.Kind != KindFile {
		return eid.Zero, false, sealedfs.New(sealedfs.KindNotFile, "fnode.Fnode.AddVersion")
	}
	f.NextVersion++
	f.Versions = append(f.Versions, Version{
		Num: f.NextVersion, ContentID: contentID, Len: length, Ctime: ctime, MerkleRoot: merkleRoot,
	})
	if len(f.Versions) > int(f.VersionLimit) {
		evicted = f.Versions[0].ContentID
		f.Versions = f.Versions[1:]
		didEvict = true
	}
	return evicted, didEvict, nil
}

// CurrentVersion returns the most recent version, if the file has ever
// been written.
func (f *Fnode) CurrentVersion() (Version, bool) {
	if len(f.Versions) == 0 {
		return Version{}, false
	}
	return f.Versions[len(f.Versions)-1], true
}

// History returns every retained version, oldest first.
func (f *Fnode) History() []Version {
	return append([]Version(nil), f.Versions...)
}

// FindChild looks up a directory's child by name.
func (f *Fnode) FindChild(name string) (DirEntry, bool) {
	idx, ok := f.findChildIdx(name)
	if !ok {
		return DirEntry{}, false
	}
	return f.Children[idx], true
}

// FindChildrenGlob returns every child of a directory whose name matches
// a shell glob pattern (`*`, `?`, `[...]`), in directory order. Used by
// the repo layer to support wildcard lookups without walking the tree
// path by path.
func (f *Fnode) FindChildrenGlob(pattern string) []DirEntry {
	var out []DirEntry
	for _, c := range f.Children {
		if glob.Glob(pattern, c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// AddChild inserts a new named child, failing if the name is already
// taken or the receiver is not a directory.
func (f *Fnode) AddChild(entry DirEntry) error {
	if f.Kind != KindDir {
		return sealedfs.New(sealedfs.KindNotDir, "fnode.Fnode.AddChild")
	}
	if _, ok := f.findChildIdx(entry.Name); ok {
		return sealedfs.New(sealedfs.KindAlreadyExists, "fnode.Fnode.AddChild")
	}
	f.Children = append(f.Children, entry)
	return nil
}

// RemoveChild removes a named child.
func (f *Fnode) RemoveChild(name string) error {
	if f.Kind != KindDir {
		return sealedfs.New(sealedfs.KindNotDir, "fnode.Fnode.RemoveChild")
	}
	idx, ok := f.findChildIdx(name)
	if !ok {
		return sealedfs.New(sealedfs.KindNotFound, "fnode.Fnode.RemoveChild")
	}
	f.Children = append(f.Children[:idx], f.Children[idx+1:]...)
	return nil
}

// IsEmpty reports whether a directory has no children (used to refuse
// removing a non-empty directory, spec.md's KindNotEmpty).
func (f *Fnode) IsEmpty() bool { return len(f.Children) == 0 }

func (f *Fnode) findChildIdx(name string) (int, bool) {
	for i, c := range f.Children {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}
