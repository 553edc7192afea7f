package visibility

import "strings"

type rootKind int

const (
	rootViewport rootKind = iota
	rootDocument
	rootElement
)

// Root is the reference area a watcher measures against. The zero value is
// the viewport.
type Root struct {
	kind rootKind
	el   Node
}

// DocumentRoot measures against the whole document.
func DocumentRoot() Root { return Root{kind: rootDocument} }

// ElementRoot measures against a scroll container. A nil node is the viewport.
func ElementRoot(n Node) Root {
	if n == nil {
		return Root{}
	}
	return Root{kind: rootElement, el: n}
}

// Element returns the container node, nil for viewport and document roots.
func (r Root) Element() Node { return r.el }

// IsDocument reports whether r is the document root.
func (r Root) IsDocument() bool { return r.kind == rootDocument }

// IsViewport reports whether r is unspecified.
func (r Root) IsViewport() bool { return r.kind == rootViewport }

// NeedsAdvisory reports an element root without identifier attribute, whose
// path-derived identity may collide with a sibling of the same shape.
func (r Root) NeedsAdvisory() bool {
	return r.kind == rootElement && r.el.ID() == ""
}

// RootKind classifies a RootIdentity.
type RootKind int

const (
	RootUnspecified RootKind = iota
	RootDocument
	RootElementPath
)

// documentSentinel is the identity string of the document root.
const documentSentinel = "document"

// pathSeparator joins the segments of an element path.
const pathSeparator = " > "

// RootIdentity is the canonical, hashable form of a Root.
type RootIdentity struct {
	Kind RootKind
	// Path is set for RootElementPath only.
	Path string
}

func (id RootIdentity) String() string {
	switch id.Kind {
	case RootDocument:
		return documentSentinel
	case RootElementPath:
		return id.Path
	}
	return ""
}

// Resolve turns a root into its identity. Element roots are encoded as the
// root-to-leaf chain of "TAG" or "TAG#id" segments. Two distinct elements
// with the same chain resolve to the same identity.
func Resolve(r Root) RootIdentity {
	switch r.kind {
	case rootDocument:
		return RootIdentity{Kind: RootDocument}
	case rootElement:
		return RootIdentity{Kind: RootElementPath, Path: ElementPath(r.el)}
	}
	return RootIdentity{Kind: RootUnspecified}
}

// ElementPath walks n's ancestor chain and joins it root first.
func ElementPath(n Node) string {
	var segs []string
	for cur := n; cur != nil; cur = cur.Parent() {
		seg := cur.TagName()
		if id := cur.ID(); id != "" {
			seg += "#" + id
		}
		segs = append(segs, seg)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, pathSeparator)
}
