package rodhost

import (
	"github.com/hazyhaar/viewwatch/visibility"
)

// Element is a page element tagged with a token attribute. A host returns
// the same *Element for the same DOM element, so pointer equality is
// element identity.
type Element struct {
	host   *Host
	token  string
	tag    string
	id     string
	parent *Element
}

func (e *Element) TagName() string { return e.tag }
func (e *Element) ID() string      { return e.id }

func (e *Element) Parent() visibility.Node {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

// Token is the value of the element's data-viewwatch-token attribute.
func (e *Element) Token() string { return e.token }

// Path is the element's root-first path.
func (e *Element) Path() string { return visibility.ElementPath(e) }
