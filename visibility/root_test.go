package visibility

import "testing"

func TestResolve_Unspecified(t *testing.T) {
	id := Resolve(Root{})
	if id.Kind != RootUnspecified {
		t.Fatalf("Kind: got %v, want RootUnspecified", id.Kind)
	}
	if id.String() != "" {
		t.Errorf("String: got %q, want empty", id.String())
	}
	if id := Resolve(ElementRoot(nil)); id.Kind != RootUnspecified {
		t.Errorf("ElementRoot(nil): got %v, want RootUnspecified", id.Kind)
	}
}

func TestResolve_Document(t *testing.T) {
	id := Resolve(DocumentRoot())
	if id.Kind != RootDocument {
		t.Fatalf("Kind: got %v, want RootDocument", id.Kind)
	}
	if id.String() != "document" {
		t.Errorf("String: got %q, want %q", id.String(), "document")
	}
}

func TestResolve_ElementPath(t *testing.T) {
	html := el("HTML", "", nil)
	body := el("BODY", "", html)
	list := el("UL", "feed", body)
	item := el("LI", "", list)

	id := Resolve(ElementRoot(item))
	if id.Kind != RootElementPath {
		t.Fatalf("Kind: got %v, want RootElementPath", id.Kind)
	}
	want := "HTML > BODY > UL#feed > LI"
	if id.Path != want {
		t.Errorf("Path: got %q, want %q", id.Path, want)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	body := el("BODY", "", el("HTML", "", nil))
	box := el("DIV", "box", body)

	a := Resolve(ElementRoot(box))
	b := Resolve(ElementRoot(box))
	if a != b {
		t.Errorf("got %+v then %+v, want identical", a, b)
	}
}

func TestResolve_SiblingsCollide(t *testing.T) {
	body := el("BODY", "", el("HTML", "", nil))
	left := el("DIV", "", body)
	right := el("DIV", "", body)

	if Resolve(ElementRoot(left)) != Resolve(ElementRoot(right)) {
		t.Error("siblings with identical chains should share an identity")
	}
	if !ElementRoot(left).NeedsAdvisory() {
		t.Error("NeedsAdvisory: got false for element without id")
	}
	if ElementRoot(el("DIV", "x", body)).NeedsAdvisory() {
		t.Error("NeedsAdvisory: got true for element with id")
	}
	if DocumentRoot().NeedsAdvisory() || (Root{}).NeedsAdvisory() {
		t.Error("NeedsAdvisory: got true for non-element root")
	}
}
