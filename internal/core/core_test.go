package core

import "testing"

func TestContentItemIsDuplicate(t *testing.T) {
	item := ContentItem{ID: "a"}
	if item.IsDuplicate() {
		t.Errorf("expected fresh item to not be a duplicate")
	}

	dup := "b"
	item.DuplicateOfContentItem = &dup
	if !item.IsDuplicate() {
		t.Errorf("expected item with DuplicateOfContentItem set to report true")
	}
}

func TestContentItemIsDeleted(t *testing.T) {
	item := ContentItem{ID: "a"}
	if item.IsDeleted() {
		t.Errorf("expected fresh item to not be deleted")
	}
}

func TestNewIDUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Errorf("expected NewID to produce unique identifiers, got %s twice", a)
	}
	if a == "" {
		t.Errorf("expected non-empty id")
	}
}
