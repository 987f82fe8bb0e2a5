package element

import "testing"

func strp(s string) *string { return &s }

func TestFlattenExcludesUnlabeled(t *testing.T) {
	roots := []*Element{
		{
			Type: strp("View"),
			Children: []*Element{
				{Identifier: strp("included"), Type: strp("Button")},
			},
		},
	}

	flat := Flatten(roots)
	if len(flat) != 1 {
		t.Fatalf("expected 1 element, got %d", len(flat))
	}
	if *flat[0].Identifier != "included" {
		t.Errorf("expected 'included', got %v", flat[0].Identifier)
	}
}

func TestFlattenDeeplyNested(t *testing.T) {
	roots := []*Element{
		{
			Identifier: strp("level0"),
			Children: []*Element{
				{
					Children: []*Element{
						{
							Identifier: strp("level2"),
							Children: []*Element{
								{Identifier: strp("level3"), Label: strp("Deep")},
							},
						},
					},
				},
			},
		},
	}

	flat := Flatten(roots)
	if len(flat) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(flat))
	}
	if *flat[0].Identifier != "level0" || *flat[1].Identifier != "level2" || *flat[2].Identifier != "level3" {
		t.Errorf("unexpected flatten order: %+v", flat)
	}
}

func TestFindBySelectorGlob(t *testing.T) {
	roots := []*Element{
		{
			Identifier: strp("login-button"),
			Children: []*Element{
				{Identifier: strp("email-field")},
			},
		},
	}

	found := Find(roots, Selector{Value: "login-*"})
	if found == nil || *found.Identifier != "login-button" {
		t.Fatalf("expected to find login-button, got %+v", found)
	}

	found = Find(roots, Selector{Value: "*-field"})
	if found == nil || *found.Identifier != "email-field" {
		t.Fatalf("expected to find email-field, got %+v", found)
	}
}

func TestFindByLabelWithType(t *testing.T) {
	roots := []*Element{
		{Identifier: strp("submit-btn"), Label: strp("Submit"), Type: strp("Button")},
	}

	found := Find(roots, Selector{Value: "submit-btn", ElementType: strp("Button")})
	if found == nil {
		t.Fatal("expected match by identifier with correct type")
	}

	found = Find(roots, Selector{Value: "submit-btn", ElementType: strp("TextField")})
	if found != nil {
		t.Fatal("expected no match with wrong type")
	}

	found = Find(roots, Selector{Value: "Submit", ByLabel: true})
	if found == nil {
		t.Fatal("expected match by label with no type filter")
	}
}

func TestFindReturnsNilWhenAbsent(t *testing.T) {
	roots := []*Element{{Identifier: strp("root")}}
	if Find(roots, Selector{Value: "nonexistent"}) != nil {
		t.Error("expected no match")
	}
}
