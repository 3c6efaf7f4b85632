package pathmatch

import "testing"

func TestMatchLiteral(t *testing.T) {
	p := Compile("/api/v1/users")
	r := Match(p, "/api/v1/users")
	if !r.Matched {
		t.Fatal("expected literal match")
	}
	if r2 := Match(p, "/api/v1/users/1"); r2.Matched {
		t.Fatal("expected no match for longer path")
	}
}

func TestMatchVariableCapture(t *testing.T) {
	p := Compile("/api/v2/users/{id}")
	r := Match(p, "/api/v2/users/42")
	if !r.Matched {
		t.Fatal("expected match")
	}
	if r.Variables["id"] != "42" {
		t.Fatalf("expected id=42, got %q", r.Variables["id"])
	}
}

func TestMatchStarSingleSegment(t *testing.T) {
	p := Compile("/files/*/contents")
	if !Match(p, "/files/abc/contents").Matched {
		t.Fatal("expected match")
	}
	if Match(p, "/files/a/b/contents").Matched {
		t.Fatal("* must not span multiple segments")
	}
}

func TestMatchDoubleStarZeroOrMore(t *testing.T) {
	p := Compile("/static/**")
	if !Match(p, "/static").Matched {
		t.Fatal("** must match zero segments")
	}
	if !Match(p, "/static/a/b/c").Matched {
		t.Fatal("** must match many segments")
	}
}

func TestMatchDoubleStarWithSuffix(t *testing.T) {
	p := Compile("/a/**/z")
	if !Match(p, "/a/z").Matched {
		t.Fatal("** must allow zero segments before suffix")
	}
	if !Match(p, "/a/b/c/z").Matched {
		t.Fatal("** must allow multiple segments before suffix")
	}
	if Match(p, "/a/z/extra").Matched {
		t.Fatal("suffix must still be required")
	}
}

func TestSpecificityOrdering(t *testing.T) {
	literal := Compile("/api/v1/users")
	withVar := Compile("/api/v1/{id}")
	withStar := Compile("/api/v1/*")
	withDouble := Compile("/api/**")

	if Specificity(literal) <= Specificity(withVar) {
		t.Fatal("literal segments should score higher than {var}")
	}
	if Specificity(withVar) <= Specificity(withStar) {
		t.Fatal("{var} should score higher than *")
	}
	if Specificity(withStar) <= Specificity(withDouble) {
		t.Fatal("* should score higher than **")
	}
}

func TestValidatePattern(t *testing.T) {
	if err := ValidatePattern("/api/v2/users/{id}"); err != nil {
		t.Fatalf("expected valid pattern, got %v", err)
	}
	if err := ValidatePattern("/static/**"); err != nil {
		t.Fatalf("expected valid pattern, got %v", err)
	}
}
