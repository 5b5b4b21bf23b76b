package envfile

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRenderDeterministic(t *testing.T) {
	vars := Vars{
		"SECRET_KEY":   "abc",
		"DATABASE_URL": "postgres://localhost/app",
		"DEBUG":        "false",
	}

	want := strings.Join([]string{
		"DATABASE_URL=postgres://localhost/app",
		"DEBUG=false",
		"SECRET_KEY=abc",
		"",
	}, "\n")

	for i := 0; i < 3; i++ {
		if diff := cmp.Diff(want, string(vars.Render())); diff != "" {
			t.Fatalf("unexpected render:\n%s", diff)
		}
	}
}

func TestMergePrecedence(t *testing.T) {
	base := Vars{"DEBUG": "true", "PORT": "8000"}
	override := Vars{"DEBUG": "false"}

	got := base.Merge(override)

	want := Vars{"DEBUG": "false", "PORT": "8000"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected merge:\n%s", diff)
	}
}

func TestFromJSON(t *testing.T) {
	doc := []byte(`{"DATABASE_URL": "postgres://db/app", "WORKERS": 4, "DEBUG": false}`)

	got, err := FromJSON(doc, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Vars{
		"DATABASE_URL": "postgres://db/app",
		"WORKERS":      "4",
		"DEBUG":        "false",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected vars:\n%s", diff)
	}
}

func TestFromJSONWithPath(t *testing.T) {
	doc := []byte(`{"staging": {"DEBUG": "true"}, "production": {"DEBUG": "false"}}`)

	got, err := FromJSON(doc, "$.production")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Vars{"DEBUG": "false"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected vars:\n%s", diff)
	}
}

func TestFromJSONRejectsNested(t *testing.T) {
	doc := []byte(`{"GOOD": "x", "BAD": {"nested": true}}`)

	if _, err := FromJSON(doc, ""); err == nil {
		t.Fatal("expected error for nested value")
	}
}

func TestFromEnviron(t *testing.T) {
	environ := []string{
		"SHIP_VAR_SECRET_KEY=abc",
		"SHIP_VAR_API_TOKEN=xyz",
		"HOME=/home/deploy",
		"DATABASE_URL=postgres://db/app",
	}

	got := FromEnviron(environ, "SHIP_VAR_", []string{"DATABASE_URL"})

	want := Vars{
		"SECRET_KEY":   "abc",
		"API_TOKEN":    "xyz",
		"DATABASE_URL": "postgres://db/app",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected vars:\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	{
		vars := Vars{"GOOD_NAME": "value with spaces is fine"}
		if err := vars.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	{
		vars := Vars{"BAD NAME": "x"}
		if err := vars.Validate(); err == nil {
			t.Error("expected error for invalid name")
		}
	}

	{
		vars := Vars{"MULTILINE": "a\nb"}
		if err := vars.Validate(); err == nil {
			t.Error("expected error for multi-line value")
		}
	}
}
