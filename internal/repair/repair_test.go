package repair

import (
	"reflect"
	"testing"
)

func TestStringToArrayFromPath(t *testing.T) {
	errMsg := `Invalid arguments: [{"code":"invalid_type","expected":"array","received":"string","path":["indices"],"message":"Expected array, received string"}]`
	params := map[string]any{"indices": "logs-2024"}

	c := Analyze(errMsg, params, nil)
	if c == nil {
		t.Fatal("expected a correction")
	}
	want := []any{"logs-2024"}
	if !reflect.DeepEqual(c.Corrected["indices"], want) {
		t.Errorf("corrected = %v, want %v", c.Corrected["indices"], want)
	}
	if c.Confidence != 0.8 {
		t.Errorf("confidence = %v", c.Confidence)
	}
	// The input map is never mutated.
	if _, ok := params["indices"].(string); !ok {
		t.Error("original params mutated")
	}
}

func TestStringToArrayRenames(t *testing.T) {
	errMsg := `Expected array, received undefined; {"path": ["file_paths"]}`
	params := map[string]any{"file_path": "/etc/hosts"}

	c := Analyze(errMsg, params, nil)
	if c == nil {
		t.Fatal("expected a correction")
	}
	if _, stillThere := c.Corrected["file_path"]; stillThere {
		t.Error("old parameter survived the rename")
	}
	if !reflect.DeepEqual(c.Corrected["file_paths"], []any{"/etc/hosts"}) {
		t.Errorf("corrected = %v", c.Corrected["file_paths"])
	}
}

func TestIndexToIndices(t *testing.T) {
	params := map[string]any{"index": "logs"}
	c := Analyze(`field "indices" is required`, params, nil)
	if c == nil {
		t.Fatal("expected a correction")
	}
	if !reflect.DeepEqual(c.Corrected["indices"], []any{"logs"}) {
		t.Errorf("corrected = %v", c.Corrected)
	}
	if c.Confidence != 0.9 {
		t.Errorf("confidence = %v", c.Confidence)
	}
}

func TestIndexNameToIndices(t *testing.T) {
	params := map[string]any{"index_name": "metrics"}
	c := Analyze(`missing "indices"`, params, nil)
	if c == nil {
		t.Fatal("expected a correction")
	}
	if !reflect.DeepEqual(c.Corrected["indices"], []any{"metrics"}) {
		t.Errorf("corrected = %v", c.Corrected)
	}
}

func TestQueryAlias(t *testing.T) {
	for _, alias := range []string{"esql", "sql", "statement"} {
		params := map[string]any{alias: "FROM logs | LIMIT 10"}
		c := Analyze(`Required parameter "query" missing`, params, nil)
		if c == nil {
			t.Fatalf("alias %q: expected a correction", alias)
		}
		if c.Corrected["query"] != "FROM logs | LIMIT 10" {
			t.Errorf("alias %q: corrected = %v", alias, c.Corrected)
		}
		if _, ok := c.Corrected[alias]; ok {
			t.Errorf("alias %q survived", alias)
		}
	}
}

func TestSingularToPlural(t *testing.T) {
	params := map[string]any{"tag": "urgent"}
	c := Analyze(`Expected "tags" but received "tag"`, params, nil)
	if c == nil {
		t.Fatal("expected a correction")
	}
	if c.Corrected["tags"] != "urgent" {
		t.Errorf("corrected = %v", c.Corrected)
	}
}

func TestSnakeCaseRename(t *testing.T) {
	params := map[string]any{"filePath": "/tmp/x"}
	c := Analyze(`unknown parameter; expected "file_path"`, params, nil)
	if c == nil {
		t.Fatal("expected a correction")
	}
	if c.Corrected["file_path"] != "/tmp/x" {
		t.Errorf("corrected = %v", c.Corrected)
	}
}

func TestFuzzyRequiredRename(t *testing.T) {
	errMsg := `Required, received undefined; {"path": ["search_query"]}`
	params := map[string]any{"query": "golang"}

	c := Analyze(errMsg, params, nil)
	if c == nil {
		t.Fatal("expected a correction")
	}
	if c.Corrected["search_query"] != "golang" {
		t.Errorf("corrected = %v", c.Corrected)
	}
	if c.Confidence != 0.6 {
		t.Errorf("confidence = %v", c.Confidence)
	}
}

func TestNoCorrection(t *testing.T) {
	c := Analyze("internal server error", map[string]any{"a": 1}, nil)
	if c != nil {
		t.Errorf("unexpected correction: %+v", c)
	}
}
