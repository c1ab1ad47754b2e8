package priority

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

const sample = `
departments:
  ortho:
    Monday: high
    friday: regular
  GENSURG:
    tuesday: high
    wednesday: ""
`

func TestParseAndLookup(t *testing.T) {
	tbl, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		dept  string
		day   time.Weekday
		label string
		found bool
	}{
		{"ORTHO", time.Monday, "high", true},
		{" ortho ", time.Friday, "regular", true},
		{"ORTHO", time.Tuesday, "", false},
		{"GENSURG", time.Wednesday, "", false},
		{"ENT", time.Monday, "", false},
	}
	for _, tt := range tests {
		label, found := tbl.Lookup(tt.dept, tt.day)
		if label != tt.label || found != tt.found {
			t.Errorf("Lookup(%q, %s) = %q, %v; want %q, %v", tt.dept, tt.day, label, found, tt.label, tt.found)
		}
	}
	if got := tbl.Departments(); len(got) != 2 || got[0] != "GENSURG" || got[1] != "ORTHO" {
		t.Errorf("unexpected departments %v", got)
	}
}

func TestParse_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"bad weekday": "departments:\n  ORTHO:\n    funday: high\n",
		"not yaml":    "departments: [",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad(t *testing.T) {
	tbl, err := Load("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if _, ok := tbl.Lookup("ORTHO", time.Monday); ok {
		t.Error("empty table should have no labels")
	}

	path := filepath.Join(t.TempDir(), "priorities.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	tbl, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if label, _ := tbl.Lookup("GENSURG", time.Tuesday); label != "high" {
		t.Errorf("unexpected label %q", label)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRepositoryTableParses(t *testing.T) {
	tbl, err := Load(filepath.Join("..", "..", "..", "configs", "priorities.yaml"))
	if err != nil {
		t.Fatalf("shipped table: %v", err)
	}
	if len(tbl.Departments()) == 0 {
		t.Error("shipped table is empty")
	}
}

func TestHandler_List(t *testing.T) {
	tbl, _ := Parse([]byte(sample))
	h := NewHandler(tbl)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/priorities?department=ortho&weekday=Monday", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var one map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if one["label"] != "high" || one["found"] != true || one["department"] != "ORTHO" {
		t.Errorf("unexpected body %v", one)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/priorities", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var all map[string]map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if all["ORTHO"]["friday"] != "regular" || len(all) != 2 {
		t.Errorf("unexpected table %v", all)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/priorities?department=ortho&weekday=someday", nil), httptest.NewRecorder())
	if he, ok := h.List(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad weekday")
	}
}

func TestHandler_Get(t *testing.T) {
	tbl, _ := Parse([]byte(sample))
	h := NewHandler(tbl)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("department")
	c.SetParamValues("ENT")
	if he, ok := h.Get(c).(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown department")
	}
}
