package graph

import "testing"

func TestDeepCopy(t *testing.T) {
	type inner struct {
		Items []string
	}
	type outer struct {
		Name string
		Tags map[string]int
		Sub  inner
	}

	t.Run("copies are independent", func(t *testing.T) {
		orig := outer{
			Name: "original",
			Tags: map[string]int{"a": 1},
			Sub:  inner{Items: []string{"x", "y"}},
		}

		cp, err := deepCopy(orig)
		if err != nil {
			t.Fatalf("deepCopy failed: %v", err)
		}

		cp.Tags["a"] = 99
		cp.Sub.Items[0] = "mutated"

		if orig.Tags["a"] != 1 {
			t.Error("map mutation leaked into original")
		}
		if orig.Sub.Items[0] != "x" {
			t.Error("slice mutation leaked into original")
		}
	})

	t.Run("unmarshalable state fails", func(t *testing.T) {
		type bad struct {
			Fn func()
		}
		if _, err := deepCopy(bad{Fn: func() {}}); err == nil {
			t.Fatal("expected error for func field")
		}
	})
}
