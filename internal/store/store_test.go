// Package store tests covering both Store implementations.
package store

import (
	"bytes"
	"testing"
)

// storeFactories lets every contract test run against each
// implementation.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemory()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(t.TempDir())
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// TestStore_MissingKey verifies Get of a missing key is (nil, nil).
func TestStore_MissingKey(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			value, err := s.Get("absent")
			if err != nil {
				t.Fatalf("Get of missing key returned error: %v", err)
			}
			if value != nil {
				t.Errorf("Get of missing key = %q, want nil", value)
			}
		})
	}
}

// TestStore_SetGet verifies basic round trips and overwrites.
func TestStore_SetGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			if err := s.Set("k", []byte("v1")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			value, err := s.Get("k")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !bytes.Equal(value, []byte("v1")) {
				t.Errorf("Get = %q, want v1", value)
			}

			if err := s.Set("k", []byte("v2")); err != nil {
				t.Fatalf("overwrite Set failed: %v", err)
			}
			value, _ = s.Get("k")
			if !bytes.Equal(value, []byte("v2")) {
				t.Errorf("Get after overwrite = %q, want v2", value)
			}
		})
	}
}

// TestStore_Delete verifies delete semantics, including missing keys.
func TestStore_Delete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			if err := s.Delete("absent"); err != nil {
				t.Errorf("Delete of missing key returned error: %v", err)
			}

			s.Set("k", []byte("v"))
			if err := s.Delete("k"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}

			value, _ := s.Get("k")
			if value != nil {
				t.Errorf("Get after delete = %q, want nil", value)
			}
		})
	}
}

// TestStore_GetAll verifies the full key-space listing.
func TestStore_GetAll(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)

			s.Set("a", []byte("1"))
			s.Set("b", []byte("2"))

			all, err := s.GetAll()
			if err != nil {
				t.Fatalf("GetAll failed: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("GetAll returned %d keys, want 2", len(all))
			}
			if !bytes.Equal(all["a"], []byte("1")) || !bytes.Equal(all["b"], []byte("2")) {
				t.Errorf("GetAll = %v", all)
			}
		})
	}
}

// TestSQLite_Reopen verifies durability across a close/reopen cycle.
func TestSQLite_Reopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := s.Set("persisted", []byte("yes")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	value, err := reopened.Get("persisted")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !bytes.Equal(value, []byte("yes")) {
		t.Errorf("Get after reopen = %q, want yes", value)
	}
}

// TestMemory_GetReturnsCopy verifies callers cannot mutate stored state.
func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	m.Set("k", []byte("abc"))

	value, _ := m.Get("k")
	value[0] = 'x'

	again, _ := m.Get("k")
	if !bytes.Equal(again, []byte("abc")) {
		t.Errorf("stored value mutated through Get result: %q", again)
	}
}
