package loader

import "testing"

func TestFactoryCreateDefault(t *testing.T) {
	f := NewFactory()
	l := f.CreateDefault()
	if l == nil {
		t.Fatal("expected non-nil default loader")
	}
	if _, ok := l.(*DefaultLoader); !ok {
		t.Fatalf("expected *DefaultLoader, got %T", l)
	}
}

func TestFactoryCreateUnknownName(t *testing.T) {
	f := NewFactory()
	if _, err := f.Create("nope"); err == nil {
		t.Fatal("expected error for unregistered loader name")
	}
}

func TestFactoryRegisterDuplicatePanics(t *testing.T) {
	f := NewFactory()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	f.Register("default", func() Loader { return NewDefaultLoader() })
}

func TestFactoryRegisterCustom(t *testing.T) {
	f := NewFactory()
	f.Register("custom", func() Loader { return NewDefaultLoader() })
	l, err := f.Create("custom")
	if err != nil {
		t.Fatal(err)
	}
	if l == nil {
		t.Fatal("expected non-nil loader")
	}
}

func TestGlobalFactorySingleton(t *testing.T) {
	a := Global()
	b := Global()
	if a != b {
		t.Fatal("expected Global() to return the same factory instance")
	}
}
