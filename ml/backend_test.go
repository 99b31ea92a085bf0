package ml

import (
	"errors"
	"slices"
	"testing"
)

type stubDriver struct{}

func (stubDriver) Name() string               { return "stub" }
func (stubDriver) Devices() ([]Device, error) { return nil, nil }

func TestDriverRegistry(t *testing.T) {
	RegisterDriver("stub-registry", func() (Driver, error) { return stubDriver{}, nil })

	if !slices.Contains(Drivers(), "stub-registry") {
		t.Fatalf("Drivers() = %v", Drivers())
	}

	d, err := OpenDriver("stub-registry")
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != "stub" {
		t.Errorf("name = %q", d.Name())
	}

	if _, err := OpenDriver("missing"); !errors.Is(err, ErrNoDriver) {
		t.Errorf("err = %v, erwartet ErrNoDriver", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("doppelte Registrierung ohne panic")
		}
	}()
	RegisterDriver("stub-registry", func() (Driver, error) { return stubDriver{}, nil })
}
