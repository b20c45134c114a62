// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/invowk/msrun/internal/container"
)

var _ container.Engine = (*FakeEngine)(nil)

func TestFakeEngine_ContainerLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewFakeEngine("img")

	id, err := f.Create(ctx, container.CreateOptions{Image: "img", Command: []string{"tail", "-f", "/dev/null"}})
	if err != nil {
		t.Fatal(err)
	}
	if res, err := f.Inspect(ctx, id); err != nil || res.Running {
		t.Fatalf("Inspect() before start = %+v, %v", res, err)
	}
	if err := f.Start(ctx, id); err != nil {
		t.Fatal(err)
	}
	if res, _ := f.Inspect(ctx, id); !res.Running {
		t.Fatal("expected running after Start")
	}

	f.StopOutOfBand(id)
	if res, _ := f.Inspect(ctx, id); res.Running || res.Status != "exited" {
		t.Fatalf("Inspect() after out-of-band stop = %+v", res)
	}
	if _, err := f.Exec(ctx, id, []string{"x"}); err == nil {
		t.Error("Exec() in a stopped container should fail")
	}
	if f.Inspects() != 3 {
		t.Errorf("Inspects() = %d, want 3", f.Inspects())
	}
}

func TestFakeEngine_UnknownContainer(t *testing.T) {
	t.Parallel()

	f := NewFakeEngine()
	if _, err := f.Inspect(context.Background(), ""); !errors.Is(err, ErrNoSuchContainer) {
		t.Errorf("Inspect(\"\") error = %v", err)
	}
	if err := f.Kill(context.Background(), "nope"); !errors.Is(err, ErrNoSuchContainer) {
		t.Errorf("Kill(nope) error = %v", err)
	}
}

func TestFakeEngine_BuildRegistersImage(t *testing.T) {
	t.Parallel()

	f := NewFakeEngine()
	if ok, _ := f.ImageExists(context.Background(), "t"); ok {
		t.Fatal("image should not exist yet")
	}
	if err := f.Build(context.Background(), container.BuildOptions{Tag: "t"}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.ImageExists(context.Background(), "t"); !ok {
		t.Error("image should exist after Build")
	}
	if len(f.Builds()) != 1 {
		t.Errorf("Builds() = %v", f.Builds())
	}
}
