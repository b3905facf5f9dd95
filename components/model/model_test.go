package model

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/batchpredict/component"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/redis"
)

var champion = Model{
	Name: "tensorflow_with_preprocessing", Label: "label_name",
	Project: "my-project", Location: "europe-west2",
	Version: "3", ArtifactURI: "gs://models/tf/3/model.json", Framework: "linear",
}

func query(fail bool) Query {
	return Query{Project: "my-project", Location: "europe-west2", Name: "tensorflow_with_preprocessing", Label: "label_name", FailOnNotFound: fail}
}

func TestResolverLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		r := NewResolver(NewMemoryRegistry(champion), logger.Nop())
		m, err := r.Lookup(ctx, query(true))
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if m.Version != "3" || m.ResourceName() != "projects/my-project/locations/europe-west2/models/tensorflow_with_preprocessing@label_name" {
			t.Errorf("model = %+v", m)
		}
	})

	t.Run("missing with fail flag", func(t *testing.T) {
		r := NewResolver(NewMemoryRegistry(), logger.Nop())
		_, err := r.Lookup(ctx, query(true))
		if !errors.HasCode(err, errors.ErrCodeNotFound) {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("missing without fail flag", func(t *testing.T) {
		r := NewResolver(NewMemoryRegistry(), logger.Nop())
		m, err := r.Lookup(ctx, query(false))
		if err != nil || m == nil || !m.Empty() || m.ResourceName() != "" {
			t.Fatalf("got %+v, %v", m, err)
		}
	})

	t.Run("invalid query", func(t *testing.T) {
		r := NewResolver(NewMemoryRegistry(), logger.Nop())
		q := query(true)
		q.Name = "tf*"
		if _, err := r.Lookup(ctx, q); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
			t.Fatalf("got %v", err)
		}
		if _, err := r.Lookup(ctx, Query{}); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
			t.Fatalf("empty query: got %v", err)
		}
	})
}

func newMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mini.Close)
	return mini
}

func TestRedisRegistry(t *testing.T) {
	ctx := context.Background()
	mini := newMiniredis(t)
	reg := NewRedisRegistry(redis.Config{Addr: mini.Addr()}, logger.Nop())
	t.Cleanup(func() { _ = reg.Stop(ctx) })

	if h := reg.Health(ctx); h.Status != component.StatusDegraded {
		t.Errorf("health before first use = %+v", h)
	}

	if err := reg.Register(ctx, champion); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !mini.Exists("models:my-project:europe-west2:tensorflow_with_preprocessing:label_name") {
		t.Fatalf("model stored under unexpected key: %v", mini.Keys())
	}

	m, err := NewResolver(reg, logger.Nop()).Lookup(ctx, query(true))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if m.ArtifactURI != champion.ArtifactURI || m.RegisteredAt.IsZero() {
		t.Errorf("model = %+v", m)
	}

	other := champion
	other.Label = "challenger"
	if err := reg.Register(ctx, other); err != nil {
		t.Fatal(err)
	}
	keys, err := reg.List(ctx, "my-project", "europe-west2")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"my-project:europe-west2:tensorflow_with_preprocessing:challenger",
		"my-project:europe-west2:tensorflow_with_preprocessing:label_name",
	}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("List = %v", keys)
	}

	if h := reg.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("health = %+v", h)
	}
	if err := reg.Register(ctx, Model{}); !errors.HasCode(err, errors.ErrCodeMissingField) {
		t.Errorf("empty model: %v", err)
	}
}

func TestRedisRegistryUnavailable(t *testing.T) {
	ctx := context.Background()
	mini := newMiniredis(t)
	addr := mini.Addr()
	mini.Close()

	reg := NewRedisRegistry(redis.Config{Addr: addr, DialTimeout: 100 * time.Millisecond}, logger.Nop())
	_, err := NewResolver(reg, logger.Nop()).Lookup(ctx, query(true))
	if !errors.HasCode(err, errors.ErrCodeServiceUnavailable) {
		t.Fatalf("got %v", err)
	}
	if err := reg.Start(ctx); err == nil {
		t.Error("Start should fail without a server")
	}
}

func TestRedisRegistryFromClient(t *testing.T) {
	ctx := context.Background()
	mini := newMiniredis(t)
	client, err := redis.New(redis.Config{Enabled: true, Addr: mini.Addr()}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	reg := NewRedisRegistryFromClient(client, logger.Nop())
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m, err := reg.Get(ctx, query(false))
	if err != nil || m != nil {
		t.Fatalf("Get on empty registry = %+v, %v", m, err)
	}
}
