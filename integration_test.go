package keel_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelworks/keel/pkg/client"
	"github.com/keelworks/keel/pkg/config"
	"github.com/keelworks/keel/pkg/daemon"
	"github.com/keelworks/keel/pkg/manager"
	"github.com/keelworks/keel/pkg/modules/kv"
	"github.com/keelworks/keel/pkg/registry"
	"github.com/keelworks/keel/pkg/transport"
	"github.com/keelworks/keel/pkg/wire"
)

// startDaemon brings up a full daemon on a loopback port with the kv
// module available for loading.
func startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	cert, err := transport.GenerateDevCertificate("localhost")
	require.NoError(t, err)

	mgr, err := manager.New(manager.Options{
		Address:  "tcp://127.0.0.1:9560",
		Registry: registry.New(nil),
	})
	require.NoError(t, err)

	d, err := daemon.New(daemon.Config{
		Address: "127.0.0.1:0",
		TLS:     &transport.TLSConfig{Certificate: cert},
		Manager: mgr,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Stop() })
	return d
}

func newHandle(t *testing.T, d *daemon.Daemon) *client.ServiceHandle {
	t.Helper()

	tc, err := transport.NewClient(transport.ClientConfig{
		TLSConfig: &transport.TLSConfig{InsecureSkipVerify: true},
	})
	require.NoError(t, err)

	c := client.New(tc)
	t.Cleanup(func() { c.Close() })

	h, err := c.CreateServiceHandle(d.Addr().String(), 0)
	require.NoError(t, err)
	return h
}

// TestFullLifecycle drives the complete admission workflow over a real
// TLS connection: module load, provider start, dependency-resolved
// client creation, queries and group formation.
func TestFullLifecycle(t *testing.T) {
	d := startDaemon(t)
	h := newHandle(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// creating a client before its provider exists must fail cleanly
	err := h.CreateClient(ctx, "c1", "kv", client.WithDependency("provider", "p1"))
	var semErr *client.Error
	require.ErrorAs(t, err, &semErr)
	assert.Equal(t, wire.StatusUnresolvedDependency, semErr.Kind)

	// starting a provider of an unknown type must fail before load
	err = h.StartProvider(ctx, "p1", "kv")
	require.ErrorAs(t, err, &semErr)
	assert.Equal(t, wire.StatusUnknownType, semErr.Kind)

	require.NoError(t, h.LoadModule(ctx, "kv", "kv.mod"))
	require.NoError(t, h.StartProvider(ctx, "p1", "kv",
		client.WithProviderID(1),
		client.WithConfig(`{"seed":{"greeting":"hello"}}`)))

	// duplicate name is rejected regardless of other parameters
	err = h.StartProvider(ctx, "p1", "kv", client.WithProviderID(2))
	require.ErrorAs(t, err, &semErr)
	assert.Equal(t, wire.StatusNameConflict, semErr.Kind)

	// the same client request now resolves
	require.NoError(t, h.CreateClient(ctx, "c1", "kv",
		client.WithDependency("provider", "p1")))

	require.NoError(t, h.CreateABTIOInstance(ctx, "io1", config.DefaultPoolName, `{"threads":2}`))
	require.NoError(t, h.AddSSGGroup(ctx, `{"name":"g1","bootstrap":"init"}`))

	doc, err := h.GetConfig(ctx)
	require.NoError(t, err)

	var tree config.Tree
	require.NoError(t, json.Unmarshal([]byte(doc), &tree))
	require.Len(t, tree.Providers, 1)
	assert.Equal(t, "p1", tree.Providers[0].Name)
	assert.Equal(t, uint16(1), tree.Providers[0].ProviderID)
	require.Len(t, tree.Clients, 1)
	assert.Equal(t, config.DependencyMap{"provider": {"p1"}}, tree.Clients[0].Dependencies)
	assert.Len(t, tree.ABTIO, 1)
	assert.Len(t, tree.SSG, 1)

	// query subtree selection
	got, err := h.QueryConfig(ctx, "libraries")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kv":"kv.mod"}`, got)

	// identity query returns the same document as GetConfig
	identity, err := h.QueryConfig(ctx, "")
	require.NoError(t, err)
	assert.JSONEq(t, doc, identity)

	_, err = h.QueryConfig(ctx, "bad..script")
	require.ErrorAs(t, err, &semErr)
	assert.Equal(t, wire.StatusInvalidScript, semErr.Kind)
}

// TestConcurrentHandles checks the linearization property over the wire:
// many handles racing to admit the same name produce exactly one success.
func TestConcurrentHandles(t *testing.T) {
	d := startDaemon(t)
	h := newHandle(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, h.LoadModule(ctx, "kv", "kv.mod"))

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			racer := newHandle(t, d)
			errs[i] = racer.StartProvider(ctx, "contested", "kv",
				client.WithProviderID(uint16(i)))
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var semErr *client.Error
		require.ErrorAs(t, err, &semErr)
		require.Equal(t, wire.StatusNameConflict, semErr.Kind)
	}
	assert.Equal(t, 1, ok)

	// while racing, snapshots must stay parseable and consistent
	doc, err := h.GetConfig(ctx)
	require.NoError(t, err)
	var tree config.Tree
	require.NoError(t, json.Unmarshal([]byte(doc), &tree))
	require.NoError(t, tree.Validate())
	require.Len(t, tree.Providers, 1)
}

// TestConcurrentReadsDuringAdmission hammers GetConfig from several
// goroutines while providers are admitted, checking for torn snapshots.
func TestConcurrentReadsDuringAdmission(t *testing.T) {
	d := startDaemon(t)
	h := newHandle(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, h.LoadModule(ctx, "kv", "kv.mod"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			name := fmt.Sprintf("p%d", i)
			if err := h.StartProvider(ctx, name, "kv", client.WithProviderID(uint16(i))); err != nil {
				t.Errorf("admit %s: %v", name, err)
				return
			}
		}
	}()

	reader := newHandle(t, d)
	for {
		select {
		case <-done:
			return
		default:
		}
		doc, err := reader.GetConfig(ctx)
		require.NoError(t, err)
		var tree config.Tree
		require.NoError(t, json.Unmarshal([]byte(doc), &tree))
		require.NoError(t, tree.Validate())
	}
}

// TestKVModuleBehindDaemon checks that a component admitted over the
// wire is live in the daemon process, not just recorded in the tree.
func TestKVModuleBehindDaemon(t *testing.T) {
	cert, err := transport.GenerateDevCertificate("localhost")
	require.NoError(t, err)

	mgr, err := manager.New(manager.Options{Registry: registry.New(nil)})
	require.NoError(t, err)

	d, err := daemon.New(daemon.Config{
		Address: "127.0.0.1:0",
		TLS:     &transport.TLSConfig{Certificate: cert},
		Manager: mgr,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	h := newHandle(t, d)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, h.LoadModule(ctx, "kv", "kv.mod"))
	require.NoError(t, h.StartProvider(ctx, "p1", "kv",
		client.WithConfig(`{"seed":{"k":"v"}}`)))

	p, ok := mgr.Component("p1").(*kv.Provider)
	require.True(t, ok)
	got, found := p.Get("k")
	require.True(t, found)
	assert.Equal(t, "v", got)
}

// TestHandleAfterDaemonStop checks that calls fail with the transport
// sentinel once the daemon is gone.
func TestHandleAfterDaemonStop(t *testing.T) {
	d := startDaemon(t)
	h := newHandle(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.GetConfig(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Stop())

	_, err = h.GetConfig(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrUnreachable), "got %v", err)
}
