package forgeframe

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/jshsmth/forgeframe/internal/propschema"
	"github.com/jshsmth/forgeframe/internal/serialize"
	"github.com/jshsmth/forgeframe/internal/transport"
)

// renderPair wires an IframeSurface and, as soon as the consumer side opens
// it, spins up the matching Host on the other channel half — the Go
// equivalent of the embedding (consumer) document creating an iframe and
// the embedded document's script running forgeframe's host side.
func renderPair(t *testing.T, cfg Config, userProps map[string]any) (*Consumer, *Host) {
	t.Helper()
	hostCh := make(chan *Host, 1)

	surface := NewIframeSurface(cfg.OwnDomain, cfg.URL, func(consumerPeer transport.Peer) {
		go func() {
			h, err := NewHost(context.Background(), consumerPeer, cfg.OwnDomain, HostOptions{
				Tag:       cfg.Tag,
				OwnDomain: cfg.URL,
				Timeout:   2 * time.Second,
			})
			if err != nil {
				hostCh <- nil
				return
			}
			hostCh <- h
		}()
	})

	consumer := Create(cfg)(userProps)
	_, err := consumer.Render(context.Background(), surface)
	require.NoError(t, err)

	host := <-hostCh
	require.NotNil(t, host)
	t.Cleanup(func() {
		_ = consumer.Close()
		_ = host.Close()
	})
	return consumer, host
}

func TestRenderReachesRenderedStageAndInstallsLiveProps(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
		Props: propschema.Schema{
			"title": {Kind: propschema.KindString, Default: "hello"},
		},
	}

	consumer, host := renderPair(t, cfg, nil)

	require.Equal(t, StageRendered, consumer.currentStage())
	title, ok := host.LiveProps().Get("title")
	require.True(t, ok)
	require.Equal(t, "hello", title)
}

func TestOriginMismatchFailsRenderAndClosesInstance(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://other.example",
	}
	surface := NewIframeSurface(cfg.OwnDomain, "https://attacker.example", nil)

	consumer := Create(cfg)(nil)
	_, err := consumer.Render(context.Background(), surface)
	require.Error(t, err)
	var mismatch *OriginMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, StageClosed, consumer.currentStage())
}

func TestUpdatePropsSendsOnlyChangedDelta(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	var mu sync.Mutex
	var received []map[string]any
	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
		Props: propschema.Schema{
			"count": {Kind: propschema.KindNumber, Default: float64(0)},
			"label": {Kind: propschema.KindString, Default: "a"},
		},
	}

	consumer, host := renderPair(t, cfg, nil)
	host.LiveProps().OnProps(func(delta any) {
		m, _ := delta.(map[string]any)
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})

	require.NoError(t, consumer.UpdateProps(map[string]any{"count": float64(1), "label": "a"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, float64(1), received[0]["count"])
	_, labelChanged := received[0]["label"]
	require.False(t, labelChanged)
}

func TestFunctionPropInvocableFromHost(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	var greeted []any
	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
		Props: propschema.Schema{
			"name":    {Kind: propschema.KindString, Required: true},
			"count":   {Kind: propschema.KindNumber, Default: float64(0)},
			"onGreet": {Kind: propschema.KindFunc},
		},
	}
	userProps := map[string]any{
		"name": "Ada",
		"onGreet": serialize.Func(func(args []any) (any, error) {
			greeted = args
			return nil, nil
		}),
	}

	_, host := renderPair(t, cfg, userProps)

	name, ok := host.LiveProps().Get("name")
	require.True(t, ok)
	require.Equal(t, "Ada", name)
	count, ok := host.LiveProps().Get("count")
	require.True(t, ok)
	require.Equal(t, float64(0), count)

	greetRaw, ok := host.LiveProps().Get("onGreet")
	require.True(t, ok)
	proxy, ok := greetRaw.(serialize.Func)
	require.True(t, ok)

	result, err := proxy([]any{"hi"})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, []any{"hi"}, greeted)
}

func TestFunctionPropErrorPropagatesToHostCaller(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
		Props: propschema.Schema{
			"onGreet": {Kind: propschema.KindFunc},
		},
	}
	userProps := map[string]any{
		"onGreet": serialize.Func(func(args []any) (any, error) {
			return nil, fmt.Errorf("greeting rejected")
		}),
	}

	_, host := renderPair(t, cfg, userProps)

	greetRaw, ok := host.LiveProps().Get("onGreet")
	require.True(t, ok)
	proxy := greetRaw.(serialize.Func)

	_, err := proxy(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "greeting rejected")
}

func TestRoleFlagsFollowSetRole(t *testing.T) {
	t.Cleanup(func() { SetRole(RoleUnknown) })

	SetRole(RoleUnknown)
	require.False(t, IsConsumer())
	require.False(t, IsHost())

	SetRole(RoleConsumer)
	require.True(t, IsConsumer())
	require.False(t, IsHost())

	SetRole(RoleHost)
	require.True(t, IsHost())
	require.False(t, IsConsumer())
}

func TestGetComponentAndDestroyAll(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
	}
	consumer, host := renderPair(t, cfg, nil)

	inst, ok := GetComponent(consumer.UID())
	require.True(t, ok)
	require.Equal(t, consumer.UID(), inst.UID())
	_, ok = GetComponent(host.UID())
	require.True(t, ok)
	_, ok = GetComponent("no-such-uid")
	require.False(t, ok)

	require.NoError(t, DestroyAll())
	_, ok = GetComponent(consumer.UID())
	require.False(t, ok)
	require.Equal(t, StageClosed, consumer.currentStage())
}

func TestAutoResizeIssuesCoalescedResizeRequests(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:        "widget",
		URL:        "https://widget.example",
		OwnDomain:  "https://widget.example",
		AutoResize: &AutoResizeConfig{Height: true},
	}
	consumer, host := renderPair(t, cfg, nil)

	resized := make(chan Dimensions, 16)
	consumer.Events().On("resize", func(data any) {
		if d, ok := data.(Dimensions); ok {
			resized <- d
		}
	})

	// A burst of observations coalesces; the height that sticks is the
	// newest one, and the disabled width axis is masked off.
	for _, h := range []float64{100, 200, 300} {
		require.True(t, host.ObserveSize(Dimensions{Width: float64(640), Height: h}))
	}

	deadline := time.After(time.Second)
	for {
		select {
		case d := <-resized:
			require.Nil(t, d.Width)
			if d.Height == float64(300) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the final auto-resize request")
		}
	}
}

func TestObserveSizeReportsDisabledWithoutConfig(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
	}
	_, host := renderPair(t, cfg, nil)

	require.False(t, host.ObserveSize(Dimensions{Height: float64(100)}))
}

func TestHostReleaseDropsConsumerProxy(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
		Props: propschema.Schema{
			"onGreet": {Kind: propschema.KindFunc},
		},
	}
	userProps := map[string]any{
		"onGreet": serialize.Func(func(args []any) (any, error) { return "pong", nil }),
	}

	_, host := renderPair(t, cfg, userProps)

	greetRaw, ok := host.LiveProps().Get("onGreet")
	require.True(t, ok)
	proxy := greetRaw.(serialize.Func)

	_, err := proxy(nil)
	require.NoError(t, err)

	require.NoError(t, host.LiveProps().Release("onGreet"))
	_, ok = host.LiveProps().Get("onGreet")
	require.False(t, ok)

	// The consumer-side proxy entry is gone; a stale handle errors instead
	// of reaching the released function.
	_, err = proxy(nil)
	require.Error(t, err)
}

func TestHostResizeReachesConsumerAndFiresEvent(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
	}
	consumer, host := renderPair(t, cfg, nil)

	resized := make(chan Dimensions, 1)
	consumer.Events().On("resize", func(data any) {
		if d, ok := data.(Dimensions); ok {
			resized <- d
		}
	})

	require.NoError(t, host.LiveProps().Resize(Dimensions{Height: float64(500)}))

	select {
	case d := <-resized:
		require.Equal(t, float64(500), d.Height)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resize event")
	}
}

func TestHostExportReachesConsumerExports(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
	}
	consumer, host := renderPair(t, cfg, nil)

	require.NoError(t, host.LiveProps().Export(map[string]any{"version": "1.2.3"}))

	require.Eventually(t, func() bool {
		exports, _ := consumer.Exports().(map[string]any)
		return exports != nil && exports["version"] == "1.2.3"
	}, time.Second, 10*time.Millisecond)
}

func TestPopupBlockedWhenDialFails(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Nothing listens on port 1; the dial fails the way a blocked
	// window.open call does.
	surface := NewPopupSurface("127.0.0.1:1",
		transport.DomainIdentity{Domain: "https://app.example", PrivateKey: key},
		nil, "https://widget.example")

	consumer := Create(Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://app.example",
	})(nil)

	_, err = consumer.Render(context.Background(), surface)
	require.Error(t, err)
	var blocked *PopupBlockedError
	require.ErrorAs(t, err, &blocked)
	require.Equal(t, StageClosed, consumer.currentStage())
}

func TestDisallowedParentDomainFailsRender(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:                  "widget",
		URL:                  "https://widget.example",
		OwnDomain:            "https://evil.example",
		AllowedParentDomains: []string{"https://app.example"},
	}
	consumer := Create(cfg)(nil)
	_, err := consumer.Render(context.Background(), NewIframeSurface(cfg.OwnDomain, cfg.URL, nil))
	require.Error(t, err)
	require.Equal(t, StageClosed, consumer.currentStage())
}

func TestHostCloseTearsDownConsumer(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	cfg := Config{
		Tag:       "widget",
		URL:       "https://widget.example",
		OwnDomain: "https://widget.example",
	}
	consumer, host := renderPair(t, cfg, nil)

	var closed atomic.Bool
	consumer.Events().On("close", func(any) { closed.Store(true) })

	require.NoError(t, host.LiveProps().Close())
	require.Eventually(t, func() bool { return closed.Load() }, time.Second, 10*time.Millisecond)
	require.Equal(t, StageClosed, consumer.currentStage())
}
