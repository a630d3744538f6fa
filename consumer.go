package forgeframe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jshsmth/forgeframe/internal/cleanup"
	"github.com/jshsmth/forgeframe/internal/propschema"
	"github.com/jshsmth/forgeframe/internal/projector"
	"github.com/jshsmth/forgeframe/internal/registry"
	"github.com/jshsmth/forgeframe/internal/transport"
	"github.com/jshsmth/forgeframe/internal/uid"
	"github.com/jshsmth/forgeframe/internal/wire"
)

// Stage is the consumer-side lifecycle.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageOpening     Stage = "opening"
	StagePrerendered Stage = "prerendered"
	StageRendered    Stage = "rendered"
	StageClosing     Stage = "closing"
	StageClosed      Stage = "closed"
)

// ComponentFactory is `create(config) → componentFactory`: called with the
// caller's user prop bag, it returns a not-yet-rendered Consumer instance.
type ComponentFactory func(userProps map[string]any) *Consumer

// Create builds a ComponentFactory from cfg.
func Create(cfg Config) ComponentFactory {
	return func(userProps map[string]any) *Consumer {
		return &Consumer{
			id:         uid.New(),
			cfg:        cfg,
			userProps:  cloneProps(userProps),
			events:     NewEmitter(),
			cleanup:    cleanup.New(),
			stage:      StageIdle,
			renderDone: make(chan error, 1),
		}
	}
}

func cloneProps(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Consumer is the consumer-side instance controller.
type Consumer struct {
	id  uid.UID
	cfg Config

	mu          sync.Mutex
	stage       Stage
	userProps   map[string]any
	props       map[string]any
	hostProps   map[string]any
	queryParams map[string]string
	peerOrigin  string
	sameDomain  bool
	exports     any

	surface FrameSurface
	br      *bridge
	cleanup *cleanup.Stack
	events  *Emitter

	updateSeq  uint64
	renderDone chan error
}

// UID satisfies registry.Instance.
func (c *Consumer) UID() string { return c.id.String() }

// Tag is the component tag this instance was created with.
func (c *Consumer) Tag() string { return c.cfg.Tag }

// Exports is the read-only value the host last supplied via its `export`
// builtin method.
func (c *Consumer) Exports() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exports
}

// Events exposes event.{on,once,off,emit,removeAllListeners}.
func (c *Consumer) Events() *Emitter { return c.events }

func (c *Consumer) stageIs(s Stage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage == s
}

func (c *Consumer) setStage(s Stage) {
	c.mu.Lock()
	c.stage = s
	c.mu.Unlock()
}

// Render asks surface to create the embedded view and drives the
// consumer-side state machine through to `rendered`, or to `closed` on any
// failure.
func (c *Consumer) Render(ctx context.Context, surface FrameSurface) (exports any, err error) {
	c.mu.Lock()
	if c.stage != StageIdle {
		c.mu.Unlock()
		return nil, fmt.Errorf("forgeframe: render called from stage %q", c.stage)
	}
	c.stage = StageOpening
	c.surface = surface
	c.mu.Unlock()

	// The component definition is shared between both sides; the embedding
	// page refuses to render a component whose definition doesn't permit
	// its own domain as a parent.
	if !domainAllowed(c.cfg.OwnDomain, c.cfg.AllowedParentDomains) {
		c.setStage(StageClosed)
		err := fmt.Errorf("forgeframe: parent domain %q is not allowed for component %q", c.cfg.OwnDomain, c.cfg.Tag)
		c.emitError(err)
		return nil, err
	}

	registry.Default.Register(c)
	c.invokeLifecycle("onRender", nil)

	peer, peerOrigin, err := surface.Open(ctx, c.id.String())
	if err != nil {
		c.setStage(StageClosed)
		registry.Default.Unregister(c.id.String())
		c.emitError(err)
		return nil, &PopupBlockedError{Reason: err.Error()}
	}
	c.invokeLifecycle("onPrerender", nil)

	if expected := originOf(c.cfg.URL); expected != "" && peerOrigin != expected {
		_ = surface.Destroy()
		c.setStage(StageClosed)
		registry.Default.Unregister(c.id.String())
		mismatchErr := &OriginMismatchError{Expected: expected, Got: peerOrigin}
		c.emitError(mismatchErr)
		return nil, mismatchErr
	}

	c.mu.Lock()
	c.peerOrigin = peerOrigin
	c.sameDomain = peerOrigin == c.cfg.OwnDomain
	c.mu.Unlock()

	if c.cfg.Dimensions.Width != nil || c.cfg.Dimensions.Height != nil {
		_ = surface.Resize(c.cfg.Dimensions)
	}

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.br = newBridge(peer, transport.Options{
		LocalUID:       c.id.String(),
		LocalDomain:    c.cfg.OwnDomain,
		DefaultTimeout: timeout,
		OnDrop:         c.onDrop,
	})
	c.cleanup.Push(func() { _ = c.br.dispose() })
	c.cleanup.Push(func() { _ = surface.Destroy() })

	c.br.ep.RegisterHandler("handshake", c.handleHandshake)
	c.br.ep.RegisterHandler("ready", c.handleReady)
	c.br.ep.RegisterHandler("close", c.handleRemoteClose)
	c.br.ep.RegisterHandler("focus", c.handleFocusRequest)
	c.br.ep.RegisterHandler("resize", c.handleResizeRequest)
	c.br.ep.RegisterHandler("show", c.handleShowRequest)
	c.br.ep.RegisterHandler("hide", c.handleHideRequest)
	c.br.ep.RegisterHandler("export", c.handleExportRequest)
	c.br.start()

	select {
	case err := <-c.renderDone:
		if err != nil {
			return nil, err
		}
		return c.Exports(), nil
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	case <-time.After(timeout):
		_ = c.Close()
		return nil, transport.ErrTimeout
	}
}

func (c *Consumer) onDrop(reason transport.DropReason, _ wire.Frame) {
	if c.cfg.OnDrop != nil {
		c.cfg.OnDrop(string(reason))
	}
}

func (c *Consumer) handleHandshake(data any) (any, error) {
	c.setStage(StagePrerendered)
	c.invokeLifecycle("onPrerendered", nil)
	c.events.Emit("prerendered", nil)

	ctx := c.projectionContext()
	res, err := projector.Project(c.cfg.Props, c.userProps, ctx)
	if err != nil {
		go func() { c.failRender(err) }()
		return nil, err
	}

	c.mu.Lock()
	c.props = res.Props
	c.hostProps = res.HostProps
	c.queryParams = res.QueryParams
	c.mu.Unlock()

	marshalled, err := c.br.ser.Marshal(res.HostProps)
	if err != nil {
		return nil, err
	}
	// The response envelope carries the projected props plus the
	// component-level settings the host side acts on (auto-resize).
	envelope := map[string]any{"props": marshalled}
	if ar := c.cfg.AutoResize; ar != nil {
		envelope["autoResize"] = map[string]any{
			"width":   ar.Width,
			"height":  ar.Height,
			"element": ar.Element,
		}
	}
	return envelope, nil
}

func (c *Consumer) projectionContext() propschema.Context {
	return propschema.Context{
		Props:          c.userProps,
		PeerOrigin:     c.peerOrigin,
		SameDomain:     c.sameDomain,
		TrustedDomains: c.cfg.TrustedDomains,
	}
}

func (c *Consumer) handleReady(data any) (any, error) {
	c.setStage(StageRendered)
	c.invokeLifecycle("onRendered", nil)
	c.events.Emit("rendered", nil)
	select {
	case c.renderDone <- nil:
	default:
	}
	return nil, nil
}

func (c *Consumer) handleRemoteClose(data any) (any, error) {
	go func() { _ = c.Close() }()
	return nil, nil
}

func (c *Consumer) handleFocusRequest(data any) (any, error) {
	return nil, c.Focus()
}

func (c *Consumer) handleShowRequest(data any) (any, error) {
	return nil, c.Show()
}

func (c *Consumer) handleHideRequest(data any) (any, error) {
	return nil, c.Hide()
}

func (c *Consumer) handleResizeRequest(data any) (any, error) {
	m, _ := data.(map[string]any)
	return nil, c.Resize(Dimensions{Width: m["width"], Height: m["height"]})
}

func (c *Consumer) handleExportRequest(data any) (any, error) {
	unmarshalled, err := c.br.ser.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.exports = unmarshalled
	c.mu.Unlock()
	c.events.Emit("export", unmarshalled)
	return nil, nil
}

func (c *Consumer) failRender(err error) {
	select {
	case c.renderDone <- err:
	default:
	}
	c.emitError(err)
	_ = c.Close()
}

// invokeLifecycle invokes a lifecycle callback prop (onRendered, onClose,
// ...) locally. The projected prop bag is consulted once available; before
// the handshake projects it, the raw user bag is the source.
func (c *Consumer) invokeLifecycle(name string, data any) {
	c.mu.Lock()
	bag := c.props
	if bag == nil {
		bag = c.userProps
	}
	fn, ok := bag[name].(func(any))
	c.mu.Unlock()
	if ok && fn != nil {
		invokeListener(fn, data)
	}
}

// emitError feeds err to both the onError lifecycle prop and the error
// event stream.
func (c *Consumer) emitError(err error) {
	c.invokeLifecycle("onError", err)
	c.events.Emit("error", err)
}

// UpdateProps merges partial into the user prop bag, re-runs the
// projector, and sends only the changed host-visible entries to the host.
func (c *Consumer) UpdateProps(partial map[string]any) error {
	if !c.stageIs(StageRendered) && !c.stageIs(StagePrerendered) {
		return fmt.Errorf("forgeframe: updateProps called from stage %q", c.currentStage())
	}

	c.mu.Lock()
	for k, v := range partial {
		c.userProps[k] = v
	}
	prevHost := c.hostProps
	c.mu.Unlock()

	ctx := c.projectionContext()
	res, err := projector.Project(c.cfg.Props, c.userProps, ctx)
	if err != nil {
		return err
	}

	delta := projector.Diff(prevHost, res.HostProps)
	c.mu.Lock()
	c.props = res.Props
	c.hostProps = res.HostProps
	c.queryParams = res.QueryParams
	c.updateSeq++
	seq := c.updateSeq
	c.mu.Unlock()

	if len(delta) == 0 {
		return nil
	}
	c.invokeLifecycle("onProps", map[string]any(delta))
	c.events.Emit("props", map[string]any(delta))

	marshalled, err := c.br.ser.Marshal(map[string]any(delta))
	if err != nil {
		return err
	}
	// The sequence number lets the host discard a delta that arrives after
	// a newer one has already been applied.
	payload := map[string]any{"seq": seq, "delta": marshalled}
	_, err = c.br.ep.SendRequest(context.Background(), "propUpdate", payload, 0)
	return err
}

func (c *Consumer) currentStage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Resize applies d to the embedded view directly (the consumer-initiated
// path; handleResizeRequest is the host-initiated path) and fires onResize.
func (c *Consumer) Resize(d Dimensions) error {
	if c.surface == nil {
		return nil
	}
	if err := c.surface.Resize(d); err != nil {
		return err
	}
	c.invokeLifecycle("onResize", d)
	c.events.Emit("resize", d)
	return nil
}

// Focus focuses the embedded view.
func (c *Consumer) Focus() error {
	if c.surface == nil {
		return nil
	}
	if err := c.surface.Focus(); err != nil {
		return err
	}
	c.invokeLifecycle("onFocus", nil)
	c.events.Emit("focus", nil)
	return nil
}

// Show reveals the embedded view.
func (c *Consumer) Show() error {
	if c.surface == nil {
		return nil
	}
	if err := c.surface.Show(); err != nil {
		return err
	}
	c.invokeLifecycle("onDisplay", true)
	c.events.Emit("display", true)
	return nil
}

// Hide conceals the embedded view without destroying it.
func (c *Consumer) Hide() error {
	if c.surface == nil {
		return nil
	}
	if err := c.surface.Hide(); err != nil {
		return err
	}
	c.invokeLifecycle("onDisplay", false)
	c.events.Emit("display", false)
	return nil
}

// Close drains pending work, disposes the endpoint, releases proxies, and
// destroys the embedded view — LIFO, via the per-instance cleanup stack.
// Idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.stage == StageClosed || c.stage == StageClosing {
		c.mu.Unlock()
		return nil
	}
	c.stage = StageClosing
	c.mu.Unlock()

	// Best-effort: tell the host before tearing the endpoint down, so its
	// side can release listeners promptly instead of waiting on a timeout.
	if c.br != nil {
		_, _ = c.br.ep.SendRequest(context.Background(), "close", nil, 500*time.Millisecond)
	}

	c.cleanup.Run()

	c.setStage(StageClosed)
	registry.Default.Unregister(c.id.String())

	c.invokeLifecycle("onClose", nil)
	c.events.Emit("close", nil)
	c.invokeLifecycle("onDestroy", nil)
	c.events.Emit("destroy", nil)

	select {
	case c.renderDone <- transport.ErrEndpointClosed:
	default:
	}
	return nil
}
