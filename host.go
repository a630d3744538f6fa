package forgeframe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jshsmth/forgeframe/internal/registry"
	"github.com/jshsmth/forgeframe/internal/transport"
	"github.com/jshsmth/forgeframe/internal/uid"
	"github.com/jshsmth/forgeframe/internal/wire"
)

// HostOptions configures a Host instance.
type HostOptions struct {
	// Tag mirrors the consumer's configured tag, for getComponent-style
	// introspection on the host side.
	Tag string
	// OwnDomain is this host's own origin, stamped as Source.Domain on its
	// outbound frames.
	OwnDomain string
	// AllowedParentDomains, when non-empty, restricts which consumer
	// origins may embed this host. "*" allows any.
	AllowedParentDomains []string
	// Timeout bounds the initial handshake round trip.
	Timeout time.Duration
	// OnDrop observes silently-dropped inbound frames, same contract as
	// Config.OnDrop on the consumer side.
	OnDrop func(reason string)
	// OnProps is invoked on every applied prop update (initial handshake
	// and every later propUpdate).
	OnProps func(liveProps map[string]any)
}

// LiveProps is the object exposed to host-side user code: a stable
// identity whose enumerable entries are replaced on every update.
type LiveProps struct {
	mu     sync.RWMutex
	values map[string]any

	h *Host
}

// Get reads one prop by name.
func (p *LiveProps) Get(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[name]
	return v, ok
}

// All returns a snapshot of every current prop.
func (p *LiveProps) All() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p *LiveProps) replace(values map[string]any) map[string]any {
	p.mu.Lock()
	prev := p.values
	p.values = values
	p.mu.Unlock()
	return prev
}

// UID is the read-only uid builtin.
func (p *LiveProps) UID() string { return p.h.id.String() }

// Tag is the read-only tag builtin.
func (p *LiveProps) Tag() string { return p.h.tag }

// GetConsumer returns the host's view of the consumer instance's UID — in
// a real browser this is an opaque reference; here it is the peer uid the
// handshake established.
func (p *LiveProps) GetConsumer() string { return p.h.consumerUID }

// GetConsumerDomain returns the consumer's asserted origin.
func (p *LiveProps) GetConsumerDomain() string { return p.h.consumerDomain }

// Close asks the consumer to tear the instance down.
func (p *LiveProps) Close() error { return p.h.sendBuiltin("close", nil) }

// Focus asks the consumer to focus the embedded view.
func (p *LiveProps) Focus() error { return p.h.sendBuiltin("focus", nil) }

// Resize asks the consumer to resize the embedded view.
func (p *LiveProps) Resize(d Dimensions) error {
	return p.h.sendBuiltin("resize", map[string]any{"width": d.Width, "height": d.Height})
}

// Show asks the consumer to reveal the embedded view.
func (p *LiveProps) Show() error { return p.h.sendBuiltin("show", nil) }

// Hide asks the consumer to conceal the embedded view.
func (p *LiveProps) Hide() error { return p.h.sendBuiltin("hide", nil) }

// Export hands value to the consumer as this instance's exports, exactly
// as if the consumer's embedded function had returned it.
func (p *LiveProps) Export(value any) error {
	marshalled, err := p.h.br.ser.Marshal(value)
	if err != nil {
		return err
	}
	_, err = p.h.br.ep.SendRequest(context.Background(), "export", marshalled, 0)
	return err
}

// Release drops a function- or promise-valued prop this side no longer
// needs, telling the consumer to free the backing proxy-table entry
// instead of retaining it until endpoint disposal. The prop is removed from
// this side's view in every case; for a prop that never carried a token
// nothing is sent to the consumer.
func (p *LiveProps) Release(name string) error {
	p.h.mu.Lock()
	raw, _ := p.h.rawProps[name].(map[string]any)
	token, _ := raw["token"].(string)
	delete(p.h.rawProps, name)
	p.h.mu.Unlock()

	p.mu.Lock()
	delete(p.values, name)
	p.mu.Unlock()

	if token == "" {
		return nil
	}
	p.h.br.ser.Release(token)
	return p.h.br.release(token)
}

// OnProps registers a listener invoked on every applied prop delta.
func (p *LiveProps) OnProps(fn Listener) (unsubscribe func()) { return p.h.events.On("props", fn) }

// OnError registers a listener invoked on any error that would otherwise
// only be logged.
func (p *LiveProps) OnError(fn Listener) (unsubscribe func()) { return p.h.events.On("error", fn) }

// Host is the host-side instance controller.
type Host struct {
	id  uid.UID
	tag string

	mu             sync.Mutex
	consumerUID    string
	consumerDomain string
	lastUpdateSeq  float64
	rawProps       map[string]any
	autoResize     AutoResizeConfig
	sizeCh         chan Dimensions
	closed         bool

	br     *bridge
	live   *LiveProps
	events *Emitter
	opts   HostOptions
}

// NewHost builds the endpoint back to the consumer over peer, performs
// the handshake, installs liveProps, and emits `ready`. peerDomain is the
// consumer's asserted origin, established by a WebSocketPeer's verified
// domain assertion or a DuplexPeer's configured origin.
func NewHost(ctx context.Context, peer transport.Peer, peerDomain string, opts HostOptions) (*Host, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := checkParentDomain(peerDomain, opts.AllowedParentDomains); err != nil {
		return nil, err
	}

	h := &Host{
		id:             uid.New(),
		tag:            opts.Tag,
		consumerDomain: peerDomain,
		events:         NewEmitter(),
		opts:           opts,
	}
	h.live = &LiveProps{h: h}

	h.br = newBridge(peer, transport.Options{
		LocalUID:       h.id.String(),
		LocalDomain:    opts.OwnDomain,
		DefaultTimeout: timeout,
		OnDrop:         h.onDrop,
	})
	h.br.ep.RegisterHandler("propUpdate", h.handlePropUpdate)
	h.br.ep.RegisterHandler("close", h.handleRemoteClose)
	h.br.start()

	registry.Default.Register(h)

	hostPropsRaw, err := h.br.ep.SendRequest(ctx, "handshake", nil, timeout)
	if err != nil {
		registry.Default.Unregister(h.id.String())
		_ = h.br.dispose()
		return nil, fmt.Errorf("forgeframe: handshake failed: %w", err)
	}
	envelope, _ := hostPropsRaw.(map[string]any)
	unmarshalled, err := h.br.ser.Unmarshal(envelope["props"])
	if err != nil {
		registry.Default.Unregister(h.id.String())
		_ = h.br.dispose()
		return nil, err
	}
	values, _ := unmarshalled.(map[string]any)
	h.live.replace(values)

	ar, arEnabled := parseAutoResize(envelope["autoResize"])
	var sizeCh chan Dimensions
	if arEnabled {
		sizeCh = make(chan Dimensions, 16)
	}

	h.mu.Lock()
	h.consumerUID = h.br.ep.PeerUID()
	// The raw (still-tokenised) forms back LiveProps.Release: a function
	// or promise prop's token is only visible pre-reconstruction.
	h.rawProps, _ = envelope["props"].(map[string]any)
	if h.rawProps == nil {
		h.rawProps = map[string]any{}
	}
	h.autoResize = ar
	h.sizeCh = sizeCh
	h.mu.Unlock()

	if arEnabled {
		go h.autoResizeLoop(ar, sizeCh)
	}
	if opts.OnProps != nil {
		opts.OnProps(h.live.All())
	}

	if _, err := h.br.ep.SendRequest(ctx, "ready", nil, timeout); err != nil {
		h.events.Emit("error", err)
	}

	return h, nil
}

func (h *Host) onDrop(reason transport.DropReason, _ wire.Frame) {
	if h.opts.OnDrop != nil {
		h.opts.OnDrop(string(reason))
	}
}

func (h *Host) handlePropUpdate(data any) (any, error) {
	payload, _ := data.(map[string]any)
	seq, _ := payload["seq"].(float64)

	unmarshalled, err := h.br.ser.Unmarshal(payload["delta"])
	if err != nil {
		return nil, err
	}
	delta, _ := unmarshalled.(map[string]any)
	rawDelta, _ := payload["delta"].(map[string]any)

	// The sequence gate and the apply happen under one lock, so a delta
	// older than one already applied is discarded rather than clobbering
	// newer values.
	h.mu.Lock()
	if seq <= h.lastUpdateSeq {
		h.mu.Unlock()
		return nil, nil
	}
	h.lastUpdateSeq = seq
	current := h.live.All()
	for k, v := range delta {
		if v == nil {
			delete(current, k)
			delete(h.rawProps, k)
			continue
		}
		current[k] = v
		h.rawProps[k] = rawDelta[k]
	}
	h.live.replace(current)
	sizeProp := h.autoResize.Element
	h.mu.Unlock()

	// An auto-resize element prop doubles as a size hint: updating it
	// feeds the observation loop the same way an explicit ObserveSize
	// call would.
	if sizeProp != "" {
		if hint, ok := delta[sizeProp].(map[string]any); ok {
			h.ObserveSize(Dimensions{Width: hint["width"], Height: hint["height"]})
		}
	}

	if h.opts.OnProps != nil {
		h.opts.OnProps(h.live.All())
	}
	h.events.Emit("props", delta)
	return nil, nil
}

// parseAutoResize decodes the handshake envelope's autoResize settings.
// enabled reports whether either axis is on.
func parseAutoResize(raw any) (cfg AutoResizeConfig, enabled bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return AutoResizeConfig{}, false
	}
	cfg.Width, _ = m["width"].(bool)
	cfg.Height, _ = m["height"].(bool)
	cfg.Element, _ = m["element"].(string)
	return cfg, cfg.Width || cfg.Height
}

func (h *Host) handleRemoteClose(data any) (any, error) {
	go func() { _ = h.Close() }()
	return nil, nil
}

// checkParentDomain enforces AllowedParentDomains against the consumer's
// asserted origin.
func checkParentDomain(domain string, allowed []string) error {
	if domainAllowed(domain, allowed) {
		return nil
	}
	return fmt.Errorf("forgeframe: parent domain %q is not allowed", domain)
}

func (h *Host) sendBuiltin(name string, data any) error {
	_, err := h.br.ep.SendRequest(context.Background(), name, data, 0)
	return err
}

// ObserveSize feeds one content-size observation into the auto-resize
// loop. It reports false when the consumer's configuration did not enable
// auto-resize for this component. Never blocks; observations beyond the
// loop's buffer are dropped, and the loop itself coalesces to the newest.
func (h *Host) ObserveSize(d Dimensions) bool {
	h.mu.Lock()
	ch := h.sizeCh
	h.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- d:
	default:
	}
	return true
}

// autoResizeLoop runs while the endpoint lives, when the handshake enabled
// auto-resize. It issues resize requests to the consumer, coalesced to at
// most one per frame interval (~16 ms) — rapid bursts collapse to the most
// recent dimensions — and masks the axes the configuration left off.
// Errors are reported through the host's error event stream rather than
// aborting the loop.
func (h *Host) autoResizeLoop(cfg AutoResizeConfig, sizes <-chan Dimensions) {
	const frameInterval = 16 * time.Millisecond

	var pending *Dimensions
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.br.ep.Done():
			return
		case d, ok := <-sizes:
			if !ok {
				return
			}
			pending = &d
		case <-ticker.C:
			if pending == nil {
				continue
			}
			d := *pending
			pending = nil
			if !cfg.Width {
				d.Width = nil
			}
			if !cfg.Height {
				d.Height = nil
			}
			if err := h.live.Resize(d); err != nil {
				h.events.Emit("error", err)
			}
		}
	}
}

// LiveProps returns the single live object host user code observes.
func (h *Host) LiveProps() *LiveProps { return h.live }

// Events exposes the host's error/props notification stream.
func (h *Host) Events() *Emitter { return h.events }

// UID satisfies registry.Instance.
func (h *Host) UID() string { return h.id.String() }

// Close notifies the peer best-effort and disposes the endpoint.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	_, _ = h.br.ep.SendRequest(context.Background(), "close", nil, time.Second)
	registry.Default.Unregister(h.id.String())
	return h.br.dispose()
}
