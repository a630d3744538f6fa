package forgeframe

import (
	"context"
	"fmt"

	"github.com/jshsmth/forgeframe/internal/serialize"
	"github.com/jshsmth/forgeframe/internal/transport"
)

// bridge glues one transport.Endpoint to one serialize.Serializer: it wires
// the endpoint's unknown-request fallback to the serializer's token table,
// and handles the two serializer-owned built-in request names ("settle",
// "release") that never go through user-registered handlers.
type bridge struct {
	ep  *transport.Endpoint
	ser *serialize.Serializer
}

func newBridge(peer transport.Peer, opts transport.Options) *bridge {
	b := &bridge{}
	opts.Fallback = b.invokeLocal
	b.ep = transport.New(peer, opts)
	b.ser = serialize.New(b)
	b.ep.RegisterHandler("settle", b.handleSettle)
	b.ep.RegisterHandler("release", b.handleRelease)
	return b
}

// start launches the endpoint's message pump. Called once the owning
// controller has registered its own handlers, so no early frame races the
// registration.
func (b *bridge) start() { b.ep.Start() }

func (b *bridge) invokeLocal(name string, data any) (any, error) {
	args, _ := data.([]any)
	result, handled, err := b.ser.InvokeLocal(name, args)
	if !handled {
		return nil, fmt.Errorf("forgeframe: no local proxy for token %q", name)
	}
	if err != nil {
		return nil, err
	}
	// The function's return value may itself carry functions or promises,
	// so it goes back through the serializer before hitting the wire.
	return b.ser.Marshal(result)
}

func (b *bridge) handleSettle(data any) (any, error) {
	m, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("forgeframe: malformed settle payload")
	}
	token, _ := m["token"].(string)
	if settled, _ := m["ok"].(bool); settled {
		return nil, b.ser.SettleToken(token, true, m["value"], nil)
	}
	var settleErr error
	if e, ok := m["error"].(map[string]any); ok {
		msg, _ := e["message"].(string)
		settleErr = fmt.Errorf("%s", msg)
	}
	return nil, b.ser.SettleToken(token, false, nil, settleErr)
}

func (b *bridge) handleRelease(data any) (any, error) {
	m, _ := data.(map[string]any)
	token, _ := m["token"].(string)
	b.ser.Release(token)
	return nil, nil
}

// InvokeToken satisfies serialize.Invoker: it issues the request whose
// name is the far side's function-proxy token and awaits the response.
func (b *bridge) InvokeToken(token string, args []any) (any, error) {
	return b.ep.SendRequest(context.Background(), token, args, 0)
}

// SendSettle satisfies serialize.Invoker: it notifies the peer that a
// promise this side reconstructed has settled.
func (b *bridge) SendSettle(token string, ok bool, value any, settleErr *serialize.FrameError) error {
	payload := map[string]any{"token": token, "ok": ok}
	if ok {
		payload["value"] = value
	} else if settleErr != nil {
		payload["error"] = map[string]any{"message": settleErr.Message, "name": settleErr.Name, "stack": settleErr.Stack}
	}
	_, err := b.ep.SendRequest(context.Background(), "settle", payload, 0)
	return err
}

// release asks the peer to drop its proxy entry for token, the Go
// analogue of the far side's garbage collector finalizing a proxy.
func (b *bridge) release(token string) error {
	_, err := b.ep.SendRequest(context.Background(), "release", map[string]any{"token": token}, 0)
	return err
}

func (b *bridge) dispose() error {
	b.ser.Dispose()
	return b.ep.Dispose()
}
