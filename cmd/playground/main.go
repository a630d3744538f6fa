// Command playground exercises the full ForgeFrame wire protocol between
// two separate OS processes, standing in for a browser page and the
// cross-origin popup it opens. Run one process with --role=host to
// represent the embedded component listening for its embedder, and a
// second with --role=consumer to represent the embedding page dialing in
// and rendering it.
//
// Usage:
//
//	./playground --role=host --component=button.yaml --addr=:4100 --own-domain=https://widget.example --peer-domain=https://app.example --trust=consumer.pub.pem
//	./playground --role=consumer --component=button.yaml --addr=127.0.0.1:4100 --own-domain=https://app.example --peer-domain=https://widget.example
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/jshsmth/forgeframe"
	"github.com/jshsmth/forgeframe/driver"
	"github.com/jshsmth/forgeframe/internal/diagnostics"
	"github.com/jshsmth/forgeframe/internal/identity"
	"github.com/jshsmth/forgeframe/internal/propschema"
	"github.com/jshsmth/forgeframe/internal/transport"
)

type options struct {
	Role          string `long:"role" choice:"host" choice:"consumer" description:"which side of the broker this process plays"`
	Component     string `long:"component" description:"path to the component's YAML definition"`
	Addr          string `long:"addr" default:"127.0.0.1:4100" description:"host: address to listen on; consumer: address to dial"`
	OwnDomain     string `long:"own-domain" description:"this process's own origin, e.g. https://widget.example"`
	PeerDomain    string `long:"peer-domain" description:"consumer: the host's expected origin; host: the consumer domain the --trust key belongs to"`
	TrustedKeyPEM string `long:"trust" description:"host only: PEM public key of the consumer domain to trust; omitted disables verification"`
	KeyDir        string `long:"key-dir" default:"." description:"directory holding (or to generate) this domain's RSA key pair"`
	HTTPAddr      string `long:"http-addr" default:"" description:"optional address to serve the HTTP UI driver and diagnostics on"`
	DiagnosticsDB string `long:"diagnostics-db" description:"sqlite path for the dropped-frame counters; falls back to FORGEFRAME_DIAGNOSTICS_DB, then :memory:"`
	Stats         bool   `long:"stats" description:"print accumulated diagnostics counters and exit"`
}

func main() {
	logLevel := slog.LevelInfo
	if getEnv("LOG_LEVEL", "info") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if opts.DiagnosticsDB == "" {
		opts.DiagnosticsDB = getEnv("FORGEFRAME_DIAGNOSTICS_DB", ":memory:")
	}

	diag, err := diagnostics.Open(opts.DiagnosticsDB)
	if err != nil {
		slog.Error("failed to open diagnostics store", "error", err)
		os.Exit(1)
	}
	defer diag.Close()

	if opts.Stats {
		printStats(diag)
		return
	}
	if opts.Role == "" || opts.Component == "" || opts.OwnDomain == "" {
		slog.Error("--role, --component, and --own-domain are required unless --stats is given")
		os.Exit(1)
	}

	def, err := loadComponentDef(opts.Component)
	if err != nil {
		slog.Error("failed to load component definition", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch opts.Role {
	case "host":
		forgeframe.SetRole(forgeframe.RoleHost)
		runHost(ctx, opts, def, diag)
	case "consumer":
		forgeframe.SetRole(forgeframe.RoleConsumer)
		runConsumer(ctx, opts, def, diag)
	}

	slog.Info("playground stopped")
}

func printStats(diag *diagnostics.Store) {
	counts, err := diag.Counts()
	if err != nil {
		slog.Error("failed to read diagnostics counters", "error", err)
		os.Exit(1)
	}
	if len(counts) == 0 {
		fmt.Println("no dropped frames recorded")
		return
	}
	for reason, n := range counts {
		fmt.Printf("%-20s %d\n", reason, n)
	}
}

func runHost(ctx context.Context, opts options, def *componentDef, diag *diagnostics.Store) {
	// The popup handshake is one-directional: only the dialing consumer
	// signs its assertion, so the accepting host side needs only the
	// consumer's public key, not an identity of its own.
	trusted := transport.TrustedKeys{}
	if opts.TrustedKeyPEM != "" && opts.PeerDomain != "" {
		pub, err := identity.LoadPublicKey(opts.TrustedKeyPEM)
		if err != nil {
			slog.Error("failed to load trusted peer key", "error", err)
			os.Exit(1)
		}
		trusted[opts.PeerDomain] = pub
	}

	if opts.HTTPAddr != "" {
		go serveHTTP(opts.HTTPAddr, nil)
	}

	slog.Info("listening for consumer", "addr", opts.Addr)
	peer, err := transport.ListenAndAcceptWebSocketPeer(ctx, opts.Addr, trusted)
	if err != nil {
		slog.Error("failed to accept consumer connection", "error", err)
		os.Exit(1)
	}

	h, err := forgeframe.NewHost(ctx, peer, peer.Origin(), forgeframe.HostOptions{
		Tag:       def.Tag,
		OwnDomain: opts.OwnDomain,
		Timeout:   def.timeout(10 * time.Second),
		OnDrop:    recordDrop(diag),
		OnProps: func(live map[string]any) {
			slog.Info("props applied", "props", live)
		},
	})
	if err != nil {
		slog.Error("handshake failed", "error", err)
		os.Exit(1)
	}
	slog.Info("host ready", "uid", h.UID(), "consumer", h.LiveProps().GetConsumer())

	unsub := h.LiveProps().OnError(func(data any) {
		slog.Error("host error event", "error", data)
	})
	defer unsub()

	// Seed the auto-resize loop with the definition's dimensions as the
	// initial content size; a real embedder would keep feeding
	// observations as its content changes.
	if h.ObserveSize(forgeframe.Dimensions{Width: def.Width, Height: def.Height}) {
		slog.Info("auto-resize enabled", "width", def.Width, "height", def.Height)
	}

	<-ctx.Done()
	_ = h.Close()
}

func runConsumer(ctx context.Context, opts options, def *componentDef, diag *diagnostics.Store) {
	kp, err := identity.LoadOrGenerate(
		fmt.Sprintf("%s/consumer.key", opts.KeyDir),
		fmt.Sprintf("%s/consumer.pub.pem", opts.KeyDir),
		parseInt(os.Getenv("FORGEFRAME_RSA_BITS"), 2048),
	)
	if err != nil {
		slog.Error("failed to load/generate identity", "error", err)
		os.Exit(1)
	}

	cfg := forgeframe.Config{
		Tag:        def.Tag,
		URL:        def.URL,
		Dimensions: forgeframe.Dimensions{Width: def.Width, Height: def.Height},
		Style:      def.Style,
		Attributes: def.Attributes,
		Props:      buildSchema(def.Props),
		AutoResize: def.autoResize(),
		Timeout:    def.timeout(10 * time.Second),
		OwnDomain:  opts.OwnDomain,
		OnDrop:     recordDrop(diag),
	}

	factory := forgeframe.Create(cfg)
	instance := factory(def.Props)

	instance.Events().On("error", func(data any) {
		slog.Error("consumer error event", "error", data)
	})

	if opts.HTTPAddr != "" {
		go serveHTTP(opts.HTTPAddr, &consumerRegistrar{c: instance})
	}

	identityID := transport.DomainIdentity{Domain: opts.OwnDomain, PrivateKey: kp.Private}
	surface := forgeframe.NewPopupSurface(opts.Addr, identityID, nil, opts.PeerDomain)

	slog.Info("dialing host", "addr", opts.Addr, "tag", def.Tag)
	exports, err := instance.Render(ctx, surface)
	if err != nil {
		slog.Error("render failed", "error", err)
		os.Exit(1)
	}
	slog.Info("rendered", "uid", instance.UID(), "exports", exports)

	<-ctx.Done()
	_ = instance.Close()
}

// recordDrop adapts diagnostics.Store.Record, which expects a
// transport.DropReason, to the plain func(string)
// shape Config.OnDrop and HostOptions.OnDrop call back with.
func recordDrop(diag *diagnostics.Store) func(reason string) {
	return func(reason string) {
		_ = diag.Record(transport.DropReason(reason))
	}
}

func buildSchema(props map[string]any) propschema.Schema {
	schema := make(propschema.Schema, len(props))
	for name := range props {
		schema[name] = &propschema.Entry{Kind: propschema.KindAny}
	}
	return schema
}

type consumerRegistrar struct {
	c *forgeframe.Consumer
}

func (r *consumerRegistrar) Lookup(uid string) (container, prerender, tag string, ok bool) {
	if r.c == nil || r.c.UID() != uid {
		return "", "", "", false
	}
	return r.c.ContainerMarkup(), r.c.PrerenderMarkup(), r.c.Tag(), true
}

func serveHTTP(addr string, reg driver.Registrar) {
	srv := driver.New(reg)
	slog.Info("starting HTTP UI driver", "addr", addr)
	if err := http.ListenAndServe(addr, srv); err != nil && err != http.ErrServerClosed {
		slog.Error("http driver error", "error", err)
	}
}
