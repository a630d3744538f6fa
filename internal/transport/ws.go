package transport

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/golang-jwt/jwt/v4"
)

// WebSocketPeer is the "popup" Frame surface: a genuinely separate window,
// reached over a loopback WebSocket rather than an in-process channel pair
// (see NewDuplexPair for the iframe case). It implements the same Peer
// interface the Endpoint consumes, so the broker itself never knows which
// transport it's talking over.
type WebSocketPeer struct {
	conn   net.Conn
	origin string
	client bool // dialing side masks its frames; the accepting side doesn't

	msgCh     chan InboundMessage
	closeOnce sync.Once
	closed    chan struct{}
}

func newWebSocketPeer(conn net.Conn, origin string, client bool) *WebSocketPeer {
	p := &WebSocketPeer{
		conn:   conn,
		origin: origin,
		client: client,
		msgCh:  make(chan InboundMessage, 16),
		closed: make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *WebSocketPeer) readLoop() {
	defer close(p.msgCh)
	for {
		var data []byte
		var op ws.OpCode
		var err error
		if p.client {
			data, op, err = wsutil.ReadServerData(p.conn)
		} else {
			data, op, err = wsutil.ReadClientData(p.conn)
		}
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		select {
		case p.msgCh <- InboundMessage{Raw: string(data), Origin: p.origin}:
		case <-p.closed:
			return
		}
	}
}

func (p *WebSocketPeer) Post(raw string) error {
	select {
	case <-p.closed:
		return errPeerClosed
	default:
	}
	if p.client {
		return wsutil.WriteClientText(p.conn, []byte(raw))
	}
	return wsutil.WriteServerText(p.conn, []byte(raw))
}

func (p *WebSocketPeer) Origin() string { return p.origin }

func (p *WebSocketPeer) Messages() <-chan InboundMessage { return p.msgCh }

func (p *WebSocketPeer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return p.conn.Close()
}

// DomainAssertion is the signed {uid, domain} claim exchanged during the
// WebSocket handshake — the concrete mechanism behind the popup transport's
// domain authentication, modelled on ActivityPub-style actor-key handshakes
// and short-lived JWT assertions.
type DomainAssertion struct {
	UID    string `json:"uid"`
	Domain string `json:"domain"`
	jwt.RegisteredClaims
}

// DomainIdentity is a peer's signing identity: the RSA key pair used both
// to sign the HTTP upgrade request (via httpsig, proving control of the
// connection) and to sign the short-lived assertion token embedded in it
// (via JWT, proving the specific uid/domain claim).
type DomainIdentity struct {
	Domain     string
	PrivateKey *rsa.PrivateKey
}

const assertionHeader = "X-Forgeframe-Assertion"

// TrustedKeys maps a domain name to the public key used to verify
// DialWebSocketPeer callers claiming that domain. A nil/empty keyring
// disables signature verification entirely (equivalent to peerOrigin "*").
type TrustedKeys map[string]*rsa.PublicKey

// DialWebSocketPeer connects to addr as the given identity, asserting uid,
// and returns a peer whose expected origin is peerOrigin ("" disables the
// check, same as "*"). The handshake carries two independent proofs: an
// httpsig signature over the upgrade request itself (proving the dialer
// holds id's private key) and a JWT assertion of the specific uid/domain
// pairing riding alongside it. The dial direction is one-sided: the
// acceptor verifies the dialer, not vice versa, so peerOrigin here is a
// configured expectation rather than a cryptographic fact.
func DialWebSocketPeer(ctx context.Context, addr string, id DomainIdentity, uid, peerOrigin string) (*WebSocketPeer, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, DomainAssertion{
		UID:    uid,
		Domain: id.Domain,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * time.Second)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: signing domain assertion: %w", err)
	}

	sigHeaders, err := signHandshake(id, addr)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: signing handshake: %w", err)
	}
	sigHeaders.Set(assertionHeader, signed)

	conn, _, _, err := ws.Dialer{Header: withHeader(sigHeaders)}.Dial(ctx, "ws://"+addr)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: websocket dial: %w", err)
	}
	if peerOrigin == "" {
		peerOrigin = "*"
	}
	return newWebSocketPeer(conn, peerOrigin, true), nil
}

// signHandshake builds the logical HTTP request the upgrade represents,
// signs it with id's key via httpsig, and returns the resulting Date and
// Signature headers to be carried alongside the real gobwas/ws upgrade
// request (which never exposes its *http.Request for signing directly).
func signHandshake(id DomainIdentity, addr string) (http.Header, error) {
	req, err := http.NewRequest(http.MethodGet, (&url.URL{Scheme: "http", Host: addr, Path: "/"}).String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.Host)

	signer, err := signerForIdentity(id)
	if err != nil {
		return nil, err
	}
	if err := signer.SignRequest(id.PrivateKey, id.Domain, req, nil); err != nil {
		return nil, err
	}

	out := http.Header{}
	out.Set("Date", req.Header.Get("Date"))
	out.Set("Signature", req.Header.Get("Signature"))
	return out, nil
}

// withHeader is split out purely so the call site above reads cleanly;
// ws.Dialer takes its extra headers through a HandshakeHeader value.
func withHeader(h http.Header) ws.HandshakeHeader {
	return ws.HandshakeHeaderHTTP(h)
}

// ListenAndAcceptWebSocketPeer accepts a single inbound popup connection on
// addr, verifying the caller's domain assertion against trusted when
// trusted is non-empty. It blocks until one connection arrives or ctx is
// cancelled.
func ListenAndAcceptWebSocketPeer(ctx context.Context, addr string, trusted TrustedKeys) (*WebSocketPeer, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	type acceptResult struct {
		conn   net.Conn
		domain string
		err    error
	}
	resultCh := make(chan acceptResult, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			resultCh <- acceptResult{err: err}
			return
		}
		domain, err := verifyUpgrade(conn, trusted)
		resultCh <- acceptResult{conn: conn, domain: domain, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return newWebSocketPeer(res.conn, res.domain, false), nil
	}
}

func verifyUpgrade(conn net.Conn, trusted TrustedKeys) (domain string, err error) {
	var assertionToken, dateHeader, sigHeader, requestURI, hostHeader string
	requestMethod := http.MethodGet
	upgrader := ws.Upgrader{
		OnHost: func(host []byte) error {
			hostHeader = string(host)
			return nil
		},
		OnRequest: func(uri []byte) error {
			requestURI = string(uri)
			return nil
		},
		OnHeader: func(key, value []byte) error {
			switch string(key) {
			case assertionHeader:
				assertionToken = string(value)
			case "Date":
				dateHeader = string(value)
			case "Signature":
				sigHeader = string(value)
			}
			return nil
		},
	}
	if _, err := upgrader.Upgrade(conn); err != nil {
		return "", fmt.Errorf("forgeframe: websocket upgrade: %w", err)
	}
	if len(trusted) == 0 {
		return "", nil
	}
	if assertionToken == "" {
		return "", fmt.Errorf("forgeframe: missing domain assertion")
	}

	var claims DomainAssertion
	_, err = jwt.ParseWithClaims(assertionToken, &claims, func(t *jwt.Token) (any, error) {
		// The domain is embedded in the claims themselves; verification
		// looks the public key up by that claimed domain, the same
		// actor-key-by-URL pattern ActivityPub servers use.
		raw, ok := t.Claims.(*DomainAssertion)
		if !ok {
			return nil, fmt.Errorf("forgeframe: unexpected claims type %T", t.Claims)
		}
		key, ok := trusted[raw.Domain]
		if !ok {
			return nil, fmt.Errorf("forgeframe: domain %q is not trusted", raw.Domain)
		}
		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("forgeframe: invalid domain assertion: %w", err)
	}

	if err := verifyHandshakeSignature(requestMethod, requestURI, hostHeader, dateHeader, sigHeader, trusted, claims.Domain); err != nil {
		return "", fmt.Errorf("forgeframe: invalid handshake signature: %w", err)
	}
	return claims.Domain, nil
}

// verifyHandshakeSignature reconstructs the logical request signHandshake
// signed and checks it against the public key trusted claims to be domain's.
// This is the transport-level half of the handshake: it proves whoever sent
// these bytes holds domain's private key, independent of the JWT's claim
// about which uid is asking.
func verifyHandshakeSignature(method, uri, host, date, signature string, trusted TrustedKeys, domain string) error {
	key, ok := trusted[domain]
	if !ok {
		return fmt.Errorf("domain %q is not trusted", domain)
	}
	if uri == "" {
		uri = "/"
	}
	req, err := http.NewRequest(method, (&url.URL{Path: uri}).String(), nil)
	if err != nil {
		return err
	}
	req.Host = host
	req.Header.Set("Host", host)
	req.Header.Set("Date", date)
	req.Header.Set("Signature", signature)

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return err
	}
	if verifier.KeyId() != domain {
		return fmt.Errorf("signature key id %q does not match asserted domain %q", verifier.KeyId(), domain)
	}
	return verifier.Verify(key, httpsig.RSA_SHA256)
}

// signerForIdentity builds an httpsig Signer for id, used to sign the
// initial HTTP upgrade request so the accepting side can additionally
// verify transport-level provenance (not just the embedded JWT claim).
// Kept separate from DialWebSocketPeer's JWT assertion: httpsig covers
// "this TCP handshake really came from a holder of domain's key", the JWT
// covers "this specific uid/domain pairing is what's being asserted".
func signerForIdentity(id DomainIdentity) (httpsig.Signer, error) {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return nil, err
	}
	return signer, nil
}
