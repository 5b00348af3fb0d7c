package xclient

import (
	"bufio"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/rotisserie/eris"
	"golang.org/x/net/http2"
)

// uaProfile pairs a browser User-Agent string with the ClientHello it
// should present. The platform fingerprints TLS; a stock Go handshake
// with a Chrome UA gets challenged.
type uaProfile struct {
	UserAgent string
	HelloID   utls.ClientHelloID
}

var uaProfiles = []uaProfile{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		HelloID:   utls.HelloChrome_Auto,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		HelloID:   utls.HelloChrome_Auto,
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		HelloID:   utls.HelloChrome_Auto,
	},
}

func randomProfile() uaProfile {
	return uaProfiles[rand.N(len(uaProfiles))]
}

// impersonateTransport performs HTTPS requests with a Chrome TLS
// fingerprint. Connections are not reused; the client issues few,
// well-paced requests and a fresh handshake per request keeps the
// implementation simple.
type impersonateTransport struct {
	helloID utls.ClientHelloID
	dialer  *net.Dialer
}

func newImpersonateTransport(helloID utls.ClientHelloID, timeout time.Duration) *impersonateTransport {
	return &impersonateTransport{
		helloID: helloID,
		dialer:  &net.Dialer{Timeout: timeout},
	}
}

func (t *impersonateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, eris.Errorf("xclient: transport only speaks https, got %s", req.URL.Scheme)
	}

	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = "443"
	}

	ctx := req.Context()
	rawConn, err := t.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, eris.Wrapf(err, "xclient: dial %s", host)
	}

	conn := utls.UClient(rawConn, &utls.Config{ServerName: host}, t.helloID)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, eris.Wrapf(err, "xclient: tls handshake with %s", host)
	}

	if conn.ConnectionState().NegotiatedProtocol == "h2" {
		return t.roundTripH2(req, conn)
	}
	return roundTripH1(req, conn)
}

func (t *impersonateTransport) roundTripH2(req *http.Request, conn net.Conn) (*http.Response, error) {
	h2 := &http2.Transport{}
	cc, err := h2.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "xclient: http2 client conn")
	}
	resp, err := cc.RoundTrip(req)
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "xclient: http2 round trip")
	}
	resp.Body = &closeConnBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

func roundTripH1(req *http.Request, conn net.Conn) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "xclient: write request")
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "xclient: read response")
	}
	resp.Body = &closeConnBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// closeConnBody ties the connection lifetime to the response body.
type closeConnBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *closeConnBody) Close() error {
	err := b.ReadCloser.Close()
	b.conn.Close()
	return err
}

// newHTTPClient wraps the impersonating transport in an http.Client with
// the request timeout applied end to end.
func newHTTPClient(profile uaProfile, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: newImpersonateTransport(profile.HelloID, timeout),
		Timeout:   timeout,
	}
}
