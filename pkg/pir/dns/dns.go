// Package dns resolves names over DNS-over-TLS (RFC 7858) and
// DNS-over-HTTPS (RFC 8484), layering both on top of tlsclient instead of
// crypto/tls. Wire-format encode/decode is delegated to
// github.com/miekg/dns — hand-rolling a second DNS parser alongside the
// from-scratch TLS/crypto stack would be pure duplication.
package dns

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/miekg/dns"

	"github.com/yourusername/pirtls/pkg/pir/pirerr"
	"github.com/yourusername/pirtls/pkg/pir/tlsclient"
)

// stream is the byte-pipe surface the DoT and DoH framers need; a
// *tlsclient.Client satisfies it.
type stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Resolver resolves names by trying DoT, then DoH binary, then DoH JSON,
// in that order, against one upstream server — the fallback chain for
// when a captive network blocks port 853.
type Resolver struct {
	Host string // resolver hostname, used for SNI and the DoH Host header
}

// NewResolver returns a Resolver targeting host (e.g. "dns.google" or
// "1.1.1.1").
func NewResolver(host string) *Resolver {
	return &Resolver{Host: host}
}

// Resolve looks up qtype records for name, trying DoT then both DoH
// transports before giving up with DnsResolveFailed.
func (r *Resolver) Resolve(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Id = dns.Id()
	msg.RecursionDesired = true

	if answers, err := r.resolveDoT(ctx, msg); err == nil {
		return answers, nil
	}
	if answers, err := r.resolveDoHBinary(ctx, msg); err == nil {
		return answers, nil
	}
	if answers, err := r.resolveDoHJSON(ctx, name, qtype); err == nil {
		return answers, nil
	}
	return nil, pirerr.New(pirerr.DnsResolveFailed)
}

// DialTLS opens the DoT transport: a tlsclient.Client to host:853.
func (r *Resolver) DialTLS(ctx context.Context) (*tlsclient.Client, error) {
	addr := fmt.Sprintf("%s:853", r.Host)
	c, err := tlsclient.Open(ctx, "tcp", addr, tlsclient.Options{ServerName: r.Host})
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsConnectFailed)
	}
	return c, nil
}

func (r *Resolver) resolveDoT(ctx context.Context, msg *dns.Msg) ([]dns.RR, error) {
	conn, err := r.DialTLS(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return exchangeDoT(conn, msg)
}

// exchangeDoT implements RFC 7858 framing over an established stream: a
// 2-byte big-endian length prefix followed by the raw DNS message, then
// the matching length-prefixed response.
func exchangeDoT(conn stream, msg *dns.Msg) ([]dns.RR, error) {
	packed, err := msg.Pack()
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsQueryFailed)
	}

	framed := make([]byte, 2+len(packed))
	binary.BigEndian.PutUint16(framed, uint16(len(packed)))
	copy(framed[2:], packed)
	if _, err := conn.Write(framed); err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsSendFailed)
	}

	respLen, err := readExactlyN(conn, 2)
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsResponseFailed)
	}
	n := binary.BigEndian.Uint16(respLen)
	respBody, err := readExactlyN(conn, int(n))
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsResponseFailed)
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(respBody); err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsParseFailed)
	}
	if resp.Id != msg.Id {
		return nil, pirerr.New(pirerr.DnsResponseFailed)
	}
	return resp.Answer, nil
}

func readExactlyN(conn stream, n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := conn.Read(buf[got:])
		if err != nil {
			return nil, err
		}
		got += m
	}
	return buf, nil
}
