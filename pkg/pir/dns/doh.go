package dns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/miekg/dns"

	"github.com/yourusername/pirtls/pkg/pir/pirerr"
	"github.com/yourusername/pirtls/pkg/pir/tlsclient"
)

// dohPath is the well-known RFC 8484 DoH query endpoint every major
// public resolver (Google, Cloudflare, Quad9) serves it under.
const dohPath = "/dns-query"

func (r *Resolver) dialHTTPS(ctx context.Context) (*tlsclient.Client, error) {
	addr := fmt.Sprintf("%s:443", r.Host)
	c, err := tlsclient.Open(ctx, "tcp", addr, tlsclient.Options{ServerName: r.Host})
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsConnectFailed)
	}
	return c, nil
}

// resolveDoHBinary implements RFC 8484's binary wire format: the packed
// DNS message POSTed with application/dns-message content negotiation.
func (r *Resolver) resolveDoHBinary(ctx context.Context, msg *dns.Msg) ([]dns.RR, error) {
	conn, err := r.dialHTTPS(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	packed, err := msg.Pack()
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsQueryFailed)
	}

	h := newHTTPThinClient(conn, r.Host)
	respBody, err := h.postBinary(dohPath, packed, "application/dns-message")
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsSendFailed)
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(respBody); err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsParseFailed)
	}
	return resp.Answer, nil
}

// dohJSONResponse mirrors Google's/Cloudflare's JSON DoH schema (RFC 8484
// §4.2's informal JSON variant): {Status, Answer: [{name, type, TTL,
// data}]}.
type dohJSONResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type uint16 `json:"type"`
		TTL  uint32 `json:"TTL"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// resolveDoHJSON is the last-resort fallback: GET /dns-query?name=...&type=...
// with Accept: application/dns-json, for resolvers or middleboxes that
// only recognize the JSON DoH convention.
func (r *Resolver) resolveDoHJSON(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	conn, err := r.dialHTTPS(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	typeName, ok := dns.TypeToString[qtype]
	if !ok {
		typeName = fmt.Sprintf("%d", qtype)
	}
	path := fmt.Sprintf("%s?name=%s&type=%s", dohPath, name, typeName)

	h := newHTTPThinClient(conn, r.Host)
	respBody, err := h.getBinary(path, "application/dns-json")
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsSendFailed)
	}
	return parseDoHJSON(respBody)
}

// parseDoHJSON decodes a JSON DoH response body and re-expresses its
// answers as dns.RR values, so callers see one Answer shape regardless of
// which transport produced it. Records whose rendered zone-file form
// miekg/dns cannot parse back (exotic types, malformed data fields) are
// skipped rather than failing the whole response.
func parseDoHJSON(body []byte) ([]dns.RR, error) {
	var parsed dohJSONResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, pirerr.Wrap(err, pirerr.DnsParseFailed)
	}
	if parsed.Status != 0 {
		return nil, pirerr.New(pirerr.DnsResponseFailed)
	}

	answers := make([]dns.RR, 0, len(parsed.Answer))
	for _, a := range parsed.Answer {
		typeName, ok := dns.TypeToString[a.Type]
		if !ok {
			continue
		}
		rr, err := dns.NewRR(fmt.Sprintf("%s %d IN %s %s", dns.Fqdn(a.Name), a.TTL, typeName, a.Data))
		if err != nil {
			continue
		}
		answers = append(answers, rr)
	}
	return answers, nil
}
