package keyserver

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/faanross/pngrsa/internal/rsakey"
)

const queryTimeout = 5 * time.Second

// Fetch asks the DNS server at addr for the key published under name and
// returns it as a public-only keypair.
func Fetch(ctx context.Context, addr, name string) (*rsakey.KeyPair, error) {
	c := new(dns.Client)
	c.Timeout = queryTimeout

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.SetEdns0(dns.DefaultMsgSize, false)

	resp, _, err := c.ExchangeContext(ctx, m, addr)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	if resp.Truncated {
		c.Net = "tcp"
		if resp, _, err = c.ExchangeContext(ctx, m, addr); err != nil {
			return nil, fmt.Errorf("query %s over tcp: %w", name, err)
		}
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	default:
		return nil, fmt.Errorf("query %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok && len(txt.Txt) > 0 {
			return Decode(txt.Txt)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}
