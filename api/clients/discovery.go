package clients

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// DefaultResolverAddr is the local stub resolver queried when none is given.
const DefaultResolverAddr = "127.0.0.53:53"

// DiscoverRegistry resolves the SRV records of srvName (e.g.
// "_registry._tcp.example.org") and returns registry base URLs ordered by
// priority, then by descending weight.
func DiscoverRegistry(srvName, resolverAddr string) ([]string, error) {
	if resolverAddr == "" {
		resolverAddr = DefaultResolverAddr
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(srvName), dns.TypeSRV)
	m.RecursionDesired = true

	c := new(dns.Client)
	in, _, err := c.Exchange(m, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("srv lookup of %s failed: %w", srvName, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("srv lookup of %s failed: %s", srvName, dns.RcodeToString[in.Rcode])
	}

	records := make([]*dns.SRV, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if srv, ok := answer.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return nil, errors.New("no srv records for " + srvName)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	urls := make([]string, 0, len(records))
	for _, srv := range records {
		host := strings.TrimSuffix(srv.Target, ".")
		urls = append(urls, "http://"+net.JoinHostPort(host, strconv.Itoa(int(srv.Port))))
	}
	return urls, nil
}
