package clients

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDNS(t *testing.T, records map[string][]dns.RR) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(req)
			answers, ok := records[req.Question[0].Name]
			if !ok {
				m.Rcode = dns.RcodeNameError
			}
			m.Answer = answers
			w.WriteMsg(m)
		}),
	}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func srvRecord(t *testing.T, s string) dns.RR {
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestDiscoverRegistry(t *testing.T) {
	name := "_registry._tcp.example.org."
	addr := startDNS(t, map[string][]dns.RR{
		name: {
			srvRecord(t, name+" 60 IN SRV 20 0 8080 backup.example.org."),
			srvRecord(t, name+" 60 IN SRV 10 5 8080 light.example.org."),
			srvRecord(t, name+" 60 IN SRV 10 50 9090 heavy.example.org."),
		},
	})

	urls, err := DiscoverRegistry("_registry._tcp.example.org", addr)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://heavy.example.org:9090",
		"http://light.example.org:8080",
		"http://backup.example.org:8080",
	}, urls)
}

func TestDiscoverRegistry_NotFound(t *testing.T) {
	addr := startDNS(t, map[string][]dns.RR{})

	_, err := DiscoverRegistry("_registry._tcp.missing.org", addr)
	assert.Error(t, err)
}
