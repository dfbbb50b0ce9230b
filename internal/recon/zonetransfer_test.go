package recon

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
)

func TestZoneTransferResult_Successful(t *testing.T) {
	r := &ZoneTransferResult{Transfers: []ZoneTransfer{
		{Nameserver: "ns1", Success: true, Records: 4},
		{Nameserver: "ns2"},
		{Nameserver: "ns3", Success: true},
	}}
	if got := r.Successful(); got != 2 {
		t.Errorf("Successful() = %d, want 2", got)
	}
	if got := (&ZoneTransferResult{}).Successful(); got != 0 {
		t.Errorf("empty Successful() = %d, want 0", got)
	}
}

func TestTransferFrom(t *testing.T) {
	z := testZone(t)
	ns := startDNS(t, z)
	_, port, _ := net.SplitHostPort(ns)

	soa := mustRR(t, "example.com. 60 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 60")
	z["axfr:example.com."] = []dns.RR{
		soa,
		mustRR(t, "internal.example.com. 60 IN A 10.1.1.1"),
		mustRR(t, "vpn.example.com. 60 IN A 10.1.1.2"),
		soa,
	}

	res := transferFrom(context.Background(), "example.com", []string{net.JoinHostPort("127.0.0.1", port)})
	if res.Successful() != 1 {
		t.Fatalf("successful transfers = %d, want 1: %+v", res.Successful(), res.Transfers)
	}
	want := map[string]bool{"example.com": true, "internal.example.com": true, "vpn.example.com": true}
	if len(res.Hostnames) != len(want) {
		t.Errorf("hostnames = %v, want %d entries", res.Hostnames, len(want))
	}
	for _, h := range res.Hostnames {
		if !want[h] {
			t.Errorf("unexpected hostname %q", h)
		}
	}
}

func TestZoneTransfer_Refused(t *testing.T) {
	ns := startDNS(t, testZone(t))
	res := transferFrom(context.Background(), "example.com", []string{ns})
	if len(res.Transfers) != 1 || res.Transfers[0].Success {
		t.Errorf("transfers = %+v, want one failed attempt", res.Transfers)
	}
	if len(res.Hostnames) != 0 {
		t.Errorf("hostnames = %v, want none", res.Hostnames)
	}
}

func TestTransferFrom_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := transferFrom(ctx, "example.com", []string{"127.0.0.1:1"})
	if len(res.Transfers) != 0 {
		t.Errorf("transfers = %+v, want none after cancellation", res.Transfers)
	}
}
