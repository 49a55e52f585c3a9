package snmp

import (
	"testing"

	"github.com/gosnmp/gosnmp"
)

func TestOSFromDescr(t *testing.T) {
	tests := []struct {
		descr string
		want  string
	}{
		{"Cisco IOS-XE Software, Version 17.9", "IOS-XE"},
		{"Cisco IOS Software, C2960", "IOS"},
		{"Juniper Networks, Inc. JUNOS 21.2R3", "JUNOS"},
		{"Arista Networks EOS version 4.28", "EOS"},
		{"SomeVendor Router OS, build 1", "SomeVendor Router OS"},
	}
	for _, tt := range tests {
		t.Run(tt.descr, func(t *testing.T) {
			if got := osFromDescr(tt.descr); got != tt.want {
				t.Errorf("osFromDescr(%q) = %q, want %q", tt.descr, got, tt.want)
			}
		})
	}
}

func TestPDUString(t *testing.T) {
	tests := []struct {
		name string
		pdu  gosnmp.SnmpPDU
		want string
	}{
		{"octet string", gosnmp.SnmpPDU{Type: gosnmp.OctetString, Value: []byte("edge-1")}, "edge-1"},
		{"object identifier", gosnmp.SnmpPDU{Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.9"}, ".1.3.6.1.4.1.9"},
		{"fallback", gosnmp.SnmpPDU{Type: gosnmp.Integer, Value: 42}, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pduString(tt.pdu); got != tt.want {
				t.Errorf("pduString() = %q, want %q", got, tt.want)
			}
		})
	}
}
