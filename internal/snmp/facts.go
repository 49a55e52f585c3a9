// Package snmp polls basic system facts from a device and feeds them
// back into the inventory.
package snmp

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/storage"
)

// System group OIDs (RFC 1213).
const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"
)

// Facts are the polled system-group values.
type Facts struct {
	SysDescr    string `json:"sys_descr"`
	SysObjectID string `json:"sys_object_id"`
	SysName     string `json:"sys_name"`
	SysLocation string `json:"sys_location"`
}

// Poller reads device facts over SNMP v2c.
type Poller struct {
	Community string
	Port      uint16
	Timeout   time.Duration
}

// NewPoller returns a poller with the common defaults.
func NewPoller(community string) *Poller {
	if community == "" {
		community = "public"
	}
	return &Poller{Community: community, Port: 161, Timeout: 5 * time.Second}
}

// Poll queries the system group of one device.
func (p *Poller) Poll(address string) (*Facts, error) {
	client := &gosnmp.GoSNMP{
		Target:    address,
		Port:      p.Port,
		Community: p.Community,
		Version:   gosnmp.Version2c,
		Timeout:   p.Timeout,
		Retries:   1,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{oidSysDescr, oidSysObjectID, oidSysName, oidSysLocation})
	if err != nil {
		return nil, fmt.Errorf("SNMP get failed: %w", err)
	}
	if result.Error != gosnmp.NoError {
		return nil, fmt.Errorf("SNMP error: %s", result.Error)
	}

	facts := &Facts{}
	for _, v := range result.Variables {
		switch v.Name {
		case oidSysDescr:
			facts.SysDescr = pduString(v)
		case oidSysObjectID:
			facts.SysObjectID = pduString(v)
		case oidSysName:
			facts.SysName = pduString(v)
		case oidSysLocation:
			facts.SysLocation = pduString(v)
		}
	}
	return facts, nil
}

// Refresh polls a device and writes the discovered facts into its
// inventory record. Fields the device reports empty are left alone.
func (p *Poller) Refresh(store storage.Store, device *model.Device) error {
	facts, err := p.Poll(device.IPAddress)
	if err != nil {
		return err
	}

	if facts.SysDescr != "" {
		device.Description = facts.SysDescr
		device.OperatingSystem = osFromDescr(facts.SysDescr)
	}
	if facts.SysLocation != "" {
		device.Location = facts.SysLocation
	}
	if err := store.UpdateDevice(device); err != nil {
		return fmt.Errorf("storing facts for %s: %w", device.Name, err)
	}
	log.Info("Refreshed device facts", "device", device.Name, "sys_name", facts.SysName)
	return nil
}

func pduString(v gosnmp.SnmpPDU) string {
	switch v.Type {
	case gosnmp.OctetString:
		if b, ok := v.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.ObjectIdentifier:
		if s, ok := v.Value.(string); ok {
			return s
		}
	}
	return fmt.Sprintf("%v", v.Value)
}

// osFromDescr extracts a coarse operating system name from sysDescr.
func osFromDescr(descr string) string {
	lowered := strings.ToLower(descr)
	for _, os := range []string{"ios-xe", "ios-xr", "nx-os", "junos", "eos", "ios"} {
		if strings.Contains(lowered, os) {
			return strings.ToUpper(os)
		}
	}
	if idx := strings.IndexAny(descr, ",\n"); idx > 0 {
		return descr[:idx]
	}
	return descr
}
