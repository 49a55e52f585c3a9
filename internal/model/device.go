package model

import (
	"strconv"
	"time"
)

// Device represents a managed network element.
type Device struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"` // globally unique
	Description     string    `json:"description"`
	Subtype         string    `json:"subtype"`
	Model           string    `json:"model"`
	Location        string    `json:"location"`
	Vendor          string    `json:"vendor"`
	OperatingSystem string    `json:"operating_system"`
	OSVersion       string    `json:"os_version"`
	IPAddress       string    `json:"ip_address"`
	Longitude       string    `json:"longitude"`
	Latitude        string    `json:"latitude"`
	Port            int       `json:"port"`
	Icon            string    `json:"icon"`
	NetconfDriver   string    `json:"netconf_driver"`
	NapalmDriver    string    `json:"napalm_driver"`
	NetmikoDriver   string    `json:"netmiko_driver"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Configuration holds the last retrieved configuration blob. It is
	// excluded from change-audit logging, as are its timestamps.
	Configuration    string `json:"configuration,omitempty"`
	LastConfigUpdate string `json:"last_config_update,omitempty"`
	LastConfigStatus string `json:"last_config_status,omitempty"`
}

// NewDevice returns a device with the inventory defaults applied.
func NewDevice(name string) *Device {
	return &Device{
		Name:             name,
		Longitude:        "0.0",
		Latitude:         "0.0",
		Port:             830,
		Icon:             "router",
		NetconfDriver:    "default",
		NapalmDriver:     "ios",
		NetmikoDriver:    "cisco_ios",
		LastConfigUpdate: "Never",
	}
}

func (d *Device) GetID() string   { return d.ID }
func (d *Device) GetName() string { return d.Name }
func (d *Device) PoolKind() Kind  { return KindDevice }

// Property returns the stringified value of a device property.
func (d *Device) Property(name string) (string, bool) {
	switch name {
	case "name":
		return d.Name, true
	case "description":
		return d.Description, true
	case "subtype":
		return d.Subtype, true
	case "model":
		return d.Model, true
	case "location":
		return d.Location, true
	case "vendor":
		return d.Vendor, true
	case "operating_system":
		return d.OperatingSystem, true
	case "os_version":
		return d.OSVersion, true
	case "ip_address":
		return d.IPAddress, true
	case "longitude":
		return d.Longitude, true
	case "latitude":
		return d.Latitude, true
	case "port":
		return strconv.Itoa(d.Port), true
	case "icon":
		return d.Icon, true
	case "netconf_driver":
		return d.NetconfDriver, true
	case "napalm_driver":
		return d.NapalmDriver, true
	case "netmiko_driver":
		return d.NetmikoDriver, true
	case "configuration":
		return d.Configuration, true
	}
	return "", false
}

// ViewProperties returns the identity and location fields used for map
// rendering.
func (d *Device) ViewProperties() map[string]interface{} {
	return map[string]interface{}{
		"id":        d.ID,
		"type":      string(KindDevice),
		"name":      d.Name,
		"icon":      d.Icon,
		"latitude":  d.Latitude,
		"longitude": d.Longitude,
	}
}

// Session is an ephemeral record of a single management interaction with
// a device. Sessions are deleted with their device.
type Session struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	// Content is the opaque interaction blob; it is not audited.
	Content  string `json:"content,omitempty"`
	DeviceID string `json:"device_id"`
}
