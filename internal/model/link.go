package model

import "time"

// Link is a directed edge between two devices. A link is owned by both
// endpoints: deleting either endpoint device deletes the link. The
// triple (name, source, destination) is unique.
type Link struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Subtype     string    `json:"subtype"`
	Model       string    `json:"model"`
	Location    string    `json:"location"`
	Vendor      string    `json:"vendor"`
	Color       string    `json:"color"`
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name"`
	DestID      string    `json:"destination_id"`
	DestName    string    `json:"destination_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewLink returns a link with defaults applied.
func NewLink(name, sourceID, destID string) *Link {
	return &Link{
		Name:     name,
		Color:    "#000000",
		SourceID: sourceID,
		DestID:   destID,
	}
}

func (l *Link) GetID() string   { return l.ID }
func (l *Link) GetName() string { return l.Name }
func (l *Link) PoolKind() Kind  { return KindLink }

// Property returns the stringified value of a link property.
func (l *Link) Property(name string) (string, bool) {
	switch name {
	case "name":
		return l.Name, true
	case "description":
		return l.Description, true
	case "subtype":
		return l.Subtype, true
	case "model":
		return l.Model, true
	case "location":
		return l.Location, true
	case "vendor":
		return l.Vendor, true
	case "color":
		return l.Color, true
	case "source_name":
		return l.SourceName, true
	case "destination_name":
		return l.DestName, true
	}
	return "", false
}

// ViewProperties returns the flattened projection combining the link's
// own fields with identity and location fields of both endpoints, used
// for map rendering.
func (l *Link) ViewProperties(source, destination *Device) map[string]interface{} {
	view := map[string]interface{}{
		"id":    l.ID,
		"type":  string(KindLink),
		"name":  l.Name,
		"color": l.Color,
	}
	for prefix, device := range map[string]*Device{
		"source":      source,
		"destination": destination,
	} {
		if device == nil {
			continue
		}
		view[prefix+"_id"] = device.ID
		view[prefix+"_longitude"] = device.Longitude
		view[prefix+"_latitude"] = device.Latitude
	}
	return view
}
