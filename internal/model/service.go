package model

import "time"

// NetconfOperation selects exactly one remote operation per run.
type NetconfOperation string

const (
	NetconfGetConfig         NetconfOperation = "get_config"
	NetconfGetFilteredConfig NetconfOperation = "get_filtered_config"
	NetconfPushConfig        NetconfOperation = "push_config"
	NetconfCopyConfig        NetconfOperation = "copy_config"
	NetconfRPC               NetconfOperation = "rpc"
)

// Datastore names recognized as NETCONF targets and copy endpoints.
const (
	DatastoreRunning   = "running"
	DatastoreCandidate = "candidate"
	DatastoreStartup   = "startup"
)

// Copy endpoint selectors that redirect to the URL fields.
const (
	CopySourceURL      = "source_url"
	CopyDestinationURL = "destination_url"
)

// NoneOption is the literal token meaning "modifier not specified" for
// the push-config default/test/error options.
const NoneOption = "None"

// NetconfSpec is the configured operation descriptor of a NETCONF
// service. Which fields apply depends on Operation.
type NetconfSpec struct {
	Operation        NetconfOperation `json:"nc_type"`
	Target           string           `json:"target"`
	XMLFilter        string           `json:"xml_filter"` // templated, variable substitution
	DefaultOperation string           `json:"default_operation"`
	TestOption       string           `json:"test_option"`
	ErrorOption      string           `json:"error_option"`
	Lock             bool             `json:"lock"`
	Unlock           bool             `json:"unlock"`
	CommitConf       bool             `json:"commit_conf"`
	CopySource       string           `json:"copy_source"`
	SourceURL        string           `json:"source_url"`
	CopyDestination  string           `json:"copy_destination"`
	DestinationURL   string           `json:"destination_url"`
	Timeout          int              `json:"timeout"` // seconds
	XMLConversion    bool             `json:"xml_conversion"`
}

// Service is a stored, runnable operation descriptor with its targets.
type Service struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"` // unique
	Description string    `json:"description"`
	Subtype     string    `json:"subtype"` // "netconf"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Netconf NetconfSpec `json:"netconf"`

	// Targets: explicit devices and/or pools whose device members are
	// targeted at run time.
	TargetDeviceIDs []string `json:"target_device_ids"`
	TargetPoolIDs   []string `json:"target_pool_ids"`

	// CronSchedule, when set, runs the service on this cron expression.
	CronSchedule string `json:"cron_schedule,omitempty"`
}

// NewService returns a NETCONF service with defaults applied.
func NewService(name string) *Service {
	return &Service{
		Name:    name,
		Subtype: "netconf",
		Netconf: NetconfSpec{
			Target:        DatastoreRunning,
			Timeout:       15,
			XMLConversion: true,
		},
	}
}

func (s *Service) GetID() string   { return s.ID }
func (s *Service) GetName() string { return s.Name }
func (s *Service) PoolKind() Kind  { return KindService }

// Property returns the stringified value of a service property.
func (s *Service) Property(name string) (string, bool) {
	switch name {
	case "name":
		return s.Name, true
	case "description":
		return s.Description, true
	case "subtype":
		return s.Subtype, true
	}
	return "", false
}
