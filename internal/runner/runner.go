// Package runner executes services: it expands targets, resolves
// credentials, opens sessions through the driver registry and fans the
// per-device operations out over the worker pool.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netfabd/netfabd/internal/access"
	"github.com/netfabd/netfabd/internal/drivers"
	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/netconf"
	"github.com/netfabd/netfabd/internal/storage"
	"github.com/netfabd/netfabd/internal/worker"
)

// DeviceResult is the outcome of a service run against one device.
type DeviceResult struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
	Error   string      `json:"error,omitempty"`
}

// Report aggregates a whole run. Success is the conjunction of the
// per-device outcomes.
type Report struct {
	ServiceID   string                  `json:"service_id"`
	ServiceName string                  `json:"service_name"`
	User        string                  `json:"user"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Success     bool                    `json:"success"`
	Devices     map[string]DeviceResult `json:"devices"` // keyed by device name
}

// Runner wires the run pipeline together.
type Runner struct {
	store    storage.Store
	resolver *access.Resolver
	registry *drivers.Registry
	pool     *worker.WorkerPool
}

func NewRunner(store storage.Store, resolver *access.Resolver, registry *drivers.Registry, pool *worker.WorkerPool) *Runner {
	return &Runner{store: store, resolver: resolver, registry: registry, pool: pool}
}

// Run executes the service against every target device on behalf of a
// user and returns the aggregated report. Individual device failures
// are recorded in the report, not propagated.
func (r *Runner) Run(ctx context.Context, service *model.Service, userID string) (*Report, error) {
	if err := netconf.Validate(&service.Netconf); err != nil {
		return nil, err
	}
	targets, err := r.expandTargets(service)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ServiceID:   service.ID,
		ServiceName: service.Name,
		User:        userID,
		StartedAt:   time.Now(),
		Success:     true,
		Devices:     make(map[string]DeviceResult, len(targets)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range targets {
		device := targets[i]
		wg.Add(1)
		job := worker.Job{
			Service: service.Name,
			Device:  device.Name,
			Run: func(jobCtx context.Context) error {
				defer wg.Done()
				result := r.runDevice(jobCtx, service, device, userID)
				mu.Lock()
				report.Devices[device.Name] = result
				if !result.Success {
					report.Success = false
				}
				mu.Unlock()
				return nil
			},
		}
		if err := r.pool.Submit(job); err != nil {
			wg.Done()
			mu.Lock()
			report.Devices[device.Name] = DeviceResult{Success: false, Error: err.Error()}
			report.Success = false
			mu.Unlock()
		}
	}
	wg.Wait()

	report.FinishedAt = time.Now()
	log.Info("Service run finished",
		"service", service.Name, "devices", len(targets), "success", report.Success)
	return report, nil
}

// expandTargets unions the explicit device list with the device
// members of the target pools, deduplicated.
func (r *Runner) expandTargets(service *model.Service) ([]*model.Device, error) {
	seen := map[string]bool{}
	var targets []*model.Device

	add := func(deviceID string) error {
		if seen[deviceID] {
			return nil
		}
		device, err := r.store.GetDevice(deviceID)
		if err != nil {
			return fmt.Errorf("target device %q: %w", deviceID, err)
		}
		if seen[device.ID] {
			return nil
		}
		seen[deviceID] = true
		seen[device.ID] = true
		targets = append(targets, device)
		return nil
	}

	for _, deviceID := range service.TargetDeviceIDs {
		if err := add(deviceID); err != nil {
			return nil, err
		}
	}
	for _, poolID := range service.TargetPoolIDs {
		memberIDs, err := r.store.PoolMembers(poolID, model.KindDevice)
		if err != nil {
			return nil, fmt.Errorf("target pool %q: %w", poolID, err)
		}
		for _, memberID := range memberIDs {
			if err := add(memberID); err != nil {
				return nil, err
			}
		}
	}
	return targets, nil
}

func (r *Runner) runDevice(ctx context.Context, service *model.Service, device *model.Device, userID string) DeviceResult {
	spec := service.Netconf

	role := model.RoleReadOnly
	switch spec.Operation {
	case model.NetconfPushConfig, model.NetconfCopyConfig, model.NetconfRPC:
		role = model.RoleReadWrite
	}
	credential, err := r.resolver.GetCredentials(device, role, userID)
	if err != nil {
		return DeviceResult{Success: false, Error: err.Error()}
	}

	dialer, err := r.registry.Get(device.NetconfDriver)
	if err != nil {
		return DeviceResult{Success: false, Error: err.Error()}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 15
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	session, err := dialer.Dial(dialCtx, netconf.DialParams{
		Host:       device.IPAddress,
		Port:       device.Port,
		Username:   credential.Username,
		Password:   credential.Password,
		PrivateKey: credential.PrivateKey,
		Timeout:    timeout,
	})
	if err != nil {
		return DeviceResult{Success: false, Error: fmt.Sprintf("connecting to %s: %v", device.Name, err)}
	}
	defer session.Close()

	result, err := netconf.Run(dialCtx, session, device, &spec, userID, runVariables(device))
	if err != nil {
		r.recordSession(service, device, userID, DeviceResult{Success: false, Error: err.Error()})
		return DeviceResult{Success: false, Error: err.Error()}
	}

	deviceResult := DeviceResult{Success: result.Success, Result: result.Result}
	r.recordSession(service, device, userID, deviceResult)

	if spec.Operation == model.NetconfGetConfig && result.Success {
		r.storeConfiguration(device, result.Result)
	}
	return deviceResult
}

// runVariables exposes the device's filterable properties to the XML
// filter template.
func runVariables(device *model.Device) map[string]interface{} {
	vars := make(map[string]interface{})
	for _, descriptor := range model.FilterableProperties(model.KindDevice) {
		if value, ok := device.Property(descriptor.Name); ok {
			vars[descriptor.Name] = value
		}
	}
	return vars
}

// recordSession persists the audit trail row of one device operation.
func (r *Runner) recordSession(service *model.Service, device *model.Device, userID string, result DeviceResult) {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(result.Error)
	}
	session := &model.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      service.Name,
		Timestamp: time.Now().Format(time.RFC3339),
		User:      userID,
		Content:   string(content),
		DeviceID:  device.ID,
	}
	if err := r.store.CreateSession(session); err != nil {
		log.Error("Failed to record session", "device", device.Name, "error", err)
	}
}

// storeConfiguration refreshes the device's cached configuration after
// a successful retrieval. Converted payloads are stored re-serialized.
func (r *Runner) storeConfiguration(device *model.Device, payload interface{}) {
	switch value := payload.(type) {
	case string:
		device.Configuration = value
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			log.Error("Failed to encode configuration", "device", device.Name, "error", err)
			return
		}
		device.Configuration = string(encoded)
	}
	device.LastConfigUpdate = time.Now().Format(time.RFC3339)
	device.LastConfigStatus = "success"
	if err := r.store.UpdateDevice(device); err != nil {
		log.Error("Failed to store configuration", "device", device.Name, "error", err)
	}
}
