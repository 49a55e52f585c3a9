// Package mcp exposes the inventory, pools and service runs as MCP
// tools for agent-driven automation.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/paularlott/mcp"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/pool"
	"github.com/netfabd/netfabd/internal/runner"
	"github.com/netfabd/netfabd/internal/storage"
	"github.com/netfabd/netfabd/internal/topology"
)

// Server wraps the MCP server around the assembled components.
type Server struct {
	mcpServer   *mcp.Server
	store       storage.Store
	engine      *pool.Engine
	runner      *runner.Runner
	bearerToken string
}

// NewServer creates an MCP server over the store, pool engine and
// service runner.
func NewServer(store storage.Store, engine *pool.Engine, svcRunner *runner.Runner, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("netfabd", "1.0.0"),
		store:       store,
		engine:      engine,
		runner:      svcRunner,
		bearerToken: bearerToken,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	// Inventory tools

	// device_get - Get a device by ID or name
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_get", "Get a device by ID or name",
			mcp.String("id", "Device ID or name", mcp.Required()),
		),
		s.handleDeviceGet,
	)

	// device_list - List devices, optionally filtered by a property
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_list", "List all devices, optionally filtered by a property value (substring match)",
			mcp.String("property", "Device property to filter on (e.g. vendor, location, operating_system)"),
			mcp.String("value", "Value the property must contain"),
		),
		s.handleDeviceList,
	)

	// device_neighbors - Get the neighbors of a device
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_neighbors", "Get the devices adjacent to a device through its links",
			mcp.String("id", "Device ID or name", mcp.Required()),
			mcp.String("direction", "Link direction: source, destination or both (default both)"),
			mcp.String("subtype", "Only traverse links of this subtype"),
		),
		s.handleDeviceNeighbors,
	)

	// config_search - Search a device's cached configuration
	s.mcpServer.RegisterTool(
		mcp.NewTool("config_search", "Search a device's cached configuration for matching lines with context",
			mcp.String("id", "Device ID or name", mcp.Required()),
			mcp.String("query", "Text or regular expression to search for", mcp.Required()),
			mcp.String("mode", "Search mode: substring (default) or regex"),
		),
		s.handleConfigSearch,
	)

	// Pool tools

	// pool_list - List pools with their membership counts
	s.mcpServer.RegisterTool(
		mcp.NewTool("pool_list", "List all pools with their per-kind membership counts"),
		s.handlePoolList,
	)

	// pool_get - Get a pool by ID or name
	s.mcpServer.RegisterTool(
		mcp.NewTool("pool_get", "Get a pool by ID or name, including its filters and membership counts",
			mcp.String("id", "Pool ID or name", mcp.Required()),
		),
		s.handlePoolGet,
	)

	// pool_members - List the members of a pool for one kind
	s.mcpServer.RegisterTool(
		mcp.NewTool("pool_members", "List the members of a pool for one kind (device, link, service or user)",
			mcp.String("id", "Pool ID or name", mcp.Required()),
			mcp.String("kind", "Member kind: device, link, service or user (default device)"),
		),
		s.handlePoolMembers,
	)

	// pool_recompute - Recompute a pool's membership
	s.mcpServer.RegisterTool(
		mcp.NewTool("pool_recompute", "Recompute a pool's membership from its filters. Omit id to recompute every pool.",
			mcp.String("id", "Pool ID or name (all pools if omitted)"),
		),
		s.handlePoolRecompute,
	)

	// Service tools

	// service_list - List services
	s.mcpServer.RegisterTool(
		mcp.NewTool("service_list", "List all services with their operation and targets"),
		s.handleServiceList,
	)

	// service_run - Run a service
	s.mcpServer.RegisterTool(
		mcp.NewTool("service_run", "Run a service against its target devices and return the per-device report",
			mcp.String("id", "Service ID or name", mcp.Required()),
			mcp.String("user", "User to run as (scopes credential resolution)", mcp.Required()),
		),
		s.handleServiceRun,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token
// authentication.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != s.bearerToken {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

// Inventory tool handlers

func (s *Server) handleDeviceGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	log.Debug("MCP device get request", "id", id)
	device, err := s.store.GetDevice(id)
	if err != nil {
		log.Error("MCP device get failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	return mcp.NewToolResponseText(s.formatDeviceSummary(device)), nil
}

func (s *Server) handleDeviceList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	property, _ := req.String("property")
	value, _ := req.String("value")
	log.Debug("MCP device list request", "property", property, "value", value)

	devices, err := s.store.ListDevices()
	if err != nil {
		log.Error("MCP device list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}

	if property != "" {
		if !model.IsFilterable(model.KindDevice, property) {
			return nil, mcp.NewToolErrorInvalidParams("unknown device property: " + property)
		}
		filtered := devices[:0]
		for _, device := range devices {
			if got, ok := device.Property(property); ok && strings.Contains(got, value) {
				filtered = append(filtered, device)
			}
		}
		devices = filtered
	}

	log.Info("MCP device list completed", "count", len(devices))

	if len(devices) == 0 {
		return mcp.NewToolResponseText("No devices found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d devices:\n\n", len(devices)))
	for i := range devices {
		result.WriteString(s.formatDeviceSummary(&devices[i]))
		result.WriteString("\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleDeviceNeighbors(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	device, err := s.store.GetDevice(id)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	direction := topology.Direction(req.StringOr("direction", string(topology.DirectionBoth)))
	switch direction {
	case topology.DirectionSource, topology.DirectionDestination, topology.DirectionBoth:
	default:
		return nil, mcp.NewToolErrorInvalidParams("direction must be source, destination or both")
	}

	var filters map[string]string
	if subtype := req.StringOr("subtype", ""); subtype != "" {
		filters = map[string]string{"subtype": subtype}
	}

	neighbors, err := topology.NeighborDevices(s.store, device, direction, filters)
	if err != nil {
		log.Error("MCP neighbor lookup failed", "error", err, "device", device.Name)
		return nil, mcp.NewToolErrorInternal("failed to get neighbors: " + err.Error())
	}

	if len(neighbors) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No neighbors found for device: %s", device.Name)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Neighbors of %s:\n\n", device.Name))
	for i := range neighbors {
		result.WriteString(s.formatDeviceSummary(&neighbors[i]))
		result.WriteString("\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleConfigSearch(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}
	query, err := req.String("query")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("query is required: " + err.Error())
	}

	device, err := s.store.GetDevice(id)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}
	if device.Configuration == "" {
		return mcp.NewToolResponseText(fmt.Sprintf("No configuration cached for device: %s", device.Name)), nil
	}

	mode := topology.SearchSubstring
	if req.StringOr("mode", "") == "regex" {
		mode = topology.SearchRegex
	}

	matches, err := topology.SearchLines(device.Configuration, query, mode, 2)
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("invalid search pattern: " + err.Error())
	}
	if len(matches) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No matches for %q in %s", query, device.Name)), nil
	}

	return mcp.NewToolResponseText(strings.Join(topology.RawResults(matches), "\n")), nil
}

// Pool tool handlers

func (s *Server) handlePoolList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	pools, err := s.store.ListPools()
	if err != nil {
		log.Error("MCP pool list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list pools: " + err.Error())
	}

	if len(pools) == 0 {
		return mcp.NewToolResponseText("No pools found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d pools:\n\n", len(pools)))
	for i := range pools {
		result.WriteString(s.formatPoolSummary(&pools[i]))
		result.WriteString("\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handlePoolGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	p, err := s.store.GetPool(id)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("pool not found: " + err.Error())
	}

	var result strings.Builder
	result.WriteString(s.formatPoolSummary(p))
	for kind, filters := range p.Filters {
		for property, spec := range filters {
			if spec.Value == "" {
				continue
			}
			invert := ""
			if spec.Invert {
				invert = ", inverted"
			}
			result.WriteString(fmt.Sprintf("Filter: %s.%s %s %q%s\n", kind, property, spec.Match, spec.Value, invert))
		}
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handlePoolMembers(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	kind := model.Kind(req.StringOr("kind", string(model.KindDevice)))
	valid := false
	for _, k := range model.Kinds {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		return nil, mcp.NewToolErrorInvalidParams("kind must be device, link, service or user")
	}

	p, err := s.store.GetPool(id)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("pool not found: " + err.Error())
	}

	memberIDs, err := s.store.PoolMembers(p.ID, kind)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list members: " + err.Error())
	}

	if len(memberIDs) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("Pool %s has no %s members", p.Name, kind)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s members of %s (%d):\n", kind, p.Name, len(memberIDs)))
	for _, memberID := range memberIDs {
		line := memberID
		if name := s.poolableName(kind, memberID); name != "" {
			line = fmt.Sprintf("%s (ID: %s)", name, memberID)
		}
		result.WriteString("  - " + line + "\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handlePoolRecompute(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, _ := req.String("id")

	if id == "" {
		log.Debug("MCP recompute all pools")
		if err := s.engine.ComputeAll(); err != nil {
			log.Error("MCP pool recompute failed", "error", err)
			return nil, mcp.NewToolErrorInternal("failed to recompute pools: " + err.Error())
		}
		return mcp.NewToolResponseText("All pools recomputed"), nil
	}

	p, err := s.store.GetPool(id)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("pool not found: " + err.Error())
	}
	if err := s.engine.Compute(p.ID); err != nil {
		log.Error("MCP pool recompute failed", "error", err, "pool", p.Name)
		return nil, mcp.NewToolErrorInternal("failed to recompute pool: " + err.Error())
	}

	p, err = s.store.GetPool(p.ID)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to reload pool: " + err.Error())
	}
	return mcp.NewToolResponseText("Recomputed:\n" + s.formatPoolSummary(p)), nil
}

// Service tool handlers

func (s *Server) handleServiceList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	services, err := s.store.ListServices()
	if err != nil {
		log.Error("MCP service list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list services: " + err.Error())
	}

	if len(services) == 0 {
		return mcp.NewToolResponseText("No services found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d services:\n\n", len(services)))
	for _, service := range services {
		result.WriteString(fmt.Sprintf("Name: %s\nID: %s\nOperation: %s\n", service.Name, service.ID, service.Netconf.Operation))
		if len(service.TargetDeviceIDs) > 0 {
			result.WriteString(fmt.Sprintf("Target devices: %d\n", len(service.TargetDeviceIDs)))
		}
		if len(service.TargetPoolIDs) > 0 {
			result.WriteString(fmt.Sprintf("Target pools: %d\n", len(service.TargetPoolIDs)))
		}
		if service.CronSchedule != "" {
			result.WriteString(fmt.Sprintf("Schedule: %s\n", service.CronSchedule))
		}
		result.WriteString("\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleServiceRun(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}
	user, err := req.String("user")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("user is required: " + err.Error())
	}

	service, err := s.store.GetService(id)
	if err != nil {
		return nil, mcp.NewToolErrorInternal("service not found: " + err.Error())
	}

	log.Info("MCP service run requested", "service", service.Name, "user", user)
	report, err := s.runner.Run(ctx, service, user)
	if err != nil {
		log.Error("MCP service run failed", "error", err, "service", service.Name)
		return nil, mcp.NewToolErrorInternal("run failed: " + err.Error())
	}

	var result strings.Builder
	status := "succeeded"
	if !report.Success {
		status = "failed"
	}
	result.WriteString(fmt.Sprintf("Run of %s %s (%d devices):\n", report.ServiceName, status, len(report.Devices)))
	for name, deviceResult := range report.Devices {
		if deviceResult.Success {
			result.WriteString(fmt.Sprintf("  %s: ok\n", name))
		} else {
			result.WriteString(fmt.Sprintf("  %s: FAILED: %s\n", name, deviceResult.Error))
		}
	}
	return mcp.NewToolResponseText(result.String()), nil
}

// Utility functions

// poolableName resolves a member ID to its display name, empty when the
// member no longer exists.
func (s *Server) poolableName(kind model.Kind, memberID string) string {
	switch kind {
	case model.KindDevice:
		if device, err := s.store.GetDevice(memberID); err == nil {
			return device.Name
		}
	case model.KindLink:
		if link, err := s.store.GetLink(memberID); err == nil {
			return link.Name
		}
	case model.KindService:
		if service, err := s.store.GetService(memberID); err == nil {
			return service.Name
		}
	case model.KindUser:
		if user, err := s.store.GetUser(memberID); err == nil {
			return user.Name
		}
	}
	return ""
}

func (s *Server) formatDeviceSummary(device *model.Device) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Name: %s\n", device.Name))
	result.WriteString(fmt.Sprintf("ID: %s\n", device.ID))
	if device.Vendor != "" {
		result.WriteString(fmt.Sprintf("Vendor: %s\n", device.Vendor))
	}
	if device.Model != "" {
		result.WriteString(fmt.Sprintf("Model: %s\n", device.Model))
	}
	if device.OperatingSystem != "" {
		os := device.OperatingSystem
		if device.OSVersion != "" {
			os += " " + device.OSVersion
		}
		result.WriteString(fmt.Sprintf("OS: %s\n", os))
	}
	if device.IPAddress != "" {
		result.WriteString(fmt.Sprintf("Address: %s:%d\n", device.IPAddress, device.Port))
	}
	if device.Location != "" {
		result.WriteString(fmt.Sprintf("Location: %s\n", device.Location))
	}
	if device.LastConfigUpdate != "" {
		result.WriteString(fmt.Sprintf("Last config update: %s\n", device.LastConfigUpdate))
	}
	return result.String()
}

func (s *Server) formatPoolSummary(p *model.Pool) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Name: %s\n", p.Name))
	result.WriteString(fmt.Sprintf("ID: %s\n", p.ID))
	mode := "computed"
	if p.ManuallyDefined {
		mode = "manually defined"
	}
	result.WriteString(fmt.Sprintf("Mode: %s (operator: %s)\n", mode, p.Operator))
	var counts []string
	for _, kind := range model.Kinds {
		counts = append(counts, fmt.Sprintf("%s=%d", kind, p.Count(kind)))
	}
	result.WriteString("Members: " + strings.Join(counts, ", ") + "\n")
	return result.String()
}

// GetHTTPHandler returns the HTTP handler for the MCP server.
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information.
func (s *Server) LogStartup() {
	log.Info("MCP Server initialized", "version", "1.0.0")
	if s.bearerToken != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Info("MCP authentication disabled")
	}
	tools := s.mcpServer.ListTools()
	log.Info("MCP tools registered", "count", len(tools))
	for _, tool := range tools {
		log.Debug("MCP tool registered", "name", tool.Name, "description", tool.Description)
	}
}
