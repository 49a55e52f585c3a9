package netconf

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/netfabd/netfabd/internal/model"
)

// stubSession records every call and plays back canned payloads.
type stubSession struct {
	payload string
	err     error

	calls  []string
	filter string
	config string
	opts   EditOptions
	source string
	target string
}

func (s *stubSession) GetConfig(_ context.Context, source string) (string, error) {
	s.calls = append(s.calls, "get_config")
	s.source = source
	return s.payload, s.err
}

func (s *stubSession) Get(_ context.Context, filter string) (string, error) {
	s.calls = append(s.calls, "get")
	s.filter = filter
	return s.payload, s.err
}

func (s *stubSession) EditConfig(_ context.Context, target, config string, opts EditOptions) (string, error) {
	s.calls = append(s.calls, "edit_config")
	s.target = target
	s.config = config
	s.opts = opts
	return s.payload, s.err
}

func (s *stubSession) CopyConfig(_ context.Context, source, target string) (string, error) {
	s.calls = append(s.calls, "copy_config")
	s.source = source
	s.target = target
	return s.payload, s.err
}

func (s *stubSession) RPC(_ context.Context, content string) (string, error) {
	s.calls = append(s.calls, "rpc")
	s.config = content
	return s.payload, s.err
}

func (s *stubSession) Lock(_ context.Context, string2 string) error {
	s.calls = append(s.calls, "lock")
	return nil
}

func (s *stubSession) Unlock(_ context.Context, string2 string) error {
	s.calls = append(s.calls, "unlock")
	return nil
}

func (s *stubSession) Commit(_ context.Context) error {
	s.calls = append(s.calls, "commit")
	return nil
}

func (s *stubSession) Close() error { return nil }

func testDevice() *model.Device {
	device := model.NewDevice("edge-1")
	device.ID = "d1"
	device.IPAddress = "192.0.2.1"
	return device
}

func TestRunGetConfig(t *testing.T) {
	session := &stubSession{payload: "<a>1</a>"}
	spec := &model.NetconfSpec{
		Operation:     model.NetconfGetConfig,
		Target:        model.DatastoreRunning,
		XMLConversion: true,
	}

	result, err := Run(context.Background(), session, testDevice(), spec, "alice", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success {
		t.Error("Success = false")
	}
	want := map[string]interface{}{"a": "1"}
	if !reflect.DeepEqual(result.Result, want) {
		t.Errorf("Result = %#v, want %#v", result.Result, want)
	}
	if session.source != model.DatastoreRunning {
		t.Errorf("source = %q, want running", session.source)
	}
}

func TestRunGetConfigRaw(t *testing.T) {
	session := &stubSession{payload: "<a>1</a>"}
	spec := &model.NetconfSpec{Operation: model.NetconfGetConfig, Target: model.DatastoreRunning}

	result, err := Run(context.Background(), session, testDevice(), spec, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Result != "<a>1</a>" {
		t.Errorf("Result = %#v, want the raw markup", result.Result)
	}
}

func TestRunFilteredGetRendersTemplate(t *testing.T) {
	session := &stubSession{payload: "<x/>"}
	spec := &model.NetconfSpec{
		Operation: model.NetconfGetFilteredConfig,
		XMLFilter: "<interface><name>{{.name}}</name></interface>",
	}

	_, err := Run(context.Background(), session, testDevice(), spec, "alice",
		map[string]interface{}{"name": "Gi0/0"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if session.filter != "<interface><name>Gi0/0</name></interface>" {
		t.Errorf("filter = %q", session.filter)
	}

	// An undefined variable fails the run rather than sending a hole.
	spec.XMLFilter = "<name>{{.missing}}</name>"
	if _, err := Run(context.Background(), session, testDevice(), spec, "alice", map[string]interface{}{}); err == nil {
		t.Error("undefined template variable accepted")
	}
}

func TestRunPushConfig(t *testing.T) {
	tests := []struct {
		name      string
		spec      model.NetconfSpec
		wantCalls []string
	}{
		{
			"lock commit unlock",
			model.NetconfSpec{
				Operation: model.NetconfPushConfig, Target: model.DatastoreCandidate,
				XMLFilter: "<config/>", Lock: true, Unlock: true, CommitConf: true,
			},
			[]string{"lock", "edit_config", "commit", "unlock"},
		},
		{
			"no commit when flag unset",
			model.NetconfSpec{
				Operation: model.NetconfPushConfig, Target: model.DatastoreCandidate,
				XMLFilter: "<config/>",
			},
			[]string{"edit_config"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &stubSession{}
			result, err := Run(context.Background(), session, testDevice(), &tt.spec, "alice", nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !result.Success {
				t.Error("Success = false")
			}
			if !reflect.DeepEqual(session.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", session.calls, tt.wantCalls)
			}
		})
	}
}

func TestRunPushConfigNoneModifiers(t *testing.T) {
	session := &stubSession{}
	spec := &model.NetconfSpec{
		Operation:        model.NetconfPushConfig,
		Target:           model.DatastoreRunning,
		XMLFilter:        "<config/>",
		DefaultOperation: model.NoneOption,
		TestOption:       "test-then-set",
		ErrorOption:      model.NoneOption,
	}
	if _, err := Run(context.Background(), session, testDevice(), spec, "alice", nil); err != nil {
		t.Fatal(err)
	}
	want := EditOptions{TestOption: "test-then-set"}
	if session.opts != want {
		t.Errorf("opts = %+v, want %+v", session.opts, want)
	}
}

func TestRunCopyConfig(t *testing.T) {
	tests := []struct {
		name       string
		spec       model.NetconfSpec
		wantSource string
		wantTarget string
		wantCalls  []string
	}{
		{
			"datastore to datastore",
			model.NetconfSpec{
				Operation: model.NetconfCopyConfig, XMLConversion: false,
				CopySource: model.DatastoreRunning, CopyDestination: model.DatastoreStartup,
			},
			model.DatastoreRunning, model.DatastoreStartup,
			[]string{"copy_config"},
		},
		{
			"url redirection",
			model.NetconfSpec{
				Operation: model.NetconfCopyConfig, XMLConversion: false,
				CopySource: model.CopySourceURL, SourceURL: "ftp://backup/cfg",
				CopyDestination: model.DatastoreStartup,
			},
			"ftp://backup/cfg", model.DatastoreStartup,
			[]string{"copy_config"},
		},
		{
			"commit after copy",
			model.NetconfSpec{
				Operation: model.NetconfCopyConfig, XMLConversion: false,
				CopySource: model.DatastoreCandidate, CopyDestination: model.DatastoreRunning,
				CommitConf: true,
			},
			model.DatastoreCandidate, model.DatastoreRunning,
			[]string{"copy_config", "commit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &stubSession{payload: "<ok/>"}
			result, err := Run(context.Background(), session, testDevice(), &tt.spec, "alice", nil)
			if err != nil {
				t.Fatal(err)
			}
			if !result.Success {
				t.Error("Success = false")
			}
			if session.source != tt.wantSource || session.target != tt.wantTarget {
				t.Errorf("copy %q -> %q, want %q -> %q",
					session.source, session.target, tt.wantSource, tt.wantTarget)
			}
			if !reflect.DeepEqual(session.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", session.calls, tt.wantCalls)
			}
		})
	}
}

func TestRunLockBracketsEveryOperation(t *testing.T) {
	tests := []struct {
		name string
		spec model.NetconfSpec
		op   string
	}{
		{"get config", model.NetconfSpec{
			Operation: model.NetconfGetConfig, Target: model.DatastoreRunning,
		}, "get_config"},
		{"filtered get", model.NetconfSpec{
			Operation: model.NetconfGetFilteredConfig, XMLFilter: "<x/>",
		}, "get"},
		{"copy config", model.NetconfSpec{
			Operation:  model.NetconfCopyConfig,
			CopySource: model.DatastoreRunning, CopyDestination: model.DatastoreStartup,
		}, "copy_config"},
		{"rpc", model.NetconfSpec{
			Operation: model.NetconfRPC, XMLFilter: "<reboot/>",
		}, "rpc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.Lock = true
			tt.spec.Unlock = true
			session := &stubSession{payload: "<ok/>"}
			if _, err := Run(context.Background(), session, testDevice(), &tt.spec, "alice", nil); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			want := []string{"lock", tt.op, "unlock"}
			if !reflect.DeepEqual(session.calls, want) {
				t.Errorf("calls = %v, want %v", session.calls, want)
			}
		})
	}
}

func TestRunPushConfigReturnsReply(t *testing.T) {
	session := &stubSession{payload: "<ok/>"}
	spec := &model.NetconfSpec{
		Operation:     model.NetconfPushConfig,
		Target:        model.DatastoreRunning,
		XMLFilter:     "<config/>",
		XMLConversion: true,
	}

	result, err := Run(context.Background(), session, testDevice(), spec, "alice", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := map[string]interface{}{"ok": ""}
	if !reflect.DeepEqual(result.Result, want) {
		t.Errorf("Result = %#v, want the converted reply %#v", result.Result, want)
	}
}

func TestRunNoOperationSelected(t *testing.T) {
	session := &stubSession{}
	spec := &model.NetconfSpec{}

	result, err := Run(context.Background(), session, testDevice(), spec, "alice", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true for unset operation")
	}
	if result.Result != "No NETCONF operation selected." {
		t.Errorf("Result = %#v", result.Result)
	}
	if len(session.calls) != 0 {
		t.Errorf("session was touched: %v", session.calls)
	}
}

func TestRunPropagatesSessionErrors(t *testing.T) {
	sessionErr := errors.New("connection reset")
	session := &stubSession{err: sessionErr}
	spec := &model.NetconfSpec{Operation: model.NetconfGetConfig, Target: model.DatastoreRunning}

	if _, err := Run(context.Background(), session, testDevice(), spec, "alice", nil); !errors.Is(err, sessionErr) {
		t.Errorf("error = %v, want the session error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    model.NetconfSpec
		wantErr bool
	}{
		{"get config", model.NetconfSpec{Operation: model.NetconfGetConfig}, false},
		{"unset operation", model.NetconfSpec{}, true},
		{"filtered get without filter", model.NetconfSpec{Operation: model.NetconfGetFilteredConfig}, true},
		{"rpc with filter", model.NetconfSpec{Operation: model.NetconfRPC, XMLFilter: "<rpc/>"}, false},
		{"copy source url without url", model.NetconfSpec{
			Operation: model.NetconfCopyConfig, CopySource: model.CopySourceURL,
		}, true},
		{"broken template", model.NetconfSpec{
			Operation: model.NetconfGetFilteredConfig, XMLFilter: "{{.unclosed",
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
