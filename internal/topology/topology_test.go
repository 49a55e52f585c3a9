package topology

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/netfabd/netfabd/internal/model"
	"github.com/netfabd/netfabd/internal/storage"
)

func seedTriangle(t *testing.T) (storage.Store, map[string]*model.Device) {
	t.Helper()
	store := storage.NewMemoryStore()

	devices := map[string]*model.Device{}
	for _, name := range []string{"A", "B", "C"} {
		device := model.NewDevice(name)
		device.ID = uuid.Must(uuid.NewV7()).String()
		if err := store.CreateDevice(device); err != nil {
			t.Fatalf("CreateDevice(%s) error = %v", name, err)
		}
		devices[name] = device
	}

	links := []struct {
		name, source, dest, subtype string
	}{
		{"A-B", "A", "B", "ethernet"},
		{"A-B-backup", "A", "B", "ethernet"}, // parallel link
		{"B-A", "B", "A", "bgp"},
		{"A-C", "A", "C", "bgp"},
		{"A-A", "A", "A", "loopback"}, // self-loop
	}
	for _, l := range links {
		link := model.NewLink(l.name, devices[l.source].ID, devices[l.dest].ID)
		link.ID = uuid.Must(uuid.NewV7()).String()
		link.Subtype = l.subtype
		if err := store.CreateLink(link); err != nil {
			t.Fatalf("CreateLink(%s) error = %v", l.name, err)
		}
	}
	return store, devices
}

func neighborNames(t *testing.T, store storage.Store, device *model.Device, direction Direction, filters map[string]string) []string {
	t.Helper()
	neighbors, err := NeighborDevices(store, device, direction, filters)
	if err != nil {
		t.Fatalf("NeighborDevices() error = %v", err)
	}
	names := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		names = append(names, n.Name)
	}
	return names
}

func TestNeighborDevices(t *testing.T) {
	store, devices := seedTriangle(t)

	tests := []struct {
		name      string
		direction Direction
		filters   map[string]string
		want      []string
	}{
		{"both dedupes parallel links and skips self", DirectionBoth, nil, []string{"B", "C"}},
		{"source only", DirectionSource, map[string]string{"subtype": "bgp"}, []string{"C"}},
		{"destination only", DirectionDestination, map[string]string{"subtype": "bgp"}, []string{"B"}},
		{"filter miss", DirectionBoth, map[string]string{"subtype": "atm"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := neighborNames(t, store, devices["A"], tt.direction, tt.filters)
			if !reflect.DeepEqual(got, tt.want) && !(len(got) == 0 && len(tt.want) == 0) {
				t.Errorf("neighbors = %v, want %v", got, tt.want)
			}
			for _, name := range got {
				if name == "A" {
					t.Error("device returned as its own neighbor")
				}
			}
		})
	}
}

func TestNeighborLinksFilter(t *testing.T) {
	store, devices := seedTriangle(t)

	links, err := NeighborLinks(store, devices["A"], DirectionBoth, map[string]string{"subtype": "ethernet"})
	if err != nil {
		t.Fatalf("NeighborLinks() error = %v", err)
	}
	if len(links) != 2 {
		t.Errorf("got %d ethernet links, want 2", len(links))
	}
}

const sampleConfig = `hostname edge-1
interface Gi0/0
 ip address 10.0.0.1
!
interface Gi0/1
 ip address 10.0.1.1
!
router bgp 65000
 neighbor 10.0.0.2`

func TestSearchLines(t *testing.T) {
	t.Run("window merges overlapping matches", func(t *testing.T) {
		matches, err := SearchLines(sampleConfig, "interface", SearchSubstring, 1)
		if err != nil {
			t.Fatalf("SearchLines() error = %v", err)
		}
		// Lines 2 and 5 match; windows [1,3] and [4,6] touch every
		// line exactly once.
		want := []int{1, 2, 3, 4, 5, 6}
		var got []int
		for _, m := range matches {
			got = append(got, m.Number)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("line numbers = %v, want %v", got, want)
		}
	})

	t.Run("window clamped to bounds", func(t *testing.T) {
		matches, err := SearchLines(sampleConfig, "hostname", SearchSubstring, 3)
		if err != nil {
			t.Fatal(err)
		}
		if matches[0].Number != 1 {
			t.Errorf("first line = %d, want 1", matches[0].Number)
		}
	})

	t.Run("case insensitive substring", func(t *testing.T) {
		matches, err := SearchLines(sampleConfig, "BGP", SearchSubstring, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 1 || matches[0].Number != 8 {
			t.Errorf("matches = %v, want line 8", matches)
		}
	})

	t.Run("regex mode", func(t *testing.T) {
		matches, err := SearchLines(sampleConfig, `ip address 10\.0\.\d+\.1`, SearchRegex, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 2 {
			t.Errorf("got %d matches, want 2", len(matches))
		}
	})

	t.Run("invalid regex", func(t *testing.T) {
		if _, err := SearchLines(sampleConfig, "[unclosed", SearchRegex, 0); err == nil {
			t.Error("invalid pattern accepted")
		}
	})
}

func TestRawResults(t *testing.T) {
	matches, err := SearchLines(sampleConfig, "bgp", SearchSubstring, 0)
	if err != nil {
		t.Fatal(err)
	}
	raw := RawResults(matches)
	if len(raw) != 1 || raw[0] != "L8: router bgp 65000" {
		t.Errorf("raw = %v", raw)
	}
}

func TestSearchBlocks(t *testing.T) {
	blocks, err := SearchBlocks(sampleConfig, "interface", SearchSubstring, 1)
	if err != nil {
		t.Fatalf("SearchBlocks() error = %v", err)
	}
	// Overlapping windows merge into one contiguous block.
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1 merged block: %v", len(blocks), blocks)
	}
	if strings.Count(blocks[0], "<mark>interface</mark>") != 2 {
		t.Errorf("highlight missing: %q", blocks[0])
	}

	blocks, err = SearchBlocks(sampleConfig, "address", SearchSubstring, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Errorf("got %d blocks, want 2 separate blocks", len(blocks))
	}
}
