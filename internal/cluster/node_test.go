package cluster

import (
	"errors"
	"testing"

	"github.com/danmuck/replctl/internal/testutil/testlog"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBuildDescriptorsInvariants(t *testing.T) {
	testlog.Start(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one node per slot with sequential ports", prop.ForAll(
		func(size, witnesses, base int) bool {
			witnesses = witnesses % size
			nodes, err := BuildDescriptors(Layout{
				Name: "rs", BasePort: base, DataDir: "/tmp/x", Size: size, Witnesses: witnesses,
			})
			if err != nil || len(nodes) != size {
				return false
			}
			seen := map[int]bool{}
			for i, n := range nodes {
				if n.Index != i || n.Port != base+i || seen[n.Port] {
					return false
				}
				seen[n.Port] = true
				if n.Witness() != (i < witnesses) {
					return false
				}
				if n.Handle() != nil {
					return false
				}
			}
			last, ok := LastVoting(nodes)
			return ok && last.Index == size-1
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 11),
		gen.IntRange(1024, 60000),
	))

	properties.Property("config mirrors descriptors", prop.ForAll(
		func(size, witnesses int) bool {
			witnesses = witnesses % size
			nodes, err := BuildDescriptors(Layout{Name: "rs", BasePort: 27017, Size: size, Witnesses: witnesses})
			if err != nil {
				return false
			}
			cfg := NewConfig("rs", nodes)
			if len(cfg.Members) != size || len(cfg.Witnesses()) != witnesses {
				return false
			}
			for i, m := range cfg.Members {
				if m.ID != i || m.Host != nodes[i].Address() {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 11),
	))

	properties.TestingRun(t)
}

func TestBuildDescriptorsPrefixes(t *testing.T) {
	testlog.Start(t)
	nodes, err := BuildDescriptors(Layout{Name: "foo", BasePort: 27017, DataDir: "/data/db/replset", Size: 5, Witnesses: 2})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{"A0", "A1", "R0", "R1", "R2"}
	for i, n := range nodes {
		if n.Prefix != want[i] {
			t.Fatalf("node %d prefix %q want %q", i, n.Prefix, want[i])
		}
	}
	if nodes[3].DBPath != "/data/db/replset/rs_3" {
		t.Fatalf("unexpected dbpath: %q", nodes[3].DBPath)
	}
	if nodes[0].Address() != "localhost:27017" {
		t.Fatalf("unexpected address: %q", nodes[0].Address())
	}
}

func TestLayoutValidation(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		layout Layout
		want   error
	}{
		{Layout{Name: "rs", BasePort: 27017, Size: 0}, ErrInvalidSize},
		{Layout{Name: "rs", BasePort: 27017, Size: 3, Witnesses: 3}, ErrInvalidWitnesses},
		{Layout{Name: "rs", BasePort: 27017, Size: 3, Witnesses: -1}, ErrInvalidWitnesses},
		{Layout{Name: "rs", BasePort: 65534, Size: 3}, ErrInvalidPort},
	}
	for _, tc := range cases {
		if _, err := BuildDescriptors(tc.layout); !errors.Is(err, tc.want) {
			t.Fatalf("layout %+v: expected %v, got %v", tc.layout, tc.want, err)
		}
	}
	if _, err := BuildDescriptors(Layout{BasePort: 27017, Size: 1}); err == nil {
		t.Fatalf("expected missing name error")
	}
}

func TestConfigScenarios(t *testing.T) {
	testlog.Start(t)

	nodes, _ := BuildDescriptors(Layout{Name: "foo", BasePort: 27017, Size: 3})
	cfg := NewConfig("foo", nodes)
	if cfg.Name != "foo" || len(cfg.Members) != 3 || len(cfg.Witnesses()) != 0 {
		t.Fatalf("unexpected 3/0 config: %+v", cfg)
	}

	nodes, _ = BuildDescriptors(Layout{Name: "foo", BasePort: 30000, Size: 5, Witnesses: 2})
	cfg = NewConfig("foo", nodes)
	ids := cfg.Witnesses()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("unexpected witnesses: %v", ids)
	}
	for i, m := range cfg.Members {
		if m.Host != nodes[i].Address() || nodes[i].Port != 30000+i {
			t.Fatalf("member %d mismatch: %+v", i, m)
		}
	}
}
