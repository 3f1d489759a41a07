// Package location maps where a runner is to the grid region whose carbon
// intensity applies to it.
package location

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"carbondelay/internal/types"
)

//go:embed regions.yaml
var defaultRegionsYAML []byte

// Region describes one cloud datacenter region.
type Region struct {
	Code        string `yaml:"-"`
	DisplayName string `yaml:"display_name"`
	State       string `yaml:"state"`
	Country     string `yaml:"country"`
}

type regionFile struct {
	Regions map[string]Region `yaml:"regions"`
}

// RegionTable is an immutable lookup from region code to Region.
type RegionTable struct {
	regions map[string]Region
	codes   []string // sorted; fixes the match order for shared states
}

// ParseRegionTable decodes a YAML region table.
func ParseRegionTable(data []byte) (*RegionTable, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("location: region table is empty")
	}
	var f regionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("location: decode region table: %w", err)
	}
	if len(f.Regions) == 0 {
		return nil, fmt.Errorf("location: region table has no regions")
	}

	t := &RegionTable{
		regions: make(map[string]Region, len(f.Regions)),
		codes:   make([]string, 0, len(f.Regions)),
	}
	for code, r := range f.Regions {
		if strings.TrimSpace(r.State) == "" {
			return nil, fmt.Errorf("location: region %s has no state", code)
		}
		r.Code = code
		t.regions[code] = r
		t.codes = append(t.codes, code)
	}
	sort.Strings(t.codes)
	return t, nil
}

var loadDefault = sync.OnceValues(func() (*RegionTable, error) {
	return ParseRegionTable(defaultRegionsYAML)
})

// DefaultRegionTable returns the built-in Azure region table.
func DefaultRegionTable() (*RegionTable, error) {
	return loadDefault()
}

// ResolveRegion returns the code of the first region, in code order, whose
// state matches. Matching ignores case and surrounding whitespace. When
// several regions share a state the lowest code wins, so the answer is
// stable across runs.
func (t *RegionTable) ResolveRegion(state string) (string, error) {
	want := strings.TrimSpace(state)
	if want == "" {
		return "", types.NewAppError(types.ErrCodeResolutionNoRegion, "no state to resolve", nil)
	}
	for _, code := range t.codes {
		if strings.EqualFold(t.regions[code].State, want) {
			return code, nil
		}
	}
	return "", types.NewAppErrorWithDetails(
		types.ErrCodeResolutionNoMatch,
		fmt.Sprintf("no region matches state %q", want),
		nil,
		map[string]any{"state": want},
	)
}

// Lookup returns the region with the given code.
func (t *RegionTable) Lookup(code string) (Region, bool) {
	r, ok := t.regions[code]
	return r, ok
}

// Len reports how many regions the table holds.
func (t *RegionTable) Len() int {
	return len(t.codes)
}
