// Package rig loads rig definitions and builds the bind-pose structures the
// solver and gait layers work on: a skeleton transform tree and one immutable
// Chain per leg.
package rig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BoneDef is one bone of a rig definition. Position is the bind-pose offset
// from the parent bone (model units). Rotation is the bind local rotation as
// a wxyz quaternion; identity when omitted.
type BoneDef struct {
	Name     string      `json:"name"`
	Parent   string      `json:"parent,omitempty"`
	Position [3]float64  `json:"position"`
	Rotation *[4]float64 `json:"rotation,omitempty"`
}

// LegDef names a chain of bones, hip to foot. Group partitions legs for gait
// coordination. Pole is an optional model-space bend hint; chains of three or
// more bones without one get a derived hint at setup.
type LegDef struct {
	ID    string      `json:"id"`
	Bones []string    `json:"bones"`
	Group int         `json:"group"`
	Pole  *[3]float64 `json:"pole,omitempty"`
}

type BodyDef struct {
	StandHeight float64 `json:"stand_height"`
}

type Def struct {
	ID    string    `json:"id"`
	Name  string    `json:"name,omitempty"`
	Bones []BoneDef `json:"bones"`
	Legs  []LegDef  `json:"legs"`
	Body  BodyDef   `json:"body"`

	Digest string `json:"-"` // sha256 of the source file
}

type Catalog struct {
	ByID   map[string]*Def
	IDs    []string // sorted
	Digest string   // sha256 over all source files, sorted by name
}

// LoadCatalog reads every *.json under dir. A malformed or structurally
// invalid def fails the whole load; rigs are configuration, not user input.
func LoadCatalog(dir string) (*Catalog, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	c := &Catalog{ByID: map[string]*Def{}}
	all := sha256.New()
	for _, p := range files {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		all.Write(raw)
		all.Write([]byte{'\n'})

		var d Def
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("rig %s: %w", filepath.Base(p), err)
		}
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("rig %s: %w", filepath.Base(p), err)
		}
		sum := sha256.Sum256(raw)
		d.Digest = hex.EncodeToString(sum[:])
		if _, dup := c.ByID[d.ID]; dup {
			return nil, fmt.Errorf("rig %s: duplicate id %q", filepath.Base(p), d.ID)
		}
		c.ByID[d.ID] = &d
		c.IDs = append(c.IDs, d.ID)
	}
	sort.Strings(c.IDs)
	c.Digest = hex.EncodeToString(all.Sum(nil))
	return c, nil
}

func (d *Def) validate() error {
	if d.ID == "" {
		return fmt.Errorf("missing id")
	}
	if len(d.Bones) == 0 {
		return fmt.Errorf("no bones")
	}
	seen := map[string]int{}
	for i, b := range d.Bones {
		if b.Name == "" {
			return fmt.Errorf("bone %d: empty name", i)
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate bone %q", b.Name)
		}
		if b.Parent != "" {
			if _, ok := seen[b.Parent]; !ok {
				// Parents must be declared before children; this also rules
				// out cycles.
				return fmt.Errorf("bone %q: parent %q not declared earlier", b.Name, b.Parent)
			}
		} else if i != 0 {
			return fmt.Errorf("bone %q: only the first bone may be parentless", b.Name)
		}
		seen[b.Name] = i
	}
	if len(d.Legs) == 0 {
		return fmt.Errorf("no legs")
	}
	legIDs := map[string]struct{}{}
	for _, leg := range d.Legs {
		if leg.ID == "" {
			return fmt.Errorf("leg with empty id")
		}
		if _, dup := legIDs[leg.ID]; dup {
			return fmt.Errorf("duplicate leg %q", leg.ID)
		}
		legIDs[leg.ID] = struct{}{}
		if len(leg.Bones) < 2 {
			return fmt.Errorf("leg %q: needs at least 2 bones", leg.ID)
		}
		for j, name := range leg.Bones {
			bi, ok := seen[name]
			if !ok {
				return fmt.Errorf("leg %q: unknown bone %q", leg.ID, name)
			}
			if j > 0 && d.Bones[bi].Parent != leg.Bones[j-1] {
				return fmt.Errorf("leg %q: bone %q is not a child of %q", leg.ID, name, leg.Bones[j-1])
			}
		}
	}
	if d.Body.StandHeight <= 0 {
		return fmt.Errorf("body.stand_height must be positive")
	}
	return nil
}
