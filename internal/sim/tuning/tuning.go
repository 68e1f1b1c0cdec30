package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	MaxWalkers         int `yaml:"max_walkers"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Movement Movement `yaml:"movement"`
	Solver   Solver   `yaml:"solver"`
	Gait     Gait     `yaml:"gait"`
}

type Movement struct {
	WalkSpeed   float64 `yaml:"walk_speed"`
	RunSpeed    float64 `yaml:"run_speed"`
	TurnRateDeg float64 `yaml:"turn_rate_deg"`
}

type Solver struct {
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
	Parallel      bool    `yaml:"parallel"`
}

type Gait struct {
	Policy              string  `yaml:"policy"`
	StepTriggerDistance float64 `yaml:"step_trigger_distance"`
	AngleTriggerDeg     float64 `yaml:"angle_trigger_deg"`
	BaseStrideSpeed     float64 `yaml:"base_stride_speed"`
	MaxStrideSpeed      float64 `yaml:"max_stride_speed"`
	StepHeight          float64 `yaml:"step_height"`
	SpeedStrideMult     float64 `yaml:"speed_stride_mult"`
	AngularStrideMult   float64 `yaml:"angular_stride_mult"`
	StepOvershoot       float64 `yaml:"step_overshoot"`
	BodyAdaptRate       float64 `yaml:"body_adapt_rate"`
	RayOriginOffset     float64 `yaml:"ray_origin_offset"`
	RayMaxDistance      float64 `yaml:"ray_max_distance"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         30,
		MaxWalkers:         64,
		SnapshotEveryTicks: 9000,
		Movement: Movement{
			WalkSpeed:   1.2,
			RunSpeed:    3.0,
			TurnRateDeg: 120,
		},
		Solver: Solver{
			MaxIterations: 12,
			Tolerance:     0.001,
		},
		Gait: Gait{
			Policy:              "alternate",
			StepTriggerDistance: 0.4,
			AngleTriggerDeg:     0,
			BaseStrideSpeed:     2.0,
			MaxStrideSpeed:      6.0,
			StepHeight:          0.35,
			SpeedStrideMult:     0.6,
			AngularStrideMult:   0.4,
			StepOvershoot:       0.15,
			BodyAdaptRate:       6.0,
			RayOriginOffset:     1.0,
			RayMaxDistance:      4.0,
		},
	}
}

// Load reads tuning.yaml over the defaults, so a partial file only overrides
// what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Digest identifies the effective tuning; it is handed to clients in WELCOME
// and stamped into snapshots.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
