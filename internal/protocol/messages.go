package protocol

// HELLO (driver -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	RigID           string `json:"rig_id"`
}

// WELCOME (server -> driver)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	WalkerID        string      `json:"walker_id"`
	WorldParams     WorldParams `json:"world_params"`
	Rig             RigRef      `json:"rig"`
	TuningDigest    string      `json:"tuning_digest,omitempty"`
}

type WorldParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	Seed       int64 `json:"seed"`
}

type RigRef struct {
	ID     string `json:"id"`
	Digest string `json:"digest"`
	Bones  int    `json:"bones"`
	Legs   int    `json:"legs"`
}

// INTENT (driver -> server): movement intent for the owning walker.
// Latest-wins within a tick; the axes are clamped server-side.
type IntentMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	MoveX           float64 `json:"move_x"`
	MoveZ           float64 `json:"move_z"`
	Turn            float64 `json:"turn"`
	Run             bool    `json:"run,omitempty"`
}

// OBS (server -> driver): the owning walker's state after a tick.
type ObsMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	WalkerID        string     `json:"walker_id"`
	Body            BodyPose   `json:"body"`
	Legs            []LegPhase `json:"legs"`
}

type BodyPose struct {
	Pos          [3]float64 `json:"pos"`
	Rot          [4]float64 `json:"rot"` // wxyz
	Yaw          float64    `json:"yaw"`
	LinearSpeed  float64    `json:"linear_speed"`
	AngularSpeed float64    `json:"angular_speed"`
}

type LegPhase struct {
	ID       string     `json:"id"`
	Group    int        `json:"group"`
	Planted  [3]float64 `json:"planted"`
	Target   [3]float64 `json:"target"`
	Progress float64    `json:"progress"`
	Stepping bool       `json:"stepping"`
}

// ERROR (server -> driver)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// SUBSCRIBE (observer -> server)
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// POSE (server -> observer): every walker's full pose for one tick.
type PoseMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	Walkers         []WalkerPose    `json:"walkers"`
	Footsteps       []FootstepEvent `json:"footsteps,omitempty"`
}

type WalkerPose struct {
	ID    string     `json:"id"`
	RigID string     `json:"rig_id"`
	Body  BodyPose   `json:"body"`
	Bones []BoneRot  `json:"bones"`
	Legs  []LegPhase `json:"legs"`
}

type BoneRot struct {
	Name string     `json:"name"`
	Rot  [4]float64 `json:"rot"` // local, wxyz
}

type FootstepEvent struct {
	WalkerID     string     `json:"walker_id"`
	Leg          string     `json:"leg"`
	Pos          [3]float64 `json:"pos"`
	StrideLength float64    `json:"stride_len"`
	Ticks        int        `json:"ticks"`
}

// BootstrapResponse is served over the admin HTTP surface for viewers that
// need rig geometry before their first POSE message.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Rigs            []RigRef    `json:"rigs"`
	TuningDigest    string      `json:"tuning_digest,omitempty"`
}
