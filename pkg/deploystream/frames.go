// Package deploystream defines the deploy progress event protocol.
// Frames are newline-delimited JSON: the daemon emits them while a deploy
// runs, the API relays them to streaming clients, and the CLI renders them.
package deploystream

import "encoding/json"

// FrameType identifies the type of deploy event frame.
type FrameType string

const (
	FrameTypePhaseStarted    FrameType = "phase_started"
	FrameTypeBuildOutput     FrameType = "build_output"
	FrameTypePhaseCompleted  FrameType = "phase_completed"
	FrameTypeDeployCompleted FrameType = "deploy_completed"
	FrameTypeError           FrameType = "error"
)

// Phase identifies a stage of the deploy pipeline.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseBuild    Phase = "build"
	PhaseVerify   Phase = "verify"
	PhaseStart    Phase = "start"
	PhaseProbe    Phase = "probe"
)

// Frame is the base structure for all deploy event frames.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PhaseStarted is emitted when a pipeline phase begins. The first frame of
// a stream carries the deploy ID so clients can follow up (logs, inspect)
// even if the deploy later fails.
type PhaseStarted struct {
	DeployID string `json:"deploy_id"`
	Phase    Phase  `json:"phase"`
}

// BuildOutput is one line of image build output, relayed from the engine.
type BuildOutput struct {
	Line string `json:"line"`
}

// PhaseCompleted is emitted when a pipeline phase finishes successfully.
type PhaseCompleted struct {
	Phase      Phase `json:"phase"`
	DurationMs int64 `json:"duration_ms"`
}

// DeployCompleted is the final frame of a successful deploy.
type DeployCompleted struct {
	DeployID string `json:"deploy_id"`
	App      string `json:"app"`
	ImageTag string `json:"image_tag"`
	HostPort int    `json:"host_port"`
	URL      string `json:"url"`
	Status   string `json:"status"`
}

// Error is the final frame of a failed deploy.
type Error struct {
	DeployID string            `json:"deploy_id,omitempty"`
	Phase    Phase             `json:"phase,omitempty"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
}

// NewFrame creates a Frame with the given type and payload.
func NewFrame(frameType FrameType, payload interface{}) (*Frame, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return &Frame{
		Type:    frameType,
		Payload: payloadBytes,
	}, nil
}

// ParsePayload unmarshals the frame payload into the given struct.
func (f *Frame) ParsePayload(v interface{}) error {
	if f.Payload == nil {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
