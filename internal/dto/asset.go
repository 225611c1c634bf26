package dto

// AssetCommandRequest captures POST /{module}/assets/:id/commands payload.
type AssetCommandRequest struct {
	Command string      `json:"command" validate:"required,max=64"`
	Value   interface{} `json:"value"`
}

// SignalOverrideRequest captures POST /traffic/signal-overrides payload.
type SignalOverrideRequest struct {
	SignalID string `json:"signalId" validate:"required,max=64"`
	Phase    string `json:"phase" validate:"required,oneof=red amber green flashing off"`
	Reason   string `json:"reason" validate:"max=256"`
}

// BroadcastRequest captures POST /emergency/broadcasts payload.
type BroadcastRequest struct {
	Zone    string `json:"zone" validate:"required,max=64"`
	Message string `json:"message" validate:"required,max=512"`
}
