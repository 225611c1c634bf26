package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Module is an infrastructure domain guarded by the gatekeeper.
type Module string

const (
	ModuleTraffic   Module = "traffic"
	ModuleWater     Module = "water"
	ModulePower     Module = "power"
	ModuleLighting  Module = "lighting"
	ModuleEmergency Module = "emergency"
)

// Modules lists every guarded module.
var Modules = []Module{ModuleTraffic, ModuleWater, ModulePower, ModuleLighting, ModuleEmergency}

// Action is the tier of operation requested on a module.
type Action string

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionOverride Action = "override"
)

// Asset is a controllable piece of city infrastructure.
type Asset struct {
	ID        string     `db:"id" json:"id"`
	Module    Module     `db:"module" json:"module"`
	Zone      string     `db:"zone" json:"zone"`
	Name      string     `db:"name" json:"name"`
	State     AssetState `db:"state" json:"state"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// AssetState is the last commanded state, persisted as JSONB.
type AssetState map[string]interface{}

// Value marshals the state for persistence.
func (s AssetState) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal asset state: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into the state map.
func (s *AssetState) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*s = AssetState{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AssetState", value)
	}
	state := AssetState{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("unmarshal asset state: %w", err)
		}
	}
	*s = state
	return nil
}

// AssetCommand is dispatched to field gateways when an operator changes an asset.
type AssetCommand struct {
	AssetID   string      `json:"assetId"`
	Module    Module      `json:"module"`
	Zone      string      `json:"zone"`
	Command   string      `json:"command"`
	Value     interface{} `json:"value,omitempty"`
	IssuedBy  string      `json:"issuedBy"`
	Emergency bool        `json:"emergency"`
	IssuedAt  time.Time   `json:"issuedAt"`
}
