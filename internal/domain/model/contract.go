package model

import "time"

// VerificationSmartContract describes a verification contract deployment.
// It is configuration only; no call is ever made against it.
type VerificationSmartContract struct {
	Address    string    `json:"address" yaml:"address"`
	Network    Network   `json:"network" yaml:"network"`
	ABI        []string  `json:"abi" yaml:"abi"`
	DeployedAt time.Time `json:"deployed_at" yaml:"deployed_at"`
	Version    string    `json:"version" yaml:"version"`
}
