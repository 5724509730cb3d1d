package httpapi

import (
	"sync/atomic"

	"go.uber.org/zap"

	"leadtrack-engine/internal/config"
	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/workspace"
)

type Deps struct {
	WS  *workspace.Workspace
	Hub *events.Hub

	// Atomic stores
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// Token returns the API token guarding mutating endpoints; "" disables the check.
	Token func() string

	// RatePerSecond limits requests per client address; 0 disables.
	RatePerSecond float64

	Logger *zap.Logger
}
