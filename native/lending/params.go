package lending

import "strings"

const moduleName = "lending"

// Action names used for pause keys ("lending.borrow") and metric labels.
const (
	ActionDeposit      = "deposit"
	ActionWithdraw     = "withdraw"
	ActionCreateCircle = "create_circle"
	ActionBorrow       = "borrow"
	ActionRepay        = "repay"
	ActionLiquidate    = "liquidate"
)

// ActionPauses exposes fine-grained switches for pausing individual lending
// flows. It satisfies common.PauseView so configuration can be wired directly
// into the engine guard.
type ActionPauses struct {
	All          bool `toml:"All"`
	Deposit      bool `toml:"Deposit"`
	Withdraw     bool `toml:"Withdraw"`
	CreateCircle bool `toml:"CreateCircle"`
	Borrow       bool `toml:"Borrow"`
	Repay        bool `toml:"Repay"`
	Liquidate    bool `toml:"Liquidate"`
}

// IsPaused reports whether the module or one of its actions is paused. Keys are
// either the bare module name or "module.action".
func (p ActionPauses) IsPaused(key string) bool {
	module, action, _ := strings.Cut(strings.ToLower(strings.TrimSpace(key)), ".")
	if module != moduleName {
		return false
	}
	switch action {
	case "":
		return p.All
	case ActionDeposit:
		return p.All || p.Deposit
	case ActionWithdraw:
		return p.All || p.Withdraw
	case ActionCreateCircle:
		return p.All || p.CreateCircle
	case ActionBorrow:
		return p.All || p.Borrow
	case ActionRepay:
		return p.All || p.Repay
	case ActionLiquidate:
		return p.All || p.Liquidate
	default:
		return p.All
	}
}
