package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module, or a "module.action" key, is paused.
type PauseView interface {
	IsPaused(key string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction checks the module switch first and then the action switch.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	if action == "" {
		return nil
	}
	return Guard(p, module+"."+action)
}
