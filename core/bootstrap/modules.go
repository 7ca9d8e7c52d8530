package bootstrap

import (
	"fmt"

	tg "github.com/m3rciful/walletlink/core/telegram"
)

// Module contributes commands and callbacks to the bot registry.
type Module interface {
	Register(reg *tg.Registry) error
}

// ModuleFunc adapts a bare function to the Module interface.
type ModuleFunc func(reg *tg.Registry) error

// Register executes the underlying function.
func (f ModuleFunc) Register(reg *tg.Registry) error {
	return f(reg)
}

// RegisterModules registers every module in order, stopping at the first failure.
func RegisterModules(reg *tg.Registry, modules ...Module) error {
	for i, m := range modules {
		if m == nil {
			continue
		}
		if err := m.Register(reg); err != nil {
			return fmt.Errorf("bootstrap: module %d: %w", i, err)
		}
	}
	return nil
}
