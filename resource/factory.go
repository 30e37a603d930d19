package resource

import "github.com/lynxforge/pluginrt/plugins"

// Factory produces live resource instances for one resource Type. The
// manager selects a factory by the handle's recorded Type, per spec.md
// §4.4. Implementations are quota-aware through CanCreate so the manager
// can reject before paying construction cost.
type Factory interface {
	Type() Type
	CanCreate(h *Handle) bool
	Create(h *Handle) (instance any, err error)
	EstimatedCost(h *Handle) int64
	Close(instance any) error
}

// FuncFactory adapts plain functions into a Factory, for simple resource
// types that need no bespoke struct (threads, timers, memory blocks).
type FuncFactory struct {
	Typ       Type
	CreateFn  func(h *Handle) (any, error)
	CostFn    func(h *Handle) int64
	CloseFn   func(any) error
}

func (f *FuncFactory) Type() Type { return f.Typ }

func (f *FuncFactory) CanCreate(h *Handle) bool { return h.Type == f.Typ }

func (f *FuncFactory) Create(h *Handle) (any, error) {
	if f.CreateFn == nil {
		return nil, plugins.Newf(plugins.NotImplemented, "no creation function for resource type %s", f.Typ)
	}
	return f.CreateFn(h)
}

func (f *FuncFactory) EstimatedCost(h *Handle) int64 {
	if f.CostFn == nil {
		return 0
	}
	return f.CostFn(h)
}

func (f *FuncFactory) Close(instance any) error {
	if f.CloseFn == nil {
		return nil
	}
	return f.CloseFn(instance)
}
