package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// SymbolSpec describes a tradable instrument and its numeric resolution.
// TickSize and LotSize are expressed in the scaled integer domain.
type SymbolSpec struct {
	ID            SymbolID
	Name          string
	PriceScale    Scale
	QuantityScale Scale
	TickSize      Price
	LotSize       Quantity
}

// Registry stores symbol mappings in a compact form.
type Registry struct {
	symbols      []SymbolSpec
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{symbolByName: make(map[string]SymbolID)}
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(spec SymbolSpec) (SymbolID, error) {
	if spec.Name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if spec.PriceScale < 0 || spec.QuantityScale < 0 {
		return 0, fmt.Errorf("symbol scale must be >= 0: %s", spec.Name)
	}
	if spec.TickSize <= 0 || spec.LotSize <= 0 {
		return 0, fmt.Errorf("symbol tick/lot must be > 0: %s", spec.Name)
	}
	if id, ok := r.symbolByName[spec.Name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", spec.Name)
	}
	spec.ID = SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, spec)
	r.symbolByName[spec.Name] = spec.ID
	return spec.ID, nil
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (SymbolSpec, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return SymbolSpec{}, false
	}
	return r.symbols[id-1], true
}

// SymbolIDByName returns the symbol ID for a name.
func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	id, ok := r.symbolByName[name]
	return id, ok
}

// SymbolCount returns the number of symbols in the registry.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// SymbolAt returns the symbol by zero-based index.
func (r *Registry) SymbolAt(index int) (SymbolSpec, bool) {
	if index < 0 || index >= len(r.symbols) {
		return SymbolSpec{}, false
	}
	return r.symbols[index], true
}
