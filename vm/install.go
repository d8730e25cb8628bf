package vm

// NewDefaultRegistry builds a registry with the plain opcodes and the
// built-in adaptive families installed. The caller may tune families
// before finalizing; execution requires a finalized registry.
func NewDefaultRegistry() (*Registry, error) {
	reg := NewRegistry()
	if err := installPlainOps(reg); err != nil {
		return nil, err
	}
	for _, cfg := range []FamilyConfig{
		loadGlobalFamily(),
		loadAttrFamily(),
		binaryOpFamily(),
	} {
		if err := reg.InstallFamily(cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
