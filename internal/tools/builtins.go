package tools

// RegisterBuiltins registers the always-available tools (current_time,
// read_file) plus the memory tools when a writer/searcher is supplied.
// Mirrors original_source/src/tools/builtins/__init__.py's
// register_builtins, minus the SOUL-evolution tools this core does not
// implement (spec §1 scopes SOUL-evolution governance out as an
// auxiliary store).
func RegisterBuiltins(r *Registry, workspaceDir string, searcher MemorySearcher, writer MemoryWriter) error {
	if err := r.Register(NewCurrentTimeTool()); err != nil {
		return err
	}
	if err := r.Register(NewReadFileTool(workspaceDir)); err != nil {
		return err
	}
	if searcher != nil {
		if err := r.Register(NewMemorySearchTool(searcher)); err != nil {
			return err
		}
	}
	if writer != nil {
		if err := r.Register(NewMemoryAppendTool(writer)); err != nil {
			return err
		}
	}
	return nil
}
