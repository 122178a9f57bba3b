package vm

import (
	"fmt"

	"github.com/agimlang/agim/internal/bytecode"
	"github.com/agimlang/agim/internal/value"
)

// resultWrapped lists the host operations whose failures are surfaced to
// Agim code as Result::err rather than crashing the process outright: I/O,
// parsing, and subprocess operations, where failure is routine. Pure
// math/string/time/random/hash/encoding helpers return their value straight
// through and treat a Go error as a genuine bug (fails the process).
var resultWrapped = map[bytecode.HostOp]bool{
	bytecode.HostShell: true, bytecode.HostExec: true, bytecode.HostExecAsync: true,
	bytecode.HostProcWrite: true, bytecode.HostProcRead: true, bytecode.HostProcClose: true,
	bytecode.HostHTTPGet: true, bytecode.HostHTTPPost: true, bytecode.HostHTTPPut: true,
	bytecode.HostHTTPDelete: true, bytecode.HostHTTPPatch: true, bytecode.HostHTTPRequest: true,
	bytecode.HostHTTPStream: true,
	bytecode.HostWSConnect: true, bytecode.HostWSSend: true, bytecode.HostWSRecv: true, bytecode.HostWSClose: true,
	bytecode.HostFSRead: true, bytecode.HostFSWrite: true, bytecode.HostFSWriteBytes: true, bytecode.HostFSLines: true,
	bytecode.HostJSONParse: true,
	bytecode.HostEnvSet:    true,
	bytecode.HostBase64Decode: true,
	bytecode.HostStreamRead:   true, bytecode.HostStreamClose: true,
}

// dispatchHost runs one HOST_CALL, deciding whether its failure mode is a
// Result the script can match on or a hard process crash.
func (vm *VM) dispatchHost(op bytecode.HostOp, args []value.Value) (value.Value, error) {
	switch op {
	case bytecode.HostListTools:
		return vm.listTools(), nil
	case bytecode.HostToolSchema:
		return vm.toolSchema(args[0].String())
	}
	v, err := vm.host.Call(op, args)
	if !resultWrapped[op] {
		if err != nil {
			return value.Nil, err
		}
		return v, nil
	}
	if err != nil {
		return value.Err(value.String(err.Error())), nil
	}
	return value.Ok(v), nil
}

// listTools renders the compiled program's @tool metadata table
// as an array of structs, for scripts that introspect their own tool
// surface (e.g. to hand it to an LLM function-calling API).
func (vm *VM) listTools() value.Value {
	elems := make([]value.Value, len(vm.prog.Tools))
	for i, t := range vm.prog.Tools {
		elems[i] = toolStruct(t)
	}
	return value.Array(elems)
}

func (vm *VM) toolSchema(name string) (value.Value, error) {
	for _, t := range vm.prog.Tools {
		if t.Name == name {
			return toolStruct(t), nil
		}
	}
	return value.Nil, fmt.Errorf("no such tool %q", name)
}

func toolStruct(t *bytecode.ToolInfo) value.Value {
	params := make([]value.Value, len(t.Params))
	for i, p := range t.Params {
		params[i] = value.Struct("ToolParam", []string{"name", "type", "description"}, map[string]value.Value{
			"name":        value.String(p.Name),
			"type":        value.String(p.Type),
			"description": value.String(p.Description),
		})
	}
	return value.Struct("ToolInfo", []string{"name", "description", "params", "return_type"}, map[string]value.Value{
		"name":        value.String(t.Name),
		"description": value.String(t.Description),
		"params":      value.Array(params),
		"return_type": value.String(t.ReturnType),
	})
}
