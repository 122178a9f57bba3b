package compiler

import "github.com/agimlang/agim/internal/bytecode"

// builtin describes a closed-table built-in call rewrite: a bare identifier
// call `name(...)` that lowers directly to an opcode instead of a CALL.
// arity of -1 means variadic; the compiler passes the actual argument count
// through operand B in that case.
type builtin struct {
	op     bytecode.Op
	hostOp bytecode.HostOp
	arity  int
}

// builtins is the closed table of free-function built-ins. Anything not in
// this table and not a user function/local is an unresolved-identifier
// compile error.
var builtins = map[string]builtin{
	"len":  {op: bytecode.OpLen, arity: 1},
	"keys": {op: bytecode.OpKeys, arity: 1},
	"str":  {op: bytecode.OpToString, arity: 1},
	"int":  {op: bytecode.OpToInt, arity: 1},
	"float": {op: bytecode.OpToFloat, arity: 1},
	"type": {op: bytecode.OpType, arity: 1},

	"is_ok":              {op: bytecode.OpResultIsOk, arity: 1},
	"is_err":             {op: bytecode.OpResultIsErr, arity: 1},
	"unwrap":             {op: bytecode.OpResultUnwrap, arity: 1},
	"unwrap_or":          {op: bytecode.OpResultUnwrapOr, arity: 2},
	"is_some":            {op: bytecode.OpIsSome, arity: 1},
	"is_none":            {op: bytecode.OpIsNone, arity: 1},
	"unwrap_option":      {op: bytecode.OpUnwrapOption, arity: 1},
	"unwrap_option_or":   {op: bytecode.OpUnwrapOptionOr, arity: 2},

	"push": {op: bytecode.OpArrayPush, arity: 2},
	"pop":  {op: bytecode.OpPopArray, arity: 1},
	"slice": {op: bytecode.OpSlice, arity: 3},

	"spawn":         {op: bytecode.OpSpawn, arity: -1},
	"send":          {op: bytecode.OpSend, arity: 2},
	"receive":       {op: bytecode.OpReceive, arity: 0},
	"receive_match": {op: bytecode.OpReceiveMatch, arity: 1},
	"self":       {op: bytecode.OpSelf, arity: 0},
	"yield":      {op: bytecode.OpYield, arity: 0},
	"link":       {op: bytecode.OpLink, arity: 1},
	"unlink":     {op: bytecode.OpUnlink, arity: 1},
	"monitor":    {op: bytecode.OpMonitor, arity: 1},
	"demonitor":  {op: bytecode.OpDemonitor, arity: 1},
	"sleep":      {op: bytecode.OpSleep, arity: 1},
	"get_stats":  {op: bytecode.OpGetStats, arity: 0},
	"trace":      {op: bytecode.OpTrace, arity: 1},
	"trace_off":  {op: bytecode.OpTraceOff, arity: 0},

	"group_join":        {op: bytecode.OpGroupJoin, arity: 1},
	"group_leave":       {op: bytecode.OpGroupLeave, arity: 1},
	"group_send":        {op: bytecode.OpGroupSend, arity: 2},
	"group_send_others": {op: bytecode.OpGroupSendOthers, arity: 2},
	"group_members":     {op: bytecode.OpGroupMembers, arity: 1},
	"group_list":        {op: bytecode.OpGroupList, arity: 0},

	"supervisor_start":          {op: bytecode.OpSupStart, arity: -1},
	"supervisor_add_child":      {op: bytecode.OpSupAddChild, arity: 4},
	"supervisor_remove_child":   {op: bytecode.OpSupRemoveChild, arity: 2},
	"supervisor_which_children": {op: bytecode.OpSupWhichChildren, arity: 1},
	"supervisor_shutdown":       {op: bytecode.OpSupShutdown, arity: 1},

	"print":      {op: bytecode.OpPrint, arity: 1},
	"print_err":  {op: bytecode.OpPrintErr, arity: 1},
	"read_stdin": {op: bytecode.OpReadStdin, arity: 0},

	"uuid":        {op: bytecode.OpHostCall, hostOp: bytecode.HostUUID, arity: 0},
	"hash_md5":    {op: bytecode.OpHostCall, hostOp: bytecode.HostHashMD5, arity: 1},
	"hash_sha256": {op: bytecode.OpHostCall, hostOp: bytecode.HostHashSHA256, arity: 1},
	"base64_encode": {op: bytecode.OpHostCall, hostOp: bytecode.HostBase64Encode, arity: 1},
	"base64_decode": {op: bytecode.OpHostCall, hostOp: bytecode.HostBase64Decode, arity: 1},
	"time":        {op: bytecode.OpHostCall, hostOp: bytecode.HostTime, arity: 0},
	"time_format": {op: bytecode.OpHostCall, hostOp: bytecode.HostTimeFormat, arity: 2},
	"random":      {op: bytecode.OpHostCall, hostOp: bytecode.HostRandom, arity: 0},
	"random_int":  {op: bytecode.OpHostCall, hostOp: bytecode.HostRandomInt, arity: 2},

	"floor": {op: bytecode.OpHostCall, hostOp: bytecode.HostFloor, arity: 1},
	"ceil":  {op: bytecode.OpHostCall, hostOp: bytecode.HostCeil, arity: 1},
	"round": {op: bytecode.OpHostCall, hostOp: bytecode.HostRound, arity: 1},
	"abs":   {op: bytecode.OpHostCall, hostOp: bytecode.HostAbs, arity: 1},
	"sqrt":  {op: bytecode.OpHostCall, hostOp: bytecode.HostSqrt, arity: 1},
	"pow":   {op: bytecode.OpHostCall, hostOp: bytecode.HostPow, arity: 2},
	"min":   {op: bytecode.OpHostCall, hostOp: bytecode.HostMin, arity: 2},
	"max":   {op: bytecode.OpHostCall, hostOp: bytecode.HostMax, arity: 2},

	"split":        {op: bytecode.OpHostCall, hostOp: bytecode.HostSplit, arity: 2},
	"join":         {op: bytecode.OpHostCall, hostOp: bytecode.HostJoin, arity: 2},
	"trim":         {op: bytecode.OpHostCall, hostOp: bytecode.HostTrim, arity: 1},
	"replace":      {op: bytecode.OpHostCall, hostOp: bytecode.HostReplace, arity: 3},
	"contains":     {op: bytecode.OpHostCall, hostOp: bytecode.HostContains, arity: 2},
	"starts_with":  {op: bytecode.OpHostCall, hostOp: bytecode.HostStartsWith, arity: 2},
	"ends_with":    {op: bytecode.OpHostCall, hostOp: bytecode.HostEndsWith, arity: 2},
	"upper":        {op: bytecode.OpHostCall, hostOp: bytecode.HostUpper, arity: 1},
	"lower":        {op: bytecode.OpHostCall, hostOp: bytecode.HostLower, arity: 1},
	"char_at":      {op: bytecode.OpHostCall, hostOp: bytecode.HostCharAt, arity: 2},
	"index_of":     {op: bytecode.OpHostCall, hostOp: bytecode.HostIndexOf, arity: 2},

	"shell":      {op: bytecode.OpHostCall, hostOp: bytecode.HostShell, arity: 1},
	"exec":       {op: bytecode.OpHostCall, hostOp: bytecode.HostExec, arity: -1},
	"exec_async": {op: bytecode.OpHostCall, hostOp: bytecode.HostExecAsync, arity: -1},
	"proc_write": {op: bytecode.OpHostCall, hostOp: bytecode.HostProcWrite, arity: 2},
	"proc_read":  {op: bytecode.OpHostCall, hostOp: bytecode.HostProcRead, arity: 1},
	"proc_close": {op: bytecode.OpHostCall, hostOp: bytecode.HostProcClose, arity: 1},

	"list_tools":  {op: bytecode.OpHostCall, hostOp: bytecode.HostListTools, arity: 0},
	"tool_schema": {op: bytecode.OpHostCall, hostOp: bytecode.HostToolSchema, arity: 1},
}

// hostModules maps a module-object identifier used in `module.method(...)`
// call syntax to the HostOp each of its methods rewrites to. Unknown
// methods on a recognized module object are a compile error.
var hostModules = map[string]map[string]bytecode.HostOp{
	"http": {
		"get": bytecode.HostHTTPGet, "post": bytecode.HostHTTPPost,
		"put": bytecode.HostHTTPPut, "delete": bytecode.HostHTTPDelete,
		"patch": bytecode.HostHTTPPatch, "request": bytecode.HostHTTPRequest,
		"stream": bytecode.HostHTTPStream,
	},
	"ws": {
		"connect": bytecode.HostWSConnect, "send": bytecode.HostWSSend,
		"recv": bytecode.HostWSRecv, "close": bytecode.HostWSClose,
	},
	"fs": {
		"read": bytecode.HostFSRead, "write": bytecode.HostFSWrite,
		"exists": bytecode.HostFSExists, "lines": bytecode.HostFSLines,
		"write_bytes": bytecode.HostFSWriteBytes,
	},
	"json": {
		"parse": bytecode.HostJSONParse, "encode": bytecode.HostJSONEncode,
	},
	"env": {
		"get": bytecode.HostEnvGet, "set": bytecode.HostEnvSet,
	},
	"stream": {
		"read": bytecode.HostStreamRead, "close": bytecode.HostStreamClose,
	},
	"proc": {
		"write": bytecode.HostProcWrite, "read": bytecode.HostProcRead,
		"close": bytecode.HostProcClose,
	},
}
