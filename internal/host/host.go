// Package host implements the Host API: the collaborator the VM
// delegates anything touching the outside world to — process I/O, the
// filesystem, HTTP/WebSocket clients, JSON, environment variables, hashing,
// randomness, and the math/string helper built-ins.
package host

import (
	"bufio"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/agimlang/agim/internal/bytecode"
	"github.com/agimlang/agim/internal/flushio"
	"github.com/agimlang/agim/internal/urlparse"
	"github.com/agimlang/agim/internal/value"
)

// Services is everything the VM's HOST_CALL dispatch needs from the outside
// world. internal/host.OS is the production implementation; tests substitute
// a fake through vm.WithHost.
type Services interface {
	Stdout(s string)
	Stderr(s string)
	ReadLine() (string, error)

	Call(op bytecode.HostOp, args []value.Value) (value.Value, error)
}

// OS is the production Services backed by the real operating system.
type OS struct {
	stdout flushio.WriteFlusher
	stderr flushio.WriteFlusher
	stdin  *bufio.Reader

	mu        sync.Mutex
	streams   map[int64]io.ReadWriteCloser
	nextSID   int64
	procs     map[int64]*runningProc
	nextPID   int64
	httpC     *http.Client
}

type runningProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewOS builds the default OS-backed Services, writing to the real
// process stdout/stderr/stdin.
func NewOS() *OS {
	return NewOSWithIO(os.Stdout, os.Stderr, os.Stdin)
}

// NewOSWithIO builds an OS-backed Services redirected to the given
// streams, for tests that want to capture output without touching the
// real process streams. out/errOut need not implement Flush themselves:
// flushio picks an appropriate wrapper (a no-op for in-memory buffers, a
// buffered flusher otherwise).
func NewOSWithIO(out, errOut io.Writer, in io.Reader) *OS {
	return &OS{
		stdout:  flushio.NewWriteFlusher(out),
		stderr:  flushio.NewWriteFlusher(errOut),
		stdin:   bufio.NewReader(in),
		streams: map[int64]io.ReadWriteCloser{},
		procs:   map[int64]*runningProc{},
		httpC:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OS) Stdout(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	io.WriteString(o.stdout, s)
	o.stdout.Flush()
}

func (o *OS) Stderr(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	io.WriteString(o.stderr, s)
	o.stderr.Flush()
}

func (o *OS) ReadLine() (string, error) {
	line, err := o.stdin.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// Call dispatches a single HOST_CALL by op code. Fallible operations
// (network, filesystem, process, parsing) return a Go error that the VM
// wraps as Result::err; pure helpers (math, string, time, random, hash,
// encoding) return their value directly.
func (o *OS) Call(op bytecode.HostOp, args []value.Value) (value.Value, error) {
	switch op {
	case bytecode.HostUUID:
		return value.String(uuid.NewString()), nil
	case bytecode.HostHashMD5:
		sum := md5.Sum([]byte(args[0].String()))
		return value.String(hex.EncodeToString(sum[:])), nil
	case bytecode.HostHashSHA256:
		sum := sha256.Sum256([]byte(args[0].String()))
		return value.String(hex.EncodeToString(sum[:])), nil
	case bytecode.HostBase64Encode:
		return value.String(base64.StdEncoding.EncodeToString([]byte(args[0].String()))), nil
	case bytecode.HostBase64Decode:
		b, err := base64.StdEncoding.DecodeString(args[0].String())
		if err != nil {
			return value.Nil, err
		}
		return value.String(string(b)), nil
	case bytecode.HostTime:
		return value.Float(float64(time.Now().UnixNano()) / 1e9), nil
	case bytecode.HostTimeFormat:
		sec := args[0].Float()
		layout := args[1].String()
		return value.String(time.Unix(int64(sec), 0).UTC().Format(goLayout(layout))), nil
	case bytecode.HostRandom:
		return value.Float(rand.Float64()), nil
	case bytecode.HostRandomInt:
		lo, hi := int(args[0].Int()), int(args[1].Int())
		if hi <= lo {
			return value.Int(int64(lo)), nil
		}
		return value.Int(int64(lo + rand.Intn(hi-lo))), nil

	case bytecode.HostFloor:
		return value.Float(math.Floor(args[0].Float())), nil
	case bytecode.HostCeil:
		return value.Float(math.Ceil(args[0].Float())), nil
	case bytecode.HostRound:
		return value.Float(math.Round(args[0].Float())), nil
	case bytecode.HostAbs:
		return value.Float(math.Abs(args[0].Float())), nil
	case bytecode.HostSqrt:
		return value.Float(math.Sqrt(args[0].Float())), nil
	case bytecode.HostPow:
		return value.Float(math.Pow(args[0].Float(), args[1].Float())), nil
	case bytecode.HostMin:
		if args[0].Float() < args[1].Float() {
			return args[0], nil
		}
		return args[1], nil
	case bytecode.HostMax:
		if args[0].Float() > args[1].Float() {
			return args[0], nil
		}
		return args[1], nil

	case bytecode.HostSplit:
		parts := strings.Split(args[0].String(), args[1].String())
		elems := make([]value.Value, len(parts))
		for i, p := range parts {
			elems[i] = value.String(p)
		}
		return value.Array(elems), nil
	case bytecode.HostJoin:
		n := int(args[0].Len())
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			v, _ := args[0].ArrayGet(i)
			parts[i] = v.String()
		}
		return value.String(strings.Join(parts, args[1].String())), nil
	case bytecode.HostTrim:
		return value.String(strings.TrimSpace(args[0].String())), nil
	case bytecode.HostReplace:
		return value.String(strings.ReplaceAll(args[0].String(), args[1].String(), args[2].String())), nil
	case bytecode.HostContains:
		return value.Bool(strings.Contains(args[0].String(), args[1].String())), nil
	case bytecode.HostStartsWith:
		return value.Bool(strings.HasPrefix(args[0].String(), args[1].String())), nil
	case bytecode.HostEndsWith:
		return value.Bool(strings.HasSuffix(args[0].String(), args[1].String())), nil
	case bytecode.HostUpper:
		return value.String(strings.ToUpper(args[0].String())), nil
	case bytecode.HostLower:
		return value.String(strings.ToLower(args[0].String())), nil
	case bytecode.HostCharAt:
		s := args[0].String()
		i := int(args[1].Int())
		if i < 0 || i >= len(s) {
			return value.Nil, fmt.Errorf("char_at: index %d out of range", i)
		}
		return value.String(string(s[i])), nil
	case bytecode.HostIndexOf:
		return value.Int(int64(strings.Index(args[0].String(), args[1].String()))), nil

	case bytecode.HostHTTPGet, bytecode.HostHTTPPost, bytecode.HostHTTPPut, bytecode.HostHTTPDelete,
		bytecode.HostHTTPPatch, bytecode.HostHTTPRequest:
		return o.httpCall(op, args)
	case bytecode.HostHTTPStream:
		return o.httpStream(args)

	case bytecode.HostWSConnect:
		return o.wsConnect(args)
	case bytecode.HostWSSend:
		return o.wsSend(args)
	case bytecode.HostWSRecv:
		return o.wsRecv(args)
	case bytecode.HostWSClose:
		return o.streamClose(args)

	case bytecode.HostFSRead:
		b, err := os.ReadFile(args[0].String())
		if err != nil {
			return value.Nil, err
		}
		return value.String(string(b)), nil
	case bytecode.HostFSWrite:
		err := os.WriteFile(args[0].String(), []byte(args[1].String()), 0o644)
		return value.Nil, err
	case bytecode.HostFSWriteBytes:
		err := os.WriteFile(args[0].String(), args[1].BytesValue(), 0o644)
		return value.Nil, err
	case bytecode.HostFSExists:
		_, err := os.Stat(args[0].String())
		return value.Bool(err == nil), nil
	case bytecode.HostFSLines:
		b, err := os.ReadFile(args[0].String())
		if err != nil {
			return value.Nil, err
		}
		lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
		elems := make([]value.Value, len(lines))
		for i, l := range lines {
			elems[i] = value.String(l)
		}
		return value.Array(elems), nil

	case bytecode.HostJSONParse:
		var v interface{}
		if err := json.Unmarshal([]byte(args[0].String()), &v); err != nil {
			return value.Nil, err
		}
		return fromJSON(v), nil
	case bytecode.HostJSONEncode:
		b, err := json.Marshal(toJSON(args[0]))
		if err != nil {
			return value.Nil, err
		}
		return value.String(string(b)), nil

	case bytecode.HostEnvGet:
		v, ok := os.LookupEnv(args[0].String())
		if !ok {
			return value.Nil, nil
		}
		return value.String(v), nil
	case bytecode.HostEnvSet:
		return value.Nil, os.Setenv(args[0].String(), args[1].String())

	case bytecode.HostShell:
		return o.shell(args[0].String())
	case bytecode.HostExec:
		return o.execCmd(args)
	case bytecode.HostExecAsync:
		return o.execAsync(args)
	case bytecode.HostProcWrite:
		return o.procWrite(args)
	case bytecode.HostProcRead:
		return o.procRead(args)
	case bytecode.HostProcClose:
		return o.procClose(args)

	case bytecode.HostStreamRead:
		return o.streamRead(args)
	case bytecode.HostStreamClose:
		return o.streamClose(args)

	case bytecode.HostListTools, bytecode.HostToolSchema:
		// populated by the agim package wrapper, which knows the Program's
		// tool table; the VM layer has no visibility into it.
		return value.Nil, fmt.Errorf("tool introspection must be served by the embedding program, not the host layer")
	}
	return value.Nil, fmt.Errorf("unimplemented host operation %d", op)
}

func goLayout(spec string) string {
	switch spec {
	case "iso8601", "":
		return time.RFC3339
	default:
		return spec
	}
}

func (o *OS) shell(cmd string) (value.Value, error) {
	out, err := exec.Command("sh", "-c", cmd).CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return value.Nil, err
		}
	}
	return value.String(string(out)), nil
}

func (o *OS) execCmd(args []value.Value) (value.Value, error) {
	name := args[0].String()
	var argv []string
	if len(args) > 1 {
		n := int(args[1].Len())
		for i := 0; i < n; i++ {
			v, _ := args[1].ArrayGet(i)
			argv = append(argv, v.String())
		}
	}
	out, err := exec.Command(name, argv...).CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return value.Nil, err
		}
	}
	return value.String(string(out)), nil
}

func (o *OS) execAsync(args []value.Value) (value.Value, error) {
	name := args[0].String()
	var argv []string
	if len(args) > 1 {
		n := int(args[1].Len())
		for i := 0; i < n; i++ {
			v, _ := args[1].ArrayGet(i)
			argv = append(argv, v.String())
		}
	}
	cmd := exec.Command(name, argv...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return value.Nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return value.Nil, err
	}
	if err := cmd.Start(); err != nil {
		return value.Nil, err
	}
	o.mu.Lock()
	o.nextPID++
	id := o.nextPID
	o.procs[id] = &runningProc{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	o.mu.Unlock()
	return value.Int(id), nil
}

func (o *OS) procWrite(args []value.Value) (value.Value, error) {
	o.mu.Lock()
	p, ok := o.procs[args[0].Int()]
	o.mu.Unlock()
	if !ok {
		return value.Nil, fmt.Errorf("unknown process handle")
	}
	_, err := io.WriteString(p.stdin, args[1].String())
	return value.Nil, err
}

func (o *OS) procRead(args []value.Value) (value.Value, error) {
	o.mu.Lock()
	p, ok := o.procs[args[0].Int()]
	o.mu.Unlock()
	if !ok {
		return value.Nil, fmt.Errorf("unknown process handle")
	}
	line, err := p.stdout.ReadString('\n')
	if err != nil && line == "" {
		return value.Nil, err
	}
	return value.String(strings.TrimRight(line, "\r\n")), nil
}

func (o *OS) procClose(args []value.Value) (value.Value, error) {
	o.mu.Lock()
	p, ok := o.procs[args[0].Int()]
	delete(o.procs, args[0].Int())
	o.mu.Unlock()
	if !ok {
		return value.Nil, nil
	}
	p.stdin.Close()
	return value.Nil, p.cmd.Wait()
}

func (o *OS) httpCall(op bytecode.HostOp, args []value.Value) (value.Value, error) {
	method := "GET"
	switch op {
	case bytecode.HostHTTPPost:
		method = "POST"
	case bytecode.HostHTTPPut:
		method = "PUT"
	case bytecode.HostHTTPDelete:
		method = "DELETE"
	case bytecode.HostHTTPPatch:
		method = "PATCH"
	case bytecode.HostHTTPRequest:
		method = strings.ToUpper(args[1].String())
	}
	urlArg := args[0].String()
	target, err := urlparse.Parse(urlArg)
	if err != nil {
		return value.Nil, err
	}
	hostHeader, err := target.HostHeader()
	if err != nil {
		return value.Nil, err
	}
	var body io.Reader
	bodyIdx := 1
	if op == bytecode.HostHTTPRequest {
		bodyIdx = 2
	}
	if len(args) > bodyIdx && args[bodyIdx].Kind() != value.KindNil {
		body = strings.NewReader(args[bodyIdx].String())
	}
	req, err := http.NewRequest(method, urlArg, body)
	if err != nil {
		return value.Nil, err
	}
	req.Host = hostHeader
	resp, err := o.httpC.Do(req)
	if err != nil {
		return value.Nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Nil, err
	}
	fields := map[string]value.Value{
		"status": value.Int(int64(resp.StatusCode)),
		"body":   value.String(string(b)),
	}
	return value.Struct("HttpResponse", []string{"status", "body"}, fields), nil
}

func (o *OS) httpStream(args []value.Value) (value.Value, error) {
	resp, err := o.httpC.Get(args[0].String())
	if err != nil {
		return value.Nil, err
	}
	o.mu.Lock()
	o.nextSID++
	id := o.nextSID
	o.streams[id] = rwcWrap{resp.Body}
	o.mu.Unlock()
	return value.Int(id), nil
}

type rwcWrap struct{ io.ReadCloser }

func (r rwcWrap) Write(p []byte) (int, error) { return 0, fmt.Errorf("stream is read-only") }

func (o *OS) streamRead(args []value.Value) (value.Value, error) {
	o.mu.Lock()
	s, ok := o.streams[args[0].Int()]
	o.mu.Unlock()
	if !ok {
		return value.Nil, fmt.Errorf("unknown stream handle")
	}
	buf := make([]byte, 4096)
	n, err := s.Read(buf)
	if n == 0 && err != nil {
		if err == io.EOF {
			return value.Nil, nil
		}
		return value.Nil, err
	}
	return value.String(string(buf[:n])), nil
}

func (o *OS) streamClose(args []value.Value) (value.Value, error) {
	o.mu.Lock()
	s, ok := o.streams[args[0].Int()]
	delete(o.streams, args[0].Int())
	o.mu.Unlock()
	if !ok {
		return value.Nil, nil
	}
	return value.Nil, s.Close()
}

func (o *OS) wsConnect(args []value.Value) (value.Value, error) {
	origin := "http://localhost"
	conn, err := websocket.Dial(args[0].String(), "", origin)
	if err != nil {
		return value.Nil, err
	}
	o.mu.Lock()
	o.nextSID++
	id := o.nextSID
	o.streams[id] = conn
	o.mu.Unlock()
	return value.Int(id), nil
}

func (o *OS) wsSend(args []value.Value) (value.Value, error) {
	o.mu.Lock()
	s, ok := o.streams[args[0].Int()]
	o.mu.Unlock()
	if !ok {
		return value.Nil, fmt.Errorf("unknown stream handle")
	}
	_, err := s.Write([]byte(args[1].String()))
	return value.Nil, err
}

func (o *OS) wsRecv(args []value.Value) (value.Value, error) {
	o.mu.Lock()
	s, ok := o.streams[args[0].Int()]
	o.mu.Unlock()
	if !ok {
		return value.Nil, fmt.Errorf("unknown stream handle")
	}
	buf := make([]byte, 4096)
	n, err := s.Read(buf)
	if err != nil {
		return value.Nil, err
	}
	return value.String(string(buf[:n])), nil
}

func fromJSON(v interface{}) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Nil
	case bool:
		return value.Bool(t)
	case float64:
		if t == math.Trunc(t) {
			return value.Int(int64(t))
		}
		return value.Float(t)
	case string:
		return value.String(t)
	case []interface{}:
		elems := make([]value.Value, len(t))
		for i, e := range t {
			elems[i] = fromJSON(e)
		}
		return value.Array(elems)
	case map[string]interface{}:
		m := value.Map()
		for k, e := range t {
			m = m.MapSet(k, fromJSON(e))
		}
		return m
	default:
		return value.Nil
	}
}

func toJSON(v value.Value) interface{} {
	switch v.Kind() {
	case value.KindNil:
		return nil
	case value.KindBool:
		return v.Truthy()
	case value.KindInt:
		return v.Int()
	case value.KindFloat:
		return v.Float()
	case value.KindString:
		return v.String()
	case value.KindArray:
		n := int(v.Len())
		out := make([]interface{}, n)
		for i := 0; i < n; i++ {
			e, _ := v.ArrayGet(i)
			out[i] = toJSON(e)
		}
		return out
	case value.KindMap:
		out := map[string]interface{}{}
		for _, k := range v.MapKeys() {
			e, _ := v.MapGet(k)
			out[k] = toJSON(e)
		}
		return out
	case value.KindStruct:
		out := map[string]interface{}{}
		for _, k := range v.StructFields() {
			e, _ := v.StructGet(k)
			out[k] = toJSON(e)
		}
		return out
	default:
		return v.String()
	}
}
