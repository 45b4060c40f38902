package redisserver

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/shardis/shardis/internal/storage"
	"github.com/shardis/shardis/internal/telemetry/logger"
	"github.com/shardis/shardis/internal/telemetry/metric"
)

// cmdKind enumerates the supported commands as a closed set, so adding
// a command means extending the table and the dispatch switch together.
type cmdKind int

const (
	cmdPing cmdKind = iota
	cmdEcho
	cmdSet
	cmdGet
	cmdDel
	cmdExists
	cmdLPush
	cmdRPush
	cmdLPop
	cmdLLen
	cmdLRange
	cmdBLPop
	cmdCommand
	cmdQuit
)

// cmdSpec carries the arity bounds for one command. Counts include the
// command name itself; maxArgs of 0 means unbounded.
type cmdSpec struct {
	kind    cmdKind
	minArgs int
	maxArgs int
}

var commandTable = map[string]cmdSpec{
	"PING":    {cmdPing, 1, 2},
	"ECHO":    {cmdEcho, 2, 2},
	"SET":     {cmdSet, 3, 3},
	"GET":     {cmdGet, 2, 2},
	"DEL":     {cmdDel, 2, 0},
	"EXISTS":  {cmdExists, 2, 0},
	"LPUSH":   {cmdLPush, 3, 0},
	"RPUSH":   {cmdRPush, 3, 0},
	"LPOP":    {cmdLPop, 2, 3},
	"LLEN":    {cmdLLen, 2, 2},
	"LRANGE":  {cmdLRange, 4, 4},
	"BLPOP":   {cmdBLPop, 3, 0},
	"COMMAND": {cmdCommand, 1, 0},
	"QUIT":    {cmdQuit, 1, 1},
}

// CommandHandler interprets decoded requests and executes them against
// the storage engine, writing RESP replies to the connection.
type CommandHandler struct {
	engine  *storage.Engine
	logger  logger.Logger
	metrics *metric.Registry
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(engine *storage.Engine, log logger.Logger, metrics *metric.Registry) *CommandHandler {
	if log == nil {
		log = logger.Default()
	}
	if metrics == nil {
		metrics = metric.NewRegistry()
	}
	return &CommandHandler{
		engine:  engine,
		logger:  log,
		metrics: metrics,
	}
}

// Handle executes one decoded request. Replies, including per-request
// error replies, go to the connection's buffered writer; only framing
// and I/O failures terminate the connection, and those are the caller's
// concern.
func (h *CommandHandler) Handle(ctx context.Context, conn *Conn, args [][]byte) {
	name := normalizeCommandName(args[0])

	spec, ok := commandTable[name]
	if !ok {
		h.logger.Debug("unknown command", "command", name, "conn_id", conn.id)
		_ = WriteError(conn.bw, "ERR unknown command '"+name+"'")
		return
	}
	if len(args) < spec.minArgs || (spec.maxArgs > 0 && len(args) > spec.maxArgs) {
		_ = WriteError(conn.bw, "ERR wrong number of arguments for '"+name+"' command")
		return
	}

	start := time.Now()
	defer func() {
		h.metrics.ObserveCommand(name, time.Since(start))
	}()

	switch spec.kind {
	case cmdPing:
		h.handlePing(conn, args)
	case cmdEcho:
		_ = WriteBulk(conn.bw, args[1])
	case cmdSet:
		h.engine.Set(string(args[1]), args[2])
		_ = WriteSimpleString(conn.bw, "OK")
	case cmdGet:
		h.handleGet(conn, args)
	case cmdDel:
		h.handleDel(conn, args)
	case cmdExists:
		h.handleExists(conn, args)
	case cmdLPush:
		h.handlePush(conn, args, h.engine.LPush)
	case cmdRPush:
		h.handlePush(conn, args, h.engine.RPush)
	case cmdLPop:
		h.handleLPop(conn, args)
	case cmdLLen:
		h.handleLLen(conn, args)
	case cmdLRange:
		h.handleLRange(conn, args)
	case cmdBLPop:
		h.handleBLPop(ctx, conn, args)
	case cmdCommand:
		// Static compatibility placeholder; clients issue COMMAND on
		// connect and ignore an empty array.
		_ = WriteArrayHeader(conn.bw, 0)
	case cmdQuit:
		_ = WriteSimpleString(conn.bw, "OK")
		_ = conn.bw.Flush()
		_ = conn.Close()
	}
}

// writeEngineError translates a storage error into a RESP error reply.
func writeEngineError(conn *Conn, key string, err error) {
	switch {
	case errors.Is(err, storage.ErrWrongType):
		_ = WriteError(conn.bw, "WRONGTYPE operation against a key holding the wrong kind of value")
	case errors.Is(err, storage.ErrNoSuchList):
		_ = WriteError(conn.bw, "ERR no list found with name '"+key+"'")
	default:
		_ = WriteError(conn.bw, "ERR "+err.Error())
	}
}

// PING [message]
func (h *CommandHandler) handlePing(conn *Conn, args [][]byte) {
	if len(args) > 1 {
		_ = WriteBulk(conn.bw, args[1])
		return
	}
	_ = WriteSimpleString(conn.bw, "PONG")
}

// GET <key>
func (h *CommandHandler) handleGet(conn *Conn, args [][]byte) {
	key := string(args[1])
	val, ok, err := h.engine.Get(key)
	if err != nil {
		writeEngineError(conn, key, err)
		return
	}
	if !ok {
		_ = WriteNullBulk(conn.bw)
		return
	}
	_ = WriteBulk(conn.bw, val)
}

// DEL <key> [key ...]
func (h *CommandHandler) handleDel(conn *Conn, args [][]byte) {
	deleted := 0
	for _, key := range args[1:] {
		if h.engine.Delete(string(key)) {
			deleted++
		}
	}
	_ = WriteInteger(conn.bw, int64(deleted))
}

// EXISTS <key> [key ...]
func (h *CommandHandler) handleExists(conn *Conn, args [][]byte) {
	count := 0
	for _, key := range args[1:] {
		if h.engine.Exists(string(key)) {
			count++
		}
	}
	_ = WriteInteger(conn.bw, int64(count))
}

// LPUSH/RPUSH <key> <value> [value ...]
func (h *CommandHandler) handlePush(conn *Conn, args [][]byte, push func(string, ...[]byte) (int, error)) {
	key := string(args[1])
	n, err := push(key, args[2:]...)
	if err != nil {
		writeEngineError(conn, key, err)
		return
	}
	_ = WriteInteger(conn.bw, int64(n))
}

// LPOP <key> [count]
//
// Without count the reply is a bulk string, or a null bulk string when
// the list is absent or empty. With count the reply is an array of up
// to count elements, or a null array when the key is absent.
func (h *CommandHandler) handleLPop(conn *Conn, args [][]byte) {
	key := string(args[1])

	if len(args) == 2 {
		val, ok, err := h.engine.LPop(key)
		if err != nil {
			writeEngineError(conn, key, err)
			return
		}
		if !ok {
			_ = WriteNullBulk(conn.bw)
			return
		}
		_ = WriteBulk(conn.bw, val)
		return
	}

	count, err := strconv.Atoi(string(args[2]))
	if err != nil || count < 0 {
		_ = WriteError(conn.bw, "ERR value is out of range, must be positive")
		return
	}

	vals, ok, err := h.engine.LPopN(key, count)
	if err != nil {
		writeEngineError(conn, key, err)
		return
	}
	if !ok {
		_ = WriteNullArray(conn.bw)
		return
	}
	_ = WriteArrayHeader(conn.bw, len(vals))
	for _, v := range vals {
		_ = WriteBulk(conn.bw, v)
	}
}

// LLEN <key>
func (h *CommandHandler) handleLLen(conn *Conn, args [][]byte) {
	key := string(args[1])
	n, err := h.engine.LLen(key)
	if err != nil {
		writeEngineError(conn, key, err)
		return
	}
	_ = WriteInteger(conn.bw, int64(n))
}

// LRANGE <key> <start> <stop>
func (h *CommandHandler) handleLRange(conn *Conn, args [][]byte) {
	key := string(args[1])

	start, err := strconv.Atoi(string(args[2]))
	if err != nil {
		_ = WriteError(conn.bw, "ERR value is not an integer or out of range")
		return
	}
	stop, err := strconv.Atoi(string(args[3]))
	if err != nil {
		_ = WriteError(conn.bw, "ERR value is not an integer or out of range")
		return
	}

	vals, err := h.engine.LRange(key, start, stop)
	if err != nil {
		writeEngineError(conn, key, err)
		return
	}
	_ = WriteArrayHeader(conn.bw, len(vals))
	for _, v := range vals {
		_ = WriteBulk(conn.bw, v)
	}
}

// BLPOP <key> [key ...] <timeout>
//
// Timeout is in seconds, fractional values accepted; zero blocks until
// a push arrives or the connection goes away. The timeout outcome is a
// null array, never an error.
func (h *CommandHandler) handleBLPop(ctx context.Context, conn *Conn, args [][]byte) {
	timeoutSec, err := strconv.ParseFloat(string(args[len(args)-1]), 64)
	if err != nil {
		_ = WriteError(conn.bw, "ERR timeout is not a float or out of range")
		return
	}
	if timeoutSec < 0 {
		_ = WriteError(conn.bw, "ERR timeout is negative")
		return
	}

	keys := make([]string, 0, len(args)-2)
	for _, k := range args[1 : len(args)-1] {
		keys = append(keys, string(k))
	}

	timeout := time.Duration(timeoutSec * float64(time.Second))

	key, val, ok, err := h.engine.BLPop(ctx, keys, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Connection is going away; nothing sensible to reply.
			return
		}
		writeEngineError(conn, key, err)
		return
	}
	if !ok {
		_ = WriteNullArray(conn.bw)
		return
	}
	_ = WriteArrayHeader(conn.bw, 2)
	_ = WriteBulkString(conn.bw, key)
	_ = WriteBulk(conn.bw, val)
}
