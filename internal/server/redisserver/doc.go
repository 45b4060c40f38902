// Package redisserver provides the Redis protocol server for shardis.
//
// It implements a RESP2 subset: a streaming, binary-safe decoder over
// an accumulating per-connection buffer, a closed-set command
// dispatcher, and a TCP accept loop serving connections over a bounded
// handler pool.
//
// Supported commands:
//   - PING, ECHO, QUIT, COMMAND
//   - GET, SET, DEL, EXISTS
//   - LPUSH, RPUSH, LPOP, LLEN, LRANGE, BLPOP
package redisserver
