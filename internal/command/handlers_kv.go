package command

import (
	"strconv"
	"strings"
	"time"

	"dredigo/internal/conn"
	"dredigo/internal/globmatch"
	"dredigo/internal/resp"
	"dredigo/internal/store"
)

func currentDB(storage *store.Storage, c *conn.Connection) *store.DB {
	return storage.DB(c.DBIndex)
}

func cmdPing(_ *store.Storage, _ *conn.Connection, args [][]byte, _ time.Time) (resp.Value, *ProtoError) {
	switch len(args) {
	case 0:
		return resp.SimpleString("PONG"), nil
	case 1:
		return resp.SimpleString(string(args[0])), nil
	default:
		return resp.Value{}, wrongNumberOfArgs("ping")
	}
}

func cmdSelect(storage *store.Storage, c *conn.Connection, args [][]byte, _ time.Time) (resp.Value, *ProtoError) {
	if len(args) != 1 {
		return resp.Value{}, wrongNumberOfArgs("select")
	}

	n, err := strconv.ParseInt(string(args[0]), 10, 64)
	if err != nil {
		return resp.Value{}, errf("ERR", "value is not an integer or out of range")
	}
	if n < 0 || n >= int64(storage.Count()) {
		return resp.Value{}, errf("ERR", "invalid DB index")
	}

	c.DBIndex = int(n)
	return resp.SimpleString("OK"), nil
}

func cmdInfo(storage *store.Storage, _ *conn.Connection, args [][]byte, now time.Time) (resp.Value, *ProtoError) {
	if len(args) != 0 {
		return resp.Value{}, wrongNumberOfArgs("info")
	}

	var lines []string
	for i := 0; i < storage.Count(); i++ {
		active, expires := storage.DB(i).Info(now)
		if active == 0 && i != 0 {
			continue
		}
		lines = append(lines, "db"+strconv.Itoa(i)+":keys="+strconv.Itoa(active)+",expires="+strconv.Itoa(expires))
	}

	body := "# Keyspace\n" + strings.Join(lines, "\n")
	return resp.Bulk([]byte(body)), nil
}

func cmdKeys(storage *store.Storage, c *conn.Connection, args [][]byte, now time.Time) (resp.Value, *ProtoError) {
	if len(args) != 1 {
		return resp.Value{}, wrongNumberOfArgs("keys")
	}

	re, err := globmatch.CompileFull(string(args[0]))
	if err != nil {
		return resp.Value{}, errf("ERR", "invalid pattern")
	}

	matches := currentDB(storage, c).Keys(re, now)
	items := make([]resp.Value, len(matches))
	for i, k := range matches {
		items[i] = resp.Bulk(k)
	}
	return resp.Array(items...), nil
}

func cmdGet(storage *store.Storage, c *conn.Connection, args [][]byte, now time.Time) (resp.Value, *ProtoError) {
	if len(args) != 1 {
		return resp.Value{}, wrongNumberOfArgs("get")
	}

	v, ok := currentDB(storage, c).Get(string(args[0]), now)
	if !ok {
		return resp.NullBulk(), nil
	}
	return resp.Bulk(v), nil
}

func cmdSet(storage *store.Storage, c *conn.Connection, args [][]byte, now time.Time) (resp.Value, *ProtoError) {
	if len(args) < 2 {
		return resp.Value{}, wrongNumberOfArgs("set")
	}

	key, value := string(args[0]), args[1]
	var nx, xx, exSet, pxSet bool
	var exSeconds, pxMillis int64

	for i := 2; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))
		switch opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX":
			i++
			if i >= len(args) {
				return resp.Value{}, errf("ERR", "syntax error")
			}
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return resp.Value{}, errf("ERR", "value is not an integer or out of range")
			}
			exSet, exSeconds = true, n
		case "PX":
			i++
			if i >= len(args) {
				return resp.Value{}, errf("ERR", "syntax error")
			}
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return resp.Value{}, errf("ERR", "value is not an integer or out of range")
			}
			pxSet, pxMillis = true, n
		default:
			return resp.Value{}, errf("ERR", "syntax error")
		}
	}

	if nx && xx {
		return resp.Value{}, errf("ERR", "syntax error")
	}
	if exSet && pxSet {
		return resp.Value{}, errf("ERR", "syntax error")
	}

	db := currentDB(storage, c)
	exists := db.Exists(key, now)
	if nx && exists {
		return resp.NullBulk(), nil
	}
	if xx && !exists {
		return resp.NullBulk(), nil
	}

	switch {
	case pxSet:
		db.SetWithExpiry(key, value, now.Add(time.Duration(pxMillis)*time.Millisecond))
	case exSet:
		db.SetWithExpiry(key, value, now.Add(time.Duration(exSeconds)*time.Second))
	default:
		db.Set(key, value)
	}

	return resp.SimpleString("OK"), nil
}

func cmdMGet(storage *store.Storage, c *conn.Connection, args [][]byte, now time.Time) (resp.Value, *ProtoError) {
	if len(args) < 1 {
		return resp.Value{}, wrongNumberOfArgs("mget")
	}

	db := currentDB(storage, c)
	items := make([]resp.Value, len(args))
	for i, k := range args {
		if v, ok := db.Get(string(k), now); ok {
			items[i] = resp.Bulk(v)
		} else {
			items[i] = resp.NullBulk()
		}
	}
	return resp.Array(items...), nil
}

func cmdMSet(storage *store.Storage, c *conn.Connection, args [][]byte, _ time.Time) (resp.Value, *ProtoError) {
	if len(args) < 2 || len(args)%2 != 0 {
		return resp.Value{}, wrongNumberOfArgs("mset")
	}

	db := currentDB(storage, c)
	for i := 0; i+1 < len(args); i += 2 {
		db.Set(string(args[i]), args[i+1])
	}
	return resp.SimpleString("OK"), nil
}
