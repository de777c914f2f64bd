package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
)

const (
	defaultRedisKey     = "zentra:collections"
	defaultRedisTimeout = 5 * time.Second
)

// RedisMappingStore persists website-to-collection mappings in a Redis
// hash using a minimal RESP client, keeping mappings shared across API
// instances without pulling in a driver dependency.
type RedisMappingStore struct {
	addr     string
	password string
	db       int
	key      string
	timeout  time.Duration
}

// NewRedisMappingStore creates a mapping store backed by Redis.
func NewRedisMappingStore(cfg config.RedisConfig) (*RedisMappingStore, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("redis host is required")
	}
	port := cfg.Port
	if port == "" {
		port = "6379"
	}
	key := cfg.Key
	if key == "" {
		key = defaultRedisKey
	}
	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = defaultRedisTimeout
	}
	return &RedisMappingStore{
		addr:     net.JoinHostPort(cfg.Host, port),
		password: cfg.Password,
		db:       cfg.DB,
		key:      key,
		timeout:  timeout,
	}, nil
}

func (s *RedisMappingStore) Close() error { return nil }

func (s *RedisMappingStore) Put(ctx context.Context, websiteURL, collection string) error {
	return s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HSET", s.key, websiteURL, collection); err != nil {
			return err
		}
		_, err := conn.read()
		return err
	})
}

func (s *RedisMappingStore) Delete(ctx context.Context, websiteURL string) error {
	return s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HDEL", s.key, websiteURL); err != nil {
			return err
		}
		_, err := conn.read()
		return err
	})
}

func (s *RedisMappingStore) Get(ctx context.Context, websiteURL string) (string, bool, error) {
	var collection string
	var found bool
	err := s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HGET", s.key, websiteURL); err != nil {
			return err
		}
		reply, err := conn.read()
		if err != nil {
			return err
		}
		switch v := reply.(type) {
		case nil:
		case string:
			collection = v
			found = true
		default:
			return fmt.Errorf("unexpected response type %T", v)
		}
		return nil
	})
	return collection, found, err
}

func (s *RedisMappingStore) List(ctx context.Context) (map[string]string, error) {
	mappings := make(map[string]string)
	err := s.withConn(ctx, func(conn *redisConn) error {
		if err := conn.send("HGETALL", s.key); err != nil {
			return err
		}
		reply, err := conn.read()
		if err != nil {
			return err
		}
		arr, ok := reply.([]interface{})
		if !ok {
			return nil
		}
		for i := 0; i+1 < len(arr); i += 2 {
			field, fok := arr[i].(string)
			value, vok := arr[i+1].(string)
			if !fok || !vok {
				continue
			}
			mappings[field] = value
		}
		return nil
	})
	return mappings, err
}

func (s *RedisMappingStore) withConn(ctx context.Context, fn func(*redisConn) error) error {
	conn, err := newRedisConn(ctx, s.addr, s.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.initialize(s.password, s.db); err != nil {
		return err
	}
	return fn(conn)
}

type redisConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func newRedisConn(ctx context.Context, addr string, timeout time.Duration) (*redisConn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &redisConn{
		conn:   c,
		reader: bufio.NewReader(c),
		writer: bufio.NewWriter(c),
	}, nil
}

func (c *redisConn) initialize(password string, db int) error {
	if password != "" {
		if err := c.send("AUTH", password); err != nil {
			return err
		}
		if _, err := c.read(); err != nil {
			return err
		}
	}
	if db != 0 {
		if err := c.send("SELECT", strconv.Itoa(db)); err != nil {
			return err
		}
		if _, err := c.read(); err != nil {
			return err
		}
	}
	return nil
}

func (c *redisConn) send(cmd string, args ...string) error {
	if _, err := fmt.Fprintf(c.writer, "*%d\r\n", len(args)+1); err != nil {
		return err
	}
	if err := writeBulk(c.writer, strings.ToUpper(cmd)); err != nil {
		return err
	}
	for _, arg := range args {
		if err := writeBulk(c.writer, arg); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

func writeBulk(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return err
}

func (c *redisConn) read() (interface{}, error) {
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	switch prefix {
	case '+':
		return readLine(c.reader)
	case '-':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(line)
	case ':':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(line, 10, 64)
	case '$':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		length, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if length == -1 {
			return nil, nil
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return nil, err
		}
		return string(buf[:length]), nil
	case '*':
		line, err := readLine(c.reader)
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if count == -1 {
			return nil, nil
		}
		items := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			item, err := c.read()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected redis prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

func (c *redisConn) Close() error {
	return c.conn.Close()
}
