// Package intake receives passages from local producers over a unix datagram
// socket and hands valid ones to a submit function.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Datagrams carry the JSON envelope around the text, so the limit leaves
// room above MaxTextBytes.
const defaultMaxPayloadBytes = 8 * 1024

// SubmitFunc stores an accepted passage.
type SubmitFunc func(ctx context.Context, p Passage) error

type Collector struct {
	submit SubmitFunc
	path   string
	log    *zap.Logger

	MaxPayloadBytes int
	// Dedup drops repeated passages. Nil accepts every valid passage.
	Dedup *Dedup

	mu     sync.Mutex
	conn   *net.UnixConn
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewCollector(submit SubmitFunc, socketPath string, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		submit:          submit,
		path:            socketPath,
		log:             log,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	}
}

func (c *Collector) SocketPath() string {
	return c.path
}

// Start binds the socket and reads datagrams until ctx is done or Close is
// called.
func (c *Collector) Start(ctx context.Context) error {
	if c.submit == nil {
		return fmt.Errorf("submit function is required")
	}
	if c.path == "" {
		return fmt.Errorf("socket path is required")
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = defaultMaxPayloadBytes
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Chmod(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("chmod socket dir: %w", err)
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unixgram", c.path)
	if err != nil {
		return fmt.Errorf("resolve unix addr: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("listen unixgram: %w", err)
	}
	if err := os.Chmod(c.path, 0o600); err != nil {
		_ = conn.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			c.close()
		case <-stop:
		}
	}()
	go func() {
		defer c.wg.Done()
		c.readLoop(ctx)
	}()

	c.log.Info("intake listening", zap.String("socket", c.path))
	return nil
}

// Close stops the collector, waits for its goroutines and removes the socket.
func (c *Collector) Close() error {
	c.close()
	c.wg.Wait()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (c *Collector) readLoop(ctx context.Context) {
	buf := make([]byte, c.MaxPayloadBytes)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			continue
		}

		if n <= 0 || n >= c.MaxPayloadBytes {
			c.log.Debug("dropped datagram", zap.Int("bytes", n), zap.String("reason", "size"))
			continue
		}

		var p Passage
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			c.log.Debug("dropped datagram", zap.String("reason", "decode"), zap.Error(err))
			continue
		}
		if err := p.Validate(); err != nil {
			c.log.Debug("dropped datagram", zap.String("reason", "invalid"), zap.Error(err))
			continue
		}
		if !c.Dedup.Fresh(p.Text, time.Now().UTC()) {
			c.log.Debug("dropped datagram", zap.String("reason", "duplicate"), zap.String("source", p.Source))
			continue
		}
		if err := c.submit(ctx, p); err != nil {
			c.log.Warn("submit passage failed", zap.String("source", p.Source), zap.Error(err))
		}
	}
}

func (c *Collector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Collector) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.stop != nil {
		close(c.stop)
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
