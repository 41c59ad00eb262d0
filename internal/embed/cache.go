package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/ShayCichocki/specfit/internal/match"
)

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// Path is the directory for cache files. Ignored when InMemory is true.
	Path string
	// InMemory keeps the cache in memory only.
	InMemory bool
	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Cached wraps an Embedder with a persistent Badger cache keyed by model and
// text. Concurrent requests for the same missing batch share one backend
// call.
type Cached struct {
	inner Embedder
	model string
	db    *badger.DB
	group singleflight.Group
}

// Embedder is the backend a Cached wraps.
type Embedder = match.Embedder

// OpenCache opens the cache and wraps inner. model namespaces the keys so
// switching models never returns stale vectors.
func OpenCache(cfg CacheConfig, inner Embedder, model string) (*Cached, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required unless in-memory")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "embed-cache")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cached{inner: inner, model: model, db: db}, nil
}

// Close closes the underlying database.
func (c *Cached) Close() error {
	return c.db.Close()
}

// Embed returns cached vectors and fetches the rest from the backend in one
// call, storing them for next time.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make(map[string][]int)

	err := c.db.View(func(txn *badger.Txn) error {
		for i, t := range texts {
			item, err := txn.Get(c.key(t))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missIdx[t] = append(missIdx[t], i)
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(v []byte) error {
				out[i] = decodeVector(v)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	misses := make([]string, 0, len(missIdx))
	for t := range missIdx {
		misses = append(misses, t)
	}
	sort.Strings(misses)

	v, err, _ := c.group.Do(strings.Join(misses, "\x00"), func() (any, error) {
		vecs, err := c.inner.Embed(ctx, misses)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(misses) {
			return nil, fmt.Errorf("got %d vectors for %d texts", len(vecs), len(misses))
		}
		if err := c.store(misses, vecs); err != nil {
			return nil, err
		}
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}

	vecs := v.([][]float32)
	for i, t := range misses {
		for _, idx := range missIdx[t] {
			out[idx] = vecs[i]
		}
	}
	return out, nil
}

func (c *Cached) store(texts []string, vecs [][]float32) error {
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for i, t := range texts {
		if err := wb.Set(c.key(t), encodeVector(vecs[i])); err != nil {
			return fmt.Errorf("write embedding cache: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush embedding cache: %w", err)
	}
	return nil
}

func (c *Cached) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte("emb/" + c.model + "/" + hex.EncodeToString(sum[:]))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Verify Cached implements match.Embedder at compile time.
var _ match.Embedder = (*Cached)(nil)
