package llm

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

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	embeddingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "expertpanel",
		Name:      "embedding_cache_hits_total",
		Help:      "Embeddings served from the local cache.",
	})
	embeddingCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "expertpanel",
		Name:      "embedding_cache_misses_total",
		Help:      "Embeddings computed by the backend.",
	})
)

// CachedEmbedder memoizes embeddings in a local BadgerDB so re-ingesting
// unchanged reference documents does not call the embedding API again.
type CachedEmbedder struct {
	next   Embedder
	db     *badger.DB
	prefix string
	logger *slog.Logger
}

// CacheConfig controls where the embedding cache lives
type CacheConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// Namespace separates vectors of different embedding models
	Namespace string
	Logger    *slog.Logger
}

// badgerLogger adapts slog to badger's logger. Badger's info chatter is
// demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewCachedEmbedder opens the cache database and wraps next. Close must be
// called to flush it.
func NewCachedEmbedder(next Embedder, cfg CacheConfig) (*CachedEmbedder, error) {
	if next == nil {
		return nil, errors.New("llm: cached embedder needs an underlying embedder")
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("llm: cache directory is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("llm: create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("llm: open embedding cache: %w", err)
	}

	return &CachedEmbedder{
		next:   next,
		db:     db,
		prefix: "emb:" + cfg.Namespace + ":",
		logger: logger,
	}, nil
}

// Embed returns the cached vector for text or computes and stores it.
// Cache read and write failures are logged and fall through to next.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	var cached []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVector(val)
			if err != nil {
				return err
			}
			cached = v
			return nil
		})
	})
	switch {
	case err == nil:
		embeddingCacheHits.Inc()
		return cached, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		c.logger.Warn("Warning: embedding cache read failed", "error", err)
	}
	embeddingCacheMisses.Inc()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, encodeVector(vec))
	}); err != nil {
		c.logger.Warn("Warning: embedding cache write failed", "error", err)
	}
	return vec, nil
}

// Close flushes and closes the cache database
func (c *CachedEmbedder) Close() error {
	return c.db.Close()
}

func (c *CachedEmbedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(c.prefix + hex.EncodeToString(sum[:]))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("llm: corrupt cached vector of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
