package storage

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/larchdb/larch/larch"
	"github.com/larchdb/larch/larch/codec"
)

// URLScheme is the connection URL scheme understood by Connect.
const URLScheme = "tdb://"

// DefaultHashSize is the default store sizing hint, in buckets.
const DefaultHashSize = 10000

// Options configure a database handle at connect time.
type Options struct {
	// ReadOnly opens the store without write access; every write operation
	// fails with insufficientAccessRights.
	ReadOnly bool
	// NoSync disables fsync on commit.
	NoSync bool
	// NoMMap disables memory-mapped caching of store blocks.
	NoMMap bool
	// Perm is the permission mask for store files created on first connect.
	Perm os.FileMode
	// HashSize is a capacity hint for the store's in-memory index.
	HashSize int
	// Logger receives ambient engine logging. Nil means no logging.
	Logger *zap.SugaredLogger
	// Metrics is the registry engine metrics are registered with. Nil
	// keeps the metrics private to the handle.
	Metrics prometheus.Registerer
}

// Option mutates connect-time Options.
type Option func(*Options)

// WithReadOnly opens the store read-only.
func WithReadOnly() Option { return func(o *Options) { o.ReadOnly = true } }

// WithNoSync disables fsync on commit.
func WithNoSync() Option { return func(o *Options) { o.NoSync = true } }

// WithNoMMap disables memory-mapped block caching.
func WithNoMMap() Option { return func(o *Options) { o.NoMMap = true } }

// WithPerm sets the permission mask for created store files.
func WithPerm(perm os.FileMode) Option { return func(o *Options) { o.Perm = perm } }

// WithHashSize overrides the store sizing hint.
func WithHashSize(n int) Option { return func(o *Options) { o.HashSize = n } }

// WithLogger attaches an ambient logger to the handle.
func WithLogger(l *zap.SugaredLogger) Option { return func(o *Options) { o.Logger = l } }

// WithMetrics registers engine metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option { return func(o *Options) { o.Metrics = reg } }

// Backend is a database handle: it owns the underlying store, the schema
// registry, the cached metadata and the sequence bookkeeping. Operations on
// one handle are serialised; a handle must not be shared across processes
// except through the store's own locking.
type Backend struct {
	mu      sync.Mutex
	kv      *kvStore
	schema  *larch.Schema
	log     *zap.SugaredLogger
	metrics *metricsSet

	// Metadata cache, refreshed before every write (see cache.go).
	cacheValid bool
	cachedSeq  uint64
	indexList  map[string]bool

	// seqBumped limits the sequence bump to once per top-level write, so a
	// rename's internal add and delete count as one change.
	seqBumped bool

	errStr string
}

// Connect opens (creating if necessary) the database at url, which is either
// a "tdb://<path>" URL or a bare path.
func Connect(url string, opts ...Option) (*Backend, error) {
	o := Options{
		Perm:     0o755,
		HashSize: DefaultHashSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	path := url
	if i := strings.Index(url, "://"); i >= 0 {
		if !strings.HasPrefix(url, URLScheme) {
			return nil, larch.Errf(larch.ResultOperationsError, "invalid connection URL %q", url)
		}
		path = url[len(URLScheme):]
	}
	if path == "" {
		return nil, larch.Errf(larch.ResultOperationsError, "empty store path in %q", url)
	}

	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil
	bopts.ReadOnly = o.ReadOnly
	bopts.SyncWrites = !o.NoSync
	if o.NoMMap {
		// No block cache means no compression either.
		bopts.BlockCacheSize = 0
		bopts.Compression = options.None
	}
	if o.HashSize > 0 {
		// Bucket-count hint translated to an index cache budget.
		bopts.IndexCacheSize = int64(o.HashSize) << 10
	}

	kv, err := openKV(path, bopts, o.Perm, o.ReadOnly)
	if err != nil {
		return nil, err
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	b := &Backend{
		kv:      kv,
		schema:  larch.NewSchema(),
		log:     logger,
		metrics: newMetricsSet(o.Metrics),
	}

	if err := b.initialLoad(); err != nil {
		kv.close()
		return nil, err
	}

	b.log.Debugw("connected", "path", path, "readOnly", o.ReadOnly)
	return b, nil
}

// initialLoad primes the metadata cache, bootstrapping @BASEINFO on a fresh
// store.
func (b *Backend) initialLoad() error {
	if b.kv.readOnly {
		return b.loadCache()
	}
	if err := b.kv.Begin(); err != nil {
		return err
	}
	if err := b.loadCache(); err != nil {
		b.kv.Cancel()
		return err
	}
	return b.kv.Commit()
}

// Close releases the handle and the underlying store. Safe on every exit
// path; an open transaction is cancelled.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.Debugw("closing database handle")
	return b.kv.close()
}

// Schema exposes the handle's attribute registry.
func (b *Backend) Schema() *larch.Schema {
	return b.schema
}

// ErrString returns the last human-readable error message stamped on the
// handle, or "".
func (b *Backend) ErrString() string {
	return b.errStr
}

// errf records and returns an operation error.
func (b *Backend) errf(code larch.ResultCode, format string, args ...interface{}) error {
	err := larch.Errf(code, format, args...)
	b.errStr = err.Msg
	return err
}

// seterr stamps an existing error's message on the handle.
func (b *Backend) seterr(err error) error {
	if err != nil {
		b.errStr = err.Error()
	}
	return err
}

// StartTransaction begins (or nests into) an explicit caller transaction.
func (b *Backend) StartTransaction() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seterr(b.kv.Begin())
}

// EndTransaction commits the caller transaction at depth one.
func (b *Backend) EndTransaction() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seterr(b.kv.Commit())
}

// CancelTransaction discards the caller transaction at depth one.
func (b *Backend) CancelTransaction() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.Debugw("transaction cancelled")
	return b.seterr(b.kv.Cancel())
}

// runInTxn executes fn inside the caller's transaction if one is open, or
// inside an implicit one that is cancelled when fn fails. This is what makes
// a multi-step write atomic against concurrent readers.
func (b *Backend) runInTxn(fn func() error) error {
	if b.kv.inTransaction() {
		return fn()
	}
	if err := b.kv.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.kv.Cancel()
		return err
	}
	return b.kv.Commit()
}

// writeOp serialises, times and counts a top-level write operation.
func (b *Backend) writeOp(name string, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqBumped = false
	start := time.Now()
	err := b.runInTxn(fn)
	b.metrics.observeOp(name, err, time.Since(start))
	return b.seterr(err)
}

// Fetch returns the entry stored at dn. This is also the narrow read
// contract used by the external search module for base lookups.
func (b *Backend) Fetch(dn *larch.DN) (*larch.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, err := b.fetchByDN(dn)
	if err != nil {
		return nil, b.seterr(err)
	}
	return msg, nil
}

// WalkEntries calls fn for every stored entry, special records included.
// Together with Fetch this is the read surface the external search module
// builds on.
func (b *Backend) WalkEntries(fn func(*larch.Message) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kv.Walk([]byte(keyPrefix), func(key, val []byte) error {
		msg, err := codec.Unpack(val)
		if err != nil {
			return larch.Errf(larch.ResultProtocolError, "corrupt record under %q: %v", key, err)
		}
		return fn(msg)
	})
}

// fetchByDN loads and unpacks the record at dn without locking.
func (b *Backend) fetchByDN(dn *larch.DN) (*larch.Message, error) {
	key, err := EntryKey(b.schema, dn)
	if err != nil {
		return nil, err
	}
	data, err := b.kv.Fetch(key)
	if err != nil {
		return nil, err
	}
	msg, err := codec.Unpack(data)
	if err != nil {
		return nil, larch.Errf(larch.ResultProtocolError, "corrupt record at %q: %v", dn, err)
	}
	if msg.DN == nil || msg.DN.String() == "" {
		msg.DN = dn
	}
	return msg, nil
}
