package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// EngineOptions configures an Engine's behavior. Unlike the store's
// upstream configuration mechanism, there is no loader here: callers build
// an EngineOptions directly, mirroring the options-struct idiom of
// DockerClientOptions and DockerizedInstanceOptions.
type EngineOptions struct {
	// SearchLimit is spliced into a query string as "_limit:N" before
	// parsing, when the caller's query does not already specify one.
	SearchLimit int

	// Fulltext controls whether the text table is created with a
	// FULLTEXT index and whether its storage engine is MyISAM (required
	// for fulltext) or InnoDB. It does not affect the producer: unfielded
	// terms are searched via MATCH() AGAINST() whichever way it is set.
	Fulltext bool
}

// Queryer is the common capability both *sqlx.DB and *sqlx.Tx satisfy. The
// producer and executor are written against this interface so a search can
// run inside or outside an explicit transaction without duplicating code.
type Queryer interface {
	sqlx.Queryer
	sqlx.Execer
}

// Instance represents a single MySQL server, identified by host/port/user/
// pass, that documents are searched against. It owns a pool of *sqlx.DB
// connections keyed by schema and connection params, mirroring the
// connection-pool-by-key pattern used elsewhere in this codebase family,
// but adds a checkout-time liveness ping, since long-lived search sessions
// are far more sensitive to idle-connection disconnects than one-shot
// schema introspection ever was.
type Instance struct {
	BaseDSN        string
	Driver         string
	User           string
	Password       string
	Host           string
	Port           int
	SocketPath     string
	defaultParams  map[string]string
	connectionPool map[string]*sqlx.DB
	*sync.RWMutex
}

// NewInstance returns a pointer to a new Instance corresponding to the
// supplied driver and dsn. Currently only "mysql" driver is supported. Any
// schema name embedded in dsn is ignored; any params embedded in dsn are
// applied as default params to every connection made via Connect.
func NewInstance(driver, dsn string) (*Instance, error) {
	if driver != "mysql" {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	base := baseDSN(dsn)
	params := paramMap(dsn)
	parsedConfig, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	instance := &Instance{
		BaseDSN:        base,
		Driver:         driver,
		User:           parsedConfig.User,
		Password:       parsedConfig.Passwd,
		defaultParams:  params,
		connectionPool: make(map[string]*sqlx.DB),
		RWMutex:        new(sync.RWMutex),
	}

	switch parsedConfig.Net {
	case "unix":
		instance.Host = "localhost"
		instance.SocketPath = parsedConfig.Addr
	default:
		instance.Host, instance.Port, err = SplitHostOptionalPort(parsedConfig.Addr)
		if err != nil {
			return nil, err
		}
	}

	return instance, nil
}

// String returns a "host:port" string, or "host:/path/to/socket" if using a
// UNIX domain socket.
func (instance *Instance) String() string {
	if instance.SocketPath != "" {
		return fmt.Sprintf("%s:%s", instance.Host, instance.SocketPath)
	} else if instance.Port == 0 {
		return instance.Host
	}
	return fmt.Sprintf("%s:%d", instance.Host, instance.Port)
}

func (instance *Instance) buildParamString(params string) string {
	v := url.Values{}
	for defName, defValue := range instance.defaultParams {
		v.Set(defName, defValue)
	}
	overrides, _ := url.ParseQuery(params)
	for name := range overrides {
		v.Set(name, overrides.Get(name))
	}
	return v.Encode()
}

// poolRecycle is the canonical max connection lifetime: a pooled
// connection is recycled at this age even if it's never gone idle long
// enough to be caught by the liveness ping.
const poolRecycle = 3600 * time.Second

// poolCheckoutTimeout bounds how long a single checkout-time liveness
// ping may take before it's treated as a failed checkout.
const poolCheckoutTimeout = 2 * time.Second

// Connect returns a connection pool for this instance's host/port/user/pass
// with the supplied default schema and params string. If a pool already
// exists for this combination it is returned as-is; otherwise one is
// opened and a connection attempt is made to confirm access. params should
// be supplied as "foo=bar&fizz=buzz" with URL escaping already applied,
// with no leading "?"; it is merged with instance.defaultParams, with
// params supplied here taking precedence.
//
// The pool's max conn lifetime is poolRecycle, or less if a lower
// session-level wait_timeout applies, so that a connection that has gone
// stale on the server side is recycled before the liveness ping would
// otherwise have to catch it.
func (instance *Instance) Connect(defaultSchema, params string) (*sqlx.DB, error) {
	fullParams := instance.buildParamString(params)
	key := fmt.Sprintf("%s?%s", defaultSchema, fullParams)

	instance.RLock()
	pool, ok := instance.connectionPool[key]
	instance.RUnlock()
	if ok {
		return pool, nil
	}

	fullDSN := instance.BaseDSN + key
	db, err := sqlx.Connect(instance.Driver, fullDSN)
	if err != nil {
		return nil, err
	}

	maxLifetime := poolRecycle
	parsedParams, _ := url.ParseQuery(fullParams)
	waitTimeout, _ := strconv.Atoi(parsedParams.Get("wait_timeout"))
	if waitTimeout == 0 {
		db.QueryRow("SELECT @@wait_timeout").Scan(&waitTimeout)
	}
	if waitTimeout > 1 && time.Duration(waitTimeout)*time.Second < poolRecycle {
		maxLifetime = time.Duration(waitTimeout-1) * time.Second
	} else if waitTimeout == 1 {
		maxLifetime = 900 * time.Millisecond
	}
	db.SetConnMaxLifetime(maxLifetime)

	instance.Lock()
	defer instance.Unlock()
	instance.connectionPool[key] = db.Unsafe()
	return instance.connectionPool[key], nil
}

// CanConnect verifies that the instance can be connected to, using its
// default schema and params.
func (instance *Instance) CanConnect() (bool, error) {
	_, err := instance.Connect("", "")
	return err == nil, err
}

// CloseAll closes all of instance's connection pools.
func (instance *Instance) CloseAll() {
	instance.Lock()
	for key, db := range instance.connectionPool {
		db.Close()
		delete(instance.connectionPool, key)
	}
	instance.Unlock()
}

// Checkout returns a live connection pool for defaultSchema/params,
// verifying liveness via checkout and retrying once against a freshly
// opened pool if the cached one has gone stale. This is the pool-level
// liveness contract a caller uses to obtain a session before handing it to
// Engine.Search, which does not call Checkout itself: a session can sit
// idle for the caller's entire document-reading loop, so the one-shot
// retry buys a search a second chance at a server that dropped the
// connection out from under an idle pool entry.
func (instance *Instance) Checkout(defaultSchema, params string) (*sqlx.DB, error) {
	db, err := instance.Connect(defaultSchema, params)
	if err != nil {
		return nil, err
	}
	if err := checkout(db); err != nil {
		if _, transient := err.(*TransientConnectionError); !transient {
			return nil, err
		}
		instance.evict(defaultSchema, params)
		if db, err = instance.Connect(defaultSchema, params); err != nil {
			return nil, err
		}
		if err := checkout(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (instance *Instance) evict(defaultSchema, params string) {
	key := fmt.Sprintf("%s?%s", defaultSchema, instance.buildParamString(params))
	instance.Lock()
	if db, ok := instance.connectionPool[key]; ok {
		db.Close()
		delete(instance.connectionPool, key)
	}
	instance.Unlock()
}

// checkout pings db, bounded by poolCheckoutTimeout, and reclassifies a
// dead or unresponsive connection as a TransientConnectionError, so
// callers can decide to retry against a fresh pool rather than surface a
// raw driver error. This is the Go equivalent of the SQLAlchemy pool
// "checkout" event hook: a session obtained through Instance.Checkout is
// pinged once before it is returned, since a session can sit idle across a user's entire
// document-reading loop and idle connections are exactly what MySQL's
// wait_timeout (and overzealous firewalls/load balancers in between)
// sever first.
func checkout(db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), poolCheckoutTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		if err == context.DeadlineExceeded || isTransientError(err) {
			log.WithError(err).Debug("connection failed liveness check at checkout")
			return &TransientConnectionError{cause: err}
		}
		return err
	}
	return nil
}
