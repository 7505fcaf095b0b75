// Package swapdb implements the durable store of spec §4.8 (component
// C8): a single-writer embedded database holding, per swap, the role and
// counterparty, the originating request, the accept or decline response,
// and the append-only event log the state machine replays on restart.
package swapdb

import (
	"encoding/binary"
	"fmt"

	"github.com/hashbridge/swapd/kvdb"
)

const dbName = "swap.db"

var (
	// metaBucket stores database-level metadata, currently only the
	// schema version consulted by the migration machinery below.
	metaBucket   = []byte("meta")
	dbVersionKey = []byte("version")

	// swapsBucket maps swap_id -> swapInfoRecord (role, counterparty,
	// kind tag).
	swapsBucket = []byte("swaps")

	// The four request buckets, one per supported swap kind (spec §4.8
	// "four request tables, one per kind").
	requestBtcEthBucket   = []byte("requests-bitcoin-ether")
	requestBtcErc20Bucket = []byte("requests-bitcoin-erc20")
	requestEthBtcBucket   = []byte("requests-ether-bitcoin")
	requestErc20BtcBucket = []byte("requests-erc20-bitcoin")

	// The two accept buckets, keyed by which chain is the swap's alpha
	// ledger, since that decides the identity types an accept carries.
	acceptAlphaBtcBucket = []byte("accepts-alpha-bitcoin")
	acceptAlphaEthBucket = []byte("accepts-alpha-ethereum")

	// declinesBucket maps swap_id -> declineRecord. Reason is the only
	// nullable column in the schema.
	declinesBucket = []byte("declines")

	// eventsBucket holds one nested bucket per swap_id, mapping a
	// big-endian uint64 sequence number to an eventRecord. Records are
	// append-only; state is derived by replaying them (spec §3).
	eventsBucket = []byte("events")

	// byteOrder is big endian so cursor scans over sequence keys iterate
	// in append order.
	byteOrder = binary.BigEndian
)

// topLevelBuckets is every bucket createSchema guarantees to exist.
var topLevelBuckets = [][]byte{
	metaBucket, swapsBucket,
	requestBtcEthBucket, requestBtcErc20Bucket,
	requestEthBtcBucket, requestErc20BtcBucket,
	acceptAlphaBtcBucket, acceptAlphaEthBucket,
	declinesBucket, eventsBucket,
}

// migration mutates the key/bucket structure of an outdated database to
// arrive at a more up-to-date version.
type migration func(tx kvdb.ReadWriteTx) error

type version struct {
	number    uint32
	migration migration
}

// dbVersions holds every schema version. When the on-disk version is
// behind the latest entry, each newer migration is applied in order
// inside a single transaction.
var dbVersions = []version{
	{
		// The base version requires no migration.
		number:    0,
		migration: nil,
	},
}

// DB is the swap daemon's primary datastore.
type DB struct {
	backend kvdb.Backend
}

// Open opens (creating and migrating as necessary) the swap database in
// dir.
func Open(dir string) (*DB, error) {
	backend, err := kvdb.Open(dir, dbName)
	if err != nil {
		return nil, err
	}

	db := &DB{backend: backend}
	if err := db.syncVersions(dbVersions); err != nil {
		backend.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the database's file handle.
func (d *DB) Close() error {
	return d.backend.Close()
}

// syncVersions creates the schema on first open and applies any pending
// migrations afterward, recording the resulting version.
func (d *DB) syncVersions(versions []version) error {
	return d.backend.Update(func(tx kvdb.ReadWriteTx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateTopLevelBucket(name); err != nil {
				return fmt.Errorf("swapdb: creating bucket %s: %w", name, err)
			}
		}

		meta := tx.ReadWriteBucket(metaBucket)
		current := uint32(0)
		if raw := meta.Get(dbVersionKey); len(raw) == 4 {
			current = byteOrder.Uint32(raw)
		}

		latest := versions[len(versions)-1].number
		if current > latest {
			return fmt.Errorf("swapdb: database version %d is newer "+
				"than this binary's %d", current, latest)
		}

		for _, v := range versions {
			if v.number <= current || v.migration == nil {
				continue
			}
			if err := v.migration(tx); err != nil {
				return fmt.Errorf("swapdb: migration to version %d: %w",
					v.number, err)
			}
		}

		var buf [4]byte
		byteOrder.PutUint32(buf[:], latest)
		return meta.Put(dbVersionKey, buf[:])
	})
}
