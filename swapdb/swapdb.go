package swapdb

import (
	"errors"
	"fmt"

	"github.com/hashbridge/swapd/kvdb"
	"github.com/hashbridge/swapd/swap"
)

var (
	// ErrSwapNotFound is returned when no row exists for the given swap
	// id.
	ErrSwapNotFound = errors.New("swapdb: swap not found")

	// ErrSwapAlreadyExists is returned by CreateSwap when a row for the
	// swap id is already present.
	ErrSwapAlreadyExists = errors.New("swapdb: swap already exists")

	// ErrNoResponse is returned by FetchAcceptedSwap when neither an
	// accept nor a decline has been recorded yet.
	ErrNoResponse = errors.New("swapdb: no response recorded")
)

// SwapRecord is the fully joined view of one swap's stored messages.
type SwapRecord struct {
	SwapID       swap.ID
	Role         swap.Role
	Counterparty string
	Request      swap.Request
	Accept       *swap.Accept
	Decline      *swap.Decline
}

// AcceptedSwap joins a request with its accept, the reconstruction spec
// §4.8 names ("reads reconstruct an AcceptedSwap by joining the relevant
// request and accept rows").
type AcceptedSwap struct {
	SwapID       swap.ID
	Role         swap.Role
	Counterparty string
	Request      swap.Request
	Accept       swap.Accept
}

// CreateSwap durably records a new swap: its role, counterparty peer id,
// and originating request, in a single transaction (spec §4.8 "Writes
// occur in a single transaction per message").
func (d *DB) CreateSwap(role swap.Role, counterparty string, req swap.Request) error {
	tag, err := kindTag(req)
	if err != nil {
		return err
	}
	reqBucket, err := requestBucketFor(tag)
	if err != nil {
		return err
	}

	infoRaw, err := marshalInfo(swapInfoRecord{
		Role:         roleToString(role),
		Counterparty: counterparty,
		Kind:         tag,
	})
	if err != nil {
		return err
	}
	reqRaw, err := serializeRequest(req)
	if err != nil {
		return err
	}

	key := []byte(req.SwapID.String())
	return d.backend.Update(func(tx kvdb.ReadWriteTx) error {
		swaps := tx.ReadWriteBucket(swapsBucket)
		if swaps.Get(key) != nil {
			return ErrSwapAlreadyExists
		}
		if err := swaps.Put(key, infoRaw); err != nil {
			return err
		}
		return tx.ReadWriteBucket(reqBucket).Put(key, reqRaw)
	})
}

// PutAccept records the counterparty's (or our own) accept for an
// existing swap.
func (d *DB) PutAccept(acc swap.Accept) error {
	raw, err := serializeAccept(acc)
	if err != nil {
		return err
	}

	key := []byte(acc.SwapID.String())
	return d.backend.Update(func(tx kvdb.ReadWriteTx) error {
		info, err := fetchInfo(tx, key)
		if err != nil {
			return err
		}
		bucket, err := acceptBucketFor(info.Kind)
		if err != nil {
			return err
		}
		return tx.ReadWriteBucket(bucket).Put(key, raw)
	})
}

// PutDecline records a decline for an existing swap. Reason may be empty;
// it is the schema's only nullable column.
func (d *DB) PutDecline(dec swap.Decline) error {
	raw, err := serializeDecline(dec)
	if err != nil {
		return err
	}

	key := []byte(dec.SwapID.String())
	return d.backend.Update(func(tx kvdb.ReadWriteTx) error {
		if _, err := fetchInfo(tx, key); err != nil {
			return err
		}
		return tx.ReadWriteBucket(declinesBucket).Put(key, raw)
	})
}

// FetchSwap returns the joined record for id, including the accept or
// decline if one has been recorded.
func (d *DB) FetchSwap(id swap.ID) (SwapRecord, error) {
	var rec SwapRecord
	err := d.backend.View(func(tx kvdb.ReadTx) error {
		var err error
		rec, err = fetchSwap(tx, []byte(id.String()))
		return err
	})
	return rec, err
}

// FetchAcceptedSwap reconstructs an AcceptedSwap for id, failing with
// ErrNoResponse if no accept row exists.
func (d *DB) FetchAcceptedSwap(id swap.ID) (AcceptedSwap, error) {
	rec, err := d.FetchSwap(id)
	if err != nil {
		return AcceptedSwap{}, err
	}
	if rec.Accept == nil {
		return AcceptedSwap{}, ErrNoResponse
	}
	return AcceptedSwap{
		SwapID:       rec.SwapID,
		Role:         rec.Role,
		Counterparty: rec.Counterparty,
		Request:      rec.Request,
		Accept:       *rec.Accept,
	}, nil
}

// ListSwaps returns the joined record of every swap ever stored, in no
// particular order.
func (d *DB) ListSwaps() ([]SwapRecord, error) {
	var out []SwapRecord
	err := d.backend.View(func(tx kvdb.ReadTx) error {
		return tx.ReadBucket(swapsBucket).ForEach(func(k, _ []byte) error {
			rec, err := fetchSwap(tx, k)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// AppendEvent durably appends ev to id's event log, assigning it the next
// sequence number.
//
// NOTE: Part of the swap.Store interface.
func (d *DB) AppendEvent(id swap.ID, ev swap.Event) error {
	raw, err := serializeEvent(ev)
	if err != nil {
		return err
	}

	return d.backend.Update(func(tx kvdb.ReadWriteTx) error {
		events := tx.ReadWriteBucket(eventsBucket)
		perSwap, err := events.CreateBucketIfNotExists([]byte(id.String()))
		if err != nil {
			return err
		}

		var next uint64
		if err := perSwap.ForEach(func(k, _ []byte) error {
			if len(k) == 8 && byteOrder.Uint64(k)+1 > next {
				next = byteOrder.Uint64(k) + 1
			}
			return nil
		}); err != nil {
			return err
		}

		var key [8]byte
		byteOrder.PutUint64(key[:], next)
		return perSwap.Put(key[:], raw)
	})
}

// LoadEvents returns every event appended for id, in append order.
//
// NOTE: Part of the swap.Store interface.
func (d *DB) LoadEvents(id swap.ID) ([]swap.Event, error) {
	var out []swap.Event
	err := d.backend.View(func(tx kvdb.ReadTx) error {
		perSwap := tx.ReadBucket(eventsBucket).NestedReadBucket([]byte(id.String()))
		if perSwap == nil {
			return nil
		}
		// ForEach iterates keys in byte order; big-endian sequence keys
		// therefore arrive in append order.
		return perSwap.ForEach(func(_, v []byte) error {
			ev, err := deserializeEvent(v)
			if err != nil {
				return err
			}
			out = append(out, ev)
			return nil
		})
	})
	return out, err
}

// fetchSwap joins the swaps row with its request and response rows.
func fetchSwap(tx kvdb.ReadTx, key []byte) (SwapRecord, error) {
	info, err := fetchInfo(tx, key)
	if err != nil {
		return SwapRecord{}, err
	}

	reqBucket, err := requestBucketFor(info.Kind)
	if err != nil {
		return SwapRecord{}, err
	}
	reqRaw := tx.ReadBucket(reqBucket).Get(key)
	if reqRaw == nil {
		return SwapRecord{}, fmt.Errorf("swapdb: swap %s has no request row", key)
	}
	req, err := deserializeRequest(reqRaw, info.Kind)
	if err != nil {
		return SwapRecord{}, err
	}

	role, err := roleFromString(info.Role)
	if err != nil {
		return SwapRecord{}, err
	}

	rec := SwapRecord{
		SwapID:       req.SwapID,
		Role:         role,
		Counterparty: info.Counterparty,
		Request:      req,
	}

	accBucket, err := acceptBucketFor(info.Kind)
	if err != nil {
		return SwapRecord{}, err
	}
	if raw := tx.ReadBucket(accBucket).Get(key); raw != nil {
		acc, err := deserializeAccept(raw)
		if err != nil {
			return SwapRecord{}, err
		}
		rec.Accept = &acc
	}
	if raw := tx.ReadBucket(declinesBucket).Get(key); raw != nil {
		dec, err := deserializeDecline(raw)
		if err != nil {
			return SwapRecord{}, err
		}
		rec.Decline = &dec
	}

	return rec, nil
}

func fetchInfo(tx kvdb.ReadTx, key []byte) (swapInfoRecord, error) {
	raw := tx.ReadBucket(swapsBucket).Get(key)
	if raw == nil {
		return swapInfoRecord{}, ErrSwapNotFound
	}
	return unmarshalInfo(raw)
}
