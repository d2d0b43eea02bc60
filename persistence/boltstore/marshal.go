package boltstore

import (
	"fmt"
	"reflect"

	"github.com/DavidKk/tabsync/internal/x/bboltx"
	"github.com/DavidKk/tabsync/persistence"
	"github.com/dogmatiq/marshalkit"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	"go.etcd.io/bbolt"
)

var (
	mediaTypeKey = []byte("media-type")
	dataKey      = []byte("data")
)

// NewMarshaler returns the default marshaler used to encode records.
func NewMarshaler() marshalkit.Marshaler {
	m, err := codec.NewMarshaler(
		[]reflect.Type{
			reflect.TypeOf(persistence.Record{}),
		},
		[]codec.Codec{
			&json.Codec{},
		},
	)
	if err != nil {
		panic(err)
	}

	return m
}

// saveRecord writes a record to the bucket for the given key.
func saveRecord(
	m marshalkit.ValueMarshaler,
	tx *bbolt.Tx,
	key string,
	rec persistence.Record,
) {
	p, err := m.Marshal(rec)
	bboltx.Must(err)

	b := bboltx.CreateBucketIfNotExists(tx, root, []byte(key))
	bboltx.Put(b, mediaTypeKey, []byte(p.MediaType))
	bboltx.Put(b, dataKey, p.Data)
}

// loadRecord reads the record for the given key.
//
// ok is false if the key has never been written.
func loadRecord(
	m marshalkit.ValueMarshaler,
	tx *bbolt.Tx,
	key string,
) (persistence.Record, bool) {
	b := bboltx.Bucket(tx, root, []byte(key))
	if b == nil {
		return persistence.Record{}, false
	}

	p := marshalkit.Packet{
		MediaType: string(b.Get(mediaTypeKey)),
		Data:      b.Get(dataKey),
	}

	v, err := m.Unmarshal(p)
	bboltx.Must(err)

	switch rec := v.(type) {
	case persistence.Record:
		return rec, true
	case *persistence.Record:
		return *rec, true
	default:
		panic(bboltx.PanicSentinel{
			Cause: fmt.Errorf("record data is corrupt, unexpected type %T", v),
		})
	}
}
