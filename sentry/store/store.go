// Package store provides the document-collection persistence the sentry
// test double needs: append-only validator messages with
// latest-by-insertion-sequence reads, event aggregates, and channel
// records. It's backed by goleveldb, giving integration tests something
// concrete to run the sentry interface against without a real
// persistence backend.
package store

import (
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/outpace-protocol/validator-worker/message"
	"github.com/outpace-protocol/validator-worker/sentry"
)

// Store persists channels, validator messages, and event aggregates.
// Safe for concurrent use.
type Store struct {
	db *leveldb.DB

	mu       sync.Mutex
	seqByKey map[string]uint64
}

// Open opens a leveldb database at path. Pass "" for an ephemeral
// in-memory store, the mode integration tests use.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}

	return &Store{db: db, seqByKey: make(map[string]uint64)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func channelMessagesPrefix(channelID string) []byte {
	return []byte(fmt.Sprintf("msg/%s/", channelID))
}

func messageKey(channelID string, seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(channelMessagesPrefix(channelID), buf[:]...)
}

// PutMessage appends env to the channel's message log, assigning it the
// next per-(channelId, from) sequence number (replacing any Seq it
// already carries), and returns
// the stored envelope. Messages are append-only: there is no update path.
func (s *Store) PutMessage(env message.Envelope) (message.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqKey := env.ChannelID + "/" + env.From
	s.seqByKey[seqKey]++
	env.Seq = s.seqByKey[seqKey]

	payload, err := message.Encode(env.Msg)
	if err != nil {
		return env, err
	}

	record := struct {
		ChannelID string          `json:"channelId"`
		From      string          `json:"from"`
		Received  string          `json:"received"`
		Seq       uint64          `json:"seq"`
		Msg       json.RawMessage `json:"msg"`
	}{env.ChannelID, env.From, env.Received.Format("2006-01-02T15:04:05.000000000Z07:00"), env.Seq, payload}

	data, err := json.Marshal(record)
	if err != nil {
		return env, errors.Wrap(err, "store: marshal envelope")
	}

	// Global per-channel key so iteration naturally yields insertion order
	// across all `from`/type combinations too.
	var globalSeq [8]byte
	binary.BigEndian.PutUint64(globalSeq[:], s.nextGlobalSeq(env.ChannelID))
	key := append(channelMessagesPrefix(env.ChannelID), globalSeq[:]...)

	if err := s.db.Put(key, data, nil); err != nil {
		return env, errors.Wrap(err, "store: put envelope")
	}

	return env, nil
}

func (s *Store) nextGlobalSeq(channelID string) uint64 {
	key := "global-seq/" + channelID
	s.seqByKey[key]++
	return s.seqByKey[key]
}

// LatestMessage returns the newest persisted message of msgType from
// `from` on channelID, or nil if none exists.
func (s *Store) LatestMessage(channelID, from string, msgType message.Type) (*message.Envelope, error) {
	envs, err := s.allMessages(channelID)
	if err != nil {
		return nil, err
	}

	var latest *message.Envelope
	for i := range envs {
		e := envs[i]
		if e.From != from || e.Msg.MsgType() != msgType {
			continue
		}
		if latest == nil || e.Seq > latest.Seq {
			latest = &envs[i]
		}
	}

	return latest, nil
}

func (s *Store) allMessages(channelID string) ([]message.Envelope, error) {
	prefix := channelMessagesPrefix(channelID)

	iter := s.db.NewIterator(leveldbRange(prefix), nil)
	defer iter.Release()

	var envs []message.Envelope
	for iter.Next() {
		var record struct {
			ChannelID string          `json:"channelId"`
			From      string          `json:"from"`
			Received  string          `json:"received"`
			Seq       uint64          `json:"seq"`
			Msg       json.RawMessage `json:"msg"`
		}
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return nil, errors.Wrap(err, "store: decode envelope")
		}

		msg, err := message.Decode(record.Msg)
		if err != nil {
			return nil, err
		}

		received, err := time.Parse("2006-01-02T15:04:05.000000000Z07:00", record.Received)
		if err != nil {
			received = time.Time{}
		}

		envs = append(envs, message.Envelope{
			ChannelID: record.ChannelID,
			From:      record.From,
			Received:  received,
			Seq:       record.Seq,
			Msg:       msg,
		})
	}

	return envs, nil
}

// AllMessages exposes every persisted envelope for a channel, in insertion
// order, for the test-server's listing endpoint.
func (s *Store) AllMessages(channelID string) ([]message.Envelope, error) {
	return s.allMessages(channelID)
}

// PutChannel persists (or overwrites) a channel's catalog entry.
func (s *Store) PutChannel(info sentry.ChannelInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "store: marshal channel")
	}
	return s.db.Put([]byte("channel/"+info.ID), data, nil)
}

// GetChannel looks up a channel by id.
func (s *Store) GetChannel(id string) (*sentry.ChannelInfo, error) {
	data, err := s.db.Get([]byte("channel/"+id), nil)
	if stderrors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get channel")
	}

	var info sentry.ChannelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(err, "store: decode channel")
	}

	return &info, nil
}

// ListChannelsFor returns every channel where validatorID is one of the two
// validators.
func (s *Store) ListChannelsFor(validatorID string) ([]sentry.ChannelInfo, error) {
	iter := s.db.NewIterator(leveldbRange([]byte("channel/")), nil)
	defer iter.Release()

	var out []sentry.ChannelInfo
	for iter.Next() {
		var info sentry.ChannelInfo
		if err := json.Unmarshal(iter.Value(), &info); err != nil {
			return nil, errors.Wrap(err, "store: decode channel")
		}
		if info.Spec.Validators[0].ID == validatorID || info.Spec.Validators[1].ID == validatorID {
			out = append(out, info)
		}
	}

	return out, nil
}

// PutEventAggregate appends an unconsumed event aggregate for a channel.
func (s *Store) PutEventAggregate(agg sentry.EventAggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return errors.Wrap(err, "store: marshal aggregate")
	}

	s.mu.Lock()
	seq := s.nextGlobalSeq("aggr/" + agg.ChannelID)
	s.mu.Unlock()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	key := append([]byte("aggr/"+agg.ChannelID+"/"), buf[:]...)

	return s.db.Put(key, data, nil)
}

// EventAggregatesAfter returns aggregates for channelID created after
// afterCursor, in cursor (insertion) order — the producer tick's input.
func (s *Store) EventAggregatesAfter(channelID string, afterCursor func(sentry.EventAggregate) bool) ([]sentry.EventAggregate, error) {
	prefix := []byte("aggr/" + channelID + "/")

	iter := s.db.NewIterator(leveldbRange(prefix), nil)
	defer iter.Release()

	var out []sentry.EventAggregate
	for iter.Next() {
		var agg sentry.EventAggregate
		if err := json.Unmarshal(iter.Value(), &agg); err != nil {
			return nil, errors.Wrap(err, "store: decode aggregate")
		}
		if afterCursor == nil || afterCursor(agg) {
			out = append(out, agg)
		}
	}

	return out, nil
}
