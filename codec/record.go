package codec

import (
	"fmt"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/arloliu/backsync/types"
)

// formatVersion is written as the first field of every persisted value.
const formatVersion = 1

// Field names of the MessagePack maps.
const (
	fieldVersion  = "v"
	fieldRequest  = "request"
	fieldConfig   = "config"
	fieldMetadata = "metadata"
	fieldResponse = "response"
	fieldURL      = "url"
	fieldMethod   = "method"
	fieldMode     = "mode"
	fieldRedirect = "redirect"
	fieldHeaders  = "headers"
	fieldBody     = "body"
	fieldStatus   = "status"
	fieldMaxAge   = "max_age"
	fieldCreated  = "created_at"
	fieldIDs      = "ids"
	fieldSeq      = "seq"
	fieldNames    = "names"
)

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrCorruptRecord, what, err)
}

// MarshalRecord encodes an entry record.
func MarshalRecord(rec *types.EntryRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("backsync: marshal nil record")
	}

	b := make([]byte, 0, 256+len(rec.Request.Body))
	b = msgp.AppendMapHeader(b, 5)
	b = msgp.AppendString(b, fieldVersion)
	b = msgp.AppendInt(b, formatVersion)

	b = msgp.AppendString(b, fieldRequest)
	b = appendRequest(b, &rec.Request)

	b = msgp.AppendString(b, fieldConfig)
	b = msgp.AppendMapHeader(b, 1)
	b = msgp.AppendString(b, fieldMaxAge)
	b = msgp.AppendInt64(b, int64(rec.Config.MaxAge))

	b = msgp.AppendString(b, fieldMetadata)
	b = msgp.AppendMapHeader(b, 1)
	b = msgp.AppendString(b, fieldCreated)
	b = msgp.AppendTime(b, rec.Metadata.CreatedAt)

	b = msgp.AppendString(b, fieldResponse)
	if rec.Response == nil {
		b = msgp.AppendNil(b)
	} else {
		b = appendResponse(b, rec.Response)
	}

	return b, nil
}

// UnmarshalRecord decodes an entry record. Any decode failure, including an
// unsupported format version, is reported as types.ErrCorruptRecord.
func UnmarshalRecord(data []byte) (*types.EntryRecord, error) {
	rec := &types.EntryRecord{}

	err := readMap(data, "record", func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case fieldRequest:
			b, err = readRequest(b, &rec.Request)
		case fieldConfig:
			b, err = readMapBytes(b, "config", func(key string, b []byte) ([]byte, error) {
				if key != fieldMaxAge {
					return msgp.Skip(b)
				}
				var d int64
				d, b, err = msgp.ReadInt64Bytes(b)
				rec.Config.MaxAge = time.Duration(d)

				return b, err
			})
		case fieldMetadata:
			b, err = readMapBytes(b, "metadata", func(key string, b []byte) ([]byte, error) {
				if key != fieldCreated {
					return msgp.Skip(b)
				}
				var t time.Time
				t, b, err = msgp.ReadTimeBytes(b)
				rec.Metadata.CreatedAt = t.UTC()

				return b, err
			})
		case fieldResponse:
			if msgp.IsNil(b) {
				b, err = msgp.ReadNilBytes(b)
				break
			}
			resp := &types.ResponseSnapshot{}
			b, err = readResponse(b, resp)
			rec.Response = resp
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// MarshalQueueState encodes a queue's order list and sequence.
func MarshalQueueState(state *types.QueueState) ([]byte, error) {
	if state == nil {
		state = &types.QueueState{}
	}

	b := make([]byte, 0, 16+64*len(state.IDs))
	b = msgp.AppendMapHeader(b, 3)
	b = msgp.AppendString(b, fieldVersion)
	b = msgp.AppendInt(b, formatVersion)
	b = msgp.AppendString(b, fieldIDs)
	b = msgp.AppendArrayHeader(b, uint32(len(state.IDs))) //nolint:gosec // bounded by queue size
	for _, id := range state.IDs {
		b = msgp.AppendString(b, string(id))
	}
	b = msgp.AppendString(b, fieldSeq)
	b = msgp.AppendUint64(b, state.Seq)

	return b, nil
}

// UnmarshalQueueState decodes a queue state.
func UnmarshalQueueState(data []byte) (*types.QueueState, error) {
	state := &types.QueueState{}

	err := readMap(data, "queue state", func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case fieldIDs:
			var ids []string
			ids, b, err = readStrings(b)
			state.IDs = make([]types.EntryID, len(ids))
			for i, id := range ids {
				state.IDs[i] = types.EntryID(id)
			}
		case fieldSeq:
			state.Seq, b, err = msgp.ReadUint64Bytes(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// MarshalNames encodes the registry name list.
func MarshalNames(names []string) ([]byte, error) {
	b := make([]byte, 0, 16+32*len(names))
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, fieldVersion)
	b = msgp.AppendInt(b, formatVersion)
	b = msgp.AppendString(b, fieldNames)
	b = appendStrings(b, names)

	return b, nil
}

// UnmarshalNames decodes the registry name list.
func UnmarshalNames(data []byte) ([]string, error) {
	var names []string

	err := readMap(data, "names", func(key string, b []byte) ([]byte, error) {
		if key != fieldNames {
			return msgp.Skip(b)
		}
		var err error
		names, b, err = readStrings(b)

		return b, err
	})
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}

	return names, nil
}

// readMap walks a top-level or nested map, checking the version field when
// present and handing every other key to fn.
func readMap(b []byte, what string, fn func(key string, b []byte) ([]byte, error)) error {
	_, err := readMapBytes(b, what, fn)

	return err
}

func readMapBytes(b []byte, what string, fn func(key string, b []byte) ([]byte, error)) ([]byte, error) {
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, corrupt(what, err)
	}

	for range sz {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return nil, corrupt(what, err)
		}

		if string(key) == fieldVersion {
			var v int
			v, b, err = msgp.ReadIntBytes(b)
			if err != nil {
				return nil, corrupt(what, err)
			}
			if v != formatVersion {
				return nil, corrupt(what, fmt.Errorf("unsupported format version %d", v))
			}

			continue
		}

		b, err = fn(string(key), b)
		if err != nil {
			return nil, corrupt(what+"."+string(key), err)
		}
	}

	return b, nil
}

func appendRequest(b []byte, s *types.RequestSnapshot) []byte {
	b = msgp.AppendMapHeader(b, 6)
	b = msgp.AppendString(b, fieldURL)
	b = msgp.AppendString(b, s.URL)
	b = msgp.AppendString(b, fieldMethod)
	b = msgp.AppendString(b, s.Method)
	b = msgp.AppendString(b, fieldMode)
	b = msgp.AppendString(b, s.Mode)
	b = msgp.AppendString(b, fieldRedirect)
	b = msgp.AppendString(b, s.Redirect)
	b = msgp.AppendString(b, fieldHeaders)
	b = appendHeaders(b, s.Headers)
	b = msgp.AppendString(b, fieldBody)
	b = appendBody(b, s.Body)

	return b
}

func readRequest(b []byte, s *types.RequestSnapshot) ([]byte, error) {
	return readMapBytes(b, "request", func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case fieldURL:
			s.URL, b, err = msgp.ReadStringBytes(b)
		case fieldMethod:
			s.Method, b, err = msgp.ReadStringBytes(b)
		case fieldMode:
			s.Mode, b, err = msgp.ReadStringBytes(b)
		case fieldRedirect:
			s.Redirect, b, err = msgp.ReadStringBytes(b)
		case fieldHeaders:
			s.Headers, b, err = readHeaders(b)
		case fieldBody:
			s.Body, b, err = readBody(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})
}

func appendResponse(b []byte, s *types.ResponseSnapshot) []byte {
	b = msgp.AppendMapHeader(b, 3)
	b = msgp.AppendString(b, fieldStatus)
	b = msgp.AppendInt(b, s.Status)
	b = msgp.AppendString(b, fieldHeaders)
	b = appendHeaders(b, s.Headers)
	b = msgp.AppendString(b, fieldBody)
	b = appendBody(b, s.Body)

	return b
}

func readResponse(b []byte, s *types.ResponseSnapshot) ([]byte, error) {
	return readMapBytes(b, "response", func(key string, b []byte) ([]byte, error) {
		var err error
		switch key {
		case fieldStatus:
			s.Status, b, err = msgp.ReadIntBytes(b)
		case fieldHeaders:
			s.Headers, b, err = readHeaders(b)
		case fieldBody:
			s.Body, b, err = readBody(b)
		default:
			b, err = msgp.Skip(b)
		}

		return b, err
	})
}

// appendHeaders writes headers as an array of [name, value] arrays.
func appendHeaders(b []byte, headers []types.HeaderPair) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(headers))) //nolint:gosec // header count
	for _, h := range headers {
		b = msgp.AppendArrayHeader(b, 2)
		b = msgp.AppendString(b, h.Name)
		b = msgp.AppendString(b, h.Value)
	}

	return b
}

func readHeaders(b []byte) ([]types.HeaderPair, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, nil, err
	}
	if sz == 0 {
		return nil, b, nil
	}

	headers := make([]types.HeaderPair, 0, sz)
	for range sz {
		var n uint32
		n, b, err = msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return nil, nil, err
		}
		if n != 2 {
			return nil, nil, fmt.Errorf("header pair has %d elements", n)
		}

		var h types.HeaderPair
		if h.Name, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, nil, err
		}
		if h.Value, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, nil, err
		}
		headers = append(headers, h)
	}

	return headers, b, nil
}

// appendBody writes nil as MessagePack nil so "no body" and "empty body"
// stay distinct.
func appendBody(b []byte, body []byte) []byte {
	if body == nil {
		return msgp.AppendNil(b)
	}

	return msgp.AppendBytes(b, body)
}

func readBody(b []byte) ([]byte, []byte, error) {
	if msgp.IsNil(b) {
		o, err := msgp.ReadNilBytes(b)

		return nil, o, err
	}

	body, o, err := msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return nil, nil, err
	}
	if body == nil {
		body = []byte{}
	}

	return body, o, nil
}

func appendStrings(b []byte, ss []string) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(ss))) //nolint:gosec // bounded by caller
	for _, s := range ss {
		b = msgp.AppendString(b, s)
	}

	return b
}

func readStrings(b []byte) ([]string, []byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, nil, err
	}

	out := make([]string, 0, sz)
	for range sz {
		var s string
		s, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, s)
	}

	return out, b, nil
}
