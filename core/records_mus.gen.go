package core

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

var IDMUS = idMUS{}

type idMUS struct{}

func (s idMUS) Marshal(v ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (s idMUS) Unmarshal(bs []byte) (v ID, n int, err error) {
	tmp, n, err := varint.Uint64.Unmarshal(bs)
	return ID(tmp), n, err
}

func (s idMUS) Size(v ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

func (s idMUS) Skip(bs []byte) (n int, err error) {
	return varint.Uint64.Skip(bs)
}

var DocumentMUS = documentMUS{}

type documentMUS struct{}

func (s documentMUS) Marshal(v Document, bs []byte) (n int) {
	n = ord.String.Marshal(v.ID, bs)
	n += ord.String.Marshal(v.SourceName, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += stringMapMUS.Marshal(v.Metadata, bs[n:])
	n += varint.Uint64.Marshal(v.Seq, bs[n:])
	return n + timeMicroMUS.Marshal(v.IngestedAt, bs[n:])
}

func (s documentMUS) Unmarshal(bs []byte) (v Document, n int, err error) {
	v.ID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.SourceName, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Text, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Metadata, n1, err = stringMapMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Seq, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.IngestedAt, n1, err = timeMicroMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (s documentMUS) Size(v Document) (size int) {
	size = ord.String.Size(v.ID)
	size += ord.String.Size(v.SourceName)
	size += ord.String.Size(v.Text)
	size += stringMapMUS.Size(v.Metadata)
	size += varint.Uint64.Size(v.Seq)
	return size + timeMicroMUS.Size(v.IngestedAt)
}

func (s documentMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

var IndexedEntryMUS = indexedEntryMUS{}

type indexedEntryMUS struct{}

func (s indexedEntryMUS) Marshal(v IndexedEntry, bs []byte) (n int) {
	n = ord.String.Marshal(v.ChunkID, bs)
	n += ord.String.Marshal(v.DocumentID, bs[n:])
	n += ord.String.Marshal(v.SourceName, bs[n:])
	n += varint.Int64.Marshal(int64(v.Sequence), bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += varint.Int64.Marshal(int64(v.Start), bs[n:])
	n += varint.Int64.Marshal(int64(v.End), bs[n:])
	n += float32SliceMUS.Marshal(v.Vector, bs[n:])
	return n + varint.Uint64.Marshal(v.Order, bs[n:])
}

func (s indexedEntryMUS) Unmarshal(bs []byte) (v IndexedEntry, n int, err error) {
	v.ChunkID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.DocumentID, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.SourceName, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var tmp int64
	tmp, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Sequence = int(tmp)
	v.Text, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	tmp, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Start = int(tmp)
	tmp, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.End = int(tmp)
	v.Vector, n1, err = float32SliceMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Order, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	return
}

func (s indexedEntryMUS) Size(v IndexedEntry) (size int) {
	size = ord.String.Size(v.ChunkID)
	size += ord.String.Size(v.DocumentID)
	size += ord.String.Size(v.SourceName)
	size += varint.Int64.Size(int64(v.Sequence))
	size += ord.String.Size(v.Text)
	size += varint.Int64.Size(int64(v.Start))
	size += varint.Int64.Size(int64(v.End))
	size += float32SliceMUS.Size(v.Vector)
	return size + varint.Uint64.Size(v.Order)
}

func (s indexedEntryMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

var IndexMetaMUS = indexMetaMUS{}

type indexMetaMUS struct{}

func (s indexMetaMUS) Marshal(v IndexMeta, bs []byte) (n int) {
	n = varint.Int64.Marshal(int64(v.Dimension), bs)
	return n + timeMicroMUS.Marshal(v.UpdatedAt, bs[n:])
}

func (s indexMetaMUS) Unmarshal(bs []byte) (v IndexMeta, n int, err error) {
	var tmp int64
	tmp, n, err = varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	v.Dimension = int(tmp)
	var n1 int
	v.UpdatedAt, n1, err = timeMicroMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (s indexMetaMUS) Size(v IndexMeta) (size int) {
	return varint.Int64.Size(int64(v.Dimension)) + timeMicroMUS.Size(v.UpdatedAt)
}

func (s indexMetaMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// Shared field serializers.

var (
	stringMapMUS    = stringMapSer{}
	float32SliceMUS = float32SliceSer{}
	timeMicroMUS    = timeMicroSer{}
)

type stringMapSer struct{}

func (s stringMapSer) Marshal(v map[string]string, bs []byte) (n int) {
	n = varint.Int64.Marshal(int64(len(v)), bs)
	for k, val := range v {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(val, bs[n:])
	}
	return
}

func (s stringMapSer) Unmarshal(bs []byte) (v map[string]string, n int, err error) {
	length, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	// Every pair needs at least two length bytes.
	if length < 0 || length > int64(len(bs)-n)/2 {
		err = fmt.Errorf("%w: map length %d", ErrMalformedRecord, length)
		return
	}
	if length == 0 {
		return
	}
	v = make(map[string]string, length)
	var n1 int
	var key, val string
	for range length {
		key, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
		val, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
		v[key] = val
	}
	return
}

func (s stringMapSer) Size(v map[string]string) (size int) {
	size = varint.Int64.Size(int64(len(v)))
	for k, val := range v {
		size += ord.String.Size(k) + ord.String.Size(val)
	}
	return
}

type float32SliceSer struct{}

func (s float32SliceSer) Marshal(v []float32, bs []byte) (n int) {
	n = varint.Int64.Marshal(int64(len(v)), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return
}

func (s float32SliceSer) Unmarshal(bs []byte) (v []float32, n int, err error) {
	length, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return
	}
	if length < 0 || length > int64(len(bs)-n)/4 {
		err = fmt.Errorf("%w: vector length %d", ErrMalformedRecord, length)
		return
	}
	if length == 0 {
		return
	}
	v = make([]float32, length)
	var n1 int
	for i := range v {
		v[i], n1, err = raw.Float32.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (s float32SliceSer) Size(v []float32) (size int) {
	size = varint.Int64.Size(int64(len(v)))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return
}

// timeMicroSer stores times as UTC microseconds. The zero time encodes as 0.
type timeMicroSer struct{}

func (s timeMicroSer) Marshal(v time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(s.micros(v), bs)
}

func (s timeMicroSer) Unmarshal(bs []byte) (v time.Time, n int, err error) {
	us, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || us == 0 {
		return
	}
	v = time.UnixMicro(us).UTC()
	return
}

func (s timeMicroSer) Size(v time.Time) (size int) {
	return varint.Int64.Size(s.micros(v))
}

func (s timeMicroSer) micros(v time.Time) int64 {
	if v.IsZero() {
		return 0
	}
	return v.UnixMicro()
}
