package badger

import (
	"encoding/binary"
)

// Key prefixes for different data types
const (
	documentPrefix    = "docrec"
	documentSeqPrefix = "docseq"
	documentIDSeq     = "docrecseq"
	indexEntryPrefix  = "idxent"
	indexMetaPrefix   = "idxmeta"
)

var (
	indexMetaKey      = []byte(indexMetaPrefix + ":dim")
	rebuildMarkerKey  = []byte(indexMetaPrefix + ":rebuilding")
	indexEntryKeyBase = []byte(indexEntryPrefix + ":")
	documentKeyBase   = []byte(documentPrefix + ":")
	documentSeqBase   = []byte(documentSeqPrefix + ":")
)

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id string) []byte {
	return append(append([]byte{}, documentKeyBase...), id...)
}

// makeDocumentSeqKey generates a key for the ingestion order index.
// Format: prefix:seq
func makeDocumentSeqKey(seq uint64) []byte {
	buf := make([]byte, len(documentSeqBase)+8)
	offset := copy(buf, documentSeqBase)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makeEntryKey generates a key for an index entry by chunk ID.
func makeEntryKey(chunkID string) []byte {
	return append(append([]byte{}, indexEntryKeyBase...), chunkID...)
}

// chunkIDFromEntryKey recovers the chunk ID from an index entry key.
func chunkIDFromEntryKey(key []byte) string {
	return string(key[len(indexEntryKeyBase):])
}
