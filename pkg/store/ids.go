package store

import "fmt"

// ChunkID is the vector id of chunk i of a corpus document.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s_%d", docID, i)
}

// UserChunkID is the vector id of chunk i of a user-private document.
func UserChunkID(docID string, i int) string {
	return fmt.Sprintf("user_%s_%d", docID, i)
}

// ChunkIDs returns the ids of chunks [0, n).
func ChunkIDs(docID string, n int) []string {
	return idRange(docID, 0, n, ChunkID)
}

func UserChunkIDs(docID string, n int) []string {
	return idRange(docID, 0, n, UserChunkID)
}

// ChunkIDRange returns the ids of chunks [from, to).
func ChunkIDRange(docID string, from, to int) []string {
	return idRange(docID, from, to, ChunkID)
}

func idRange(docID string, from, to int, id func(string, int) string) []string {
	if to <= from {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, id(docID, i))
	}
	return ids
}
