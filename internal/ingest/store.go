package ingest

// fileRecord is a file's state together with the raw bytes it was uploaded
// with. Data is read-only once stored.
type fileRecord struct {
	state FileState
	data  []byte
}

// Store holds file records for the Repository. It is not safe for
// concurrent use on its own; the Repository serializes access.
type Store interface {
	GetFile(id FileID) (*fileRecord, bool)
	SetFile(rec *fileRecord)
	DeleteFile(id FileID)
	ListFileIDs() []FileID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	files map[FileID]*fileRecord
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{files: make(map[FileID]*fileRecord)}
}

// GetFile implements Store.GetFile.
func (s *InMemoryStore) GetFile(id FileID) (*fileRecord, bool) {
	rec, ok := s.files[id]
	return rec, ok
}

// SetFile implements Store.SetFile.
func (s *InMemoryStore) SetFile(rec *fileRecord) {
	s.files[rec.state.ID] = rec
}

// DeleteFile implements Store.DeleteFile.
func (s *InMemoryStore) DeleteFile(id FileID) {
	delete(s.files, id)
}

// ListFileIDs implements Store.ListFileIDs.
func (s *InMemoryStore) ListFileIDs() []FileID {
	ids := make([]FileID, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	return ids
}
