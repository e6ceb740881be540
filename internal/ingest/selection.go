package ingest

import (
	"errors"
	"sync"

	"github.com/jun/docpick/internal/model"
)

var (
	ErrEmptySelection     = errors.New("no document source selected")
	ErrAmbiguousSelection = errors.New("more than one document source selected")
)

// Selection holds every candidate source a user has picked so far.
type Selection struct {
	File   *model.LocalFile       `json:"file,omitempty"`
	Image  *model.LocalFile       `json:"image,omitempty"`
	Link   *string                `json:"link,omitempty"`
	Remote *model.RemoteSelection `json:"remote,omitempty"`
}

func (s Selection) empty() bool {
	return s.File == nil && s.Image == nil && s.Link == nil && s.Remote == nil
}

// Intent turns the selection into an UploadIntent. Exactly one source must
// be populated; which one is never guessed.
func (s Selection) Intent(docType model.DocumentType, title string) (model.UploadIntent, error) {
	var intents []model.UploadIntent
	if s.File != nil {
		intents = append(intents, model.UploadIntent{SourceKind: model.DirectUpload, Local: s.File})
	}
	if s.Image != nil {
		intents = append(intents, model.UploadIntent{SourceKind: model.ImageUpload, Local: s.Image})
	}
	if s.Link != nil {
		intents = append(intents, model.UploadIntent{SourceKind: model.LinkInput, Link: s.Link})
	}
	if s.Remote != nil {
		kind, ok := model.RemoteKind(s.Remote.Provider)
		if !ok {
			return model.UploadIntent{}, invalid(RuleIntent, "%s is not a file source", s.Remote.Provider)
		}
		intents = append(intents, model.UploadIntent{SourceKind: kind, Remote: s.Remote})
	}
	switch len(intents) {
	case 0:
		return model.UploadIntent{}, ErrEmptySelection
	case 1:
	default:
		return model.UploadIntent{}, ErrAmbiguousSelection
	}
	in := intents[0]
	in.DocumentType = docType
	in.Title = title
	return in, nil
}

// Selections keeps per-user selection state in process memory.
type Selections struct {
	mu    sync.Mutex
	users map[string]Selection
}

func NewSelections() *Selections {
	return &Selections{users: make(map[string]Selection)}
}

// Update applies fn to userID's selection.
func (s *Selections) Update(userID string, fn func(*Selection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.users[userID]
	fn(&sel)
	if sel.empty() {
		delete(s.users, userID)
		return
	}
	s.users[userID] = sel
}

// SetRemote records a file picked in a browse session.
func (s *Selections) SetRemote(userID string, r model.RemoteSelection) {
	s.Update(userID, func(sel *Selection) { sel.Remote = &r })
}

// Get returns a copy of userID's selection.
func (s *Selections) Get(userID string) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID]
}

// Clear forgets userID's selection.
func (s *Selections) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

// Intent builds userID's UploadIntent.
func (s *Selections) Intent(userID string, docType model.DocumentType, title string) (model.UploadIntent, error) {
	return s.Get(userID).Intent(docType, title)
}
