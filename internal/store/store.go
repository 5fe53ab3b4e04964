package store

import "github.com/voicebridge/voicebridge/internal/models"

// RecordStore defines the interface for idea record persistence.
// Consumers should depend on this interface rather than the concrete *Store
// type to facilitate testing with fakes.
type RecordStore interface {
	Create(idea *models.Idea) error
	Get(id string) (*models.Idea, error)
	List(f Filter) ([]models.Idea, error)
	Update(id string, mutate func(*models.Idea) error) (*models.Idea, error)
	Delete(id string) error
	FindUnsynced() ([]models.Idea, error)
	Count() (int, error)
	ResolveAudio(id string) (string, error)
	Close() error
}

// Verify *Store satisfies RecordStore at compile time.
var _ RecordStore = (*Store)(nil)
