package visibility

import (
	"context"
	"log/slog"

	"github.com/gatehouse-app/gatehouse/internal/directory"
)

// Publisher announces confirmed visibility mutations to every instance.
type Publisher interface {
	VisibilityChanged(ctx context.Context, pageID int64, visible bool) error
}

// Service performs admin-side visibility toggles. The directory write comes
// first; the change is published and the local cache refreshed only once the
// write is confirmed.
type Service struct {
	directory directory.Store
	store     *Store
	bus       Publisher
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(dir directory.Store, store *Store, bus Publisher, logger *slog.Logger) *Service {
	return &Service{directory: dir, store: store, bus: bus, logger: logger}
}

// SetVisibility flips one page's visibility flag.
func (s *Service) SetVisibility(ctx context.Context, pageID int64, visible bool) error {
	if err := s.directory.UpdatePageVisibility(ctx, pageID, visible); err != nil {
		return err
	}
	if err := s.store.Refresh(ctx); err != nil && s.logger != nil {
		s.logger.Warn("local refresh after visibility write", slog.Any("error", err))
	}
	if s.bus != nil {
		if err := s.bus.VisibilityChanged(ctx, pageID, visible); err != nil && s.logger != nil {
			s.logger.Warn("publish visibility change",
				slog.Int64("page_id", pageID),
				slog.Any("error", err))
		}
	}
	return nil
}

// Pages lists the cached pages.
func (s *Service) Pages() []directory.Page {
	return s.store.Pages()
}
