package cropstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"scanstation/internal/logging"
	"scanstation/internal/services"
	"scanstation/internal/workflow"
)

// KV is the persistence collaborator. Implementations must commit Set before
// returning.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Rect is a crop rectangle plus the native image dimensions it was drawn against.
type Rect struct {
	Left         int `json:"left"`
	Top          int `json:"top"`
	Width        int `json:"width"`
	Height       int `json:"height"`
	NativeWidth  int `json:"nativeWidth"`
	NativeHeight int `json:"nativeHeight"`
}

// Validate rejects rectangles that cannot be applied to their native image.
func (r Rect) Validate() error {
	switch {
	case r.Width <= 0 || r.Height <= 0:
		return services.Wrap(services.ErrValidation, "cropstore", "validate", "width and height must be positive", nil)
	case r.Left < 0 || r.Top < 0:
		return services.Wrap(services.ErrValidation, "cropstore", "validate", "left and top must not be negative", nil)
	case r.NativeWidth <= 0 || r.NativeHeight <= 0:
		return services.Wrap(services.ErrValidation, "cropstore", "validate", "native dimensions must be positive", nil)
	case r.Left+r.Width > r.NativeWidth || r.Top+r.Height > r.NativeHeight:
		return services.Wrap(services.ErrValidation, "cropstore", "validate",
			fmt.Sprintf("rectangle exceeds native image %dx%d", r.NativeWidth, r.NativeHeight), nil)
	}
	return nil
}

// Params maps parity to its rectangle.
type Params map[workflow.Parity]Rect

// Key returns the storage key for a session.
func Key(sessionID string) string {
	return "crop-params." + sessionID
}

// Store is the single source of truth for a session's crop rectangles.
type Store struct {
	mu         sync.Mutex
	kv         KV
	key        string
	params     Params
	serialized string
	logger     *slog.Logger
}

// Load reads the persisted parameters for sessionID. It never fails: missing,
// unreadable, or corrupt records yield an empty store.
func Load(ctx context.Context, kv KV, sessionID string, logger *slog.Logger) *Store {
	s := &Store{
		kv:     kv,
		key:    Key(sessionID),
		params: Params{},
		logger: logging.NewComponentLogger(logger, "cropstore"),
	}
	raw, ok, err := kv.Get(ctx, s.key)
	if err != nil {
		logging.WarnWithContext(s.logger, "crop parameters unreadable", "crop_params_load_failed",
			logging.String("key", s.key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "session starts without crop parameters"),
		)
		return s
	}
	if !ok {
		return s
	}
	s.serialized = raw
	var decoded Params
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		logging.WarnWithContext(s.logger, "crop parameters corrupt", "crop_params_corrupt",
			logging.String("key", s.key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "session starts without crop parameters"),
		)
		return s
	}
	for parity, rect := range decoded {
		if parity != workflow.ParityOdd && parity != workflow.ParityEven {
			continue
		}
		s.params[parity] = rect
	}
	return s
}

// Set merges rect under parity and persists the full mapping when its
// serialized form differs from what is stored. It reports whether a write happened.
func (s *Store) Set(ctx context.Context, parity workflow.Parity, rect Rect) (bool, error) {
	if parity != workflow.ParityOdd && parity != workflow.ParityEven {
		return false, services.Wrap(services.ErrValidation, "cropstore", "set", fmt.Sprintf("unknown parity %q", parity), nil)
	}
	if err := rect.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(Params, len(s.params)+1)
	for k, v := range s.params {
		next[k] = v
	}
	next[parity] = rect
	return s.writeLocked(ctx, next)
}

// Get returns the rectangle for parity.
func (s *Store) Get(parity workflow.Parity) (Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rect, ok := s.params[parity]
	return rect, ok
}

// Params returns a copy of the current mapping.
func (s *Store) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Params, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Empty reports whether no rectangle is configured.
func (s *Store) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.params) == 0
}

// Flush writes the in-memory mapping if it differs from storage.
func (s *Store) Flush(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx, s.params)
}

// Clear removes every rectangle for the session.
func (s *Store) Clear(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx, Params{})
}

func (s *Store) writeLocked(ctx context.Context, next Params) (bool, error) {
	// encoding/json sorts map keys, so equal mappings serialize identically.
	encoded, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encode crop parameters: %w", err)
	}
	if string(encoded) == s.serialized {
		s.params = next
		return false, nil
	}
	if err := s.kv.Set(ctx, s.key, string(encoded)); err != nil {
		return false, services.Wrap(services.ErrTransient, "cropstore", "persist", s.key, err)
	}
	s.params = next
	s.serialized = string(encoded)
	s.logger.Debug("crop parameters persisted", logging.String("key", s.key), logging.Int("parities", len(next)))
	return true, nil
}
