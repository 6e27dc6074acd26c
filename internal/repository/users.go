package repository

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/minutron/minutron/internal/common"
)

// User is a registered operator, keyed by QLID in the registry.
type User struct {
	TelegramID int64  `json:"telegram_id"`
	City       string `json:"cidade"`
	Carrier    string `json:"transportadora,omitempty"`
	Blocked    bool   `json:"blocked"`
}

// UserRepository stores operator registrations.
type UserRepository interface {
	Get(ctx context.Context, qlid string) (User, error)
	FindByChatID(ctx context.Context, chatID int64) (string, User, error)
	Upsert(ctx context.Context, qlid string, u User) error
	SetCarrier(ctx context.Context, qlid, carrier string) error
	SetBlocked(ctx context.Context, qlid string, blocked bool) error
	Delete(ctx context.Context, qlid string) error
	List(ctx context.Context) ([]string, map[string]User, error)
}

type userRepo struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewUserRepository keeps the registry in <dataDir>/users.json.
func NewUserRepository(dataDir string, logger *slog.Logger) UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &userRepo{path: filepath.Join(dataDir, "users.json"), logger: logger}
}

func (r *userRepo) load() (map[string]User, error) {
	users := map[string]User{}
	if err := readJSON(r.path, &users); err != nil {
		r.logger.Error("failed to load user registry", "path", r.path, "error", err)
		return nil, err
	}
	// a file holding "null" decodes to a nil map
	if users == nil {
		users = map[string]User{}
	}
	return users, nil
}

func (r *userRepo) Get(_ context.Context, qlid string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.load()
	if err != nil {
		return User{}, err
	}
	u, ok := users[qlid]
	if !ok {
		return User{}, common.ErrNotFound
	}
	return u, nil
}

func (r *userRepo) FindByChatID(_ context.Context, chatID int64) (string, User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.load()
	if err != nil {
		return "", User{}, err
	}
	for qlid, u := range users {
		if u.TelegramID == chatID {
			return qlid, u, nil
		}
	}
	return "", User{}, common.ErrNotFound
}

func (r *userRepo) Upsert(_ context.Context, qlid string, u User) error {
	qlid = strings.ToUpper(strings.TrimSpace(qlid))
	if err := common.NewValidator().
		Field("qlid", qlid, common.QLID).
		Field("cidade", u.City, common.City).
		Error(); err != nil {
		return err
	}
	return r.mutate(func(users map[string]User) error {
		users[qlid] = u
		return nil
	})
}

func (r *userRepo) SetCarrier(_ context.Context, qlid, carrier string) error {
	return r.update(qlid, func(u *User) { u.Carrier = strings.ToUpper(strings.TrimSpace(carrier)) })
}

func (r *userRepo) SetBlocked(_ context.Context, qlid string, blocked bool) error {
	return r.update(qlid, func(u *User) { u.Blocked = blocked })
}

func (r *userRepo) Delete(_ context.Context, qlid string) error {
	return r.mutate(func(users map[string]User) error {
		if _, ok := users[qlid]; !ok {
			return common.ErrNotFound
		}
		delete(users, qlid)
		return nil
	})
}

// List returns the QLIDs in sorted order alongside the records.
func (r *userRepo) List(_ context.Context) ([]string, map[string]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.load()
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, users, nil
}

func (r *userRepo) update(qlid string, fn func(*User)) error {
	return r.mutate(func(users map[string]User) error {
		u, ok := users[qlid]
		if !ok {
			return common.ErrNotFound
		}
		fn(&u)
		users[qlid] = u
		return nil
	})
}

func (r *userRepo) mutate(fn func(map[string]User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(users); err != nil {
		return err
	}
	if err := writeJSON(r.path, users); err != nil {
		r.logger.Error("failed to save user registry", "path", r.path, "error", err)
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}
