package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"pixbin/internal/auth"
	"pixbin/internal/cache"
	"pixbin/internal/models"
	"pixbin/internal/queue"
	"pixbin/internal/repository"
	"pixbin/internal/storage"
)

type fakeImages struct {
	mu        sync.Mutex
	records   map[string]models.Image
	existsErr error
	// createErrs are returned by successive Create calls before falling
	// back to success.
	createErrs []error
	creates    int
	// beforeCreate runs inside Create ahead of everything else.
	beforeCreate func(records map[string]models.Image)
	pathErr      error
	listErr    error
	deleteErr  error
	getErr     error
}

func newFakeImages(records ...models.Image) *fakeImages {
	f := &fakeImages{records: map[string]models.Image{}}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeImages) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.records[id]
	return ok, nil
}

func (f *fakeImages) ExistsByStoragePath(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pathErr != nil {
		return false, f.pathErr
	}
	for _, r := range f.records {
		if r.StoragePath == path {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeImages) Create(_ context.Context, image models.Image) (models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.beforeCreate != nil {
		f.beforeCreate(f.records)
	}
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return models.Image{}, err
	}
	if _, ok := f.records[image.ID]; ok {
		return models.Image{}, repository.ErrDuplicateID
	}
	image.CreatedAt = time.Now().UTC()
	f.records[image.ID] = image
	return image, nil
}

func (f *fakeImages) GetByID(_ context.Context, id string) (models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return models.Image{}, f.getErr
	}
	image, ok := f.records[id]
	if !ok {
		return models.Image{}, repository.ErrImageNotFound
	}
	return image, nil
}

func (f *fakeImages) List(context.Context) ([]models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Image, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeImages) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.records[id]; !ok {
		return repository.ErrImageNotFound
	}
	delete(f.records, id)
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	getErr    error
	removeErr error
	puts      []string
	removes   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) PutNew(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	if f.putErr != nil {
		return f.putErr
	}
	if _, ok := f.objects[key]; ok {
		return storage.ErrObjectExists
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, 0, f.getErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, 0, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (f *fakeStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, key)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

type fakeQueue struct {
	tasks []queue.Task
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, task queue.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeProvider struct {
	profile     auth.Profile
	exchangeErr error
}

func (f *fakeProvider) Name() string { return "google" }

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (auth.Profile, error) {
	if f.exchangeErr != nil {
		return auth.Profile{}, f.exchangeErr
	}
	return f.profile, nil
}

type fakeUsers struct {
	byID map[string]models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]models.User{}}
}

func (f *fakeUsers) Upsert(_ context.Context, user models.User) (models.User, error) {
	for id, existing := range f.byID {
		if existing.Provider == user.Provider && existing.Subject == user.Subject {
			user.ID = id
			user.CreatedAt = existing.CreatedAt
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = time.Now()
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (models.User, error) {
	user, ok := f.byID[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

type fakeSessions struct {
	byID    map[string]models.Session
	touches int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: map[string]models.Session{}}
}

func (f *fakeSessions) Create(_ context.Context, session models.Session) error {
	session.CreatedAt = time.Now()
	session.LastSeenAt = session.CreatedAt
	f.byID[session.ID] = session
	return nil
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (models.Session, error) {
	session, ok := f.byID[id]
	if !ok {
		return models.Session{}, repository.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeSessions) Touch(_ context.Context, id string, _ string, _ string) error {
	f.touches++
	return nil
}

func (f *fakeSessions) DeleteByID(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeStates struct {
	values map[string]string
}

func newFakeStates() *fakeStates {
	return &fakeStates{values: map[string]string{}}
}

func (f *fakeStates) Save(_ context.Context, state string, next string, _ time.Duration) error {
	f.values[state] = next
	return nil
}

func (f *fakeStates) Take(_ context.Context, state string) (string, error) {
	next, ok := f.values[state]
	if !ok {
		return "", cache.ErrStateNotFound
	}
	delete(f.values, state)
	return next, nil
}

// sequence returns a Source that yields ids in order, then repeats the
// last one.
func sequence(values ...string) func() string {
	i := 0
	return func() string {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}
