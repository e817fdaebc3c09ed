package usecase

import (
	"sync"
	"time"

	"github.com/mailmind-app/mailmind/internal/domain"
)

type fakeVectorStore struct {
	mu          sync.Mutex
	count       int
	countErr    error
	ids         []string
	hits        []domain.SearchHit
	queryErr    error
	upserted    [][]domain.ChunkPoint
	ensured     map[string]int
	queryN      int
	queryCalled int
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{ensured: make(map[string]int)}
}

func (f *fakeVectorStore) EnsureCollection(_ domain.Context, name string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured[name] = dim
	return nil
}

func (f *fakeVectorStore) Count(_ domain.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.countErr
}

func (f *fakeVectorStore) ListIDs(_ domain.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids, nil
}

func (f *fakeVectorStore) Upsert(_ domain.Context, _ string, points []domain.ChunkPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, points)
	f.count += len(points)
	return nil
}

func (f *fakeVectorStore) Query(_ domain.Context, _ string, _ []float32, n int) ([]domain.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalled++
	f.queryN = n
	return f.hits, f.queryErr
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	texts [][]string
	err   error
	dim   int
}

func (f *fakeEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int {
	if f.dim > 0 {
		return f.dim
	}
	return 3
}

type fakeChat struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	messages [][]domain.ChatMessage
}

func (f *fakeChat) Chat(_ domain.Context, messages []domain.ChatMessage, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.messages = append(f.messages, messages)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "ok", nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
	err   error
}

func newFakeUserRepo(users ...domain.User) *fakeUserRepo {
	f := &fakeUserRepo{users: make(map[string]domain.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserRepo) Create(_ domain.Context, u domain.User) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return u.ID, nil
}

func (f *fakeUserRepo) Get(_ domain.Context, id string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.User{}, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByEmail(_ domain.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.EmailAddress == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (f *fakeUserRepo) List(_ domain.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUserRepo) UpdateCredentials(_ domain.Context, id, access, refresh string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.AccessCredential = access
	u.RefreshCredential = refresh
	u.TokenExpiry = expiry
	f.users[id] = u
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	msgs     []domain.Message
	nextID   int64
	listErr  error
	maxDate  time.Time
	maxErr   error
	created  []domain.Message
	existing map[string]bool
}

func (f *fakeMessageRepo) Create(_ domain.Context, m domain.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.msgs {
		if existing.UserID == m.UserID && existing.ProviderMessageID == m.ProviderMessageID {
			return 0, domain.ErrConflict
		}
	}
	f.nextID++
	m.ID = f.nextID
	f.msgs = append(f.msgs, m)
	f.created = append(f.created, m)
	return m.ID, nil
}

func (f *fakeMessageRepo) Get(_ domain.Context, id int64) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Message{}, domain.ErrNotFound
}

func (f *fakeMessageRepo) ExistingProviderIDs(_ domain.Context, userID string, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for _, m := range f.msgs {
		if m.UserID == userID {
			out[m.ProviderMessageID] = true
		}
	}
	for id, ok := range f.existing {
		if ok {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) ListInbox(_ domain.Context, userID string, limit, offset int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.msgs {
		if m.UserID == userID && m.InInbox() {
			out = append(out, m)
		}
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageRepo) ListAll(_ domain.Context, userID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Message
	for _, m := range f.msgs {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) MaxDate(_ domain.Context, _ string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxDate, f.maxErr
}

func (f *fakeMessageRepo) Counts(_ domain.Context, userID string) (domain.MessageCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c domain.MessageCounts
	for _, m := range f.msgs {
		if m.UserID != userID {
			continue
		}
		c.Total++
		if m.IsRead {
			c.Read++
		} else {
			c.Unread++
		}
	}
	return c, nil
}

func (f *fakeMessageRepo) SetRead(_ domain.Context, id int64, read bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.msgs {
		if m.ID == id {
			f.msgs[i].IsRead = read
			return nil
		}
	}
	return domain.ErrNotFound
}

type fetchCall struct {
	after time.Time
	limit int
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMail struct {
	mu       sync.Mutex
	incoming []domain.IncomingMessage
	fetchErr error
	fetches  []fetchCall
	sent     []sentMail
	read     map[string]bool
}

func (f *fakeMail) FetchSince(_ domain.Context, _ domain.User, after time.Time, limit int) ([]domain.IncomingMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, fetchCall{after: after, limit: limit})
	return f.incoming, f.fetchErr
}

func (f *fakeMail) Send(_ domain.Context, _ domain.User, to, subject, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return "sent-1", nil
}

func (f *fakeMail) SetRead(_ domain.Context, _ domain.User, providerMessageID string, read bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.read == nil {
		f.read = make(map[string]bool)
	}
	f.read[providerMessageID] = read
	return nil
}
