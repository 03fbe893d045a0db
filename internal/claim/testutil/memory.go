package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing/iotest"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/repository"
	"github.com/ballggwp/eclaim/internal/shared/storage"
)

// MemoryClaimStore is an in-process claim store with the same status and
// version precondition semantics as repository.ClaimRepository.
type MemoryClaimStore struct {
	mu      sync.Mutex
	claims  map[string]*entity.Claim
	history map[string][]entity.ClaimStatusHistory
}

// NewMemoryClaimStore 创建内存理赔单仓储
func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		claims:  make(map[string]*entity.Claim),
		history: make(map[string][]entity.ClaimStatusHistory),
	}
}

// Put stores c as is, bypassing every check. For fixtures.
func (m *MemoryClaimStore) Put(c *entity.Claim) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[c.ID] = c.Clone()
}

func (m *MemoryClaimStore) FindByID(ctx context.Context, id string) (*entity.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryClaimStore) Create(ctx context.Context, c *entity.Claim, history *entity.ClaimStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.claims {
		if existing.ID == c.ID || existing.DocNum == c.DocNum {
			return repository.ErrConflict
		}
	}
	if c.Version == 0 {
		c.Version = 1
	}
	m.claims[c.ID] = c.Clone()
	if history != nil {
		m.history[c.ID] = append(m.history[c.ID], *history)
	}
	return nil
}

func (m *MemoryClaimStore) List(ctx context.Context, q repository.ClaimQuery) ([]*entity.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Claim
	for _, c := range m.claims {
		if matchQuery(c, q) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func matchQuery(c *entity.Claim, q repository.ClaimQuery) bool {
	if len(q.Statuses) > 0 {
		found := false
		for _, s := range q.Statuses {
			found = found || c.Status == s
		}
		if !found {
			return false
		}
	}
	if q.CreatedByEmail != "" && !strings.EqualFold(c.CreatedByEmail, q.CreatedByEmail) {
		return false
	}
	if q.ApproverID != "" && c.ApproverID != q.ApproverID {
		return false
	}
	if q.CategoryMain != "" && c.CategoryMain != q.CategoryMain {
		return false
	}
	if q.CategorySub != "" && c.CategorySub != q.CategorySub {
		return false
	}
	if len(q.Participant) > 0 {
		found := false
		for _, p := range q.Participant {
			found = found || p == c.CreatedByID || p == c.CreatedByName || p == c.ApproverID
		}
		if !found {
			return false
		}
	}
	if q.SubmittedFrom != nil && (c.SubmittedAt == nil || c.SubmittedAt.Before(*q.SubmittedFrom)) {
		return false
	}
	if q.SubmittedTo != nil && (c.SubmittedAt == nil || !c.SubmittedAt.Before(*q.SubmittedTo)) {
		return false
	}
	return true
}

func (m *MemoryClaimStore) CommitTransition(ctx context.Context, next *entity.Claim, expected entity.Status,
	history *entity.ClaimStatusHistory, added []entity.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.claims[next.ID]
	if !ok || cur.Status != expected || cur.Version != next.Version {
		return repository.ErrConflict
	}
	stored := next.Clone()
	stored.Version++
	// only the transition columns and the added attachments change
	stored.SignerID, stored.SignerEmail, stored.SignerName, stored.SignerPosition = cur.SignerID, cur.SignerEmail, cur.SignerName, cur.SignerPosition
	stored.SignerEdited = cur.SignerEdited
	stored.Attachments = append(append([]entity.Attachment{}, cur.Attachments...), added...)
	m.claims[next.ID] = stored
	m.history[next.ID] = append(m.history[next.ID], *history)
	next.Version = stored.Version
	return nil
}

func (m *MemoryClaimStore) UpdateLocked(ctx context.Context, id string,
	fn func(c *entity.Claim) (map[string]interface{}, error)) (*entity.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.claims[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := cur.Clone()
	changes, err := fn(c)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		c.Version = cur.Version + 1
		m.claims[id] = c.Clone()
		return c, nil
	}
	return cur.Clone(), nil
}

func (m *MemoryClaimStore) AddAttachments(ctx context.Context, claimID string, atts []entity.Attachment, allowed func(entity.Status) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[claimID]
	if !ok {
		return repository.ErrNotFound
	}
	if !allowed(c.Status) {
		return repository.ErrConflict
	}
	c.Attachments = append(c.Attachments, atts...)
	c.Version++
	return nil
}

func (m *MemoryClaimStore) DeleteAttachment(ctx context.Context, claimID, attachmentID string, allowed func(entity.Status) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[claimID]
	if !ok {
		return repository.ErrNotFound
	}
	if !allowed(c.Status) {
		return repository.ErrConflict
	}
	for i, a := range c.Attachments {
		if a.ID == attachmentID {
			c.Attachments = append(c.Attachments[:i:i], c.Attachments[i+1:]...)
			c.Version++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *MemoryClaimStore) History(ctx context.Context, claimID string) ([]entity.ClaimStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.ClaimStatusHistory(nil), m.history[claimID]...), nil
}

func (m *MemoryClaimStore) CountCreatedIn(ctx context.Context, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.claims {
		if c.CreatedAt.Year() == year {
			n++
		}
	}
	return n, nil
}

// MemoryUserStore is an in-process user directory.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

// NewMemoryUserStore 创建内存用户仓储
func NewMemoryUserStore(users ...*entity.User) *MemoryUserStore {
	m := &MemoryUserStore{users: make(map[string]*entity.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MemoryUserStore) FindByID(ctx context.Context, id string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MemoryUserStore) Create(ctx context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryUserStore) UpdatePassword(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *MemoryUserStore) ListActive(ctx context.Context) ([]entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.User
	for _, u := range m.users {
		if u.Active {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameTh < out[j].NameTh })
	return out, nil
}

func (m *MemoryUserStore) Search(ctx context.Context, keyword string, limit int) ([]entity.User, error) {
	all, _ := m.ListActive(ctx)
	kw := strings.ToLower(keyword)
	var out []entity.User
	for _, u := range all {
		hay := strings.ToLower(strings.Join([]string{u.NameTh, u.NameEn, u.Email, u.EmployeeNumber}, " "))
		if strings.Contains(hay, kw) {
			out = append(out, u)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryUserStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

// MemoryStorage keeps objects in a map.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	// FailPut makes every Put return this error.
	FailPut error
	// FailRead makes readers from Open return this error after the content.
	FailRead error
	// Sign is the base of the links URL hands out.
	Sign   string
	signed int
}

// NewMemoryStorage 创建内存文件存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (s *MemoryStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.FailPut != nil {
		return s.FailPut
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	return nil
}

func (s *MemoryStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if s.FailRead != nil {
		return io.NopCloser(io.MultiReader(bytes.NewReader(b), iotest.ErrReader(s.FailRead))), nil
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// URL returns "" like the local adapter unless Sign is set, in which case it
// mimics a presigned link that changes on every call.
func (s *MemoryStorage) URL(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Sign == "" {
		return "", nil
	}
	s.signed++
	return fmt.Sprintf("%s/%s?sig=%d", s.Sign, key, s.signed), nil
}

// Keys lists the stored object keys.
func (s *MemoryStorage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MemoryTokenStore keeps refresh tokens and revoked access tokens in maps.
type MemoryTokenStore struct {
	mu      sync.Mutex
	refresh map[string]string
	revoked map[string]bool
}

// NewMemoryTokenStore 创建内存令牌存储
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{refresh: make(map[string]string), revoked: make(map[string]bool)}
}

func (s *MemoryTokenStore) SaveRefresh(ctx context.Context, jti, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[jti] = userID
	return nil
}

func (s *MemoryTokenStore) ConsumeRefresh(ctx context.Context, jti string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[jti]
	if !ok {
		return "", repository.ErrNotFound
	}
	delete(s.refresh, jti)
	return userID, nil
}

func (s *MemoryTokenStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = true
	return nil
}

func (s *MemoryTokenStore) Revoked(ctx context.Context, jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[jti]
}
