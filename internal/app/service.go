package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aqardesk/sync/internal/archive"
	"aqardesk/sync/internal/config"
	"aqardesk/sync/internal/email"
	"aqardesk/sync/internal/errkind"
	"aqardesk/sync/internal/feed"
	"aqardesk/sync/internal/importer"
	"aqardesk/sync/internal/mirror"
	"aqardesk/sync/internal/notify"
	"aqardesk/sync/internal/presence"
	"aqardesk/sync/internal/search"
	"aqardesk/sync/internal/store"
)

type Session struct {
	Token       string
	UserID      string
	UserName    string
	Email       string
}

type AddClientInput struct {
	Name       string             `json:"name"`
	Phone      string             `json:"phone"`
	Status     store.ClientStatus `json:"status"`
	Email      string             `json:"email"`
	City       string             `json:"city"`
	Project    string             `json:"project"`
	Budget     string             `json:"budget"`
	Campaign   string             `json:"campaign"`
	AssignedTo string             `json:"assignedTo"`
	Comment    string             `json:"comment"`
}

type dataStore interface {
	ListClients(context.Context) ([]store.Client, error)
	InsertClient(context.Context, store.Client) error
	DeleteClients(context.Context, []string) error
	FindClientByPhone(context.Context, string) (*store.Client, error)
	EnsureProfileByName(context.Context, string) (store.Profile, error)
	GetProfile(context.Context, string) (store.Profile, error)
	CountActiveProfiles(ctx context.Context) (int, error)
	UnreadNotificationCount(context.Context, string) (int, error)
	InsertNotification(context.Context, store.Notification) error
	MarkNotificationsRead(context.Context, string) error
	NotificationSettings(context.Context, string) (json.RawMessage, error)
	SaveNotificationSettings(context.Context, string, json.RawMessage) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(ctx context.Context, token string, profile store.Profile) error
	Lookup(ctx context.Context, token string) (store.Profile, error)
	Revoke(ctx context.Context, token string) error
}

type feedSubscriber interface {
	Subscribe(ctx context.Context, table string, onChange func()) (func(), error)
}

type feedPublisher interface {
	Publish(ctx context.Context, event feed.Event) error
}

// PresenceTracker is one session's membership in the presence topic.
type PresenceTracker interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	Counts() presence.Counts
	State() presence.State
	Refresh(ctx context.Context) error
}

type liveSession struct {
	profile store.Profile
	tracker PresenceTracker
}

type userWatch struct {
	trigger *notify.Trigger
	refs    int
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	mirror   *mirror.Store
	feed     feedSubscriber
	pub      feedPublisher
	importer *importer.Pipeline
	search   *search.Service
	archive  *archive.Service
	email    *email.Service

	newTracker func(userID string) PresenceTracker
	newPlayer  func(userID string) notify.Player

	mu       sync.Mutex
	live     map[string]*liveSession
	watchers map[string]*userWatch
	unsubs   []func()
}

type Deps struct {
	Store      dataStore
	Sessions   sessionStore
	Feed       feedSubscriber
	Publisher  feedPublisher
	Search     *search.Service
	Archive    *archive.Service
	Email      *email.Service
	NewTracker func(userID string) PresenceTracker
	NewPlayer  func(userID string) notify.Player
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		sessions:   deps.Sessions,
		mirror:     mirror.New(deps.Store, deps.Store),
		feed:       deps.Feed,
		pub:        deps.Publisher,
		importer:   importer.New(deps.Store),
		search:     deps.Search,
		archive:    deps.Archive,
		email:      deps.Email,
		newTracker: deps.NewTracker,
		newPlayer:  deps.NewPlayer,
		live:       make(map[string]*liveSession),
		watchers:   make(map[string]*userWatch),
	}
}

// Start performs the cold-start fetch and wires the change feed to the
// mirror and the notification fan-out.
func (s *Service) Start(ctx context.Context) error {
	records, err := s.store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("cold start fetch: %w", err)
	}
	s.mirror.SetAll(records)

	unsubClients, err := s.feed.Subscribe(ctx, "clients", func() {
		go s.resyncClients()
	})
	if err != nil {
		return fmt.Errorf("subscribe clients feed: %w", err)
	}
	s.unsubs = append(s.unsubs, unsubClients)

	unsubNotifications, err := s.feed.Subscribe(ctx, "notifications", func() {
		go s.fanoutUnread()
	})
	if err != nil {
		unsubClients()
		return fmt.Errorf("subscribe notifications feed: %w", err)
	}
	s.unsubs = append(s.unsubs, unsubNotifications)

	if s.archive != nil {
		if err := s.archive.EnsureBucket(ctx); err != nil {
			log.Printf("app: archive bucket unavailable, imports will not be archived: %v", err)
			s.archive = nil
		}
	}
	if s.search != nil {
		go s.search.ReindexAll(context.Background())
	}
	return nil
}

// Stop tears down feed subscriptions and live presence sessions. Resyncs
// already in flight complete but their results are discarded by the mirror.
func (s *Service) Stop(ctx context.Context) {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	s.mu.Lock()
	trackers := make([]PresenceTracker, 0, len(s.live))
	for _, live := range s.live {
		trackers = append(trackers, live.tracker)
	}
	s.mu.Unlock()

	for _, tracker := range trackers {
		if err := tracker.Leave(ctx); err != nil {
			log.Printf("app: presence leave on shutdown: %v", err)
		}
	}
	s.mirror.Close()
}

func (s *Service) resyncClients() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// Failure keeps the previous snapshot; the next feed signal retries.
	_ = s.mirror.Resync(ctx)
}

// fanoutUnread recomputes the unread count for every watched user and lets
// each user's edge trigger decide whether to fire.
func (s *Service) fanoutUnread() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.mu.Lock()
	watched := make(map[string]*notify.Trigger, len(s.watchers))
	for userID, watch := range s.watchers {
		watched[userID] = watch.trigger
	}
	s.mu.Unlock()

	for userID, trigger := range watched {
		count, err := s.store.UnreadNotificationCount(ctx, userID)
		if err != nil {
			log.Printf("app: unread count for %s: %v", userID, err)
			continue
		}
		raw, err := s.store.NotificationSettings(ctx, userID)
		if err != nil {
			log.Printf("app: settings for %s: %v", userID, err)
			continue
		}
		settings := notify.ResolveSettings(raw)
		fired := trigger.Observe(ctx, count, settings)
		if fired && settings.Email && s.email != nil && s.email.IsConfigured() {
			go s.sendUnreadEmail(userID, count)
		}
	}
}

func (s *Service) sendUnreadEmail(userID string, unread int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("app: load profile for digest: %v", err)
		return
	}
	if profile.Email == "" {
		return
	}
	if err := s.email.SendUnreadDigest(profile.Email, profile.DisplayName, unread); err != nil {
		log.Printf("app: unread digest to %s: %v", profile.Email, err)
	}
}

// Login establishes a bearer session, joins the presence topic with this
// session's heartbeat, and registers the user's notification trigger.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	profile, err := s.store.EnsureProfileByName(ctx, name)
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if err := s.sessions.Save(ctx, token, profile); err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	tracker := s.newTracker(profile.ID)
	if err := tracker.Join(ctx); err != nil {
		log.Printf("app: presence join for %s: %v", profile.ID, err)
	}

	s.mu.Lock()
	s.live[token] = &liveSession{profile: profile, tracker: tracker}
	watch, ok := s.watchers[profile.ID]
	if !ok {
		watch = &userWatch{trigger: notify.NewTrigger(s.newPlayer(profile.ID))}
		s.watchers[profile.ID] = watch
	}
	watch.refs++
	s.mu.Unlock()

	return Session{
		Token:    token,
		UserID:   profile.ID,
		UserName: profile.DisplayName,
		Email:    profile.Email,
	}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		log.Printf("app: revoke session: %v", err)
	}
	s.teardownSession(ctx, token)
	return nil
}

// Authenticate resolves a bearer token. An expired or unknown session forces
// a full session teardown before the caller sees the auth error.
func (s *Service) Authenticate(ctx context.Context, token string) (store.Profile, error) {
	if token == "" {
		return store.Profile{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
	}
	profile, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		if errkind.Is(err, errkind.KindAuth) {
			s.teardownSession(ctx, token)
			return store.Profile{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "session expired", nil)
		}
		return store.Profile{}, fmt.Errorf("authenticate: %w", err)
	}
	return profile, nil
}

func (s *Service) teardownSession(ctx context.Context, token string) {
	s.mu.Lock()
	live, ok := s.live[token]
	if ok {
		delete(s.live, token)
		if watch, watched := s.watchers[live.profile.ID]; watched {
			watch.refs--
			if watch.refs <= 0 {
				delete(s.watchers, live.profile.ID)
			}
		}
	}
	s.mu.Unlock()

	if ok {
		if err := live.tracker.Leave(ctx); err != nil {
			log.Printf("app: presence leave: %v", err)
		}
	}
}

// Clients returns the mirror's filtered projection.
func (s *Service) Clients(view mirror.View) []store.Client {
	return s.mirror.FilteredView(view)
}

// AddClient writes the new client remotely and announces the change on the
// feed. The mirror picks it up through the resulting resync, not here.
func (s *Service) AddClient(ctx context.Context, input AddClientInput) (store.Client, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Phone = strings.TrimSpace(input.Phone)
	if input.Name == "" || input.Phone == "" {
		return store.Client{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name and phone are required", nil)
	}
	status := input.Status
	if status == "" {
		status = store.StatusNew
	}
	if !store.ValidStatus(status) {
		return store.Client{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown status %q", status), nil)
	}

	client := store.Client{
		ID:       uuid.NewString(),
		Name:     input.Name,
		Status:   status,
		Phone:    input.Phone,
		Email:    input.Email,
		City:     input.City,
		Project:  input.Project,
		Budget:   input.Budget,
		Campaign: input.Campaign,
	}
	if input.AssignedTo != "" {
		client.AssignedTo = &input.AssignedTo
	}
	if input.Comment != "" {
		client.Comments = []string{input.Comment}
	}

	if err := s.mirror.Add(ctx, client); err != nil {
		return store.Client{}, err
	}
	s.publish(ctx, feed.Event{Type: feed.EventInsert, Table: "clients"})
	if s.search != nil {
		s.search.IndexClient(clientRecord(client))
	}
	return client, nil
}

// RemoveClients deletes remotely with an optimistic local prune, then
// announces the change so other mirrors resync.
func (s *Service) RemoveClients(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ids are required", nil)
	}
	if err := s.mirror.Remove(ctx, ids); err != nil {
		return err
	}
	s.publish(ctx, feed.Event{Type: feed.EventDelete, Table: "clients"})
	if s.search != nil {
		for _, id := range ids {
			s.search.DeleteClient(id)
		}
	}
	return nil
}

// PresenceCounts reports the distinct-user online count from any live
// session's tracker, or all-offline when nobody is connected.
func (s *Service) PresenceCounts(ctx context.Context) (presence.Counts, error) {
	s.mu.Lock()
	var tracker PresenceTracker
	for _, live := range s.live {
		tracker = live.tracker
		break
	}
	s.mu.Unlock()

	if tracker == nil {
		total, err := s.store.CountActiveProfiles(ctx)
		if err != nil {
			return presence.Counts{}, err
		}
		return presence.Counts{Online: 0, Offline: total}, nil
	}
	if err := tracker.Refresh(ctx); err != nil {
		// Serve the last derived counts; presence is best-effort.
		log.Printf("app: presence refresh: %v", err)
	}
	return tracker.Counts(), nil
}

// Search queries the search facade (Meilisearch with Postgres fallback).
func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// RunImport archives the uploaded workbook, runs the pipeline, and announces
// inserted rows on the feed so every mirror resyncs.
func (s *Service) RunImport(ctx context.Context, filename string, r io.Reader, overrides map[int]importer.Field) (*importer.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}

	if s.archive != nil {
		if _, err := s.archive.StoreImportFile(ctx, filename, bytes.NewReader(data), int64(len(data))); err != nil {
			log.Printf("app: archive import file: %v", err)
		}
	}

	result, err := s.importer.Import(ctx, bytes.NewReader(data), overrides)
	if err != nil {
		return nil, err
	}

	if result.Imported > 0 {
		s.publish(ctx, feed.Event{Type: feed.EventInsert, Table: "clients"})
		if s.search != nil {
			for _, client := range result.Inserted {
				s.search.IndexClient(clientRecord(client))
			}
		}
	}
	return result, nil
}

func (s *Service) NotificationSettings(ctx context.Context, userID string) (notify.Settings, error) {
	raw, err := s.store.NotificationSettings(ctx, userID)
	if err != nil {
		return notify.Settings{}, err
	}
	return notify.ResolveSettings(raw), nil
}

func (s *Service) SaveNotificationSettings(ctx context.Context, userID string, settings notify.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.store.SaveNotificationSettings(ctx, userID, raw)
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadNotificationCount(ctx, userID)
}

// CreateNotification stores a notification for a user and announces it on the
// feed, which is what ultimately drives the recipient's alert trigger.
func (s *Service) CreateNotification(ctx context.Context, userID, title, body string) error {
	title = strings.TrimSpace(title)
	if userID == "" || title == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId and title are required", nil)
	}
	notification := store.Notification{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  title,
		Body:   body,
	}
	if err := s.store.InsertNotification(ctx, notification); err != nil {
		return err
	}
	s.publish(ctx, feed.Event{Type: feed.EventInsert, Table: "notifications"})
	return nil
}

// MarkNotificationsRead clears the unread set and announces the change so
// every watching trigger observes the new (lower) count without firing.
func (s *Service) MarkNotificationsRead(ctx context.Context, userID string) error {
	if err := s.store.MarkNotificationsRead(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, feed.Event{Type: feed.EventUpdate, Table: "notifications"})
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publish(ctx context.Context, event feed.Event) {
	if err := s.pub.Publish(ctx, event); err != nil {
		log.Printf("app: publish %s on %s: %v", event.Type, event.Table, err)
	}
}

func clientRecord(item store.Client) search.ClientRecord {
	return search.ClientRecord{
		ID:       item.ID,
		Name:     item.Name,
		Phone:    item.Phone,
		Email:    item.Email,
		Status:   string(item.Status),
		Project:  item.Project,
		City:     item.City,
		Campaign: item.Campaign,
	}
}

func newToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.New("generate session token")
	}
	return hex.EncodeToString(raw), nil
}
