package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
)

var (
	errFakeNotFound = errors.New("fake: record not found")
	errUpstream     = errors.New("upstream 500")
	notFound        = &directory.APIError{StatusCode: 404, URL: "fake"}
)

// ---- directory ----

type fakeDirectory struct {
	mu sync.Mutex

	guilds     map[string]*directory.GuildProfile
	rosters    map[string]*directory.GuildRoster
	guildErr   map[string]error
	profileErr map[string]error
	subErr     map[string]error // key "name/equipment" etc.
	toys       map[string][]int64
	toysErr    map[string]error
	noToysLink map[string]bool

	calls map[string]int
	open  map[string]int

	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		guilds:     map[string]*directory.GuildProfile{},
		rosters:    map[string]*directory.GuildRoster{},
		guildErr:   map[string]error{},
		profileErr: map[string]error{},
		subErr:     map[string]error{},
		toys:       map[string][]int64{},
		toysErr:    map[string]error{},
		noToysLink: map[string]bool{},
		calls:      map[string]int{},
		open:       map[string]int{},
	}
}

func (f *fakeDirectory) addGuild(name string, members ...directory.RosterMember) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(map[string]any{"name": name})
	f.guilds[name] = &directory.GuildProfile{ID: int64(len(f.guilds) + 100), Name: name, Raw: raw}
	f.setRosterLocked(name, members)
}

func (f *fakeDirectory) setRoster(name string, members ...directory.RosterMember) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRosterLocked(name, members)
}

func (f *fakeDirectory) setRosterLocked(name string, members []directory.RosterMember) {
	raw, _ := json.Marshal(map[string]any{"members": len(members)})
	f.rosters[name] = &directory.GuildRoster{Members: members, Raw: raw}
}

func member(name string, rank int) directory.RosterMember {
	var m directory.RosterMember
	m.Character.Name = name
	m.Character.Realm.Slug = "area-52"
	m.Character.Level = 80
	m.Character.PlayableClass.ID = 5
	m.Rank = rank
	return m
}

func (f *fakeDirectory) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeDirectory) hit(key string) {
	f.mu.Lock()
	f.calls[key]++
	f.mu.Unlock()
}

// enter tracks how many distinct guilds have a call open at once.
func (f *fakeDirectory) enter(guild string) func() {
	f.mu.Lock()
	f.open[guild]++
	if f.open[guild] == 1 {
		n := f.inFlight.Add(1)
		if n > f.maxInFlight.Load() {
			f.maxInFlight.Store(n)
		}
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.open[guild]--
		if f.open[guild] == 0 {
			f.inFlight.Add(-1)
		}
	}
}

func (f *fakeDirectory) GetGuildProfile(_ context.Context, _, _, name string) (*directory.GuildProfile, error) {
	defer f.enter(name)()
	f.hit("guild:" + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.guildErr[name]; err != nil {
		return nil, err
	}
	g, ok := f.guilds[name]
	if !ok {
		return nil, notFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeDirectory) GetGuildRoster(_ context.Context, _, _, name string) (*directory.GuildRoster, error) {
	defer f.enter(name)()
	f.hit("roster:" + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.guildErr[name]; err != nil {
		return nil, err
	}
	r, ok := f.rosters[name]
	if !ok {
		return nil, notFound
	}
	cp := *r
	cp.Members = slices.Clone(r.Members)
	return &cp, nil
}

func (f *fakeDirectory) GetCharacterProfile(_ context.Context, _, _, name string) (*directory.CharacterProfile, error) {
	f.hit("profile:" + name)
	f.mu.Lock()
	err := f.profileErr[name]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p := &directory.CharacterProfile{ID: int64(len(name)) * 1000, Name: name, Level: 80}
	p.CharacterClass.ID = 7
	p.Raw = json.RawMessage(fmt.Sprintf(`{"name":%q,"v":2}`, name))
	return p, nil
}

func (f *fakeDirectory) sub(kind, name string) (json.RawMessage, error) {
	f.hit(kind + ":" + name)
	f.mu.Lock()
	err := f.subErr[name+"/"+kind]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"%s":%q,"v":2}`, kind, name)), nil
}

func (f *fakeDirectory) GetCharacterEquipment(_ context.Context, _, _, name string) (json.RawMessage, error) {
	return f.sub("equipment", name)
}

func (f *fakeDirectory) GetCharacterMythicProfile(_ context.Context, _, _, name string) (json.RawMessage, error) {
	return f.sub("mythic", name)
}

func (f *fakeDirectory) GetCharacterProfessions(_ context.Context, _, _, name string) (json.RawMessage, error) {
	return f.sub("professions", name)
}

func (f *fakeDirectory) GetCharacterCollectionsIndex(_ context.Context, _, _, name string) (*directory.CollectionsIndex, error) {
	f.hit("collections:" + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subErr[name+"/collections"]; err != nil {
		return nil, err
	}
	if f.noToysLink[name] {
		return &directory.CollectionsIndex{}, nil
	}
	return &directory.CollectionsIndex{Toys: &directory.Link{Href: "toys/" + name}}, nil
}

func (f *fakeDirectory) GetGenericData(_ context.Context, href, _ string) (json.RawMessage, error) {
	f.hit("generic:" + href)
	name := strings.TrimPrefix(href, "toys/")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.toysErr[name]; err != nil {
		return nil, err
	}
	type toy struct {
		Toy struct {
			ID int64 `json:"id"`
		} `json:"toy"`
	}
	list := make([]toy, 0, len(f.toys[name]))
	for _, id := range f.toys[name] {
		var t toy
		t.Toy.ID = id
		list = append(list, t)
	}
	return json.Marshal(map[string]any{"toys": list})
}

// ---- store ----

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	guilds  map[int64]model.Guild
	chars   map[int64]model.Character
	members map[int64]model.GuildMember
	ranks   map[int64]model.GuildRank
	users   map[int64]model.User

	guildWrites  int
	charWrites   int
	memberWrites int
	rankWrites   int

	failFindAll   error
	failCharNames map[string]bool
	failUpsert    map[int]bool
	failActive    error
	panicGuild    int64
}

func newMemStore() *memStore {
	return &memStore{
		guilds:        map[int64]model.Guild{},
		chars:         map[int64]model.Character{},
		members:       map[int64]model.GuildMember{},
		ranks:         map[int64]model.GuildRank{},
		users:         map[int64]model.User{},
		failCharNames: map[string]bool{},
		failUpsert:    map[int]bool{},
	}
}

func (s *memStore) id() int64 { s.nextID++; return s.nextID }

func (s *memStore) addGuild(name string) *model.Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := model.Guild{ID: s.id(), Name: name, Realm: "Area 52", Region: "us"}
	s.guilds[g.ID] = g
	return &g
}

func (s *memStore) addCharacter(ch model.Character) *model.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch.ID = s.id()
	s.chars[ch.ID] = ch
	return &ch
}

func (s *memStore) addUser() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{ID: s.id(), BattleNetID: 42}
	s.users[u.ID] = u
	return &u
}

func (s *memStore) character(id int64) model.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars[id]
}

func (s *memStore) characterByName(name string) (model.Character, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chars {
		if c.Name == name {
			return c, true
		}
	}
	return model.Character{}, false
}

func (s *memStore) guild(id int64) model.Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guilds[id]
}

func (s *memStore) membersOf(guildID int64) map[string]model.GuildMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]model.GuildMember{}
	for _, m := range s.members {
		if m.GuildID == guildID {
			out[s.chars[m.CharacterID].Name] = m
		}
	}
	return out
}

func (s *memStore) ranksOf(guildID int64) map[int]model.GuildRank {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int]model.GuildRank{}
	for _, r := range s.ranks {
		if r.GuildID == guildID {
			out[r.RankID] = r
		}
	}
	return out
}

func (s *memStore) deps(dir DirectoryClient) Deps {
	return Deps{
		Directory:  dir,
		Guilds:     guildRepo{s},
		Characters: charRepo{s},
		Members:    memberRepo{s},
		Ranks:      rankRepo{s},
		Users:      userRepo{s},
	}
}

type guildRepo struct{ s *memStore }

func (r guildRepo) FindByID(_ context.Context, id int64) (*model.Guild, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.guilds[id]
	if !ok {
		return nil, errFakeNotFound
	}
	return &g, nil
}

func (r guildRepo) FindAll(_ context.Context, f model.GuildFilter) ([]model.Guild, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failFindAll != nil {
		return nil, r.s.failFindAll
	}
	var out []model.Guild
	for _, g := range r.s.guilds {
		if f.ExcludeFromSync != nil && g.ExcludeFromSync != *f.ExcludeFromSync {
			continue
		}
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b model.Guild) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r guildRepo) Update(_ context.Context, g *model.Guild) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// Mirror the store: identity and the exclude flag are not sync columns.
	cur := r.s.guilds[g.ID]
	row := *g
	row.NameSlug, row.RealmSlug, row.Region = cur.NameSlug, cur.RealmSlug, cur.Region
	row.ExcludeFromSync = cur.ExcludeFromSync
	r.s.guilds[g.ID] = row
	r.s.guildWrites++
	return nil
}

type charRepo struct{ s *memStore }

func (r charRepo) FindByID(_ context.Context, id int64) (*model.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chars[id]
	if !ok {
		return nil, errFakeNotFound
	}
	return &c, nil
}

func (r charRepo) FindByIdentity(_ context.Context, name, realm, region string) (*model.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.chars {
		if c.Name == name && c.Realm == realm && c.Region == region {
			return &c, nil
		}
	}
	return nil, errFakeNotFound
}

func (r charRepo) FindOrCreate(_ context.Context, ch *model.Character) (*model.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCharNames[ch.Name] {
		return nil, errors.New("db locked")
	}
	for _, c := range r.s.chars {
		if c.Name == ch.Name && c.Realm == ch.Realm && c.Region == ch.Region {
			return &c, nil
		}
	}
	c := *ch
	c.ID = r.s.id()
	r.s.chars[c.ID] = c
	r.s.charWrites++
	return &c, nil
}

func (r charRepo) FindActiveByGuildID(_ context.Context, guildID int64) ([]model.Character, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failActive != nil {
		return nil, r.s.failActive
	}
	var out []model.Character
	for _, m := range r.s.members {
		if m.GuildID == guildID && m.LeftAt == nil {
			out = append(out, r.s.chars[m.CharacterID])
		}
	}
	slices.SortFunc(out, func(a, b model.Character) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r charRepo) UpdateSyncData(_ context.Context, ch *model.Character) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.chars[ch.ID] = *ch
	r.s.charWrites++
	return nil
}

func (r charRepo) MarkUnavailable(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chars[id]
	if !ok {
		return errFakeNotFound
	}
	c.IsAvailable = false
	c.LastSyncedAt = &at
	r.s.chars[id] = c
	r.s.charWrites++
	return nil
}

type memberRepo struct{ s *memStore }

func (r memberRepo) FindAllByGuildID(_ context.Context, guildID int64) ([]model.GuildMember, error) {
	if guildID == r.s.panicGuild {
		panic("member table exploded")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.GuildMember
	for _, m := range r.s.members {
		if m.GuildID == guildID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r memberRepo) Create(_ context.Context, m *model.GuildMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.members {
		if e.GuildID == m.GuildID && e.CharacterID == m.CharacterID {
			return errors.New("unique violation")
		}
	}
	m.ID = r.s.id()
	r.s.members[m.ID] = *m
	r.s.memberWrites++
	return nil
}

func (r memberRepo) Update(_ context.Context, m *model.GuildMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.members[m.ID] = *m
	r.s.memberWrites++
	return nil
}

func (r memberRepo) MarkLeft(_ context.Context, guildID int64, ids []int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k, m := range r.s.members {
		if m.GuildID == guildID && m.LeftAt == nil && slices.Contains(ids, m.CharacterID) {
			t := at
			m.LeftAt = &t
			r.s.members[k] = m
			r.s.memberWrites++
		}
	}
	return nil
}

type rankRepo struct{ s *memStore }

func (r rankRepo) FindAllByGuildID(_ context.Context, guildID int64) ([]model.GuildRank, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.GuildRank
	for _, rk := range r.s.ranks {
		if rk.GuildID == guildID {
			out = append(out, rk)
		}
	}
	return out, nil
}

func (r rankRepo) Upsert(_ context.Context, rk *model.GuildRank) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failUpsert[rk.RankID] {
		return errors.New("upsert failed")
	}
	r.s.rankWrites++
	for k, e := range r.s.ranks {
		if e.GuildID == rk.GuildID && e.RankID == rk.RankID {
			e.MemberCount = rk.MemberCount
			r.s.ranks[k] = e
			return nil
		}
	}
	rk.ID = r.s.id()
	r.s.ranks[rk.ID] = *rk
	return nil
}

type userRepo struct{ s *memStore }

func (r userRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errFakeNotFound
	}
	return &u, nil
}

// ---- events / notifier ----

type fakeRecorder struct {
	mu     sync.Mutex
	events []model.SyncEvent
}

func (f *fakeRecorder) Record(ev *model.SyncEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
}

func (f *fakeRecorder) byStage(stage string) []model.SyncEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncEvent
	for _, e := range f.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	runs []*Summary
	err  error
}

func (f *fakeNotifier) NotifyRun(_ context.Context, s *Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, s)
	return f.err
}
