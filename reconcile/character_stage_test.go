package reconcile

import (
	"context"
	"testing"

	"github.com/kasuganosora/guildsync/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func seededCharacter(s *memStore, name string, userID *int64) *model.Character {
	old := "previous-hash"
	return s.addCharacter(model.Character{
		Name:            name,
		Realm:           "area-52",
		Region:          "us",
		UserID:          userID,
		IsAvailable:     true,
		ProfileData:     datatypes.JSON(`{"v":1}`),
		EquipmentData:   datatypes.JSON(`{"v":1}`),
		MythicData:      datatypes.JSON(`{"v":1}`),
		ProfessionsData: datatypes.JSON(`{"v":1}`),
		ToyHash:         &old,
	})
}

func TestCharacterSync_Success(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	dir.toys["Thrall"] = []int64{5, 1}
	ch := seededCharacter(s, "Thrall", nil)

	stage := NewCharacterStage(s.deps(dir))
	outcome, err := stage.Sync(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, CharacterSynced, outcome)

	got := s.character(ch.ID)
	assert.True(t, got.IsAvailable)
	assert.JSONEq(t, `{"name":"Thrall","v":2}`, string(got.ProfileData))
	assert.JSONEq(t, `{"equipment":"Thrall","v":2}`, string(got.EquipmentData))
	assert.JSONEq(t, `{"mythic":"Thrall","v":2}`, string(got.MythicData))
	assert.JSONEq(t, `{"professions":"Thrall","v":2}`, string(got.ProfessionsData))
	assert.Equal(t, 80, got.Level)
	assert.Equal(t, 7, got.ClassID)
	require.NotNil(t, got.LastSyncedAt)
	require.NotNil(t, got.ToyHash)
	assert.Equal(t, sha("1,5"), *got.ToyHash)
}

func TestCharacterSync_ProfileNotFound_MarksUnavailable(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	dir.profileErr["Ghost"] = notFound
	ch := seededCharacter(s, "Ghost", nil)

	outcome, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, CharacterUnavailable, outcome)

	got := s.character(ch.ID)
	assert.False(t, got.IsAvailable)
	assert.NotNil(t, got.LastSyncedAt)
	assert.JSONEq(t, `{"v":1}`, string(got.ProfileData))
	assert.JSONEq(t, `{"v":1}`, string(got.EquipmentData))
	assert.JSONEq(t, `{"v":1}`, string(got.MythicData))
	assert.JSONEq(t, `{"v":1}`, string(got.ProfessionsData))

	assert.Zero(t, dir.count("equipment:Ghost"))
	assert.Zero(t, dir.count("mythic:Ghost"))
	assert.Zero(t, dir.count("professions:Ghost"))
	assert.Zero(t, dir.count("collections:Ghost"))
}

func TestCharacterSync_OtherErrorWritesNothing(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	dir.subErr["Flaky/mythic"] = errUpstream
	ch := seededCharacter(s, "Flaky", nil)
	before := s.charWrites

	outcome, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, CharacterFailed, outcome)
	assert.Equal(t, before, s.charWrites)

	got := s.character(ch.ID)
	assert.JSONEq(t, `{"v":1}`, string(got.ProfileData))
	assert.JSONEq(t, `{"v":1}`, string(got.EquipmentData))
	assert.Nil(t, got.LastSyncedAt)
}

func TestCharacterSync_ProfileErrorWritesNothing(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	dir.profileErr["Flaky"] = errUpstream
	ch := seededCharacter(s, "Flaky", nil)
	before := s.charWrites

	_, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	require.Error(t, err)
	assert.Equal(t, before, s.charWrites)
	assert.True(t, s.character(ch.ID).IsAvailable)
}

func TestCharacterSync_SubResourceNotFoundKeepsSnapshot(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	dir.subErr["Lowbie/mythic"] = notFound
	ch := seededCharacter(s, "Lowbie", nil)

	outcome, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, CharacterSynced, outcome)

	got := s.character(ch.ID)
	assert.JSONEq(t, `{"v":1}`, string(got.MythicData))
	assert.JSONEq(t, `{"equipment":"Lowbie","v":2}`, string(got.EquipmentData))
}

func TestCharacterSync_LinkedClearsToyHash(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	u := s.addUser()
	ch := seededCharacter(s, "Main", &u.ID)

	_, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	require.NoError(t, err)

	assert.Nil(t, s.character(ch.ID).ToyHash)
	assert.Zero(t, dir.count("collections:Main"))
}

func TestCharacterSync_UnknownToyHashKeepsPrevious(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	dir.toysErr["Alt"] = errUpstream
	ch := seededCharacter(s, "Alt", nil)

	outcome, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, CharacterSynced, outcome)

	got := s.character(ch.ID)
	require.NotNil(t, got.ToyHash)
	assert.Equal(t, "previous-hash", *got.ToyHash)
}

func TestCharacterSync_RecoversAvailability(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	ch := seededCharacter(s, "Back", nil)
	ch.IsAvailable = false

	_, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	require.NoError(t, err)
	assert.True(t, s.character(ch.ID).IsAvailable)
}

func TestCharacterSync_IncompleteIdentity(t *testing.T) {
	s := newMemStore()
	dir := newFakeDirectory()
	ch := s.addCharacter(model.Character{Name: "NoRealm", Region: "us"})

	outcome, err := NewCharacterStage(s.deps(dir)).Sync(context.Background(), ch)
	assert.Error(t, err)
	assert.Equal(t, CharacterFailed, outcome)
	assert.Zero(t, dir.count("profile:NoRealm"))
}
