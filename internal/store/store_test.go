package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIsValidKind(t *testing.T) {
	for _, kind := range ValidKinds {
		assert.True(t, IsValidKind(kind), kind)
	}
	assert.False(t, IsValidKind(""))
	assert.False(t, IsValidKind("temperature"))
	assert.False(t, IsValidKind("BP"))
}

func TestStore_SaveAndGetReading(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	taken := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	r := &Reading{
		DeviceID:  "dev1",
		PatientID: "pat1",
		Kind:      "bp",
		Payload:   json.RawMessage(`{"systolic":120,"diastolic":80}`),
		TakenAt:   taken,
	}
	require.NoError(t, s.SaveReading(ctx, r))
	assert.NotZero(t, r.ID)

	got, err := s.GetReading(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "dev1", got.DeviceID)
	assert.Equal(t, "pat1", got.PatientID)
	assert.Equal(t, "bp", got.Kind)
	assert.JSONEq(t, `{"systolic":120,"diastolic":80}`, string(got.Payload))
	assert.True(t, taken.Equal(got.TakenAt))
}

func TestStore_SaveReadingDefaultsTakenAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &Reading{DeviceID: "dev1", Kind: "ecg", Payload: json.RawMessage(`{"raw":"00"}`)}
	before := time.Now().UTC()
	require.NoError(t, s.SaveReading(ctx, r))

	got, err := s.GetReading(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.TakenAt.Before(before.Truncate(time.Second)))
}

func TestStore_SaveReadingValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.SaveReading(ctx, &Reading{DeviceID: "dev1", Kind: "pulse", Payload: json.RawMessage(`{}`)})
	assert.ErrorContains(t, err, "invalid reading kind")

	err = s.SaveReading(ctx, &Reading{DeviceID: "dev1", Kind: "bp"})
	assert.ErrorContains(t, err, "payload cannot be empty")
}

func TestStore_ListReadings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	seed := []*Reading{
		{DeviceID: "dev1", PatientID: "pat1", Kind: "bp", Payload: json.RawMessage(`{"n":1}`), TakenAt: base},
		{DeviceID: "dev1", Kind: "ecg", Payload: json.RawMessage(`{"n":2}`), TakenAt: base.Add(time.Minute)},
		{DeviceID: "dev2", PatientID: "pat1", Kind: "bp", Payload: json.RawMessage(`{"n":3}`), TakenAt: base.Add(2 * time.Minute)},
	}
	for _, r := range seed {
		require.NoError(t, s.SaveReading(ctx, r))
	}

	t.Run("all newest first", func(t *testing.T) {
		got, err := s.ListReadings(ctx, ListFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "dev2", got[0].DeviceID)
		assert.Equal(t, "ecg", got[1].Kind)
	})

	t.Run("by kind", func(t *testing.T) {
		got, err := s.ListReadings(ctx, ListFilter{Kind: "bp"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, r := range got {
			assert.Equal(t, "bp", r.Kind)
		}
	})

	t.Run("by device", func(t *testing.T) {
		got, err := s.ListReadings(ctx, ListFilter{DeviceID: "dev1"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by patient", func(t *testing.T) {
		got, err := s.ListReadings(ctx, ListFilter{PatientID: "pat1"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("combined with limit", func(t *testing.T) {
		got, err := s.ListReadings(ctx, ListFilter{Kind: "bp", PatientID: "pat1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "dev2", got[0].DeviceID)
	})

	t.Run("no match", func(t *testing.T) {
		got, err := s.ListReadings(ctx, ListFilter{Kind: "glucose"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_ListReadingsSubsecondOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A whole-second timestamp and a later sub-second one must still come
	// back newest first.
	whole := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := whole.Add(500 * time.Millisecond)
	first := &Reading{DeviceID: "dev1", Kind: "bp", Payload: json.RawMessage(`{"n":1}`), TakenAt: whole}
	second := &Reading{DeviceID: "dev1", Kind: "bp", Payload: json.RawMessage(`{"n":2}`), TakenAt: sub}
	require.NoError(t, s.SaveReading(ctx, first))
	require.NoError(t, s.SaveReading(ctx, second))

	got, err := s.ListReadings(ctx, ListFilter{Kind: "bp"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.True(t, sub.Equal(got[0].TakenAt))
	assert.Equal(t, first.ID, got[1].ID)
}

func TestStore_DeleteReading(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &Reading{DeviceID: "dev1", Kind: "spo2", Payload: json.RawMessage(`{"spo2":97}`)}
	require.NoError(t, s.SaveReading(ctx, r))

	require.NoError(t, s.DeleteReading(ctx, r.ID))

	_, err := s.GetReading(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteReading(ctx, r.ID), ErrNotFound)
}

func TestStore_GetReadingNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetReading(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Patients(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.CreatePatient(ctx, &Patient{ID: "pat1", Name: "Alex", CreatedAt: created}))
	require.NoError(t, s.CreatePatient(ctx, &Patient{ID: "pat2", Name: "Sam", CreatedAt: created.Add(time.Hour)}))

	got, err := s.GetPatient(ctx, "pat1")
	require.NoError(t, err)
	assert.Equal(t, "Alex", got.Name)
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = s.GetPatient(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListPatients(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "pat1", all[0].ID)
	assert.Equal(t, "pat2", all[1].ID)
}

func TestStore_CreatePatientValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.CreatePatient(ctx, &Patient{Name: "No ID"}))

	require.NoError(t, s.CreatePatient(ctx, &Patient{ID: "dup", Name: "First"}))
	assert.Error(t, s.CreatePatient(ctx, &Patient{ID: "dup", Name: "Second"}))
}

func TestStore_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	r := &Reading{DeviceID: "dev1", Kind: "bp", Payload: json.RawMessage(`{"n":1}`)}
	require.NoError(t, s.SaveReading(ctx, r))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetReading(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev1", got.DeviceID)
}
