package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"periodpal/internal/catalog"
	"periodpal/internal/domain"
)

type mockSettingsStore struct {
	stored  *domain.Settings
	loadErr error
	saveErr error
	saved   []domain.Settings
}

func (m *mockSettingsStore) LoadSettings(context.Context, string) (domain.Settings, error) {
	if m.loadErr != nil {
		return domain.Settings{}, m.loadErr
	}
	if m.stored == nil {
		return domain.Settings{}, domain.ErrNotFound
	}
	return *m.stored, nil
}

func (m *mockSettingsStore) SaveSettings(_ context.Context, _ string, s domain.Settings) error {
	m.saved = append(m.saved, s)
	if m.saveErr != nil {
		return m.saveErr
	}
	m.stored = &s
	return nil
}

func newSettingsService(t *testing.T, store *mockSettingsStore) *SettingsService {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)
	svc, err := NewSettingsService(store, cat, nil)
	require.NoError(t, err)
	return svc
}

func TestSettingsGet(t *testing.T) {
	cases := []struct {
		name  string
		store *mockSettingsStore
		want  domain.Settings
	}{
		{"missing", &mockSettingsStore{}, usaEnglish},
		{"load error", &mockSettingsStore{loadErr: errors.New("timeout")}, usaEnglish},
		{"stored", &mockSettingsStore{stored: &domain.Settings{Region: "nepal", Language: "ne"}}, domain.Settings{Region: "nepal", Language: "ne"}},
		{"unknown region", &mockSettingsStore{stored: &domain.Settings{Region: "mars", Language: "hi"}}, usaEnglish},
		{"language outside region", &mockSettingsStore{stored: &domain.Settings{Region: "india", Language: "ne"}}, domain.Settings{Region: "india", Language: "en"}},
		{"regional tag", &mockSettingsStore{stored: &domain.Settings{Region: "india", Language: "hi-IN"}}, indiaHindi},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, newSettingsService(t, tc.store).Get(context.Background(), "dev-1"))
		})
	}
}

func TestSettingsUpdate_RegionResetsLanguage(t *testing.T) {
	store := &mockSettingsStore{stored: &domain.Settings{Region: "india", Language: "hi"}}
	svc := newSettingsService(t, store)

	got, err := svc.Update(context.Background(), "dev-1", SettingsUpdate{Region: "nepal"})
	require.NoError(t, err)
	require.Equal(t, domain.Settings{Region: "nepal", Language: "en"}, got)
	require.Equal(t, []domain.Settings{got}, store.saved)
}

func TestSettingsUpdate_SameRegionKeepsLanguage(t *testing.T) {
	store := &mockSettingsStore{stored: &domain.Settings{Region: "india", Language: "hi"}}
	got, err := newSettingsService(t, store).Update(context.Background(), "dev-1", SettingsUpdate{Region: "india"})
	require.NoError(t, err)
	require.Equal(t, indiaHindi, got)
}

func TestSettingsUpdate_RegionAndLanguage(t *testing.T) {
	store := &mockSettingsStore{}
	got, err := newSettingsService(t, store).Update(context.Background(), "dev-1", SettingsUpdate{Region: "nepal", Language: "NE"})
	require.NoError(t, err)
	require.Equal(t, domain.Settings{Region: "nepal", Language: "ne"}, got)
}

func TestSettingsUpdate_Validation(t *testing.T) {
	svc := newSettingsService(t, &mockSettingsStore{})
	ctx := context.Background()

	_, err := svc.Update(ctx, "dev-1", SettingsUpdate{Region: "mars"})
	expectUsecaseError(t, err, ErrorInvalidInput, "unknown_region")

	_, err = svc.Update(ctx, "dev-1", SettingsUpdate{Language: "hi"})
	expectUsecaseError(t, err, ErrorInvalidInput, "unsupported_language")

	_, err = svc.Update(ctx, "dev-1", SettingsUpdate{Language: "!!"})
	expectUsecaseError(t, err, ErrorInvalidInput, "invalid_language")
}

func TestSettingsUpdate_SaveFailureIsSwallowed(t *testing.T) {
	store := &mockSettingsStore{saveErr: errors.New("throttled")}
	got, err := newSettingsService(t, store).Update(context.Background(), "dev-1", SettingsUpdate{Region: "india", Language: "hi"})
	require.NoError(t, err)
	require.Equal(t, indiaHindi, got)
	require.Len(t, store.saved, 1)
}

func TestNewSettingsService_Validation(t *testing.T) {
	cat, err := catalog.Load()
	require.NoError(t, err)
	_, err = NewSettingsService(nil, cat, nil)
	require.Error(t, err)
	_, err = NewSettingsService(&mockSettingsStore{}, nil, nil)
	require.Error(t, err)
}
