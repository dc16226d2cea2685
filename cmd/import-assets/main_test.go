package main

import (
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/Amund211/stockpile/internal/adapters/backend"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestImportAssets(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"prefabs/card.png":  {Data: []byte("\x89PNG\r\n\x1a\ncard")},
		"prefabs/blob":      {Data: []byte("<html><body>hi</body></html>")},
		"audio/shuffle.ogg": {Data: []byte("OggS")},
		"prefabs/.DS_Store": {Data: []byte("junk")},
	}

	store, err := backend.NewMemoryStore()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	imported, err := importAssets(t.Context(), fsys, store, []string{"cards"}, logger)
	require.NoError(t, err)
	require.Equal(t, 3, imported)

	card, err := store.GetAsset(t.Context(), domain.AddressKey("prefabs/card.png"))
	require.NoError(t, err)
	require.Equal(t, "image/png", card.ContentType)

	blob, err := store.GetAsset(t.Context(), domain.AddressKey("prefabs/blob"))
	require.NoError(t, err)
	require.Equal(t, "text/html; charset=utf-8", blob.ContentType)

	// Labels are attached to every asset, lowest address wins
	labelled, err := store.GetAsset(t.Context(), domain.LabelKey("cards"))
	require.NoError(t, err)
	require.Equal(t, "audio/shuffle.ogg", labelled.Address)

	_, err = store.GetAsset(t.Context(), domain.AddressKey("prefabs/.DS_Store"))
	require.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func TestParseLabels(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{}, parseLabels(""))
	require.Equal(t, []string{"cards", "ui"}, parseLabels(" cards, ,ui,"))
}
