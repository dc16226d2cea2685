package domaintest

import (
	"testing"

	"github.com/Amund211/stockpile/internal/strutils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewInstanceID returns a random id in the normalized form the backend hands out
func NewInstanceID(t *testing.T) string {
	id, err := uuid.NewRandom()
	require.NoError(t, err)

	normalized, err := strutils.NormalizeUUID(id.String())
	require.NoError(t, err)
	return normalized
}
