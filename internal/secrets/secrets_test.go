// Copyright 2026 The HomeStack Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/homestack/homestack/internal/recipe"
)

func TestGenerate_FreshValues(t *testing.T) {
	spec := []recipe.SecretSpec{
		{Name: "password", Generate: true, Length: 32},
		{Name: "api_key", Generate: true, Length: 16},
	}
	got, err := Generate(spec, nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Len(t, got["password"], 32)
	assert.Len(t, got["api_key"], 16)
	assert.NotEqual(t, got["password"], got["api_key"])
	for _, c := range got["password"] {
		assert.Contains(t, alphanumerics, string(c))
	}
}

func TestGenerate_ReusesExistingValues(t *testing.T) {
	spec := []recipe.SecretSpec{
		{Name: "password", Generate: true, Length: 32},
		{Name: "api_key", Generate: true, Length: 16},
	}
	got, err := Generate(spec, map[string]string{"password": "keep-me"})
	require.NoError(t, err)

	assert.Equal(t, "keep-me", got["password"])
	assert.Len(t, got["api_key"], 16)
}

func TestGenerate_SkipsNonGenerated(t *testing.T) {
	spec := []recipe.SecretSpec{{Name: "provided_by_user"}}
	got, err := Generate(spec, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	// A supplied value still passes through.
	got, err = Generate(spec, map[string]string{"provided_by_user": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", got["provided_by_user"])
}

func TestGenerate_ValuesAreRandom(t *testing.T) {
	spec := []recipe.SecretSpec{{Name: "password", Generate: true, Length: 32}}
	first, err := Generate(spec, nil)
	require.NoError(t, err)
	second, err := Generate(spec, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first["password"], second["password"])
}

func TestReadLive(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().
		WithObjects(
			&corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{Name: "db-credentials", Namespace: "apps"},
				Data:       map[string][]byte{"password": []byte("live")},
			},
			// A lower-priority fallback name that must lose to the
			// canonical one.
			&corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{Name: "db", Namespace: "apps"},
				Data:       map[string][]byte{"password": []byte("stale")},
			},
		).
		Build()

	got, err := ReadLive(ctx, cl, "apps", "db")
	require.NoError(t, err)
	assert.Equal(t, "live", got["password"])
}

func TestReadLive_NoSecretIsEmptyMap(t *testing.T) {
	cl := fake.NewClientBuilder().Build()
	got, err := ReadLive(context.Background(), cl, "apps", "db")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCandidateNames_CanonicalFirst(t *testing.T) {
	names := CandidateNames("db")
	require.NotEmpty(t, names)
	assert.Equal(t, recipe.SecretName("db"), names[0])
	assert.True(t, strings.HasSuffix(names[0], "-credentials"))
}
