// SPDX-License-Identifier: Apache-2.0

package version_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaladder/schemaladder/pkg/version"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "1", want: "1"},
		{input: "1.2", want: "1.2"},
		{input: "1_2_3", want: "1.2.3"},
		{input: "1.2.0", want: "1.2"},
		{input: "", want: ""},
		{input: "latest", want: "latest"},
		{input: "LATEST", want: "latest"},
		{input: "1..2", wantErr: true},
		{input: "1.a", wantErr: true},
		{input: ".1", wantErr: true},
		{input: "1.", wantErr: true},
		{input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := version.Parse(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got.String(), tt.input)
	}
}

func TestCompareTotalOrder(t *testing.T) {
	assert.True(t, version.MustParse("1.0").Equal(version.MustParse("1")))
	assert.True(t, version.MustParse("1.2").Less(version.MustParse("1.10")))
	assert.True(t, version.MustParse("1.2.3").Less(version.MustParse("1.3")))
	assert.True(t, version.Empty.Less(version.MustParse("1")))
	assert.True(t, version.MustParse("999.999").Less(version.Latest))
	assert.True(t, version.Empty.Less(version.Latest))
}

func TestSort(t *testing.T) {
	vs := []version.Version{
		version.MustParse("2"),
		version.MustParse("1.1"),
		version.MustParse("1"),
		version.MustParse("10"),
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].Less(vs[j]) })

	got := make([]string, len(vs))
	for i, v := range vs {
		got[i] = v.String()
	}
	assert.Equal(t, []string{"1", "1.1", "2", "10"}, got)
}
